package model

import (
	"strconv"
)

// Event is one simulation state transition extracted from the event log.
// Events are transient: parsed from one input line, written as one output
// row, never retained as a collection.
type Event struct {
	Time    float64
	Type    string
	Link    int64
	Vehicle int64
}

// GetTime, GetType, GetLink and GetVehicle implement evql.EventRecord.
func (e *Event) GetTime() float64  { return e.Time }
func (e *Event) GetType() string   { return e.Type }
func (e *Event) GetLink() int64    { return e.Link }
func (e *Event) GetVehicle() int64 { return e.Vehicle }

// CSVHeader is the fixed header of every extracted events file.
const CSVHeader = "time,type,link_id,vehicle"

// AppendCSV appends the event as one CSV row (no trailing newline) to dst.
// Time uses fixed-point formatting with 6 decimals.
func (e *Event) AppendCSV(dst []byte) []byte {
	dst = strconv.AppendFloat(dst, e.Time, 'f', 6, 64)
	dst = append(dst, ',')
	dst = append(dst, e.Type...)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, e.Link, 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, e.Vehicle, 10)
	return dst
}

// LinkCount is one aggregated count row: events on a link within one
// time bucket. Time is the bucket start in seconds since simulation start.
type LinkCount struct {
	Link  int64
	Time  float64
	Count float64
}
