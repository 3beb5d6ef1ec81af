package extract

import (
	"errors"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/trafficlab/flowdiag/internal/model"
)

// errMalformed marks lines that cannot be decoded. Malformed lines are a
// recoverable condition: they are counted and skipped, never fatal.
var errMalformed = errors.New("malformed line")

// Decoder turns one raw input line into an Event.
//
// The returned bool is false when the line is well-formed but its event
// type is not in the allow-list; such lines are dropped silently.
// Implementations must be safe for concurrent use.
type Decoder interface {
	Decode(line string) (model.Event, bool, error)
}

// DelimitedDecoder parses delimiter-quoted event lines against a fixed
// positional schema.
type DelimitedDecoder struct {
	schema Schema
	allow  map[string]bool
}

// NewDelimitedDecoder builds a decoder for the given schema and allow-list.
// An empty allow-list admits every event type.
func NewDelimitedDecoder(schema Schema, allow []string) (*DelimitedDecoder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &DelimitedDecoder{schema: schema, allow: allowSet(allow)}, nil
}

func allowSet(allow []string) map[string]bool {
	if len(allow) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allow))
	for _, t := range allow {
		set[t] = true
	}
	return set
}

// Decode splits line on the schema delimiter and extracts the four event
// attributes. The type check runs before any numeric parsing: lines of
// other event types may carry different attributes at the numeric
// positions and must not be reported as malformed.
func (d *DelimitedDecoder) Decode(line string) (model.Event, bool, error) {
	fields := strings.Split(line, string(d.schema.Delimiter))
	if len(fields) < d.schema.minFields() {
		return model.Event{}, false, errMalformed
	}

	typ := fields[d.schema.TypeField-1]
	if d.allow != nil && !d.allow[typ] {
		return model.Event{}, false, nil
	}

	t, err := strconv.ParseFloat(fields[d.schema.TimeField-1], 64)
	if err != nil {
		return model.Event{}, false, errMalformed
	}
	link, err := strconv.ParseInt(fields[d.schema.LinkField-1], 10, 64)
	if err != nil || link < 0 {
		return model.Event{}, false, errMalformed
	}
	vehicle, err := strconv.ParseInt(fields[d.schema.VehicleField-1], 10, 64)
	if err != nil || vehicle < 0 {
		return model.Event{}, false, errMalformed
	}

	return model.Event{Time: t, Type: typ, Link: link, Vehicle: vehicle}, true, nil
}

// JSONDecoder parses JSON-lines event exports, one object per line with
// "time", "type", "link" and "vehicle" keys. Link and vehicle identifiers
// may arrive as numbers or numeric strings.
type JSONDecoder struct {
	parsers fastjson.ParserPool
	allow   map[string]bool
}

func NewJSONDecoder(allow []string) *JSONDecoder {
	return &JSONDecoder{allow: allowSet(allow)}
}

func (d *JSONDecoder) Decode(line string) (model.Event, bool, error) {
	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.Parse(line)
	if err != nil {
		return model.Event{}, false, errMalformed
	}

	typ := string(v.GetStringBytes("type"))
	if typ == "" {
		return model.Event{}, false, errMalformed
	}
	if d.allow != nil && !d.allow[typ] {
		return model.Event{}, false, nil
	}

	tv := v.Get("time")
	if tv == nil {
		return model.Event{}, false, errMalformed
	}
	t, err := tv.Float64()
	if err != nil {
		return model.Event{}, false, errMalformed
	}

	link, err := jsonID(v, "link")
	if err != nil {
		return model.Event{}, false, errMalformed
	}
	vehicle, err := jsonID(v, "vehicle")
	if err != nil {
		return model.Event{}, false, errMalformed
	}

	return model.Event{Time: t, Type: typ, Link: link, Vehicle: vehicle}, true, nil
}

// jsonID reads a non-negative integer identifier that may be encoded as a
// JSON number or a numeric string.
func jsonID(v *fastjson.Value, key string) (int64, error) {
	fv := v.Get(key)
	if fv == nil {
		return 0, errMalformed
	}

	if b := fv.GetStringBytes(); b != nil {
		id, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil || id < 0 {
			return 0, errMalformed
		}
		return id, nil
	}

	id, err := fv.Int64()
	if err != nil || id < 0 {
		return 0, errMalformed
	}
	return id, nil
}
