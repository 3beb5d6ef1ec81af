package extract

import (
	"fmt"
)

// Default 1-based field positions for delimiter-quoted simulation event
// logs. The raw format is positional, not self-describing: splitting a line
// on the quote delimiter leaves the attribute values at these indices.
const (
	DefaultTimeField    = 2
	DefaultTypeField    = 4
	DefaultLinkField    = 6
	DefaultVehicleField = 8
)

// DefaultDelimiter is the field delimiter of the reference log format. It is
// the quote character of the log's own quoting convention, carried here as
// configuration rather than a constant baked into the parser.
const DefaultDelimiter = '"'

// DefaultAllow is the default event-type allow-list.
var DefaultAllow = []string{"entered link", "left link"}

// Schema describes where the event attributes sit within a split line.
// Field indices are 1-based.
type Schema struct {
	Delimiter    byte
	TimeField    int
	TypeField    int
	LinkField    int
	VehicleField int
}

// DefaultSchema returns the schema of the reference log format.
func DefaultSchema() Schema {
	return Schema{
		Delimiter:    DefaultDelimiter,
		TimeField:    DefaultTimeField,
		TypeField:    DefaultTypeField,
		LinkField:    DefaultLinkField,
		VehicleField: DefaultVehicleField,
	}
}

// minFields returns the minimum number of fields a line must split into.
func (s Schema) minFields() int {
	min := s.TimeField
	for _, f := range []int{s.TypeField, s.LinkField, s.VehicleField} {
		if f > min {
			min = f
		}
	}
	return min
}

// Validate checks that all field positions are usable.
func (s Schema) Validate() error {
	for name, f := range map[string]int{
		"time":    s.TimeField,
		"type":    s.TypeField,
		"link":    s.LinkField,
		"vehicle": s.VehicleField,
	} {
		if f < 1 {
			return fmt.Errorf("schema: %s field index must be >= 1, got %d", name, f)
		}
	}
	if s.Delimiter == 0 {
		return fmt.Errorf("schema: delimiter must be set")
	}
	return nil
}
