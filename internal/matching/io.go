package matching

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ErrHeader is returned when a CSV input lacks a required column.
var ErrHeader = errors.New("missing required column")

// DetectorColumns names the columns of the detectors file. Zero values
// fall back to the defaults.
type DetectorColumns struct {
	ID        string `yaml:"id"`
	X         string `yaml:"x"`
	Y         string `yaml:"y"`
	Street    string `yaml:"street"`
	Direction string `yaml:"direction"`
}

func (c DetectorColumns) withDefaults() DetectorColumns {
	def := DetectorColumns{ID: "detector_id", X: "x", Y: "y", Street: "street_name", Direction: "direction"}
	if c.ID != "" {
		def.ID = c.ID
	}
	if c.X != "" {
		def.X = c.X
	}
	if c.Y != "" {
		def.Y = c.Y
	}
	if c.Street != "" {
		def.Street = c.Street
	}
	if c.Direction != "" {
		def.Direction = c.Direction
	}
	return def
}

func headerIndex(header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(names))
	for i, col := range header {
		idx[col] = i
	}
	for _, name := range names {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrHeader, name)
		}
	}
	return idx, nil
}

// ReadDetectors parses the detectors file. The raw record is kept so the
// output can reproduce the input columns unchanged.
func ReadDetectors(r io.Reader, cols DetectorColumns) ([]Detector, [][]string, []string, error) {
	cols = cols.withDefaults()
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse: %w", err)
	}
	idx, err := headerIndex(header, cols.ID, cols.X, cols.Y, cols.Street, cols.Direction)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse: %w", err)
	}

	var detectors []Detector
	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse: %w", err)
		}
		x, err := strconv.ParseFloat(rec[idx[cols.X]], 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse: detector %s: %w", rec[idx[cols.ID]], err)
		}
		y, err := strconv.ParseFloat(rec[idx[cols.Y]], 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse: detector %s: %w", rec[idx[cols.ID]], err)
		}
		detectors = append(detectors, Detector{
			ID:        rec[idx[cols.ID]],
			Pt:        Point{x, y},
			Street:    rec[idx[cols.Street]],
			Direction: rec[idx[cols.Direction]],
		})
		records = append(records, rec)
	}
	return detectors, records, header, nil
}

// ReadLinks parses the network links file (link_id,name,from_node,to_node).
func ReadLinks(r io.Reader) ([]Link, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	idx, err := headerIndex(header, "link_id", "name", "from_node", "to_node")
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var links []Link
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		links = append(links, Link{
			ID:   rec[idx["link_id"]],
			Name: rec[idx["name"]],
			From: rec[idx["from_node"]],
			To:   rec[idx["to_node"]],
		})
	}
	return links, nil
}

// ReadNodes parses the network nodes file (node_id,x,y).
func ReadNodes(r io.Reader) ([]Node, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	idx, err := headerIndex(header, "node_id", "x", "y")
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var nodes []Node
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		x, err := strconv.ParseFloat(rec[idx["x"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse: node %s: %w", rec[idx["node_id"]], err)
		}
		y, err := strconv.ParseFloat(rec[idx["y"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse: node %s: %w", rec[idx["node_id"]], err)
		}
		nodes = append(nodes, Node{ID: rec[idx["node_id"]], Pt: Point{x, y}})
	}
	return nodes, nil
}

// ReadDirections parses the direction reference points (direction,x,y).
// These stand in for geocoded destinations: the point a direction label
// such as "inbound" ultimately leads to.
func ReadDirections(r io.Reader) (map[string]Point, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	idx, err := headerIndex(header, "direction", "x", "y")
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	directions := make(map[string]Point)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		x, err := strconv.ParseFloat(rec[idx["x"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse: direction %s: %w", rec[idx["direction"]], err)
		}
		y, err := strconv.ParseFloat(rec[idx["y"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse: direction %s: %w", rec[idx["direction"]], err)
		}
		directions[rec[idx["direction"]]] = Point{x, y}
	}
	return directions, nil
}

// WriteMatches writes the detector records extended with link_id and
// distance columns. records must be parallel to matches.
func WriteMatches(w io.Writer, header []string, records [][]string, matches []Match) error {
	cw := csv.NewWriter(w)

	cw.Write(append(append([]string{}, header...), "link_id", "distance"))
	for i, m := range matches {
		dist := ""
		if !math.IsNaN(m.Distance) {
			dist = strconv.FormatFloat(m.Distance, 'f', -1, 64)
		}
		cw.Write(append(append([]string{}, records[i]...), m.LinkID, dist))
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
