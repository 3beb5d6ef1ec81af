package counts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/trafficlab/flowdiag/internal/model"
)

// ErrHeader is returned when a CSV input lacks the expected columns.
var ErrHeader = errors.New("unexpected CSV header")

// ReadEventsCSV streams an extracted events file (header
// time,type,link_id,vehicle) and calls fn for each row.
func ReadEventsCSV(r io.Reader, fn func(model.Event) error) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return ErrHeader
	}
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	cols, err := indexColumns(header, "time", "type", "link_id", "vehicle")
	if err != nil {
		return err
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse: %w", err)
		}

		t, err := strconv.ParseFloat(rec[cols[0]], 64)
		if err != nil {
			return fmt.Errorf("parse: bad time %q", rec[cols[0]])
		}
		link, err := strconv.ParseInt(rec[cols[2]], 10, 64)
		if err != nil {
			return fmt.Errorf("parse: bad link_id %q", rec[cols[2]])
		}
		vehicle, err := strconv.ParseInt(rec[cols[3]], 10, 64)
		if err != nil {
			return fmt.Errorf("parse: bad vehicle %q", rec[cols[3]])
		}

		ev := model.Event{Time: t, Type: rec[cols[1]], Link: link, Vehicle: vehicle}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// WriteCSV writes count rows. With time, the header is link_id,time,count;
// without, link_id,count and Time is ignored.
func WriteCSV(w io.Writer, rows []model.LinkCount, withTime bool) error {
	cw := csv.NewWriter(w)

	if withTime {
		cw.Write([]string{"link_id", "time", "count"})
	} else {
		cw.Write([]string{"link_id", "count"})
	}

	for _, row := range rows {
		link := strconv.FormatInt(row.Link, 10)
		count := strconv.FormatFloat(row.Count, 'f', -1, 64)
		if withTime {
			cw.Write([]string{link, strconv.FormatFloat(row.Time, 'f', -1, 64), count})
		} else {
			cw.Write([]string{link, count})
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadCSV loads a counts table. The header must contain link_id and count;
// a time column is optional and its presence is reported to the caller.
func ReadCSV(r io.Reader) ([]model.LinkCount, bool, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, false, ErrHeader
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse: %w", err)
	}

	linkCol, countCol := -1, -1
	timeCol := -1
	for i, name := range header {
		switch name {
		case "link_id":
			linkCol = i
		case "count":
			countCol = i
		case "time":
			timeCol = i
		}
	}
	if linkCol < 0 || countCol < 0 {
		return nil, false, fmt.Errorf("%w: need link_id and count, got %v", ErrHeader, header)
	}

	var rows []model.LinkCount
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("parse: %w", err)
		}

		link, err := strconv.ParseInt(rec[linkCol], 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("parse: bad link_id %q", rec[linkCol])
		}
		count, err := strconv.ParseFloat(rec[countCol], 64)
		if err != nil {
			return nil, false, fmt.Errorf("parse: bad count %q", rec[countCol])
		}

		row := model.LinkCount{Link: link, Count: count}
		if timeCol >= 0 {
			t, err := strconv.ParseFloat(rec[timeCol], 64)
			if err != nil {
				return nil, false, fmt.Errorf("parse: bad time %q", rec[timeCol])
			}
			row.Time = t
		}
		rows = append(rows, row)
	}

	return rows, timeCol >= 0, nil
}

// indexColumns resolves required column names to their header positions.
func indexColumns(header []string, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = -1
		for j, h := range header {
			if h == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: missing column %q in %v", ErrHeader, name, header)
		}
	}
	return idx, nil
}
