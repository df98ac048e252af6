// Package simple reads delimited text (CSV and TSV) one record at a time
// and types each field as a spreadsheet cell.
package simple

import (
	"bufio"
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml/commonxl"
)

// ErrInvalidScanType is returned by Scan for unsupported destinations.
var ErrInvalidScanType = errors.New("simple: Scan only supports *bool, *int, *float64, *string, *time.Time arguments")

// Records iterates over the records of a delimited file.
type Records struct {
	next func() ([]string, error)
	row  []string
	line int
	err  error
}

// NewCSV reads comma separated records. Quoted fields may span lines and
// records may have differing numbers of fields.
func NewCSV(r io.Reader) *Records {
	s := csv.NewReader(r)
	s.FieldsPerRecord = -1
	return &Records{next: s.Read}
}

// NewTSV reads tab separated records, one per line. Fields are not quoted.
func NewTSV(r io.Reader) *Records {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16<<20)
	return &Records{next: func() ([]string, error) {
		if !s.Scan() {
			if err := s.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return strings.Split(strings.TrimSuffix(s.Text(), "\r"), "\t"), nil
	}}
}

// New picks NewTSV for .tsv and .tab filenames and NewCSV otherwise.
func New(filename string, r io.Reader) *Records {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tsv", ".tab":
		return NewTSV(r)
	}
	return NewCSV(r)
}

// Next advances to the next record of content.
// It MUST be called prior to any Scan().
func (t *Records) Next() bool {
	if t.err != nil {
		return false
	}
	t.row, t.err = t.next()
	if t.err != nil {
		t.row = nil
		return false
	}
	t.line++
	return true
}

// Strings returns the fields of the current record.
func (t *Records) Strings() []string {
	return t.row
}

// Cells returns the fields of the current record as typed cells.
func (t *Records) Cells() []commonxl.Cell {
	res := make([]commonxl.Cell, len(t.row))
	for i, x := range t.row {
		res[i] = commonxl.InferCell(x)
	}
	return res
}

// Record returns the one-based number of the current record.
func (t *Records) Record() int {
	return t.line
}

// Scan extracts values from the current record into the provided arguments
// Arguments must be pointers to one of 5 supported types:
//     bool, int, float64, string, or time.Time
func (t *Records) Scan(args ...interface{}) error {
	var err error
	row := t.row
	if len(row) != len(args) {
		return errors.Errorf("simple: expected %d Scan destinations, got %d", len(row), len(args))
	}

	for i, a := range args {
		switch v := a.(type) {
		case *bool:
			switch strings.ToLower(row[i]) {
			case "1", "t", "true", "y", "yes":
				*v = true
			default:
				*v = false
			}
		case *int:
			var n int64
			n, err = strconv.ParseInt(row[i], 10, 64)
			*v = int(n)
		case *float64:
			*v, err = strconv.ParseFloat(row[i], 64)
		case *string:
			*v = row[i]
		case *time.Time:
			c := commonxl.NewCellWithType(row[i], commonxl.DateCell, false)
			d, ok := c.Value().(time.Time)
			if !ok {
				err = errors.Errorf("simple: %q is not a date", row[i])
			}
			*v = d
		default:
			return ErrInvalidScanType
		}
		if err != nil {
			return errors.Wrapf(err, "simple: record %d field %d", t.line, i+1)
		}
	}
	return nil
}

// Err returns the error that stopped Next, if it was not the end of input.
func (t *Records) Err() error {
	if t.err == io.EOF {
		return nil
	}
	return t.err
}
