package xlsx

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml/commonxl"
)

// Sheet is a worksheet of a Workbook.
type Sheet struct {
	d     *Workbook
	name  string
	relID string
	part  string

	dimension string
	merged    []string
}

// Name returns the sheet name.
func (s *Sheet) Name() string {
	return s.name
}

// Dimension returns the ref of the <dimension> element seen by the last
// call to Rows.
func (s *Sheet) Dimension() string {
	return s.dimension
}

// MergedRegions returns the merged ranges seen by the last call to Rows.
func (s *Sheet) MergedRegions() []string {
	return s.merged
}

// RowFunc receives the zero-based index of a row and its cells by column.
// Columns without a cell are nil.
type RowFunc func(index int, cells []commonxl.Cell) error

// Rows streams the rows of the sheet to fn in document order. Values with
// a date number format become DateCells, formulas without a cached value
// become FormulaCells.
func (s *Sheet) Rows(fn RowFunc) error {
	if s.part == "" {
		return errors.Errorf("xlsx: sheet %q has no part", s.name)
	}
	s.dimension, s.merged = "", nil
	return s.d.parsePart(s.part, func(dec *xml.Decoder) error {
		return s.parseSheet(dec, fn)
	})
}

type cellState struct {
	ref     string
	typ     CellType
	style   uint16
	value   strings.Builder
	formula strings.Builder
	hasF    bool
	target  *strings.Builder
}

func (s *Sheet) parseSheet(dec *xml.Decoder, fn RowFunc) error {
	var (
		cells    []commonxl.Cell
		rowIndex = -1
		col      = -1
		inRow    bool
		cur      *cellState
	)

	tok, err := dec.RawToken()
	for ; err == nil; tok, err = dec.RawToken() {
		switch v := tok.(type) {
		case xml.CharData:
			if cur != nil && cur.target != nil {
				cur.target.Write(v)
			}
		case xml.StartElement:
			switch v.Name.Local {
			case "dimension":
				s.dimension = getAttrs(v.Attr, "ref")[0]
			case "row":
				ax := getAttrs(v.Attr, "r")
				next := rowIndex + 1
				if ax[0] != "" {
					n, perr := strconv.Atoi(ax[0])
					if perr != nil || n < 1 || n > commonxl.MaxRows {
						return errors.Errorf("invalid row number %q", ax[0])
					}
					next = n - 1
				}
				rowIndex, col, inRow, cells = next, -1, true, nil
			case "c":
				ax := getAttrs(v.Attr, "r", "t", "s")
				cur = &cellState{ref: ax[0], typ: CellType(ax[1])}
				if ax[2] != "" {
					st, _ := strconv.ParseUint(ax[2], 10, 16)
					cur.style = uint16(st)
				}
				if cur.ref != "" {
					r, c, perr := commonxl.ParseCellRef(cur.ref)
					if perr != nil {
						return perr
					}
					if r != rowIndex {
						return errors.Errorf("cell %s outside row %d", cur.ref, rowIndex+1)
					}
					col = c
				} else {
					col++
				}
			case "v", "t":
				if cur != nil {
					cur.target = &cur.value
				}
			case "f":
				if cur != nil {
					cur.target, cur.hasF = &cur.formula, true
				}
			case "mergeCell":
				s.merged = append(s.merged, getAttrs(v.Attr, "ref")[0])
			}
		case xml.EndElement:
			switch v.Name.Local {
			case "v", "t", "f":
				if cur != nil {
					cur.target = nil
				}
			case "c":
				if cur == nil {
					continue
				}
				c, cerr := s.cell(cur)
				if cerr != nil {
					return errors.Wrapf(cerr, "cell %s", commonxl.CellRef(rowIndex, col))
				}
				for len(cells) <= col {
					cells = append(cells, nil)
				}
				cells[col] = c
				cur = nil
			case "row":
				if inRow {
					if err = fn(rowIndex, cells); err != nil {
						return err
					}
				}
				inRow = false
			}
		}
	}
	if err == io.EOF {
		err = nil
	}
	return err
}

var isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (s *Sheet) cell(cs *cellState) (commonxl.Cell, error) {
	val := cs.value.String()
	var c commonxl.Cell

	switch {
	case cs.hasF && val == "":
		c = commonxl.NewFormula(cs.formula.String())
	case cs.typ == SharedStringCellType:
		si, err := strconv.Atoi(val)
		if err != nil || si < 0 || si >= len(s.d.strings) {
			return nil, errors.Errorf("invalid shared string index %q", val)
		}
		c = commonxl.NewCell(s.d.strings[si])
	case cs.typ == InlineStringCellType, cs.typ == FormulaStringCellType, cs.typ == ErrorCellType:
		c = commonxl.NewCell(val)
	case cs.typ == BooleanCellType:
		c = commonxl.NewCell(val == "1" || val == "true")
	case cs.typ == DateCellType:
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				c = commonxl.NewCell(t)
				break
			}
		}
		if c == nil {
			return nil, errors.Errorf("invalid date %q", val)
		}
	case val == "":
		c = commonxl.NewCell(nil)
	default:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid number")
		}
		switch {
		case s.d.isDateStyle(cs.style):
			c = commonxl.NewCell(commonxl.ConvertToDate(f, s.d.date1904))
		case !strings.ContainsAny(val, ".eE"):
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				c = commonxl.NewCell(n)
				break
			}
			c = commonxl.NewCell(f)
		default:
			c = commonxl.NewCell(f)
		}
	}
	if cs.style != 0 {
		c.SetStyle(cs.style)
	}
	return c, nil
}
