package sxssf

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
)

// Row is a row of a sheet's window. Rows become read-only once flushed.
type Row struct {
	sheet  *Sheet
	index  int
	cells  []commonxl.Cell // by column, nil when unset
	height float64

	flushed  bool
	detached bool // replaced by a later CreateRow
}

// Index returns the zero-based row index.
func (r *Row) Index() int {
	return r.index
}

// Cell returns the cell at the zero-based column, or nil.
func (r *Row) Cell(col int) commonxl.Cell {
	if col < 0 || col >= len(r.cells) {
		return nil
	}
	return r.cells[col]
}

func (r *Row) writable(col int) error {
	switch {
	case r.sheet.err != nil:
		return r.sheet.err
	case r.flushed:
		return errors.Wrapf(ooxml.ErrRowAlreadyFlushed, "sxssf: row %d of sheet %q", r.index, r.sheet.name)
	case r.detached:
		return errors.Wrapf(ooxml.ErrInvalidState, "sxssf: row %d of sheet %q was replaced", r.index, r.sheet.name)
	case col < 0 || col >= commonxl.MaxColumns:
		return errors.Errorf("sxssf: column %d out of range", col)
	}
	return nil
}

func (r *Row) put(col int, c commonxl.Cell) {
	for len(r.cells) <= col {
		r.cells = append(r.cells, nil)
	}
	if old := r.cells[col]; len(c) == 2 && old.StyleNo() != 0 {
		c.SetStyle(old.StyleNo())
	}
	r.cells[col] = c
}

// SetCell stores value at the zero-based column. Values are converted
// with commonxl.NewCell; a cell keeps the style it already had. A
// commonxl.Cell is stored as is and its style must exist in the workbook.
func (r *Row) SetCell(col int, value interface{}) error {
	if err := r.writable(col); err != nil {
		return err
	}
	if c, ok := value.(commonxl.Cell); ok {
		if st := c.StyleNo(); !r.sheet.wb.hasStyle(st) {
			return errors.Errorf("sxssf: cell has unknown style %d", st)
		}
		r.put(col, append(commonxl.Cell(nil), c...))
		return nil
	}
	r.put(col, commonxl.NewCell(value))
	return nil
}

// SetFormula stores a formula. The leading "=" is optional and the
// formula is not evaluated.
func (r *Row) SetFormula(col int, formula string) error {
	if err := r.writable(col); err != nil {
		return err
	}
	if strings.TrimPrefix(formula, "=") == "" {
		return errors.New("sxssf: empty formula")
	}
	r.put(col, commonxl.NewFormula(formula))
	return nil
}

// SetStyle sets the style index of a cell, as returned by
// Workbook.NumberFormat. Unset cells become styled blanks.
func (r *Row) SetStyle(col int, style uint16) error {
	if err := r.writable(col); err != nil {
		return err
	}
	if !r.sheet.wb.hasStyle(style) {
		return errors.Errorf("sxssf: unknown style %d", style)
	}
	for len(r.cells) <= col {
		r.cells = append(r.cells, nil)
	}
	r.cells[col].SetStyle(style)
	return nil
}

// SetHeight sets the row height in points. Zero restores the default.
func (r *Row) SetHeight(points float64) error {
	if err := r.writable(0); err != nil {
		return err
	}
	if points < 0 || points > 409 || math.IsNaN(points) {
		return errors.Errorf("sxssf: invalid row height %g", points)
	}
	r.height = points
	return nil
}

// writeRow serializes r as a <row> element.
func (s *Sheet) writeRow(b *strings.Builder, r *Row) {
	b.WriteString(`<row r="`)
	b.WriteString(strconv.Itoa(r.index + 1))
	b.WriteByte('"')
	if r.height > 0 {
		b.WriteString(` ht="`)
		b.WriteString(strconv.FormatFloat(r.height, 'f', -1, 64))
		b.WriteString(`" customHeight="1"`)
	}
	b.WriteByte('>')
	for col, c := range r.cells {
		if s.writeCell(b, r.index, col, c) {
			s.extend(r.index, col)
		}
	}
	b.WriteString(`</row>`)
}

func (s *Sheet) extend(row, col int) {
	if s.minRow < 0 {
		s.minRow, s.maxRow, s.minCol, s.maxCol = row, row, col, col
		return
	}
	s.minRow = min(s.minRow, row)
	s.maxRow = max(s.maxRow, row)
	s.minCol = min(s.minCol, col)
	s.maxCol = max(s.maxCol, col)
}

// writeCell serializes one <c> element, it returns false for cells that
// produce no output.
func (s *Sheet) writeCell(b *strings.Builder, row, col int, c commonxl.Cell) bool {
	if len(c) == 0 {
		return false
	}
	style := c.StyleNo()
	typ := c.Type()
	if typ == commonxl.BlankCell && style == 0 {
		return false
	}
	if typ == commonxl.DateCell && style == 0 {
		style = s.wb.formatStyle(commonxl.DefaultDateFormat(c.Value().(time.Time)))
	}

	b.WriteString(`<c r="`)
	b.WriteString(commonxl.CellRef(row, col))
	b.WriteByte('"')
	if style != 0 {
		b.WriteString(` s="`)
		b.WriteString(strconv.Itoa(int(style)))
		b.WriteByte('"')
	}

	switch typ {
	case commonxl.BlankCell:
		b.WriteString(`/>`)
		return true
	case commonxl.IntegerCell:
		b.WriteString(`><v>`)
		b.WriteString(strconv.FormatInt(c.Value().(int64), 10))
		b.WriteString(`</v>`)
	case commonxl.FloatCell:
		v := c.Value().(float64)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.WriteString(` t="e"><v>#NUM!</v>`)
		} else {
			b.WriteString(`><v>`)
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			b.WriteString(`</v>`)
		}
	case commonxl.BooleanCell:
		b.WriteString(` t="b"><v>`)
		if c.Value().(bool) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		b.WriteString(`</v>`)
	case commonxl.DateCell:
		serial := commonxl.SerialFromTime(c.Value().(time.Time), s.wb.opts.date1904)
		b.WriteString(`><v>`)
		b.WriteString(strconv.FormatFloat(serial, 'f', -1, 64))
		b.WriteString(`</v>`)
	case commonxl.FormulaCell:
		b.WriteString(`><f>`)
		escapeString(b, c.Value().(string))
		b.WriteString(`</f>`)
	default:
		str, _ := c.Value().(string)
		b.WriteString(` t="inlineStr"><is><t`)
		if strings.TrimSpace(str) != str {
			b.WriteString(` xml:space="preserve"`)
		}
		b.WriteByte('>')
		escapeString(b, str)
		b.WriteString(`</t></is>`)
	}
	b.WriteString(`</c>`)
	return true
}
