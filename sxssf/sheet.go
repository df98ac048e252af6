package sxssf

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
)

// State describes how much of a sheet has left memory.
type State int

// Sheet states.
const (
	// Active sheets have not flushed any rows.
	Active State = iota
	// PartiallyFlushed sheets have flushed rows and hold others in the window.
	PartiallyFlushed
	// AllFlushed sheets have flushed rows and hold none in the window.
	AllFlushed
)

func (s State) String() string {
	switch s {
	case PartiallyFlushed:
		return "partially flushed"
	case AllFlushed:
		return "all flushed"
	}
	return "active"
}

// Sheet is a worksheet of a streaming workbook. A sheet is not safe for
// concurrent use, but different sheets may be filled from different
// goroutines.
type Sheet struct {
	wb     *Workbook
	name   string
	log    logrus.FieldLogger
	target FlushTarget

	window      []*Row // sorted by index
	flushedUpTo int
	merged      [][4]int
	done        bool
	err         error // a failed flush; the sheet is unusable after it

	// extent of the serialized rows
	minRow, maxRow int
	minCol, maxCol int
}

// Name returns the sheet name.
func (s *Sheet) Name() string {
	return s.name
}

// FlushedUpTo returns the highest flushed row index, or -1.
func (s *Sheet) FlushedUpTo() int {
	return s.flushedUpTo
}

// State reports whether rows have been flushed.
func (s *Sheet) State() State {
	switch {
	case s.flushedUpTo < 0:
		return Active
	case len(s.window) > 0:
		return PartiallyFlushed
	}
	return AllFlushed
}

// CreateRow adds the zero-based row index to the window, replacing a row
// with the same index. When the window grows past its size the lowest rows
// are flushed. Rows at or below FlushedUpTo cannot be created again.
func (s *Sheet) CreateRow(index int) (*Row, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if index < 0 || index >= commonxl.MaxRows {
		return nil, errors.Errorf("sxssf: row %d out of range", index)
	}
	if index <= s.flushedUpTo {
		return nil, errors.Wrapf(ooxml.ErrRowAlreadyFlushed, "sxssf: row %d of sheet %q", index, s.name)
	}

	r := &Row{sheet: s, index: index}
	i := sort.Search(len(s.window), func(i int) bool { return s.window[i].index >= index })
	var replaced *Row
	if i < len(s.window) && s.window[i].index == index {
		replaced = s.window[i]
		s.window[i] = r
	} else {
		s.window = append(s.window, nil)
		copy(s.window[i+1:], s.window[i:])
		s.window[i] = r
	}

	if n := s.wb.opts.window; n != Unbounded && len(s.window) > n {
		if err := s.flush(len(s.window) - n); err != nil {
			if replaced != nil {
				s.window[i] = replaced
			} else {
				s.window = append(s.window[:i], s.window[i+1:]...)
			}
			r.detached = true
			return nil, err
		}
	}
	if replaced != nil {
		replaced.detached = true
	}
	return r, nil
}

// usable returns the error that makes the sheet unusable, if any.
func (s *Sheet) usable() error {
	switch {
	case s.err != nil:
		return s.err
	case s.done:
		return errors.Wrap(ooxml.ErrInvalidState, "sxssf: sheet is finalized")
	}
	return nil
}

// Row returns the row with the given index if it is still in the window.
func (s *Sheet) Row(index int) *Row {
	i := sort.Search(len(s.window), func(i int) bool { return s.window[i].index >= index })
	if i < len(s.window) && s.window[i].index == index {
		return s.window[i]
	}
	return nil
}

// FlushRows flushes every row in the window.
func (s *Sheet) FlushRows() error {
	return s.FlushRowsKeep(0)
}

// FlushRowsKeep flushes all but the n highest rows of the window.
func (s *Sheet) FlushRowsKeep(n int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if n < 0 {
		return errors.Errorf("sxssf: cannot keep %d rows", n)
	}
	if len(s.window) <= n {
		return nil
	}
	return s.flush(len(s.window) - n)
}

// flush serializes the lowest count rows of the window to the target.
// The target may hold part of the rows after a failed write, so a failure
// is recorded and every later operation on the sheet returns it.
func (s *Sheet) flush(count int) error {
	var b strings.Builder
	for _, r := range s.window[:count] {
		s.writeRow(&b, r)
	}
	if _, err := io.WriteString(s.target, b.String()); err != nil {
		s.err = errors.Wrapf(err, "sxssf: flush sheet %q", s.name)
		s.log.WithError(err).Error("flush failed")
		return s.err
	}
	s.flushedUpTo = s.window[count-1].index
	for i, r := range s.window[:count] {
		r.flushed = true
		s.window[i] = nil
	}
	s.window = append(s.window[:0], s.window[count:]...)

	s.log.WithFields(logrus.Fields{
		"rows":        count,
		"flushedUpTo": s.flushedUpTo,
		"bytes":       b.Len(),
	}).Debug("flushed rows")
	return nil
}

// AddMergedRegion merges the rectangle between two zero-based corners.
// Regions must cover at least two cells and may not overlap.
func (s *Sheet) AddMergedRegion(firstRow, firstCol, lastRow, lastCol int) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch {
	case firstRow < 0, firstCol < 0, lastRow >= commonxl.MaxRows, lastCol >= commonxl.MaxColumns,
		firstRow > lastRow, firstCol > lastCol:
		return errors.Errorf("sxssf: invalid merged region %d,%d:%d,%d", firstRow, firstCol, lastRow, lastCol)
	case firstRow == lastRow && firstCol == lastCol:
		return errors.Errorf("sxssf: merged region %s is a single cell", commonxl.CellRef(firstRow, firstCol))
	}
	for _, m := range s.merged {
		if firstRow <= m[2] && m[0] <= lastRow && firstCol <= m[3] && m[1] <= lastCol {
			return errors.Errorf("sxssf: merged region %s overlaps %s",
				commonxl.RangeRef(firstRow, firstCol, lastRow, lastCol), commonxl.RangeRef(m[0], m[1], m[2], m[3]))
		}
	}
	s.merged = append(s.merged, [4]int{firstRow, firstCol, lastRow, lastCol})
	return nil
}

const sheetHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">`

// finalize writes the sheet part: head, flushed rows, the rows still in
// the window, then the merged regions.
func (s *Sheet) finalize(c PartCreator, part string) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.done = true

	var win strings.Builder
	for _, r := range s.window {
		s.writeRow(&win, r)
		r.flushed = true
	}
	if len(s.window) > 0 {
		s.flushedUpTo = s.window[len(s.window)-1].index
		s.window = nil
	}

	var head strings.Builder
	head.WriteString(sheetHead)
	head.WriteString(`<dimension ref="`)
	head.WriteString(s.dimension())
	head.WriteString(`"/><sheetData>`)

	w, err := c.Create(part)
	if err != nil {
		return errors.Wrapf(err, "sxssf: create %s", part)
	}
	err = s.writePart(w, head.String(), win.String())
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "sxssf: write %s", part)
	}
	return s.dispose()
}

func (s *Sheet) writePart(w io.Writer, head, window string) error {
	if _, err := io.WriteString(w, head); err != nil {
		return err
	}
	rc, err := s.target.Reader()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if _, err = io.WriteString(w, window); err != nil {
		return err
	}

	var tail strings.Builder
	tail.WriteString(`</sheetData>`)
	if len(s.merged) > 0 {
		tail.WriteString(`<mergeCells count="`)
		tail.WriteString(strconv.Itoa(len(s.merged)))
		tail.WriteString(`">`)
		for _, m := range s.merged {
			tail.WriteString(`<mergeCell ref="`)
			tail.WriteString(commonxl.RangeRef(m[0], m[1], m[2], m[3]))
			tail.WriteString(`"/>`)
		}
		tail.WriteString(`</mergeCells>`)
	}
	tail.WriteString(`</worksheet>`)
	_, err = io.WriteString(w, tail.String())
	return err
}

func (s *Sheet) dimension() string {
	if s.minRow < 0 {
		return "A1"
	}
	if s.minRow == s.maxRow && s.minCol == s.maxCol {
		return commonxl.CellRef(s.minRow, s.minCol)
	}
	return commonxl.RangeRef(s.minRow, s.minCol, s.maxRow, s.maxCol)
}

func (s *Sheet) dispose() error {
	s.done = true
	s.window = nil
	if s.target == nil {
		return nil
	}
	err := s.target.Dispose()
	s.target = nil
	s.log.Debug("disposed flush target")
	return err
}
