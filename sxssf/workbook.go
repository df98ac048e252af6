// Package sxssf writes xlsx workbooks whose sheets are too large to keep in
// memory. Each sheet holds a window of recent rows; older rows are
// serialized to a flush target (usually a temp file, optionally gzip or zstd
// compressed) and copied into the sheet part when the workbook is finalized.
package sxssf

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
)

// PartCreator receives the parts of the finished workbook. ooxml.Container
// implementations satisfy it.
type PartCreator interface {
	Create(name string) (io.WriteCloser, error)
}

// Workbook is a streaming xlsx workbook.
type Workbook struct {
	opts   options
	log    logrus.FieldLogger
	sheets []*Sheet
	closed bool

	// style registry, shared by all sheets
	mu      sync.Mutex
	numFmts []string // custom codes from commonxl.FirstCustomFormatID
	xfs     []uint16 // number format id per style index
	xfByFmt map[uint16]uint16
}

// NewWorkbook creates an empty workbook.
func NewWorkbook(opts ...Option) (*Workbook, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Workbook{
		opts:    o,
		log:     o.log,
		xfs:     []uint16{0},
		xfByFmt: map[uint16]uint16{0: 0},
	}, nil
}

// WindowSize returns the number of rows each sheet keeps in memory, or
// Unbounded.
func (wb *Workbook) WindowSize() int {
	return wb.opts.window
}

// Sheets returns the sheets in creation order.
func (wb *Workbook) Sheets() []*Sheet {
	return append([]*Sheet(nil), wb.sheets...)
}

// Sheet returns the named sheet or nil.
func (wb *Workbook) Sheet(name string) *Sheet {
	for _, s := range wb.sheets {
		if strings.EqualFold(s.name, name) {
			return s
		}
	}
	return nil
}

const invalidSheetChars = `[]:*?/\`

// NewSheet adds a sheet. Names are unique ignoring case, at most 31
// characters and cannot contain any of []:*?/\.
func (wb *Workbook) NewSheet(name string) (*Sheet, error) {
	if wb.closed {
		return nil, errors.Wrap(ooxml.ErrInvalidState, "sxssf: workbook is closed")
	}
	switch {
	case name == "", len([]rune(name)) > 31:
		return nil, errors.Errorf("sxssf: invalid sheet name %q", name)
	case strings.ContainsAny(name, invalidSheetChars):
		return nil, errors.Errorf("sxssf: sheet name %q contains one of %s", name, invalidSheetChars)
	case wb.Sheet(name) != nil:
		return nil, errors.Errorf("sxssf: duplicate sheet name %q", name)
	}

	target, err := wb.opts.newTarget(name)
	if err != nil {
		return nil, err
	}
	s := &Sheet{
		wb:          wb,
		name:        name,
		target:      target,
		flushedUpTo: -1,
		minRow:      -1,
		log:         wb.log.WithField("sheet", name),
	}
	wb.sheets = append(wb.sheets, s)
	s.log.WithField("window", wb.opts.window).Debug("created sheet")
	return s, nil
}

// NumberFormat returns the style index that displays values with the
// given number format code, registering the code when needed.
func (wb *Workbook) NumberFormat(code string) (uint16, error) {
	if code == "" {
		return 0, errors.New("sxssf: empty number format")
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()
	id, ok := commonxl.FormatID(code)
	if !ok {
		i := 0
		for ; i < len(wb.numFmts); i++ {
			if wb.numFmts[i] == code {
				break
			}
		}
		if i == len(wb.numFmts) {
			if int(commonxl.FirstCustomFormatID)+i > 0xFFFF {
				return 0, errors.New("sxssf: too many number formats")
			}
			wb.numFmts = append(wb.numFmts, code)
		}
		id = commonxl.FirstCustomFormatID + uint16(i)
	}
	return wb.styleLocked(id), nil
}

// formatStyle returns the style index for a number format id.
func (wb *Workbook) formatStyle(id uint16) uint16 {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.styleLocked(id)
}

func (wb *Workbook) styleLocked(id uint16) uint16 {
	if s, ok := wb.xfByFmt[id]; ok {
		return s
	}
	s := uint16(len(wb.xfs))
	wb.xfs = append(wb.xfs, id)
	wb.xfByFmt[id] = s
	return s
}

func (wb *Workbook) hasStyle(s uint16) bool {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return int(s) < len(wb.xfs)
}

// Finalize writes every part of the workbook to c and releases the flush
// targets. The workbook cannot be used afterwards.
func (wb *Workbook) Finalize(c PartCreator) error {
	if wb.closed {
		return errors.Wrap(ooxml.ErrInvalidState, "sxssf: workbook is closed")
	}
	defer wb.Close()
	if len(wb.sheets) == 0 {
		return errors.Wrap(ooxml.ErrInvalidState, "sxssf: workbook has no sheets")
	}

	if err := writeXMLPart(c, ContentTypesPart, wb.contentTypes()); err != nil {
		return err
	}
	if err := writeXMLPart(c, RootRelsPart, rootRels()); err != nil {
		return err
	}
	book, rels := wb.workbookXML()
	if err := writeXMLPart(c, WorkbookPart, book); err != nil {
		return err
	}
	if err := writeXMLPart(c, WorkbookRelsPart, rels); err != nil {
		return err
	}
	// sheets register date styles while they are serialized, so they
	// go before the styles part
	for i, s := range wb.sheets {
		if err := s.finalize(c, SheetPart(i+1)); err != nil {
			return err
		}
	}
	if err := writeXMLPart(c, StylesPart, wb.stylesXML()); err != nil {
		return err
	}
	wb.log.WithField("sheets", len(wb.sheets)).Debug("workbook finalized")
	return nil
}

// WriteTo finalizes the workbook into a zip package written to w.
func (wb *Workbook) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	zw := zip.NewWriter(cw)
	err := wb.Finalize(zipParts{zw})
	if cerr := zw.Close(); err == nil {
		err = errors.Wrap(cerr, "sxssf: close zip")
	}
	return cw.n, err
}

// Close releases all flush targets. It is safe to call more than once.
func (wb *Workbook) Close() error {
	if wb.closed {
		return nil
	}
	wb.closed = true
	var err error
	for _, s := range wb.sheets {
		if derr := s.dispose(); err == nil {
			err = derr
		}
	}
	return err
}

type zipParts struct {
	zw *zip.Writer
}

func (z zipParts) Create(name string) (io.WriteCloser, error) {
	w, err := z.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return nil, err
	}
	return nopCloser{w}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
