package xlsx

import (
	"encoding/xml"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
)

const (
	nsRelationships   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	relOfficeDocument = nsRelationships + "/officeDocument"
	relWorksheet      = nsRelationships + "/worksheet"
	relStyles         = nsRelationships + "/styles"
	relSharedStrings  = nsRelationships + "/sharedStrings"
)

// Workbook reads the sheets of a spreadsheet package.
type Workbook struct {
	c          ooxml.Container
	log        logrus.FieldLogger
	primaryDoc string

	// type => id => part name
	rels     map[string]map[string]string
	sheets   []*Sheet
	strings  []string
	xfs      []uint16 // number format id per style index
	numFmts  map[uint16]string
	date1904 bool
}

// Load parses the workbook structure of the package in c. Sheet contents
// are read on demand by Sheet.Rows.
func Load(c ooxml.Container) (*Workbook, error) {
	d := &Workbook{
		c:       c,
		log:     ooxml.Logger.WithField("package", "xlsx"),
		rels:    make(map[string]map[string]string, 4),
		numFmts: make(map[uint16]string),
	}

	if err := d.parsePart("_rels/.rels", func(dec *xml.Decoder) error {
		return d.parseRels(dec, "")
	}); err != nil {
		return nil, ooxml.WrapErr(err, ooxml.ErrNotInFormat)
	}
	if d.primaryDoc == "" {
		return nil, errors.Wrap(ooxml.ErrNotInFormat, "xlsx: no office document relationship")
	}

	dir, base := path.Split(d.primaryDoc)
	err := d.parsePart(path.Join(dir, "_rels", base+".rels"), func(dec *xml.Decoder) error {
		return d.parseRels(dec, dir)
	})
	if err != nil {
		return nil, err
	}
	if err = d.parsePart(d.primaryDoc, d.parseWorkbook); err != nil {
		return nil, err
	}
	for _, part := range d.rels[relStyles] {
		if err = d.parsePart(part, d.parseStyles); err != nil {
			return nil, err
		}
	}
	for _, part := range d.rels[relSharedStrings] {
		if err = d.parsePart(part, d.parseSharedStrings); err != nil {
			return nil, err
		}
	}
	d.log.WithFields(logrus.Fields{
		"sheets":  len(d.sheets),
		"strings": len(d.strings),
		"styles":  len(d.xfs),
	}).Debug("loaded workbook")
	return d, nil
}

// Date1904 reports whether the workbook uses the 1904 date system.
func (d *Workbook) Date1904() bool {
	return d.date1904
}

// List returns the sheet names in workbook order.
func (d *Workbook) List() []string {
	res := make([]string, 0, len(d.sheets))
	for _, s := range d.sheets {
		res = append(res, s.name)
	}
	return res
}

// Get returns the named sheet.
func (d *Workbook) Get(name string) (*Sheet, error) {
	for _, s := range d.sheets {
		if s.name == name {
			return s, nil
		}
	}
	return nil, errors.Errorf("xlsx: sheet %q not found", name)
}

// NumberFormat returns the number format code of a style index.
func (d *Workbook) NumberFormat(style uint16) string {
	if int(style) >= len(d.xfs) {
		return ""
	}
	id := d.xfs[style]
	if code, ok := d.numFmts[id]; ok {
		return code
	}
	code, _ := commonxl.FormatCode(id)
	return code
}

func (d *Workbook) isDateStyle(style uint16) bool {
	if int(style) >= len(d.xfs) {
		return false
	}
	id := d.xfs[style]
	if code, ok := d.numFmts[id]; ok {
		return commonxl.IsDateCode(code)
	}
	return commonxl.IsDateFormat(id)
}

func (d *Workbook) parsePart(name string, parse func(*xml.Decoder) error) error {
	r, _, err := d.c.Open(name)
	if err != nil {
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	d.log.WithField("part", name).Debug("parsing part")
	if err = parse(xml.NewDecoder(r)); err != nil {
		return errors.Wrapf(err, "xlsx: parse %s", name)
	}
	return nil
}

func partName(basedir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(basedir, target)
}

func (d *Workbook) parseRels(dec *xml.Decoder, basedir string) error {
	tok, err := dec.RawToken()
	for ; err == nil; tok, err = dec.RawToken() {
		v, ok := tok.(xml.StartElement)
		if !ok || v.Name.Local != "Relationship" {
			continue
		}
		ax := getAttrs(v.Attr, "Type", "Id", "Target", "TargetMode")
		if ax[3] == "External" {
			continue
		}
		if _, ok := d.rels[ax[0]]; !ok {
			d.rels[ax[0]] = make(map[string]string)
		}
		target := partName(basedir, ax[2])
		d.rels[ax[0]][ax[1]] = target
		if ax[0] == relOfficeDocument {
			d.primaryDoc = target
		}
	}
	if err == io.EOF {
		err = nil
	}
	return err
}

func (d *Workbook) parseWorkbook(dec *xml.Decoder) error {
	tok, err := dec.RawToken()
	for ; err == nil; tok, err = dec.RawToken() {
		v, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch v.Name.Local {
		case "workbookPr":
			ax := getAttrs(v.Attr, "date1904")
			d.date1904 = ax[0] == "1" || ax[0] == "true"
		case "sheet":
			ax := getAttrs(v.Attr, "name", "id")
			if ax[0] == "" || ax[1] == "" {
				return errors.New("xlsx: invalid sheet definition")
			}
			d.sheets = append(d.sheets, &Sheet{
				d:     d,
				name:  ax[0],
				relID: ax[1],
				part:  d.rels[relWorksheet][ax[1]],
			})
		}
	}
	if err == io.EOF {
		err = nil
	}
	return err
}

func (d *Workbook) parseStyles(dec *xml.Decoder) error {
	var baseNumFormats []uint16
	d.xfs = d.xfs[:0]

	section := 0
	tok, err := dec.RawToken()
	for ; err == nil; tok, err = dec.RawToken() {
		switch v := tok.(type) {
		case xml.StartElement:
			switch v.Name.Local {
			case "numFmt":
				ax := getAttrs(v.Attr, "numFmtId", "formatCode")
				id, perr := strconv.ParseUint(ax[0], 10, 16)
				if perr != nil {
					return errors.Wrapf(perr, "numFmtId %q", ax[0])
				}
				d.numFmts[uint16(id)] = ax[1]
			case "cellStyleXfs":
				section = 1
			case "cellXfs":
				section = 2
			case "xf":
				ax := getAttrs(v.Attr, "numFmtId", "applyNumberFormat", "xfId")
				id, _ := strconv.ParseUint(ax[0], 10, 16)
				switch section {
				case 1:
					baseNumFormats = append(baseNumFormats, uint16(id))
				case 2:
					// an xf without applyNumberFormat="0" uses its own format,
					// otherwise the one of its base style
					if ax[1] == "0" {
						base, _ := strconv.Atoi(ax[2])
						id = 0
						if base >= 0 && base < len(baseNumFormats) {
							id = uint64(baseNumFormats[base])
						}
					}
					d.xfs = append(d.xfs, uint16(id))
				}
			}
		case xml.EndElement:
			switch v.Name.Local {
			case "cellStyleXfs", "cellXfs":
				section = 0
			}
		}
	}
	if err == io.EOF {
		err = nil
	}
	return err
}

func (d *Workbook) parseSharedStrings(dec *xml.Decoder) error {
	var val strings.Builder
	inText := false
	tok, err := dec.RawToken()
	for ; err == nil; tok, err = dec.RawToken() {
		switch v := tok.(type) {
		case xml.CharData:
			if inText {
				val.Write(v)
			}
		case xml.StartElement:
			switch v.Name.Local {
			case "si":
				val.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch v.Name.Local {
			case "t":
				inText = false
			case "si":
				d.strings = append(d.strings, val.String())
			}
		}
	}
	if err == io.EOF {
		err = nil
	}
	return err
}
