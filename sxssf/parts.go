package sxssf

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml/commonxl"
)

const (
	nsRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

	relOfficeDocument = nsRelationships + "/officeDocument"
	relWorksheet      = nsRelationships + "/worksheet"
	relStyles         = nsRelationships + "/styles"

	ctRelationships = "application/vnd.openxmlformats-package.relationships+xml"
	ctWorkbook      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"
	ctWorksheet     = "application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"
	ctStyles        = "application/vnd.openxmlformats-officedocument.spreadsheetml.styles+xml"
)

// Part names written by Finalize.
const (
	ContentTypesPart = "[Content_Types].xml"
	RootRelsPart     = "_rels/.rels"
	WorkbookPart     = "xl/workbook.xml"
	WorkbookRelsPart = "xl/_rels/workbook.xml.rels"
	StylesPart       = "xl/styles.xml"
)

// SheetPart returns the part name of the n'th sheet, starting at 1.
func SheetPart(n int) string {
	return "xl/worksheets/sheet" + strconv.Itoa(n) + ".xml"
}

type xmlTypes struct {
	XMLName   xml.Name      `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []xmlDefault  `xml:"Default"`
	Overrides []xmlOverride `xml:"Override"`
}

type xmlDefault struct {
	Extension   string `xml:",attr"`
	ContentType string `xml:",attr"`
}

type xmlOverride struct {
	PartName    string `xml:",attr"`
	ContentType string `xml:",attr"`
}

type xmlRelationships struct {
	XMLName xml.Name          `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Rels    []xmlRelationship `xml:"Relationship"`
}

type xmlRelationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:",attr"`
	Target string `xml:",attr"`
}

type xmlWorkbook struct {
	XMLName xml.Name        `xml:"http://schemas.openxmlformats.org/spreadsheetml/2006/main workbook"`
	XmlnsR  string          `xml:"xmlns:r,attr"`
	Pr      *xmlWorkbookPr  `xml:"workbookPr"`
	Sheets  []xmlSheetEntry `xml:"sheets>sheet"`
}

type xmlWorkbookPr struct {
	Date1904 int `xml:"date1904,attr,omitempty"`
}

type xmlSheetEntry struct {
	Name    string `xml:"name,attr"`
	SheetID int    `xml:"sheetId,attr"`
	RelID   string `xml:"r:id,attr"`
}

type xmlStyleSheet struct {
	XMLName      xml.Name    `xml:"http://schemas.openxmlformats.org/spreadsheetml/2006/main styleSheet"`
	NumFmts      *xmlNumFmts `xml:"numFmts"`
	Fonts        xmlRaw      `xml:"fonts"`
	Fills        xmlRaw      `xml:"fills"`
	Borders      xmlRaw      `xml:"borders"`
	CellStyleXfs xmlRaw      `xml:"cellStyleXfs"`
	CellXfs      xmlCellXfs  `xml:"cellXfs"`
	CellStyles   xmlRaw      `xml:"cellStyles"`
}

type xmlRaw struct {
	Count int    `xml:"count,attr"`
	Inner string `xml:",innerxml"`
}

type xmlNumFmts struct {
	Count int         `xml:"count,attr"`
	Fmts  []xmlNumFmt `xml:"numFmt"`
}

type xmlNumFmt struct {
	ID   uint16 `xml:"numFmtId,attr"`
	Code string `xml:"formatCode,attr"`
}

type xmlCellXfs struct {
	Count int     `xml:"count,attr"`
	Xfs   []xmlXf `xml:"xf"`
}

type xmlXf struct {
	NumFmtID          uint16 `xml:"numFmtId,attr"`
	FontID            int    `xml:"fontId,attr"`
	FillID            int    `xml:"fillId,attr"`
	BorderID          int    `xml:"borderId,attr"`
	XfID              int    `xml:"xfId,attr"`
	ApplyNumberFormat int    `xml:"applyNumberFormat,attr,omitempty"`
}

func writeXMLPart(c PartCreator, name string, v interface{}) error {
	w, err := c.Create(name)
	if err != nil {
		return errors.Wrapf(err, "sxssf: create %s", name)
	}
	_, err = io.WriteString(w, xml.Header)
	if err == nil {
		err = xml.NewEncoder(w).Encode(v)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "sxssf: write %s", name)
}

func (wb *Workbook) contentTypes() *xmlTypes {
	t := &xmlTypes{
		Defaults: []xmlDefault{
			{Extension: "rels", ContentType: ctRelationships},
			{Extension: "xml", ContentType: "application/xml"},
		},
		Overrides: []xmlOverride{
			{PartName: "/" + WorkbookPart, ContentType: ctWorkbook},
			{PartName: "/" + StylesPart, ContentType: ctStyles},
		},
	}
	for i := range wb.sheets {
		t.Overrides = append(t.Overrides, xmlOverride{PartName: "/" + SheetPart(i+1), ContentType: ctWorksheet})
	}
	return t
}

func rootRels() *xmlRelationships {
	return &xmlRelationships{Rels: []xmlRelationship{
		{ID: "rId1", Type: relOfficeDocument, Target: WorkbookPart},
	}}
}

func (wb *Workbook) workbookXML() (*xmlWorkbook, *xmlRelationships) {
	w := &xmlWorkbook{XmlnsR: nsRelationships}
	if wb.opts.date1904 {
		w.Pr = &xmlWorkbookPr{Date1904: 1}
	}
	rels := &xmlRelationships{}
	for i, s := range wb.sheets {
		id := "rId" + strconv.Itoa(i+1)
		w.Sheets = append(w.Sheets, xmlSheetEntry{Name: s.name, SheetID: i + 1, RelID: id})
		rels.Rels = append(rels.Rels, xmlRelationship{ID: id, Type: relWorksheet,
			Target: "worksheets/sheet" + strconv.Itoa(i+1) + ".xml"})
	}
	rels.Rels = append(rels.Rels, xmlRelationship{ID: "rId" + strconv.Itoa(len(wb.sheets)+1),
		Type: relStyles, Target: "styles.xml"})
	return w, rels
}

func (wb *Workbook) stylesXML() *xmlStyleSheet {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	ss := &xmlStyleSheet{
		Fonts:        xmlRaw{1, `<font><sz val="11"/><name val="Calibri"/><family val="2"/></font>`},
		Fills:        xmlRaw{2, `<fill><patternFill patternType="none"/></fill><fill><patternFill patternType="gray125"/></fill>`},
		Borders:      xmlRaw{1, `<border><left/><right/><top/><bottom/><diagonal/></border>`},
		CellStyleXfs: xmlRaw{1, `<xf numFmtId="0" fontId="0" fillId="0" borderId="0"/>`},
		CellStyles:   xmlRaw{1, `<cellStyle name="Normal" xfId="0" builtinId="0"/>`},
	}
	if len(wb.numFmts) > 0 {
		ss.NumFmts = &xmlNumFmts{Count: len(wb.numFmts)}
		for i, code := range wb.numFmts {
			ss.NumFmts.Fmts = append(ss.NumFmts.Fmts, xmlNumFmt{ID: commonxl.FirstCustomFormatID + uint16(i), Code: code})
		}
	}
	ss.CellXfs.Count = len(wb.xfs)
	for _, id := range wb.xfs {
		xf := xmlXf{NumFmtID: id}
		if id != 0 {
			xf.ApplyNumberFormat = 1
		}
		ss.CellXfs.Xfs = append(ss.CellXfs.Xfs, xf)
	}
	return ss
}
