package xlsx

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
	"github.com/pbnjay/ooxml/sxssf"
)

func readRows(t *testing.T, s *Sheet) map[int][]commonxl.Cell {
	t.Helper()
	rows := make(map[int][]commonxl.Cell)
	require.NoError(t, s.Rows(func(index int, cells []commonxl.Cell) error {
		rows[index] = cells
		return nil
	}))
	return rows
}

func TestReadStreamedWorkbook(t *testing.T) {
	day := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	noon := time.Date(2023, 7, 1, 12, 30, 0, 0, time.UTC)

	wb, err := sxssf.NewWorkbook(sxssf.WithWindowSize(2), sxssf.WithTargetFactory(sxssf.MemoryTargets()))
	require.NoError(t, err)
	s, err := wb.NewSheet("Data")
	require.NoError(t, err)
	values := [][]interface{}{
		{"name", 42, 2.5, true, day},
		{" padded ", -7, 1e-9, false, noon},
		{"a & <b>", nil, 0.1, nil, nil},
	}
	for i, vals := range values {
		r, err := s.CreateRow(i)
		require.NoError(t, err)
		for col, v := range vals {
			if v != nil {
				require.NoError(t, r.SetCell(col, v))
			}
		}
		if i == 0 {
			require.NoError(t, r.SetFormula(5, "=B1*2"))
		}
	}
	require.NoError(t, s.AddMergedRegion(2, 1, 2, 4))

	var buf bytes.Buffer
	_, err = wb.WriteTo(&buf)
	require.NoError(t, err)

	p, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	book, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Data"}, book.List())
	assert.False(t, book.Date1904())

	sheet, err := book.Get("Data")
	require.NoError(t, err)
	rows := readRows(t, sheet)
	require.Len(t, rows, 3)
	assert.Equal(t, "A1:F3", sheet.Dimension())
	assert.Equal(t, []string{"B3:E3"}, sheet.MergedRegions())

	r0 := rows[0]
	assert.Equal(t, "name", r0[0].Value())
	assert.Equal(t, int64(42), r0[1].Value())
	assert.Equal(t, 2.5, r0[2].Value())
	assert.Equal(t, true, r0[3].Value())
	assert.Equal(t, commonxl.DateCell, r0[4].Type())
	assert.True(t, day.Equal(r0[4].Value().(time.Time)))
	assert.Equal(t, "mm-dd-yy", book.NumberFormat(r0[4].StyleNo()))
	assert.Equal(t, commonxl.FormulaCell, r0[5].Type())
	assert.Equal(t, "B1*2", r0[5].Value())

	r1 := rows[1]
	assert.Equal(t, " padded ", r1[0].Value())
	assert.Equal(t, int64(-7), r1[1].Value())
	assert.Equal(t, 1e-9, r1[2].Value())
	assert.Equal(t, false, r1[3].Value())
	assert.WithinDuration(t, noon, r1[4].Value().(time.Time), time.Millisecond)

	r2 := rows[2]
	assert.Equal(t, "a & <b>", r2[0].Value())
	assert.Nil(t, r2[1])
	assert.Equal(t, 0.1, r2[2].Value())
}

const (
	testRels = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="/xl/workbook.xml"/>
</Relationships>`
	testBookRels = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/first.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings" Target="sharedStrings.xml"/>
<Relationship Id="rId4" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://example.com" TargetMode="External"/>
</Relationships>`
	testBook = `<?xml version="1.0" encoding="UTF-8"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<workbookPr date1904="1"/><sheets><sheet name="Only" sheetId="1" r:id="rId1"/></sheets></workbook>`
	testStyles = `<?xml version="1.0" encoding="UTF-8"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
<numFmts count="2"><numFmt numFmtId="164" formatCode="yyyy\-mm\-dd"/><numFmt numFmtId="165" formatCode="&quot;qty&quot; 0"/></numFmts>
<cellStyleXfs count="2"><xf numFmtId="0"/><xf numFmtId="164"/></cellStyleXfs>
<cellXfs count="4"><xf numFmtId="0" xfId="0"/><xf numFmtId="164" xfId="0" applyNumberFormat="1"/><xf numFmtId="165" xfId="0" applyNumberFormat="1"/><xf numFmtId="0" xfId="1" applyNumberFormat="0"/></cellXfs>
</styleSheet>`
	testStrings = `<?xml version="1.0" encoding="UTF-8"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="2" uniqueCount="2">
<si><t>plain</t></si><si><r><t>rich </t></r><r><t>text</t></r></si></sst>`
	testSheet = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><dimension ref="A1:D3"/><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c><c r="C1" s="1"><v>0</v></c><c r="D1" s="2"><v>7</v></c></row>
<row r="3"><c t="str"><f>UPPER(A1)</f><v>PLAIN</v></c><c s="3"><v>1</v></c><c t="e"><v>#DIV/0!</v></c><c t="d"><v>2020-05-06T07:08:09</v></c></row>
</sheetData></worksheet>`
)

func testPackage() *Package {
	p := NewPackage()
	p.Put("[Content_Types].xml", []byte(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	p.Put("_rels/.rels", []byte(testRels))
	p.Put("xl/_rels/workbook.xml.rels", []byte(testBookRels))
	p.Put("xl/workbook.xml", []byte(testBook))
	p.Put("xl/styles.xml", []byte(testStyles))
	p.Put("xl/sharedStrings.xml", []byte(testStrings))
	p.Put("xl/worksheets/first.xml", []byte(testSheet))
	return p
}

func TestLoadParts(t *testing.T) {
	book, err := Load(testPackage())
	require.NoError(t, err)
	assert.True(t, book.Date1904())
	assert.Equal(t, []string{"Only"}, book.List())
	assert.Equal(t, `yyyy\-mm\-dd`, book.NumberFormat(1))
	assert.Equal(t, `"qty" 0`, book.NumberFormat(2))
	assert.Equal(t, `yyyy\-mm\-dd`, book.NumberFormat(3))

	s, err := book.Get("Only")
	require.NoError(t, err)
	rows := readRows(t, s)
	require.Len(t, rows, 2)
	assert.Equal(t, "A1:D3", s.Dimension())

	r0 := rows[0]
	assert.Equal(t, "plain", r0[0].Value())
	assert.Equal(t, "rich text", r0[1].Value())
	assert.Equal(t, time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC), r0[2].Value())
	assert.Equal(t, int64(7), r0[3].Value())
	assert.Equal(t, uint16(2), r0[3].StyleNo())

	r2 := rows[2]
	assert.Equal(t, "PLAIN", r2[0].Value())
	assert.Equal(t, time.Date(1904, 1, 2, 0, 0, 0, 0, time.UTC), r2[1].Value())
	assert.Equal(t, "#DIV/0!", r2[2].Value())
	assert.Equal(t, time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC), r2[3].Value())

	_, err = book.Get("Missing")
	assert.Error(t, err)
}

func TestPackageWriteTo(t *testing.T) {
	var buf bytes.Buffer
	n, err := testPackage().WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	p, err := Read(bytes.NewReader(buf.Bytes()), n)
	require.NoError(t, err)
	names, err := p.List()
	require.NoError(t, err)
	assert.Equal(t, "[Content_Types].xml", names[0])
	assert.Len(t, names, 7)
	assert.Equal(t, []byte(testSheet), p.Bytes("xl/worksheets/first.xml"))
}

func TestOpenContainer(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "book.xlsx")
	var buf bytes.Buffer
	_, err := testPackage().WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fn, buf.Bytes(), 0o600))

	c, err := ooxml.OpenContainer(fn)
	require.NoError(t, err)
	assert.IsType(t, &Package{}, c)

	junk := filepath.Join(dir, "junk.xlsx")
	require.NoError(t, os.WriteFile(junk, []byte("not a zip file"), 0o600))
	_, err = Open(junk)
	assert.ErrorIs(t, err, ooxml.ErrNotInFormat)

	_, err = Load(ooxml.NewMemContainer())
	assert.ErrorIs(t, err, ooxml.ErrNotInFormat)
}
