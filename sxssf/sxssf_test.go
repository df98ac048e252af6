package sxssf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
)

func newBook(t *testing.T, opts ...Option) *Workbook {
	t.Helper()
	wb, err := NewWorkbook(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { wb.Close() })
	return wb
}

func finalize(t *testing.T, wb *Workbook) *ooxml.MemContainer {
	t.Helper()
	c := ooxml.NewMemContainer()
	require.NoError(t, wb.Finalize(c))
	return c
}

func TestWindowSizeOne(t *testing.T) {
	wb := newBook(t, WithWindowSize(1), WithTargetFactory(MemoryTargets()))
	s, err := wb.NewSheet("Data")
	require.NoError(t, err)
	assert.Equal(t, -1, s.FlushedUpTo())
	assert.Equal(t, Active, s.State())

	var rows []*Row
	for i := 0; i < 3; i++ {
		r, err := s.CreateRow(i)
		require.NoError(t, err)
		require.NoError(t, r.SetCell(0, i))
		rows = append(rows, r)
	}
	assert.Equal(t, 1, s.FlushedUpTo())
	assert.Equal(t, PartiallyFlushed, s.State())

	for _, i := range []int{0, 1} {
		_, err = s.CreateRow(i)
		assert.ErrorIs(t, err, ooxml.ErrRowAlreadyFlushed, "row %d", i)
		assert.ErrorIs(t, rows[i].SetCell(1, "late"), ooxml.ErrRowAlreadyFlushed)
		assert.Nil(t, s.Row(i))
	}
	assert.NoError(t, rows[2].SetCell(1, "still mutable"))
	assert.Same(t, rows[2], s.Row(2))

	require.NoError(t, s.FlushRows())
	assert.Equal(t, 2, s.FlushedUpTo())
	assert.Equal(t, AllFlushed, s.State())
}

func TestCreateRowReplaces(t *testing.T) {
	wb := newBook(t, WithTargetFactory(MemoryTargets()))
	s, err := wb.NewSheet("S")
	require.NoError(t, err)
	first, err := s.CreateRow(4)
	require.NoError(t, err)
	require.NoError(t, first.SetCell(0, "old"))
	second, err := s.CreateRow(4)
	require.NoError(t, err)
	assert.Same(t, second, s.Row(4))
	assert.ErrorIs(t, first.SetCell(0, "x"), ooxml.ErrInvalidState)
	assert.Nil(t, second.Cell(0))
}

func TestCreateRowOutOfOrder(t *testing.T) {
	wb := newBook(t, WithWindowSize(2), WithTargetFactory(MemoryTargets()))
	s, err := wb.NewSheet("S")
	require.NoError(t, err)
	for _, i := range []int{5, 3, 4} {
		r, err := s.CreateRow(i)
		require.NoError(t, err)
		require.NoError(t, r.SetCell(0, i))
	}
	assert.Equal(t, 3, s.FlushedUpTo())
	_, err = s.CreateRow(2)
	assert.ErrorIs(t, err, ooxml.ErrRowAlreadyFlushed)

	part := string(finalize(t, wb).Bytes(SheetPart(1)))
	assert.Less(t, strings.Index(part, `<row r="4">`), strings.Index(part, `<row r="5">`))
	assert.Less(t, strings.Index(part, `<row r="5">`), strings.Index(part, `<row r="6">`))
}

func TestFlushRowsKeep(t *testing.T) {
	wb := newBook(t, WithWindowSize(Unbounded), WithTargetFactory(MemoryTargets()))
	s, err := wb.NewSheet("S")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = s.CreateRow(i)
		require.NoError(t, err)
	}
	assert.Equal(t, Active, s.State())
	require.NoError(t, s.FlushRowsKeep(3))
	assert.Equal(t, 6, s.FlushedUpTo())
	assert.Len(t, s.window, 3)
	require.NoError(t, s.FlushRowsKeep(5))
	assert.Equal(t, 6, s.FlushedUpTo())
	assert.Error(t, s.FlushRowsKeep(-1))
}

func TestOptions(t *testing.T) {
	_, err := NewWorkbook(WithWindowSize(0))
	assert.Error(t, err)
	_, err = NewWorkbook(WithWindowSize(-2))
	assert.Error(t, err)
	_, err = NewWorkbook(WithCompression(Compression(9)))
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)

	wb := newBook(t)
	assert.Equal(t, DefaultWindowSize, wb.WindowSize())

	opts, err := OptionsFromConfig(ooxml.StreamingConfig{WindowSize: 7, Compression: "zstd", TempDir: t.TempDir()})
	require.NoError(t, err)
	wb = newBook(t, opts...)
	assert.Equal(t, 7, wb.WindowSize())
	assert.Equal(t, CompressZstd, wb.opts.compression)

	_, err = OptionsFromConfig(ooxml.StreamingConfig{Compression: "lzma"})
	assert.Error(t, err)

	for _, c := range []Compression{CompressNone, CompressGzip, CompressZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestSheetNames(t *testing.T) {
	wb := newBook(t, WithTargetFactory(MemoryTargets()))
	_, err := wb.NewSheet("Sales")
	require.NoError(t, err)
	for _, bad := range []string{"", "sales", "a/b", "x[1]", "what?", strings.Repeat("n", 32)} {
		_, err = wb.NewSheet(bad)
		assert.Error(t, err, bad)
	}
	assert.NotNil(t, wb.Sheet("SALES"))
	assert.Len(t, wb.Sheets(), 1)
}

func TestEscaping(t *testing.T) {
	cases := map[string]string{
		"plain":                   "plain",
		`a&b<c>d"e`:               "a&amp;b&lt;c&gt;d&quot;e",
		"tab\tnl\ncr\r":           "tab\tnl\ncr\r",
		"nul\x00bel\x07esc\x1b":   "nul?bel?esc?",
		"\x1f\uFFFE\uFFFF\uFFFD":  "???\uFFFD",
		"music \U0001D11E clef":   "music \U0001D11E clef",
		"emoji \U0001F600":        "emoji \U0001F600",
		"bad \xff utf8":           "bad \uFFFD utf8",
		"surrogate \xed\xa0\x80!": "surrogate \uFFFD\uFFFD\uFFFD!",
	}
	for in, want := range cases {
		assert.Equal(t, want, EscapeString(in), "%q", in)
	}
}

func TestEscapingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		out := EscapeString(s)
		for _, r := range out {
			if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0xFFFE || r == 0xFFFF {
				rt.Fatalf("illegal character %U in %q", r, out)
			}
		}
		// the escaped text must decode back, with only the replaced
		// characters changed
		var v struct {
			T string `xml:"t"`
		}
		if err := xml.Unmarshal([]byte("<x><t>"+out+"</t></x>"), &v); err != nil {
			rt.Fatalf("unmarshal %q: %v", out, err)
		}
		want := strings.Map(func(r rune) rune {
			if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0xFFFE || r == 0xFFFF {
				return '?'
			}
			return r
		}, s)
		// xml normalizes CR and CRLF to LF
		want = strings.ReplaceAll(strings.ReplaceAll(want, "\r\n", "\n"), "\r", "\n")
		if v.T != want {
			rt.Fatalf("got %q want %q", v.T, want)
		}
	})
}

// fill writes rows 0..n-1 with one value of every cell kind.
func fill(t *testing.T, s *Sheet, n int) {
	t.Helper()
	when := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		r, err := s.CreateRow(i)
		require.NoError(t, err)
		require.NoError(t, r.SetCell(0, i))
		require.NoError(t, r.SetCell(1, float64(i)/4))
		require.NoError(t, r.SetCell(2, fmt.Sprintf("row <%d> & co", i)))
		require.NoError(t, r.SetCell(3, i%2 == 0))
		require.NoError(t, r.SetCell(4, when.AddDate(0, 0, i)))
		require.NoError(t, r.SetFormula(5, fmt.Sprintf("=A%d*2", i+1)))
		if i%3 == 0 {
			require.NoError(t, r.SetHeight(21.5))
		}
	}
}

func sheetPart(t *testing.T, n, window int, opts ...Option) string {
	t.Helper()
	wb := newBook(t, append([]Option{WithWindowSize(window)}, opts...)...)
	s, err := wb.NewSheet("Data")
	require.NoError(t, err)
	fill(t, s, n)
	return string(finalize(t, wb).Bytes(SheetPart(1)))
}

func TestCompletenessAcrossWindows(t *testing.T) {
	const n = 12
	want := sheetPart(t, n, Unbounded, WithTargetFactory(MemoryTargets()))
	assert.Contains(t, want, `<dimension ref="A1:F12"/>`)
	assert.Contains(t, want, `<c r="C3" t="inlineStr"><is><t>row &lt;2&gt; &amp; co</t></is></c>`)
	assert.Contains(t, want, `<c r="D1" t="b"><v>1</v></c>`)
	assert.Contains(t, want, `<c r="E1" s="1"><v>45108</v></c>`)
	assert.Contains(t, want, `<c r="F2"><f>A2*2</f></c>`)
	assert.Contains(t, want, `<row r="4" ht="21.5" customHeight="1">`)

	for w := 1; w <= n+1; w++ {
		assert.Equal(t, want, sheetPart(t, n, w, WithTargetFactory(MemoryTargets())), "window %d", w)
	}
	dir := t.TempDir()
	for _, c := range []Compression{CompressNone, CompressGzip, CompressZstd} {
		for _, w := range []int{1, 5} {
			got := sheetPart(t, n, w, WithCompression(c), WithTempDir(dir))
			assert.Equal(t, want, got, "%s window %d", c, w)
		}
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func TestCompletenessProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "rows")
		w := rapid.IntRange(1, n+1).Draw(rt, "window")
		values := rapid.SliceOfN(rapid.String(), n, n).Draw(rt, "values")

		build := func(window int) string {
			wb, err := NewWorkbook(WithWindowSize(window), WithTargetFactory(MemoryTargets()))
			if err != nil {
				rt.Fatal(err)
			}
			defer wb.Close()
			s, _ := wb.NewSheet("S")
			for i, v := range values {
				r, err := s.CreateRow(i)
				if err != nil {
					rt.Fatalf("create row %d: %v", i, err)
				}
				r.SetCell(0, v)
				r.SetCell(1, i)
			}
			c := ooxml.NewMemContainer()
			if err = wb.Finalize(c); err != nil {
				rt.Fatal(err)
			}
			return string(c.Bytes(SheetPart(1)))
		}
		want, got := build(Unbounded), build(w)
		if want != got {
			rt.Fatalf("window %d output differs", w)
		}
		last := -1
		for i := 0; i < n; i++ {
			at := strings.Index(got, fmt.Sprintf(`<row r="%d">`, i+1))
			if at <= last {
				rt.Fatalf("row %d missing or out of order", i)
			}
			last = at
		}
	})
}

func TestFlushTargets(t *testing.T) {
	dir := t.TempDir()
	for _, c := range []Compression{CompressNone, CompressGzip, CompressZstd} {
		ft, err := TempFileTargets(c, dir)("S")
		require.NoError(t, err)

		rc, err := ft.Reader()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Empty(t, data, c.String())

		io.WriteString(ft, "first,")
		rc, err = ft.Reader()
		require.NoError(t, err)
		data, _ = io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "first,", string(data), c.String())

		// appending after a read starts a new member
		io.WriteString(ft, "second")
		rc, err = ft.Reader()
		require.NoError(t, err)
		data, _ = io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "first,second", string(data), c.String())

		require.NoError(t, ft.Dispose())
		require.NoError(t, ft.Dispose())
		_, err = ft.Write([]byte("x"))
		assert.ErrorIs(t, err, ooxml.ErrInvalidState)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = TempFileTargets(CompressNone, "/nonexistent/ooxml/dir")("S")
	assert.ErrorIs(t, err, ooxml.ErrResourceExhausted)
}

func TestCloseRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	wb, err := NewWorkbook(WithWindowSize(2), WithTempDir(dir), WithCompression(CompressGzip))
	require.NoError(t, err)
	for _, name := range []string{"A", "B"} {
		s, err := wb.NewSheet(name)
		require.NoError(t, err)
		fill(t, s, 6)
	}
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 2)

	require.NoError(t, wb.Close())
	require.NoError(t, wb.Close())
	entries, _ = os.ReadDir(dir)
	assert.Empty(t, entries)

	_, err = wb.NewSheet("C")
	assert.ErrorIs(t, err, ooxml.ErrInvalidState)
	assert.ErrorIs(t, wb.Finalize(ooxml.NewMemContainer()), ooxml.ErrInvalidState)
}

type failingParts struct{}

func (failingParts) Create(name string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("no space for %s", name)
}

func TestFinalizeFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	wb, err := NewWorkbook(WithWindowSize(1), WithTempDir(dir))
	require.NoError(t, err)
	s, err := wb.NewSheet("A")
	require.NoError(t, err)
	fill(t, s, 3)
	assert.Error(t, wb.Finalize(failingParts{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// shortTarget accepts limit bytes, then fails every write.
type shortTarget struct {
	memTarget
	limit int
}

func (t *shortTarget) Write(p []byte) (int, error) {
	if len(p) > t.limit {
		n, _ := t.memTarget.Write(p[:t.limit])
		t.limit = 0
		return n, fmt.Errorf("disk full after %d bytes", n)
	}
	t.limit -= len(p)
	return t.memTarget.Write(p)
}

func TestFlushFailureIsFatal(t *testing.T) {
	target := &shortTarget{limit: 10}
	wb := newBook(t, WithWindowSize(1), WithTargetFactory(func(string) (FlushTarget, error) {
		return target, nil
	}))
	s, err := wb.NewSheet("A")
	require.NoError(t, err)

	r0, err := s.CreateRow(0)
	require.NoError(t, err)
	require.NoError(t, r0.SetCell(0, "first"))

	r1, err := s.CreateRow(1)
	require.Error(t, err)
	assert.Nil(t, r1)
	assert.Equal(t, -1, s.FlushedUpTo())
	assert.Nil(t, s.Row(1), "failed row stays out of the window")
	assert.Same(t, r0, s.Row(0))

	_, again := s.CreateRow(1)
	assert.Equal(t, err, again)
	assert.Equal(t, err, s.FlushRows())
	assert.Equal(t, err, r0.SetCell(1, 2))
	assert.Equal(t, err, s.AddMergedRegion(0, 0, 0, 1))
	assert.Error(t, wb.Finalize(ooxml.NewMemContainer()))
}

func TestFlushFailureKeepsWindow(t *testing.T) {
	target := &shortTarget{limit: 0}
	wb := newBook(t, WithWindowSize(2), WithTargetFactory(func(string) (FlushTarget, error) {
		return target, nil
	}))
	s, err := wb.NewSheet("A")
	require.NoError(t, err)
	r0, err := s.CreateRow(0)
	require.NoError(t, err)
	_, err = s.CreateRow(1)
	require.NoError(t, err)

	r1, err := s.CreateRow(1)
	require.NoError(t, err)
	_, err = s.CreateRow(2)
	require.Error(t, err)
	assert.Same(t, r0, s.Row(0))
	assert.Same(t, r1, s.Row(1))
	assert.Nil(t, s.Row(2))
}

func TestStylesAndMerges(t *testing.T) {
	wb := newBook(t, WithTargetFactory(MemoryTargets()), With1904Dates(true))
	s, err := wb.NewSheet("S")
	require.NoError(t, err)

	money, err := wb.NumberFormat(`"$"#,##0.00`)
	require.NoError(t, err)
	again, err := wb.NumberFormat(`"$"#,##0.00`)
	require.NoError(t, err)
	assert.Equal(t, money, again)
	pct, err := wb.NumberFormat("0%")
	require.NoError(t, err)
	assert.NotEqual(t, money, pct)
	_, err = wb.NumberFormat("")
	assert.Error(t, err)

	r, err := s.CreateRow(0)
	require.NoError(t, err)
	require.NoError(t, r.SetCell(0, 12.5))
	require.NoError(t, r.SetStyle(0, money))
	require.NoError(t, r.SetCell(0, 13.5)) // keeps the style
	require.NoError(t, r.SetStyle(2, pct)) // styled blank
	require.NoError(t, r.SetCell(3, time.Date(1904, 1, 2, 12, 0, 0, 0, time.UTC)))
	assert.Error(t, r.SetStyle(1, 99))
	styled := commonxl.NewCell(0.25)
	styled.SetStyle(pct)
	require.NoError(t, r.SetCell(4, styled))
	styled.SetStyle(99)
	assert.Error(t, r.SetCell(5, styled))
	assert.Nil(t, r.Cell(5))
	assert.Error(t, r.SetHeight(-1))
	assert.Error(t, r.SetFormula(1, "="))
	assert.Error(t, r.SetCell(commonxl.MaxColumns, 1))

	require.NoError(t, s.AddMergedRegion(1, 0, 2, 3))
	assert.Error(t, s.AddMergedRegion(2, 3, 4, 4), "overlap")
	assert.Error(t, s.AddMergedRegion(5, 5, 5, 5), "single cell")
	assert.Error(t, s.AddMergedRegion(3, 0, 1, 0), "inverted")

	c := finalize(t, wb)
	part := string(c.Bytes(SheetPart(1)))
	assert.Contains(t, part, fmt.Sprintf(`<c r="A1" s="%d"><v>13.5</v></c>`, money))
	assert.Contains(t, part, fmt.Sprintf(`<c r="C1" s="%d"/>`, pct))
	assert.Contains(t, part, `<v>1.5</v>`)
	assert.Contains(t, part, `<mergeCells count="1"><mergeCell ref="A2:D3"/></mergeCells>`)

	styles := string(c.Bytes(StylesPart))
	assert.Contains(t, styles, `<numFmt numFmtId="164" formatCode="&#34;$&#34;#,##0.00">`)
	assert.Contains(t, styles, `<xf numFmtId="9" fontId="0" fillId="0" borderId="0" xfId="0" applyNumberFormat="1">`)
	assert.Contains(t, styles, `<xf numFmtId="22"`)
	assert.Contains(t, string(c.Bytes(WorkbookPart)), `<workbookPr date1904="1">`)
}

func TestWriteToZip(t *testing.T) {
	wb := newBook(t, WithWindowSize(3), WithTempDir(t.TempDir()), WithCompression(CompressZstd))
	for _, name := range []string{"One", "Two & Three"} {
		s, err := wb.NewSheet(name)
		require.NoError(t, err)
		fill(t, s, 8)
	}
	var buf bytes.Buffer
	n, err := wb.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, buf.Len(), n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	parts := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		parts[f.Name] = string(data)
	}
	for _, name := range []string{ContentTypesPart, RootRelsPart, WorkbookPart, WorkbookRelsPart, StylesPart, SheetPart(1), SheetPart(2)} {
		assert.Contains(t, parts, name)
	}

	var book struct {
		Sheets []struct {
			Name string `xml:"name,attr"`
			ID   string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sheets>sheet"`
	}
	require.NoError(t, xml.Unmarshal([]byte(parts[WorkbookPart]), &book))
	require.Len(t, book.Sheets, 2)
	assert.Equal(t, "Two & Three", book.Sheets[1].Name)
	assert.Equal(t, "rId2", book.Sheets[1].ID)

	var rels struct {
		Rels []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	require.NoError(t, xml.Unmarshal([]byte(parts[WorkbookRelsPart]), &rels))
	assert.Len(t, rels.Rels, 3)
	assert.Equal(t, "worksheets/sheet2.xml", rels.Rels[1].Target)

	// every part is well formed
	for name, data := range parts {
		dec := xml.NewDecoder(strings.NewReader(data))
		for {
			_, err := dec.Token()
			if err == io.EOF {
				break
			}
			require.NoError(t, err, name)
		}
	}

	_, err = wb.WriteTo(io.Discard)
	assert.ErrorIs(t, err, ooxml.ErrInvalidState)
}

func TestConcurrentSheets(t *testing.T) {
	wb := newBook(t, WithWindowSize(4), WithTargetFactory(MemoryTargets()))
	var sheets []*Sheet
	for i := 0; i < 4; i++ {
		s, err := wb.NewSheet(fmt.Sprintf("S%d", i))
		require.NoError(t, err)
		sheets = append(sheets, s)
	}
	errs := make(chan error, len(sheets))
	for i, s := range sheets {
		go func(i int, s *Sheet) {
			for k := 0; k < 50; k++ {
				r, err := s.CreateRow(k)
				if err != nil {
					errs <- err
					return
				}
				r.SetCell(0, time.Date(2000+i, 1, 1, k%24, 0, 0, 0, time.UTC))
				if _, err = wb.NumberFormat(fmt.Sprintf("0.%0*d", i+1, 0)); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(i, s)
	}
	for range sheets {
		require.NoError(t, <-errs)
	}
	c := finalize(t, wb)
	for i := range sheets {
		assert.Contains(t, string(c.Bytes(SheetPart(i+1))), `<row r="50">`)
	}
}
