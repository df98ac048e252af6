// Package xlsx reads the zip packages that hold unencrypted Office Open XML
// workbooks and the parts within them.
package xlsx

import (
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/pbnjay/ooxml"
)

func init() {
	ooxml.Register("xlsx", 5, Open)
}

// Package is a zip based ooxml.Container. Entries are held in memory; the
// zip archive is produced by WriteTo.
type Package struct {
	*ooxml.MemContainer
}

// NewPackage returns an empty package.
func NewPackage() *Package {
	return &Package{MemContainer: ooxml.NewMemContainer()}
}

// Open reads a zip package from a file. It returns ErrNotInFormat for
// anything that is not a zip archive.
func Open(filename string) (ooxml.Container, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

// Read loads every entry of the zip archive in r.
func Read(r io.ReaderAt, size int64) (*Package, error) {
	z, err := zip.NewReader(r, size)
	if err != nil {
		return nil, ooxml.WrapErr(err, ooxml.ErrNotInFormat)
	}
	p := NewPackage()
	for _, zf := range z.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if err = p.load(zf); err != nil {
			return nil, err
		}
	}
	if ooxml.Debug {
		ooxml.Logger.WithField("entries", len(z.File)).Debug("xlsx: read package")
	}
	return p, nil
}

func (p *Package) load(zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return ooxml.WrapErr(err, ooxml.ErrNotInFormat)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ooxml.WrapErr(err, ooxml.ErrNotInFormat)
	}
	p.Put(zf.Name, data)
	return nil
}

// WriteTo writes the entries as a deflated zip archive. The content types
// part is written first, the rest in creation order.
func (p *Package) WriteTo(w io.Writer) (int64, error) {
	names, _ := p.List()
	sort.SliceStable(names, func(i, j int) bool {
		return names[i] == contentTypesPart && names[j] != contentTypesPart
	})

	cw := &countWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, name := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return cw.n, err
		}
		if _, err = fw.Write(p.Bytes(name)); err != nil {
			return cw.n, err
		}
	}
	err := zw.Close()
	return cw.n, err
}

const contentTypesPart = "[Content_Types].xml"

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
