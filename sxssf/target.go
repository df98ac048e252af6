package sxssf

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
)

// FlushTarget stores the serialized rows a sheet has flushed out of its
// window. A target belongs to exactly one sheet.
type FlushTarget interface {
	io.Writer

	// Reader returns the rows written so far, in order. Writes may
	// continue after the reader is closed.
	Reader() (io.ReadCloser, error)

	// Dispose releases the target and removes any backing file.
	// It is safe to call more than once.
	Dispose() error
}

// TargetFactory creates the flush target of a new sheet.
type TargetFactory func(sheet string) (FlushTarget, error)

// TempFileTargets returns a factory for temp file targets in dir, encoded
// with c.
func TempFileTargets(c Compression, dir string) TargetFactory {
	return func(sheet string) (FlushTarget, error) {
		f, err := os.CreateTemp(dir, "ooxml-sheet-*.xml")
		if err != nil {
			return nil, ooxml.WrapErr(errors.Wrapf(err, "sxssf: temp file for sheet %q", sheet), ooxml.ErrResourceExhausted)
		}
		return &fileTarget{f: f, bw: bufio.NewWriter(f), comp: c}, nil
	}
}

// MemoryTargets returns a factory for targets kept in memory.
func MemoryTargets() TargetFactory {
	return func(string) (FlushTarget, error) {
		return &memTarget{}, nil
	}
}

type fileTarget struct {
	f    *os.File
	bw   *bufio.Writer
	comp Compression
	enc  io.WriteCloser // open gzip member or zstd frame
}

func (t *fileTarget) Write(p []byte) (int, error) {
	if t.f == nil {
		return 0, errors.Wrap(ooxml.ErrInvalidState, "sxssf: write to disposed flush target")
	}
	if t.comp == CompressNone {
		return t.bw.Write(p)
	}
	if t.enc == nil {
		if t.comp == CompressGzip {
			t.enc = gzip.NewWriter(t.bw)
		} else {
			enc, err := zstd.NewWriter(t.bw, zstd.WithEncoderLevel(zstd.SpeedFastest))
			if err != nil {
				return 0, errors.Wrap(err, "sxssf: start compressed member")
			}
			t.enc = enc
		}
	}
	return t.enc.Write(p)
}

// sync ends the current compressed member and pushes buffered bytes to
// the file.
func (t *fileTarget) sync() error {
	if t.enc != nil {
		err := t.enc.Close()
		t.enc = nil
		if err != nil {
			return errors.Wrap(err, "sxssf: close compressed member")
		}
	}
	return errors.Wrap(t.bw.Flush(), "sxssf: flush temp file")
}

func (t *fileTarget) Reader() (io.ReadCloser, error) {
	if t.f == nil {
		return nil, errors.Wrap(ooxml.ErrInvalidState, "sxssf: read from disposed flush target")
	}
	if err := t.sync(); err != nil {
		return nil, err
	}
	f, err := os.Open(t.f.Name())
	if err != nil {
		return nil, errors.Wrap(err, "sxssf: reopen temp file")
	}
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		// nothing flushed yet, and gzip.NewReader fails on empty input
		return f, nil
	}
	switch t.comp {
	case CompressGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "sxssf: read gzip temp file")
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case CompressZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "sxssf: read zstd temp file")
		}
		rc := dec.IOReadCloser()
		return &stackedReader{Reader: rc, closers: []io.Closer{rc, f}}, nil
	}
	return f, nil
}

func (t *fileTarget) Dispose() error {
	if t.f == nil {
		return nil
	}
	if t.enc != nil {
		t.enc.Close()
		t.enc = nil
	}
	name := t.f.Name()
	t.f.Close()
	t.f = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "sxssf: remove temp file")
	}
	return nil
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var err error
	for _, c := range s.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type memTarget struct {
	buf      bytes.Buffer
	disposed bool
}

func (t *memTarget) Write(p []byte) (int, error) {
	if t.disposed {
		return 0, errors.Wrap(ooxml.ErrInvalidState, "sxssf: write to disposed flush target")
	}
	return t.buf.Write(p)
}

func (t *memTarget) Reader() (io.ReadCloser, error) {
	if t.disposed {
		return nil, errors.Wrap(ooxml.ErrInvalidState, "sxssf: read from disposed flush target")
	}
	return io.NopCloser(bytes.NewReader(t.buf.Bytes())), nil
}

func (t *memTarget) Dispose() error {
	t.disposed = true
	t.buf = bytes.Buffer{}
	return nil
}
