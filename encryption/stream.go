package encryption

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// segmentFunc transforms one segment of the package. Segment i starts at
// plaintext offset i*segmentSize.
type segmentFunc func(index uint32, data []byte) ([]byte, error)

// packageWriter encrypts the plaintext package segment by segment into a
// temp file. The EncryptedPackage entry starts with the plaintext length,
// so nothing reaches the container before Close.
type packageWriter struct {
	c       ooxml.Container
	info    *Info
	opts    options
	segSize int
	encrypt segmentFunc

	// finish runs after the last segment, before info is serialized.
	finish func(size int64, ct io.ReadSeeker) error
	// done runs once Close has written every entry.
	done func()

	buf    []byte
	tmp    *os.File
	size   int64
	index  uint32
	err    error
	closed bool
}

func newPackageWriter(c ooxml.Container, info *Info, o options, segSize int, enc segmentFunc) (*packageWriter, error) {
	tmp, err := os.CreateTemp(o.tempDir, "ooxml-enc-*")
	if err != nil {
		return nil, ooxml.WrapErr(errors.Wrap(err, "encryption: staging ciphertext"), ooxml.ErrResourceExhausted)
	}
	o.log.WithField("file", tmp.Name()).Debug("staging encrypted package")
	return &packageWriter{
		c:       c,
		info:    info,
		opts:    o,
		segSize: segSize,
		encrypt: enc,
		buf:     make([]byte, 0, segSize),
		tmp:     tmp,
	}, nil
}

func (w *packageWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.Wrap(ooxml.ErrInvalidState, "write to closed package stream")
	}
	if w.err != nil {
		return 0, w.err
	}
	n := len(p)
	for len(p) > 0 {
		c := copy(w.buf[len(w.buf):w.segSize], p)
		w.buf = w.buf[:len(w.buf)+c]
		p = p[c:]
		if len(w.buf) == w.segSize {
			if w.err = w.emit(); w.err != nil {
				return n - len(p), w.err
			}
		}
	}
	w.size += int64(n)
	return n, nil
}

func (w *packageWriter) emit() error {
	ct, err := w.encrypt(w.index, w.buf)
	if err != nil {
		return err
	}
	if _, err = w.tmp.Write(ct); err != nil {
		return errors.Wrap(err, "encryption: write temp file")
	}
	w.index++
	w.buf = w.buf[:0]
	return nil
}

// Close encrypts the final segment and writes the package entries.
// The temp file is removed whether or not Close succeeds.
func (w *packageWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	defer cleanupTempFile(w.tmp)

	if w.err == nil && len(w.buf) > 0 {
		w.err = w.emit()
	}
	if w.err == nil {
		w.err = w.commit()
	}
	if w.err == nil && w.done != nil {
		w.done()
	}
	return w.err
}

func (w *packageWriter) commit() error {
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "encryption: seek temp file")
	}
	if w.finish != nil {
		if err := w.finish(w.size, w.tmp); err != nil {
			return err
		}
		if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "encryption: seek temp file")
		}
	}

	e, err := w.c.Create(PackageStream)
	if err != nil {
		return err
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(w.size))
	if _, err = e.Write(hdr[:]); err == nil {
		_, err = io.Copy(e, w.tmp)
	}
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "encryption: write "+PackageStream)
	}

	raw, err := w.info.MarshalBinary()
	if err != nil {
		return err
	}
	if err = writeEntry(w.c, InfoStream, raw); err != nil {
		return err
	}
	if w.info.Mode == ModeStandard || w.info.Mode == ModeAgile {
		if err = WriteDataSpaces(w.c); err != nil {
			return err
		}
	}
	w.opts.log.WithFields(map[string]interface{}{
		"mode": w.info.Mode,
		"size": w.size,
	}).Debug("wrote encrypted package")
	return nil
}

func writeEntry(c ooxml.Container, name string, data []byte) error {
	e, err := c.Create(name)
	if err != nil {
		return err
	}
	if _, err = e.Write(data); err != nil {
		e.Close()
		return errors.Wrap(err, "encryption: write "+name)
	}
	return e.Close()
}

func cleanupTempFile(f *os.File) {
	if f != nil {
		f.Close()
		os.Remove(f.Name())
	}
}

// packageReader decrypts an EncryptedPackage entry segment by segment.
// Only the segments covering a read are decrypted.
type packageReader struct {
	src       io.ReadSeeker
	size      int64 // declared plaintext length
	ctLen     int64
	segSize   int
	blockSize int
	decrypt   segmentFunc

	pos   int64
	cur   int64
	plain []byte
	ct    []byte
}

// openPackage reads the length header of the EncryptedPackage entry.
func openPackage(c ooxml.Container, segSize, blockSize int, dec segmentFunc) (*packageReader, error) {
	src, n, err := c.Open(PackageStream)
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, errors.Wrapf(ooxml.ErrCorruptHeader, "%s is %d bytes", PackageStream, n)
	}
	var hdr [8]byte
	if _, err = io.ReadFull(src, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "encryption: read package length")
	}
	size := int64(binary.LittleEndian.Uint64(hdr[:]))
	if size < 0 || size > n-8 {
		return nil, errors.Wrapf(ooxml.ErrCorruptHeader, "declared length %d exceeds %d ciphertext bytes", size, n-8)
	}
	if blockSize < 1 {
		blockSize = 1
	}
	return &packageReader{
		src:       src,
		size:      size,
		ctLen:     n - 8,
		segSize:   segSize,
		blockSize: blockSize,
		decrypt:   dec,
		cur:       -1,
		ct:        make([]byte, segSize),
	}, nil
}

// Size returns the declared plaintext length.
func (r *packageReader) Size() int64 { return r.size }

func (r *packageReader) segment(i int64) error {
	if i == r.cur {
		return nil
	}
	off := i * int64(r.segSize)
	plainLen := int64(r.segSize)
	if r.size-off < plainLen {
		plainLen = r.size - off
	}
	need := int64(len(crypto.PadTo(make([]byte, plainLen), r.blockSize)))
	if avail := r.ctLen - off; avail < need {
		return errors.Wrapf(ooxml.ErrInvalidPadding, "segment %d has %d of %d ciphertext bytes", i, avail, need)
	}
	if _, err := r.src.Seek(8+off, io.SeekStart); err != nil {
		return errors.Wrap(err, "encryption: seek package")
	}
	ct := r.ct[:need]
	if _, err := io.ReadFull(r.src, ct); err != nil {
		return errors.Wrap(err, "encryption: read package")
	}
	pt, err := r.decrypt(uint32(i), ct)
	if err != nil {
		return err
	}
	r.plain = pt[:plainLen]
	r.cur = i
	return nil
}

// ReadAt implements io.ReaderAt.
func (r *packageReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("encryption: negative offset")
	}
	n := 0
	for len(p) > 0 {
		if off >= r.size {
			return n, io.EOF
		}
		seg := off / int64(r.segSize)
		if err := r.segment(seg); err != nil {
			return n, err
		}
		c := copy(p, r.plain[off-seg*int64(r.segSize):])
		n += c
		off += int64(c)
		p = p[c:]
	}
	return n, nil
}

func (r *packageReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if rem := r.size - r.pos; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker over the plaintext.
func (r *packageReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.pos
	case io.SeekEnd:
		offset += r.size
	default:
		return r.pos, errors.Errorf("encryption: invalid whence %d", whence)
	}
	if offset < 0 {
		return r.pos, errors.New("encryption: negative position")
	}
	r.pos = offset
	return offset, nil
}

func (r *packageReader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
