package cfb

import (
	"io"

	"github.com/pkg/errors"
)

// SliceReader reads a stream stored as a list of sector slices.
type SliceReader struct {
	Data   [][]byte
	Index  uint
	Offset uint
}

// Read implements io.Reader across the slices.
func (s *SliceReader) Read(b []byte) (int, error) {
	for s.Index < uint(len(s.Data)) && s.Offset >= uint(len(s.Data[s.Index])) {
		s.Offset = 0
		s.Index++
	}
	if s.Index >= uint(len(s.Data)) {
		return 0, io.EOF
	}
	n := copy(b, s.Data[s.Index][s.Offset:])
	s.Offset += uint(n)
	if s.Offset == uint(len(s.Data[s.Index])) {
		s.Offset = 0
		s.Index++
	}
	return n, nil
}

func (s *SliceReader) size() int64 {
	var n int64
	for _, d := range s.Data {
		n += int64(len(d))
	}
	return n
}

func (s *SliceReader) pos() int64 {
	var n int64
	for i := uint(0); i < s.Index && i < uint(len(s.Data)); i++ {
		n += int64(len(s.Data[i]))
	}
	return n + int64(s.Offset)
}

// Seek implements io.Seeker.
func (s *SliceReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.pos()
	case io.SeekEnd:
		offset += s.size()
	default:
		return s.pos(), errors.Errorf("cfb: invalid whence %d", whence)
	}
	if offset < 0 {
		return s.pos(), errors.New("cfb: negative position")
	}
	res := offset
	s.Index, s.Offset = 0, 0
	for s.Index < uint(len(s.Data)) && offset >= int64(len(s.Data[s.Index])) {
		offset -= int64(len(s.Data[s.Index]))
		s.Index++
	}
	// past the end reads return io.EOF
	if s.Index < uint(len(s.Data)) {
		s.Offset = uint(offset)
	}
	return res, nil
}
