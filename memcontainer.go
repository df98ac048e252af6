package ooxml

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MemContainer is an in-memory Container. Entries keep their creation order.
// WriteTo emits a simple length-prefixed listing which ReadMemContainer reads back;
// it is meant for tests and for staging entries before they are copied into
// a real container format.
type MemContainer struct {
	names   []string
	entries map[string][]byte
}

// NewMemContainer returns an empty in-memory container.
func NewMemContainer() *MemContainer {
	return &MemContainer{entries: make(map[string][]byte)}
}

// List the entry names in creation order.
func (m *MemContainer) List() ([]string, error) {
	res := make([]string, len(m.names))
	copy(res, m.names)
	return res, nil
}

// Open the named entry.
func (m *MemContainer) Open(name string) (io.ReadSeeker, int64, error) {
	data, ok := m.entries[name]
	if !ok {
		return nil, 0, errors.Wrapf(ErrEntryNotFound, "open %q", name)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// Bytes returns the contents of the named entry, or nil.
func (m *MemContainer) Bytes(name string) []byte {
	return m.entries[name]
}

// Put stores data under name, replacing any previous entry.
func (m *MemContainer) Put(name string, data []byte) {
	if _, ok := m.entries[name]; !ok {
		m.names = append(m.names, name)
	}
	m.entries[name] = data
}

// Create returns a writer that stores the entry on Close.
func (m *MemContainer) Create(name string) (io.WriteCloser, error) {
	return &memEntry{m: m, name: name}, nil
}

// WriteTo writes each entry as (uint16 name length, name, uint64 size, data).
func (m *MemContainer) WriteTo(w io.Writer) (int64, error) {
	var n int64
	var hdr [8]byte
	for _, name := range m.names {
		binary.LittleEndian.PutUint16(hdr[:2], uint16(len(name)))
		c, err := w.Write(hdr[:2])
		n += int64(c)
		if err != nil {
			return n, err
		}
		c, err = io.WriteString(w, name)
		n += int64(c)
		if err != nil {
			return n, err
		}
		data := m.entries[name]
		binary.LittleEndian.PutUint64(hdr[:], uint64(len(data)))
		c, err = w.Write(hdr[:])
		n += int64(c)
		if err != nil {
			return n, err
		}
		c, err = w.Write(data)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadMemContainer reads the listing produced by MemContainer.WriteTo.
func ReadMemContainer(r io.Reader) (*MemContainer, error) {
	m := NewMemContainer()
	var hdr [8]byte
	for {
		_, err := io.ReadFull(r, hdr[:2])
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, WrapErr(err, ErrNotInFormat)
		}
		name := make([]byte, binary.LittleEndian.Uint16(hdr[:2]))
		if _, err = io.ReadFull(r, name); err != nil {
			return nil, WrapErr(err, ErrNotInFormat)
		}
		if _, err = io.ReadFull(r, hdr[:]); err != nil {
			return nil, WrapErr(err, ErrNotInFormat)
		}
		var buf bytes.Buffer
		size := int64(binary.LittleEndian.Uint64(hdr[:]))
		if _, err = io.CopyN(&buf, r, size); err != nil {
			return nil, WrapErr(err, ErrNotInFormat)
		}
		m.Put(string(name), buf.Bytes())
	}
}

type memEntry struct {
	m      *MemContainer
	name   string
	buf    bytes.Buffer
	closed bool
}

func (e *memEntry) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.Wrapf(ErrInvalidState, "write to closed entry %q", e.name)
	}
	return e.buf.Write(p)
}

func (e *memEntry) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.m.Put(e.name, e.buf.Bytes())
	return nil
}
