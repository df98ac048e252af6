// Package cfb implements the Microsoft Compound File Binary File Format.
//
// A Document is an ooxml.Container: streams are addressed by their storage
// path joined with "/", e.g. "\x06DataSpaces/Version".
package cfb

// https://docs.microsoft.com/en-us/openspecs/windows_protocols/ms-cfb/53989ce4-7b05-4f8d-829b-d08d6148375b
//   Storage = Directory
//   Stream = File

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/pbnjay/ooxml"
)

func init() {
	ooxml.Register("cfb", 10, Open)
}

const (
	secFree       uint32 = 0xFFFFFFFF // FREESECT
	secEndOfChain uint32 = 0xFFFFFFFE // ENDOFCHAIN
	secFAT        uint32 = 0xFFFFFFFD // FATSECT
	secDIFAT      uint32 = 0xFFFFFFFC // DIFSECT
	secMaxRegular uint32 = 0xFFFFFFFA // MAXREGSECT

	noStream uint32 = 0xFFFFFFFF // NOSTREAM
)

const (
	signature       uint64 = 0xe11ab1a1e011cfd0
	miniStreamCutoff       = 4096
	headerDIFATLen         = 109
	maxNameLen             = 31 // UTF-16 code units, without the terminator
)

// Header of the Compound File MUST be at the beginning of the file (offset 0).
type header struct {
	Signature                    uint64      // 0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1
	ClassID                      [2]uint64   // CLSID_NULL
	MinorVersion                 uint16      // 0x003E
	MajorVersion                 uint16      // 3 or 4
	ByteOrder                    uint16      // 0xFFFE, little-endian
	SectorShift                  uint16      // 9 for version 3, 12 for version 4
	MiniSectorShift              uint16      // 6, mini sectors are 64 bytes
	Reserved1                    [6]byte     // zero
	NumDirectorySectors          int32       // zero for version 3
	NumFATSectors                int32       // count of FAT sectors
	FirstDirectorySectorLocation uint32      // start of the directory chain
	TransactionSignature         int32       // zero, transactions are not implemented
	MiniStreamCutoffSize         int32       // 0x00001000
	FirstMiniFATSectorLocation   uint32      // start of the mini FAT chain
	NumMiniFATSectors            int32       // count of mini FAT sectors
	FirstDIFATSectorLocation     uint32      // start of the DIFAT chain
	NumDIFATSectors              int32       // count of DIFAT sectors
	DIFAT                        [109]uint32 // the first 109 FAT sector locations
}

type objectType byte

const (
	typeUnknown     objectType = 0x00
	typeStorage     objectType = 0x01
	typeStream      objectType = 0x02
	typeRootStorage objectType = 0x05
)

const (
	colorRed   byte = 0
	colorBlack byte = 1
)

// directory is one 128 byte directory entry.
type directory struct {
	Name                   [32]uint16 // 32 utf16 characters
	NameByteLen            int16      // length of Name in bytes, including the terminator
	ObjectType             objectType
	ColorFlag              byte   // 0=red, 1=black
	LeftSiblingID          uint32 // stream ids
	RightSiblingID         uint32
	ChildID                uint32
	ClassID                [2]uint64 // GUID
	StateBits              uint32
	CreationTime           int64
	ModifiedTime           int64
	StartingSectorLocation uint32
	StreamSize             uint64
}

const directorySize = 128

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (d *directory) name() (string, error) {
	if (d.NameByteLen&1) == 1 || d.NameByteLen > 64 || d.NameByteLen < 2 {
		return "", errors.Wrapf(ooxml.ErrNotInFormat, "cfb: invalid directory name length %d", d.NameByteLen)
	}
	raw := make([]byte, int(d.NameByteLen)-2)
	for i := range raw {
		u := d.Name[i/2]
		if i%2 == 1 {
			u >>= 8
		}
		raw[i] = byte(u)
	}
	s, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", ooxml.WrapErr(errors.Wrap(err, "cfb: directory name"), ooxml.ErrNotInFormat)
	}
	return string(s), nil
}

func (d *directory) setName(name string) error {
	raw, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return errors.Wrapf(err, "cfb: encoding name %q", name)
	}
	if len(raw)/2 > maxNameLen {
		return errors.Errorf("cfb: name %q is longer than %d characters", name, maxNameLen)
	}
	for i := 0; i < len(raw); i += 2 {
		d.Name[i/2] = uint16(raw[i]) | uint16(raw[i+1])<<8
	}
	d.NameByteLen = int16(len(raw) + 2)
	return nil
}

// entry is a stream or storage of a Document.
type entry struct {
	path    string
	name    string
	storage bool
	chunks  [][]byte // stream data, possibly slices of the loaded file
	size    int64
}

// Document represents a Compound File Binary Format document. A loaded
// Document can be modified with Create and serialized again with WriteTo.
type Document struct {
	// the entire file when loaded, referenced by stream chunks
	data []byte

	header  *header
	entries []*entry
	byPath  map[string]*entry
}

// New returns an empty Document.
func New() *Document {
	return &Document{byPath: make(map[string]*entry)}
}

// Open a Compound File Binary Format document.
func Open(filename string) (ooxml.Container, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var sig [8]byte
	if _, err = io.ReadFull(f, sig[:]); err != nil || !bytes.Equal(sig[:], signatureBytes()) {
		return nil, ooxml.ErrNotInFormat
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return Load(f)
}

// Load reads a compound file from r.
func Load(r io.Reader) (*Document, error) {
	d := New()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cfb: read")
	}
	if err = d.load(data); err != nil {
		return nil, err
	}
	return d, nil
}

func signatureBytes() []byte {
	return []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
}

// List the stream paths contained in the document.
func (d *Document) List() ([]string, error) {
	var res []string
	for _, e := range d.entries {
		if !e.storage {
			res = append(res, e.path)
		}
	}
	return res, nil
}

// Open the named stream contained in the document.
func (d *Document) Open(name string) (io.ReadSeeker, int64, error) {
	e, ok := d.byPath[name]
	if !ok || e.storage {
		return nil, 0, errors.Wrapf(ooxml.ErrEntryNotFound, "cfb: stream %q", name)
	}
	return &SliceReader{Data: e.chunks}, e.size, nil
}

// Create or replace the named stream, creating parent storages as needed.
// The stream is stored when the writer is closed.
func (d *Document) Create(name string) (io.WriteCloser, error) {
	parts := strings.Split(name, "/")
	for _, p := range parts {
		if p == "" {
			return nil, errors.Errorf("cfb: invalid stream path %q", name)
		}
		var dir directory
		if err := dir.setName(p); err != nil {
			return nil, err
		}
	}
	if e, ok := d.byPath[name]; ok && e.storage {
		return nil, errors.Errorf("cfb: %q is a storage", name)
	}
	for i := 1; i < len(parts); i++ {
		p := strings.Join(parts[:i], "/")
		if e, ok := d.byPath[p]; ok && !e.storage {
			return nil, errors.Errorf("cfb: %q is a stream", p)
		}
	}
	return &streamWriter{d: d, path: name, parts: parts}, nil
}

func (d *Document) put(path string, parts []string, data []byte) {
	for i := 1; i < len(parts); i++ {
		p := strings.Join(parts[:i], "/")
		if _, ok := d.byPath[p]; !ok {
			d.add(&entry{path: p, name: parts[i-1], storage: true})
		}
	}
	if e, ok := d.byPath[path]; ok {
		e.chunks, e.size = [][]byte{data}, int64(len(data))
		return
	}
	d.add(&entry{path: path, name: parts[len(parts)-1], chunks: [][]byte{data}, size: int64(len(data))})
}

func (d *Document) add(e *entry) {
	d.entries = append(d.entries, e)
	d.byPath[e.path] = e
}

type streamWriter struct {
	d      *Document
	path   string
	parts  []string
	buf    bytes.Buffer
	closed bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.Wrapf(ooxml.ErrInvalidState, "cfb: write to closed stream %q", w.path)
	}
	return w.buf.Write(p)
}

func (w *streamWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.d.put(w.path, w.parts, w.buf.Bytes())
	return nil
}
