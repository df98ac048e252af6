package cfb

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
)

func notInFormat(msg string, args ...interface{}) error {
	return errors.Wrapf(ooxml.ErrNotInFormat, "cfb: "+msg, args...)
}

func (d *Document) load(data []byte) error {
	d.data = data
	if len(data) < 512 {
		return notInFormat("file is %d bytes", len(data))
	}
	h := &header{}
	binary.Read(bytes.NewReader(data), binary.LittleEndian, h)
	if h.Signature != signature || h.ByteOrder != 0xFFFE {
		return ooxml.ErrNotInFormat
	}
	if h.ClassID[0] != 0 || h.ClassID[1] != 0 {
		return notInFormat("invalid CLSID")
	}
	switch h.MajorVersion {
	case 3:
		if h.SectorShift != 9 {
			return notInFormat("invalid sector size")
		}
		if h.NumDirectorySectors != 0 {
			return notInFormat("version 3 does not support directory sectors")
		}
	case 4:
		if h.SectorShift != 12 {
			return notInFormat("invalid sector size")
		}
	default:
		return notInFormat("unknown major version %d", h.MajorVersion)
	}
	if h.MinorVersion != 0x3E {
		ooxml.Logger.Warnf("cfb: MinorVersion = 0x%02x NOT 0x3E", h.MinorVersion)
	}
	for _, v := range h.Reserved1 {
		if v != 0 {
			return notInFormat("reserved section is non-zero")
		}
	}
	if h.MiniSectorShift != 6 {
		return notInFormat("invalid mini sector size")
	}
	if h.MiniStreamCutoffSize != miniStreamCutoff {
		return notInFormat("invalid mini sector cutoff")
	}
	d.header = h

	fat, err := d.readFAT()
	if err != nil {
		return err
	}
	var minifat []uint32
	if h.FirstMiniFATSectorLocation != secEndOfChain {
		sids, err := chain(h.FirstMiniFATSectorLocation, fat)
		if err != nil {
			return err
		}
		for _, sid := range sids {
			sec, err := d.sector(sid)
			if err != nil {
				return err
			}
			minifat = appendSIDs(minifat, sec)
		}
	}

	dirs, err := d.readDirectory(fat)
	if err != nil {
		return err
	}
	if len(dirs) == 0 || dirs[0].ObjectType != typeRootStorage {
		return notInFormat("missing root storage")
	}

	ministream, err := d.streamChunks(dirs[0].StartingSectorLocation, dirs[0].StreamSize, fat)
	if err != nil {
		return err
	}
	w := &walker{d: d, dirs: dirs, fat: fat, minifat: minifat, ministream: ministream,
		seen: make(map[uint32]bool)}
	return w.walk(dirs[0].ChildID, "")
}

// sector returns the bytes of regular sector sid. A short final sector is
// returned truncated.
func (d *Document) sector(sid uint32) ([]byte, error) {
	if sid > secMaxRegular {
		return nil, notInFormat("invalid sector id 0x%08x", sid)
	}
	shift := d.header.SectorShift
	offs := int64(sid+1) << shift
	if offs >= int64(len(d.data)) {
		return nil, notInFormat("sector %d past end of file", sid)
	}
	end := offs + int64(1)<<shift
	if end > int64(len(d.data)) {
		end = int64(len(d.data))
	}
	return d.data[offs:end], nil
}

func appendSIDs(dst []uint32, sec []byte) []uint32 {
	for len(sec) >= 4 {
		dst = append(dst, binary.LittleEndian.Uint32(sec))
		sec = sec[4:]
	}
	return dst
}

// readFAT collects the FAT sectors listed by the header and the DIFAT chain.
func (d *Document) readFAT() ([]uint32, error) {
	h := d.header
	numFATentries := 1 << (h.SectorShift - 2)
	fatSectors := make([]uint32, 0, int(h.NumFATSectors))
	for _, sid := range h.DIFAT {
		if sid == secFree {
			break
		}
		fatSectors = append(fatSectors, sid)
	}

	sid := h.FirstDIFATSectorLocation
	for i := 0; i < int(h.NumDIFATSectors) && sid != secEndOfChain && sid != secFree; i++ {
		sec, err := d.sector(sid)
		if err != nil {
			return nil, err
		}
		ids := appendSIDs(nil, sec)
		if len(ids) != numFATentries {
			return nil, notInFormat("short DIFAT sector %d", sid)
		}
		for _, fsid := range ids[:numFATentries-1] {
			if fsid == secFree || fsid == secEndOfChain {
				continue
			}
			fatSectors = append(fatSectors, fsid)
		}
		// chain the next DIFAT sector
		sid = ids[numFATentries-1]
	}

	fat := make([]uint32, 0, numFATentries*len(fatSectors))
	for _, fsid := range fatSectors {
		sec, err := d.sector(fsid)
		if err != nil {
			return nil, err
		}
		fat = appendSIDs(fat, sec)
	}
	return fat, nil
}

// chain follows a sector chain starting at sid.
func chain(sid uint32, table []uint32) ([]uint32, error) {
	var res []uint32
	for sid != secEndOfChain {
		if int(sid) >= len(table) || sid > secMaxRegular {
			return nil, notInFormat("broken sector chain at 0x%08x", sid)
		}
		if len(res) > len(table) {
			return nil, notInFormat("sector chain loops")
		}
		res = append(res, sid)
		sid = table[sid]
	}
	return res, nil
}

func (d *Document) readDirectory(fat []uint32) ([]*directory, error) {
	sids, err := chain(d.header.FirstDirectorySectorLocation, fat)
	if err != nil {
		return nil, err
	}
	var dirs []*directory
	for _, sid := range sids {
		sec, err := d.sector(sid)
		if err != nil {
			return nil, err
		}
		br := bytes.NewReader(sec)
		for br.Len() >= directorySize {
			dirent := &directory{}
			binary.Read(br, binary.LittleEndian, dirent)
			if d.header.MajorVersion == 3 {
				// mask out upper 32bits
				dirent.StreamSize = dirent.StreamSize & 0xFFFFFFFF
			}
			dirs = append(dirs, dirent)
		}
	}
	return dirs, nil
}

// streamChunks returns the sector slices of a regular stream.
func (d *Document) streamChunks(sid uint32, size uint64, fat []uint32) ([][]byte, error) {
	if size == 0 {
		return nil, nil
	}
	sids, err := chain(sid, fat)
	if err != nil {
		return nil, err
	}
	// NB chunks are slices of the raw data, so this is the
	// only allocation - for the (much smaller) list of sector slices
	chunks := make([][]byte, 0, len(sids))
	for _, s := range sids {
		sec, err := d.sector(s)
		if err != nil {
			return nil, err
		}
		if size < uint64(len(sec)) {
			sec = sec[:size]
		}
		size -= uint64(len(sec))
		chunks = append(chunks, sec)
		if size == 0 {
			break
		}
	}
	if size != 0 {
		return nil, notInFormat("incomplete stream, %d bytes missing", size)
	}
	return chunks, nil
}

type walker struct {
	d          *Document
	dirs       []*directory
	fat        []uint32
	minifat    []uint32
	ministream [][]byte
	seen       map[uint32]bool
}

// miniChunks returns the slices of a stream stored in the mini stream.
func (w *walker) miniChunks(sid uint32, size uint64) ([][]byte, error) {
	if size == 0 {
		return nil, nil
	}
	sids, err := chain(sid, w.minifat)
	if err != nil {
		return nil, err
	}
	secSize := int64(1) << w.d.header.SectorShift
	miniSecSize := int64(1) << w.d.header.MiniSectorShift
	chunks := make([][]byte, 0, len(sids))
	for _, s := range sids {
		offs := int64(s) << w.d.header.MiniSectorShift
		so, si := offs/secSize, offs%secSize
		if so >= int64(len(w.ministream)) || si+miniSecSize > int64(len(w.ministream[so])) {
			return nil, notInFormat("mini sector %d outside the mini stream", s)
		}
		slice := w.ministream[so][si : si+miniSecSize]
		if size < uint64(len(slice)) {
			slice = slice[:size]
		}
		size -= uint64(len(slice))
		chunks = append(chunks, slice)
		if size == 0 {
			break
		}
	}
	if size != 0 {
		return nil, notInFormat("incomplete mini stream, %d bytes missing", size)
	}
	return chunks, nil
}

// walk visits the red-black sibling tree rooted at id in order.
func (w *walker) walk(id uint32, prefix string) error {
	if id == noStream {
		return nil
	}
	if int(id) >= len(w.dirs) || w.seen[id] {
		return notInFormat("invalid directory tree at entry %d", id)
	}
	w.seen[id] = true
	dirent := w.dirs[id]

	if err := w.walk(dirent.LeftSiblingID, prefix); err != nil {
		return err
	}
	name, err := dirent.name()
	if err != nil {
		return err
	}
	path := prefix + name
	switch dirent.ObjectType {
	case typeStorage:
		w.d.add(&entry{path: path, name: name, storage: true})
		if err = w.walk(dirent.ChildID, path+"/"); err != nil {
			return err
		}
	case typeStream:
		var chunks [][]byte
		if dirent.StreamSize < miniStreamCutoff {
			chunks, err = w.miniChunks(dirent.StartingSectorLocation, dirent.StreamSize)
		} else {
			chunks, err = w.d.streamChunks(dirent.StartingSectorLocation, dirent.StreamSize, w.fat)
		}
		if err != nil {
			return errors.Wrapf(err, "stream %q", path)
		}
		w.d.add(&entry{path: path, name: name, chunks: chunks, size: int64(dirent.StreamSize)})
	default:
		if ooxml.Debug {
			ooxml.Logger.Debugf("cfb: skipping directory entry %q of type %d", path, dirent.ObjectType)
		}
	}
	return w.walk(dirent.RightSiblingID, prefix)
}
