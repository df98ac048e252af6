package cfb

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// version 3 layout
const (
	sectorShift  = 9
	sectorSize   = 1 << sectorShift
	miniShift    = 6
	miniSize     = 1 << miniShift
	idsPerSector = sectorSize / 4
)

type node struct {
	e        *entry
	dir      directory
	children []uint32
	depth    int
}

// WriteTo serializes the document as a version 3 compound file with
// 512 byte sectors. Streams shorter than 4096 bytes are kept in the
// mini stream.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	nodes, err := d.buildTree()
	if err != nil {
		return 0, err
	}

	var (
		fat        []uint32
		minifat    []uint32
		ministream bytes.Buffer
		big        []*node
	)
	allocate := func(table *[]uint32, n int) uint32 {
		if n == 0 {
			return secEndOfChain
		}
		start := uint32(len(*table))
		for i := 1; i < n; i++ {
			*table = append(*table, start+uint32(i))
		}
		*table = append(*table, secEndOfChain)
		return start
	}

	for _, nd := range nodes[1:] {
		if nd.e.storage {
			continue
		}
		nd.dir.StreamSize = uint64(nd.e.size)
		if nd.e.size >= miniStreamCutoff {
			big = append(big, nd)
			continue
		}
		nd.dir.StartingSectorLocation = allocate(&minifat, sectorsFor(nd.e.size, miniSize))
		for _, c := range nd.e.chunks {
			ministream.Write(c)
		}
		ministream.Write(make([]byte, padLen(nd.e.size, miniSize)))
	}

	root := &nodes[0].dir
	root.StreamSize = uint64(ministream.Len())
	root.StartingSectorLocation = allocate(&fat, sectorsFor(int64(ministream.Len()), sectorSize))
	for _, nd := range big {
		nd.dir.StartingSectorLocation = allocate(&fat, sectorsFor(nd.e.size, sectorSize))
	}
	numMiniFAT := sectorsFor(int64(4*len(minifat)), sectorSize)
	firstMiniFAT := allocate(&fat, numMiniFAT)
	firstDir := allocate(&fat, sectorsFor(int64(len(nodes)*directorySize), sectorSize))

	numFAT, numDIFAT := 0, 0
	for {
		total := len(fat) + numFAT + numDIFAT
		nf := sectorsFor(int64(total), idsPerSector)
		nd := 0
		if nf > headerDIFATLen {
			nd = sectorsFor(int64(nf-headerDIFATLen), idsPerSector-1)
		}
		if nf == numFAT && nd == numDIFAT {
			break
		}
		numFAT, numDIFAT = nf, nd
	}
	fatStart := uint32(len(fat))
	for i := 0; i < numFAT; i++ {
		fat = append(fat, secFAT)
	}
	difatStart := uint32(len(fat))
	for i := 0; i < numDIFAT; i++ {
		fat = append(fat, secDIFAT)
	}

	h := header{
		Signature:                    signature,
		MinorVersion:                 0x3E,
		MajorVersion:                 3,
		ByteOrder:                    0xFFFE,
		SectorShift:                  sectorShift,
		MiniSectorShift:              miniShift,
		NumFATSectors:                int32(numFAT),
		FirstDirectorySectorLocation: firstDir,
		MiniStreamCutoffSize:         miniStreamCutoff,
		FirstMiniFATSectorLocation:   firstMiniFAT,
		NumMiniFATSectors:            int32(numMiniFAT),
		FirstDIFATSectorLocation:     secEndOfChain,
		NumDIFATSectors:              int32(numDIFAT),
	}
	for i := range h.DIFAT {
		h.DIFAT[i] = secFree
		if i < numFAT {
			h.DIFAT[i] = fatStart + uint32(i)
		}
	}
	if numDIFAT > 0 {
		h.FirstDIFATSectorLocation = difatStart
	}

	cw := &countWriter{w: w}
	binary.Write(cw, binary.LittleEndian, &h)

	cw.Write(ministream.Bytes())
	cw.pad(int64(ministream.Len()), sectorSize)
	for _, nd := range big {
		for _, c := range nd.e.chunks {
			cw.Write(c)
		}
		cw.pad(nd.e.size, sectorSize)
	}
	cw.ids(minifat, numMiniFAT*idsPerSector)

	empty := directory{LeftSiblingID: noStream, RightSiblingID: noStream, ChildID: noStream}
	for _, nd := range nodes {
		binary.Write(cw, binary.LittleEndian, &nd.dir)
	}
	for i := len(nodes); i%(sectorSize/directorySize) != 0; i++ {
		binary.Write(cw, binary.LittleEndian, &empty)
	}

	cw.ids(fat, numFAT*idsPerSector)

	// DIFAT sectors list the FAT sectors beyond the first 109
	rest := make([]uint32, 0, numDIFAT*idsPerSector)
	for i := headerDIFATLen; i < numFAT; i++ {
		rest = append(rest, fatStart+uint32(i))
	}
	for i := 0; i < numDIFAT; i++ {
		end := (i + 1) * (idsPerSector - 1)
		part := rest[i*(idsPerSector-1) : min(end, len(rest))]
		cw.ids(part, idsPerSector-1)
		next := secEndOfChain
		if i+1 < numDIFAT {
			next = difatStart + uint32(i+1)
		}
		binary.Write(cw, binary.LittleEndian, next)
	}
	return cw.n, cw.err
}

func sectorsFor(size int64, secSize int) int {
	return int((size + int64(secSize) - 1) / int64(secSize))
}

func padLen(size int64, secSize int) int {
	if r := int(size % int64(secSize)); r != 0 {
		return secSize - r
	}
	return 0
}

// buildTree lays out the directory: entry 0 is the root storage, every
// storage's children form a balanced red-black tree.
func (d *Document) buildTree() ([]*node, error) {
	root := &node{}
	if err := root.dir.setName("Root Entry"); err != nil {
		return nil, err
	}
	root.dir.ObjectType = typeRootStorage
	nodes := []*node{root}
	storages := map[string]uint32{"": 0}

	for _, e := range d.entries {
		nd := &node{e: e}
		if err := nd.dir.setName(e.name); err != nil {
			return nil, err
		}
		nd.dir.ObjectType = typeStream
		if e.storage {
			nd.dir.ObjectType = typeStorage
		}
		id := uint32(len(nodes))
		nodes = append(nodes, nd)
		parent := ""
		if i := strings.LastIndex(e.path, "/"); i >= 0 {
			parent = e.path[:i]
		}
		pid, ok := storages[parent]
		if !ok {
			return nil, errors.Errorf("cfb: no storage for %q", e.path)
		}
		nodes[pid].children = append(nodes[pid].children, id)
		if e.storage {
			storages[e.path] = id
		}
	}

	for _, nd := range nodes {
		nd.dir.LeftSiblingID, nd.dir.RightSiblingID, nd.dir.ChildID = noStream, noStream, noStream
		nd.dir.ColorFlag = colorBlack
	}
	for _, nd := range nodes {
		if len(nd.children) == 0 {
			continue
		}
		kids := nd.children
		sort.Slice(kids, func(i, j int) bool {
			return compareNames(nodes[kids[i]].e.name, nodes[kids[j]].e.name) < 0
		})
		maxDepth := 0
		var build func(ids []uint32, depth int) uint32
		build = func(ids []uint32, depth int) uint32 {
			if len(ids) == 0 {
				return noStream
			}
			mid := len(ids) / 2
			n := nodes[ids[mid]]
			n.depth = depth
			if depth > maxDepth {
				maxDepth = depth
			}
			n.dir.LeftSiblingID = build(ids[:mid], depth+1)
			n.dir.RightSiblingID = build(ids[mid+1:], depth+1)
			return ids[mid]
		}
		nd.dir.ChildID = build(kids, 0)
		// leaf depths differ by at most one, so the deepest level can be red
		if maxDepth > 0 {
			for _, id := range kids {
				if nodes[id].depth == maxDepth {
					nodes[id].dir.ColorFlag = colorRed
				}
			}
		}
	}
	return nodes, nil
}

// compareNames orders sibling names: shorter names first, then by the
// upper-cased UTF-16 code units.
func compareNames(a, b string) int {
	ua, _ := utf16le.NewEncoder().Bytes([]byte(strings.ToUpper(a)))
	ub, _ := utf16le.NewEncoder().Bytes([]byte(strings.ToUpper(b)))
	if len(ua) != len(ub) {
		return len(ua) - len(ub)
	}
	for i := 0; i < len(ua); i += 2 {
		ca := binary.LittleEndian.Uint16(ua[i:])
		cb := binary.LittleEndian.Uint16(ub[i:])
		if ca != cb {
			return int(ca) - int(cb)
		}
	}
	return 0
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countWriter) pad(size int64, secSize int) {
	if n := padLen(size, secSize); n > 0 {
		c.Write(make([]byte, n))
	}
}

// ids writes sector ids, filling up to n entries with FREESECT.
func (c *countWriter) ids(ids []uint32, n int) {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		v := secFree
		if i < len(ids) {
			v = ids[i]
		}
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	c.Write(buf)
}
