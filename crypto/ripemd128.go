package crypto

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

// RIPEMD-128 as published by Dobbertin, Bosselaers and Preneel.
// Agile descriptors may name it, and no maintained Go package ships it.

const (
	ripemd128Size      = 16
	ripemd128BlockSize = 64
)

type ripemd128 struct {
	s   [4]uint32
	x   [ripemd128BlockSize]byte
	nx  int
	len uint64
}

func newRIPEMD128() hash.Hash {
	d := &ripemd128{}
	d.Reset()
	return d
}

func (d *ripemd128) Reset() {
	d.s = [4]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476}
	d.nx = 0
	d.len = 0
}

func (d *ripemd128) Size() int      { return ripemd128Size }
func (d *ripemd128) BlockSize() int { return ripemd128BlockSize }

func (d *ripemd128) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)
	if d.nx > 0 {
		c := copy(d.x[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx == ripemd128BlockSize {
			d.block(d.x[:])
			d.nx = 0
		}
	}
	for len(p) >= ripemd128BlockSize {
		d.block(p[:ripemd128BlockSize])
		p = p[ripemd128BlockSize:]
	}
	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}
	return n, nil
}

func (d *ripemd128) Sum(in []byte) []byte {
	c := *d
	var pad [ripemd128BlockSize + 8]byte
	pad[0] = 0x80
	ml := c.len << 3
	if c.len%64 < 56 {
		c.Write(pad[:56-c.len%64])
	} else {
		c.Write(pad[:64+56-c.len%64])
	}
	binary.LittleEndian.PutUint64(pad[:8], ml)
	c.Write(pad[:8])

	var out [ripemd128Size]byte
	for i, v := range c.s {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return append(in, out[:]...)
}

var (
	rmdR = [64]uint8{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
		7, 4, 13, 1, 10, 6, 15, 3, 12, 0, 9, 5, 2, 14, 11, 8,
		3, 10, 14, 4, 9, 15, 8, 1, 2, 7, 0, 6, 13, 11, 5, 12,
		1, 9, 11, 10, 0, 8, 12, 4, 13, 3, 7, 15, 14, 5, 6, 2,
	}
	rmdRP = [64]uint8{
		5, 14, 7, 0, 9, 2, 11, 4, 13, 6, 15, 8, 1, 10, 3, 12,
		6, 11, 3, 7, 0, 13, 5, 10, 14, 15, 8, 12, 4, 9, 1, 2,
		15, 5, 1, 3, 7, 14, 6, 9, 11, 8, 12, 2, 10, 0, 4, 13,
		8, 6, 4, 1, 3, 11, 15, 0, 5, 12, 2, 13, 9, 7, 10, 14,
	}
	rmdS = [64]uint8{
		11, 14, 15, 12, 5, 8, 7, 9, 11, 13, 14, 15, 6, 7, 9, 8,
		7, 6, 8, 13, 11, 9, 7, 15, 7, 12, 15, 9, 11, 7, 13, 12,
		11, 13, 6, 7, 14, 9, 13, 15, 14, 8, 13, 6, 5, 12, 7, 5,
		11, 12, 14, 15, 14, 15, 9, 8, 9, 14, 5, 6, 8, 6, 5, 12,
	}
	rmdSP = [64]uint8{
		8, 9, 9, 11, 13, 15, 15, 5, 7, 7, 8, 11, 14, 14, 12, 6,
		9, 13, 15, 7, 12, 8, 9, 11, 7, 7, 12, 7, 6, 15, 13, 11,
		9, 7, 15, 11, 8, 6, 6, 14, 12, 13, 5, 14, 13, 13, 7, 5,
		15, 5, 8, 11, 14, 14, 6, 14, 6, 9, 12, 9, 12, 5, 15, 8,
	}
	rmdK  = [4]uint32{0x00000000, 0x5A827999, 0x6ED9EBA1, 0x8F1BBCDC}
	rmdKP = [4]uint32{0x50A28BE6, 0x5C4DD124, 0x6D703EF3, 0x00000000}
)

func rmdF(round int, x, y, z uint32) uint32 {
	switch round {
	case 0:
		return x ^ y ^ z
	case 1:
		return (x & y) | (^x & z)
	case 2:
		return (x | ^y) ^ z
	default:
		return (x & z) | (y & ^z)
	}
}

func (d *ripemd128) block(p []byte) {
	var x [16]uint32
	for i := range x {
		x[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	a, b, c, dd := d.s[0], d.s[1], d.s[2], d.s[3]
	ap, bp, cp, dp := a, b, c, dd
	for j := 0; j < 64; j++ {
		r := j / 16
		t := bits.RotateLeft32(a+rmdF(r, b, c, dd)+x[rmdR[j]]+rmdK[r], int(rmdS[j]))
		a, dd, c, b = dd, c, b, t

		t = bits.RotateLeft32(ap+rmdF(3-r, bp, cp, dp)+x[rmdRP[j]]+rmdKP[r], int(rmdSP[j]))
		ap, dp, cp, bp = dp, cp, bp, t
	}
	t := d.s[1] + c + dp
	d.s[1] = d.s[2] + dd + ap
	d.s[2] = d.s[3] + a + bp
	d.s[3] = d.s[0] + b + cp
	d.s[0] = t
}
