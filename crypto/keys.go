package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// Block keys mixed into Agile key derivation (MS-OFFCRYPTO 2.3.4.11-2.3.4.14).
var (
	BlockKeyVerifierInput  = []byte{0xfe, 0xa7, 0xd2, 0x76, 0x3b, 0x4b, 0x9e, 0x79}
	BlockKeyVerifierHash   = []byte{0xd7, 0xaa, 0x0f, 0x6d, 0x30, 0x61, 0x34, 0x4e}
	BlockKeyKeyValue       = []byte{0x14, 0x6e, 0x0b, 0xe7, 0xab, 0xac, 0xd0, 0xd6}
	BlockKeyIntegrityKey   = []byte{0x5f, 0xb2, 0xad, 0x01, 0x0c, 0xb9, 0xe1, 0xf6}
	BlockKeyIntegrityValue = []byte{0xa0, 0x67, 0x7f, 0x02, 0xb2, 0x2c, 0x84, 0x33}
)

// MaxSpinCount is the largest iteration count Office accepts.
const MaxSpinCount = 10000000

// StandardSpinCount is the fixed iteration count of Standard encryption.
const StandardSpinCount = 50000

// Re-keying intervals of the RC4 based modes.
const (
	BinaryRC4BlockSize    = 1024
	CryptoAPIRC4BlockSize = 512
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodePassword returns password as UTF-16LE without a BOM.
func EncodePassword(password string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(password))
	if err != nil {
		return nil, errors.Wrap(err, "crypto: encoding password")
	}
	return b, nil
}

// LE32 returns n as 4 little-endian bytes.
func LE32(n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return b[:]
}

// HashPassword computes H0 = H(salt | UTF16LE(password)) followed by spinCount
// rounds of Hn = H(LE32(n) | Hn-1).
func HashPassword(password string, h HashAlgorithm, salt []byte, spinCount int) ([]byte, error) {
	if spinCount < 0 || spinCount > MaxSpinCount {
		return nil, errors.Errorf("crypto: spin count %d out of range", spinCount)
	}
	pw, err := EncodePassword(password)
	if err != nil {
		return nil, err
	}
	hh, err := h.New()
	if err != nil {
		return nil, err
	}
	hh.Write(salt)
	hh.Write(pw)
	sum := hh.Sum(nil)

	var iter [4]byte
	for i := 0; i < spinCount; i++ {
		binary.LittleEndian.PutUint32(iter[:], uint32(i))
		hh.Reset()
		hh.Write(iter[:])
		hh.Write(sum)
		sum = hh.Sum(sum[:0])
	}
	return sum, nil
}

// fit truncates b to n bytes or extends it with the pad byte.
func fit(b []byte, n int, pad byte) []byte {
	out := make([]byte, n)
	c := copy(out, b)
	for i := c; i < n; i++ {
		out[i] = pad
	}
	return out
}

// GenerateKey returns H(hash | blockKey) fitted to keySize bytes, padding
// with 0x36 when the digest is shorter than the key.
func GenerateKey(hash []byte, h HashAlgorithm, blockKey []byte, keySize int) ([]byte, error) {
	sum, err := h.Sum(hash, blockKey)
	if err != nil {
		return nil, err
	}
	return fit(sum, keySize, 0x36), nil
}

// GenerateIV returns H(salt | blockKey) fitted to blockSize bytes. A nil
// blockKey uses the salt itself.
func GenerateIV(h HashAlgorithm, salt, blockKey []byte, blockSize int) ([]byte, error) {
	if blockKey == nil {
		return fit(salt, blockSize, 0x36), nil
	}
	sum, err := h.Sum(salt, blockKey)
	if err != nil {
		return nil, err
	}
	return fit(sum, blockSize, 0x36), nil
}

// DeriveStandardKey derives the Standard encryption key (MS-OFFCRYPTO 2.3.4.7).
func DeriveStandardKey(password string, salt []byte, h HashAlgorithm, keyBits, spinCount int) ([]byte, error) {
	if keyBits <= 0 || keyBits%8 != 0 {
		return nil, errors.Errorf("crypto: invalid key size %d bits", keyBits)
	}
	hn, err := HashPassword(password, h, salt, spinCount)
	if err != nil {
		return nil, err
	}
	hfinal, err := h.Sum(hn, LE32(0))
	if err != nil {
		return nil, err
	}

	var buf1, buf2 [64]byte
	for i := range buf1 {
		buf1[i] = 0x36
		buf2[i] = 0x5c
	}
	for i, b := range hfinal {
		buf1[i] ^= b
		buf2[i] ^= b
	}
	x1, _ := h.Sum(buf1[:])
	x2, _ := h.Sum(buf2[:])
	x3 := append(x1, x2...)
	if keyBits/8 > len(x3) {
		return nil, errors.Errorf("crypto: %s cannot derive a %d bit key", h, keyBits)
	}
	return x3[:keyBits/8], nil
}

// DeriveCryptoAPIKey derives the per-block CryptoAPI RC4 key:
// H(H(salt | password) | LE32(block)) truncated to keyBits. 40-bit keys are
// zero extended to 128 bits as CryptoAPI does.
func DeriveCryptoAPIKey(password string, salt []byte, h HashAlgorithm, keyBits int, block uint32) ([]byte, error) {
	base, err := HashPassword(password, h, salt, 0)
	if err != nil {
		return nil, err
	}
	return CryptoAPIBlockKey(base, h, keyBits, block)
}

// CryptoAPIBlockKey finishes DeriveCryptoAPIKey from the already hashed password.
func CryptoAPIBlockKey(base []byte, h HashAlgorithm, keyBits int, block uint32) ([]byte, error) {
	if keyBits <= 0 || keyBits%8 != 0 || keyBits/8 > h.Size() {
		return nil, errors.Errorf("crypto: invalid CryptoAPI key size %d bits", keyBits)
	}
	sum, err := h.Sum(base, LE32(block))
	if err != nil {
		return nil, err
	}
	if keyBits == 40 {
		return fit(sum[:5], 16, 0), nil
	}
	return sum[:keyBits/8], nil
}

// BinaryRC4BaseKey returns the truncated 5-byte intermediate key of the
// Binary-RC4 ("Std97") derivation.
func BinaryRC4BaseKey(password string, salt []byte) ([]byte, error) {
	if len(salt) != 16 {
		return nil, errors.Errorf("crypto: Binary-RC4 salt must be 16 bytes, got %d", len(salt))
	}
	pw, err := EncodePassword(password)
	if err != nil {
		return nil, err
	}
	h0 := md5.Sum(pw)

	m := md5.New()
	for i := 0; i < 16; i++ {
		m.Write(h0[:5])
		m.Write(salt)
	}
	return m.Sum(nil)[:5], nil
}

// BinaryRC4BlockKey returns MD5(base | LE32(block)).
func BinaryRC4BlockKey(base []byte, block uint32) []byte {
	k := make([]byte, 0, 9)
	k = append(k, base[:5]...)
	k = append(k, LE32(block)...)
	sum := md5.Sum(k)
	return sum[:]
}

// DeriveBinaryRC4Key returns the RC4 key for one block of a Binary-RC4 stream.
func DeriveBinaryRC4Key(password string, salt []byte, block uint32) ([]byte, error) {
	base, err := BinaryRC4BaseKey(password, salt)
	if err != nil {
		return nil, err
	}
	return BinaryRC4BlockKey(base, block), nil
}

// DeriveVerifierHash returns H(verifier).
func DeriveVerifierHash(h HashAlgorithm, verifier []byte) ([]byte, error) {
	return h.Sum(verifier)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "crypto: reading random bytes")
	}
	return b, nil
}
