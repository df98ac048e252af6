package crypto

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/pbnjay/ooxml"
)

// HashAlgorithm identifies a digest used for key derivation and verifiers.
type HashAlgorithm uint8

// Supported hash algorithms.
const (
	HashNone HashAlgorithm = iota
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	MD5
	RIPEMD128
	RIPEMD160
)

type hashInfo struct {
	name  string // Agile XML hashAlgorithm value
	algID uint32 // CryptoAPI ALG_ID, 0 when there is none
	size  int
	new   func() hash.Hash
}

var hashTable = map[HashAlgorithm]hashInfo{
	SHA1:      {"SHA1", 0x8004, sha1.Size, sha1.New},
	SHA224:    {"SHA224", 0, sha256.Size224, sha256.New224},
	SHA256:    {"SHA256", 0x800C, sha256.Size, sha256.New},
	SHA384:    {"SHA384", 0x800D, sha512.Size384, sha512.New384},
	SHA512:    {"SHA512", 0x800E, sha512.Size, sha512.New},
	MD5:       {"MD5", 0x8003, md5.Size, md5.New},
	RIPEMD128: {"RIPEMD-128", 0, ripemd128Size, newRIPEMD128},
	RIPEMD160: {"RIPEMD-160", 0, ripemd160.Size, ripemd160.New},
}

// String returns the Agile XML name of the algorithm.
func (h HashAlgorithm) String() string {
	if hi, ok := hashTable[h]; ok {
		return hi.name
	}
	return "unknown"
}

// Size returns the digest size in bytes, or 0 for unsupported algorithms.
func (h HashAlgorithm) Size() int {
	return hashTable[h].size
}

// AlgID returns the CryptoAPI ALG_ID of the hash, or 0 if it has none.
func (h HashAlgorithm) AlgID() uint32 {
	return hashTable[h].algID
}

// New returns a new hash.Hash computing the digest.
func (h HashAlgorithm) New() (hash.Hash, error) {
	hi, ok := hashTable[h]
	if !ok {
		return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash %d", h)
	}
	return hi.new(), nil
}

// Sum digests the concatenation of parts.
func (h HashAlgorithm) Sum(parts ...[]byte) ([]byte, error) {
	hh, err := h.New()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		hh.Write(p)
	}
	return hh.Sum(nil), nil
}

// ParseHash looks up a hash by its Agile XML name. Matching ignores case and dashes.
func ParseHash(name string) (HashAlgorithm, error) {
	n := normName(name)
	for h, hi := range hashTable {
		if normName(hi.name) == n {
			return h, nil
		}
	}
	return HashNone, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash %q", name)
}

// HashFromAlgID looks up a hash by CryptoAPI ALG_ID. An id of 0 selects SHA-1,
// as CryptoAPI headers leave it unset for the default.
func HashFromAlgID(id uint32) (HashAlgorithm, error) {
	if id == 0 {
		return SHA1, nil
	}
	for h, hi := range hashTable {
		if hi.algID == id {
			return h, nil
		}
	}
	return HashNone, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash ALG_ID 0x%04x", id)
}

func normName(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(s, "-", ""), "_", ""))
}
