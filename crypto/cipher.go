package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"

	"github.com/dgryski/go-rc2"
	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
)

const rc2BlockSize = 8

// CipherAlgorithm identifies a symmetric cipher.
type CipherAlgorithm uint8

// Supported ciphers. The AES key size is carried separately in key bits.
const (
	CipherNone CipherAlgorithm = iota
	AES
	RC2
	DES
	DES3    // three-key triple DES (168 bit)
	DES3112 // two-key triple DES (112 bit)
	RC4
)

// CipherProvider is the CryptoAPI provider type written in Standard headers.
type CipherProvider uint32

// Provider types.
const (
	ProviderNone    CipherProvider = 0
	ProviderRSAFull CipherProvider = 0x00000001 // PROV_RSA_FULL, used with RC4
	ProviderRSAAES  CipherProvider = 0x00000018 // PROV_RSA_AES
)

// CSPName returns the provider name Office writes into Standard headers.
func (p CipherProvider) CSPName() string {
	switch p {
	case ProviderRSAAES:
		return "Microsoft Enhanced RSA and AES Cryptographic Provider"
	case ProviderRSAFull:
		return "Microsoft Enhanced Cryptographic Provider v1.0"
	}
	return ""
}

type cipherInfo struct {
	name      string // Agile XML cipherAlgorithm value
	blockSize int    // 0 for stream ciphers
	keyBits   []int  // allowed key sizes, the first is the default
	provider  CipherProvider
}

var cipherTable = map[CipherAlgorithm]cipherInfo{
	AES:     {"AES", aes.BlockSize, []int{128, 192, 256}, ProviderRSAAES},
	RC2:     {"RC2", rc2BlockSize, []int{128, 40, 56, 64, 80, 96, 112, 120}, ProviderRSAFull},
	DES:     {"DES", des.BlockSize, []int{64}, ProviderRSAFull},
	DES3:    {"3DES", des.BlockSize, []int{192}, ProviderRSAFull},
	DES3112: {"3DES_112", des.BlockSize, []int{128}, ProviderRSAFull},
	RC4:     {"RC4", 0, []int{128, 40, 48, 56, 64, 72, 80, 88, 96, 104, 112, 120}, ProviderRSAFull},
}

// String returns the Agile XML name of the cipher.
func (c CipherAlgorithm) String() string {
	if ci, ok := cipherTable[c]; ok {
		return ci.name
	}
	return "unknown"
}

// BlockSize returns the cipher block size in bytes (0 for RC4).
func (c CipherAlgorithm) BlockSize() int {
	return cipherTable[c].blockSize
}

// DefaultKeyBits returns the default key size of the cipher.
func (c CipherAlgorithm) DefaultKeyBits() int {
	ci, ok := cipherTable[c]
	if !ok {
		return 0
	}
	return ci.keyBits[0]
}

// Provider returns the CryptoAPI provider type for the cipher.
func (c CipherAlgorithm) Provider() CipherProvider {
	return cipherTable[c].provider
}

// IsStream reports whether the cipher is a stream cipher.
func (c CipherAlgorithm) IsStream() bool {
	return c == RC4
}

// ValidKeyBits reports whether keyBits is allowed for the cipher.
func (c CipherAlgorithm) ValidKeyBits(keyBits int) bool {
	for _, k := range cipherTable[c].keyBits {
		if k == keyBits {
			return true
		}
	}
	return false
}

// AlgID returns the CryptoAPI ALG_ID for the cipher and key size.
func (c CipherAlgorithm) AlgID(keyBits int) uint32 {
	switch c {
	case AES:
		switch keyBits {
		case 128:
			return 0x660E
		case 192:
			return 0x660F
		case 256:
			return 0x6610
		}
	case RC4:
		return 0x6801
	case RC2:
		return 0x6602
	case DES:
		return 0x6601
	case DES3:
		return 0x6603
	case DES3112:
		return 0x6609
	}
	return 0
}

// CipherFromAlgID maps a CryptoAPI ALG_ID to a cipher and its key size.
// A key size of 0 means the header's KeySize field decides.
func CipherFromAlgID(id uint32) (CipherAlgorithm, int, error) {
	switch id {
	case 0x660E:
		return AES, 128, nil
	case 0x660F:
		return AES, 192, nil
	case 0x6610:
		return AES, 256, nil
	case 0x6801:
		return RC4, 0, nil
	case 0x6602:
		return RC2, 0, nil
	case 0x6601:
		return DES, 64, nil
	case 0x6603:
		return DES3, 192, nil
	case 0x6609:
		return DES3112, 128, nil
	}
	return CipherNone, 0, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "cipher ALG_ID 0x%04x", id)
}

// ParseCipher looks up a cipher by its Agile XML name.
func ParseCipher(name string) (CipherAlgorithm, error) {
	n := normName(name)
	for c, ci := range cipherTable {
		if normName(ci.name) == n {
			return c, nil
		}
	}
	return CipherNone, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "cipher %q", name)
}

// NewBlock returns the block cipher keyed with key.
// RC4 is not a block cipher and returns ErrUnsupportedAlgorithm.
func NewBlock(alg CipherAlgorithm, key []byte) (cipher.Block, error) {
	switch alg {
	case AES:
		return aes.NewCipher(key)
	case RC2:
		return rc2.New(key, 8*len(key))
	case DES:
		return des.NewCipher(key)
	case DES3:
		return des.NewTripleDESCipher(key)
	case DES3112:
		if len(key) != 16 {
			return nil, errors.Errorf("crypto: invalid 3DES_112 key size %d", len(key))
		}
		k := make([]byte, 24)
		copy(k, key)
		copy(k[16:], key[:8])
		return des.NewTripleDESCipher(k)
	}
	return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "block cipher %s", alg)
}

// NewRC4 returns a fresh RC4 stream keyed with key.
func NewRC4(key []byte) (*rc4.Cipher, error) {
	return rc4.NewCipher(key)
}
