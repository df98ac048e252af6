package crypto

import (
	"crypto/cipher"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
)

// ChainingMode is the block chaining applied to a block cipher.
type ChainingMode uint8

// Chaining modes.
const (
	ChainingNone ChainingMode = iota
	ECB
	CBC
	CFB
)

// String returns the Agile XML name of the chaining mode.
func (m ChainingMode) String() string {
	switch m {
	case ECB:
		return "ChainingModeECB"
	case CBC:
		return "ChainingModeCBC"
	case CFB:
		return "ChainingModeCFB"
	}
	return "unknown"
}

// ParseChaining looks up a chaining mode by its Agile XML name.
func ParseChaining(name string) (ChainingMode, error) {
	switch normName(name) {
	case "CHAININGMODEECB", "ECB":
		return ECB, nil
	case "CHAININGMODECBC", "CBC":
		return CBC, nil
	case "CHAININGMODECFB", "CFB":
		return CFB, nil
	}
	return ChainingNone, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "chaining mode %q", name)
}

// Cipher describes one encrypt or decrypt operation. It holds no state
// between calls; every call starts from Key and IV.
type Cipher struct {
	Algorithm CipherAlgorithm
	Chaining  ChainingMode
	Key       []byte
	IV        []byte
	Padding   Padding

	// FeedbackSize is the CFB segment size in bytes. Zero selects the
	// 8-bit window of ChainingModeCFB.
	FeedbackSize int
}

// Encrypt returns the ciphertext of data.
func (c Cipher) Encrypt(data []byte) ([]byte, error) {
	if c.Algorithm.IsStream() {
		return c.rc4(data)
	}
	block, err := NewBlock(c.Algorithm, c.Key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()

	switch c.Chaining {
	case ECB, CBC:
		src, err := c.Padding.pad(data, bs)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, len(src))
		if c.Chaining == ECB {
			for i := 0; i < len(src); i += bs {
				block.Encrypt(dst[i:i+bs], src[i:i+bs])
			}
			return dst, nil
		}
		if len(c.IV) != bs {
			return nil, errors.Errorf("crypto: CBC IV must be %d bytes, got %d", bs, len(c.IV))
		}
		cipher.NewCBCEncrypter(block, c.IV).CryptBlocks(dst, src)
		return dst, nil

	case CFB:
		src := data
		if c.Padding != NoPadding {
			if src, err = c.Padding.pad(data, bs); err != nil {
				return nil, err
			}
		}
		s, err := newCFB(block, c.IV, c.FeedbackSize, false)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, len(src))
		s.XORKeyStream(dst, src)
		return dst, nil
	}
	return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "chaining mode %s", c.Chaining)
}

// Decrypt returns the plaintext of data, removing padding per c.Padding.
func (c Cipher) Decrypt(data []byte) ([]byte, error) {
	if c.Algorithm.IsStream() {
		return c.rc4(data)
	}
	block, err := NewBlock(c.Algorithm, c.Key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()

	dst := make([]byte, len(data))
	switch c.Chaining {
	case ECB, CBC:
		if len(data)%bs != 0 {
			return nil, errors.Wrapf(ooxml.ErrInvalidPadding, "ciphertext length %d is not a multiple of %d", len(data), bs)
		}
		if c.Chaining == ECB {
			for i := 0; i < len(data); i += bs {
				block.Decrypt(dst[i:i+bs], data[i:i+bs])
			}
		} else {
			if len(c.IV) != bs {
				return nil, errors.Errorf("crypto: CBC IV must be %d bytes, got %d", bs, len(c.IV))
			}
			cipher.NewCBCDecrypter(block, c.IV).CryptBlocks(dst, data)
		}
	case CFB:
		s, err := newCFB(block, c.IV, c.FeedbackSize, true)
		if err != nil {
			return nil, err
		}
		s.XORKeyStream(dst, data)
	default:
		return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "chaining mode %s", c.Chaining)
	}
	return c.Padding.unpad(dst, bs)
}

func (c Cipher) rc4(data []byte) ([]byte, error) {
	s, err := NewRC4(c.Key)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(data))
	s.XORKeyStream(dst, data)
	return dst, nil
}

// Encrypt encrypts data with the given algorithm, chaining mode, key and IV.
func Encrypt(alg CipherAlgorithm, mode ChainingMode, key, iv, data []byte, pad Padding) ([]byte, error) {
	return Cipher{Algorithm: alg, Chaining: mode, Key: key, IV: iv, Padding: pad}.Encrypt(data)
}

// Decrypt decrypts data with the given algorithm, chaining mode, key and IV.
func Decrypt(alg CipherAlgorithm, mode ChainingMode, key, iv, data []byte, pad Padding) ([]byte, error) {
	return Cipher{Algorithm: alg, Chaining: mode, Key: key, IV: iv, Padding: pad}.Decrypt(data)
}

// cfb implements cipher feedback with an arbitrary segment size.
// crypto/cipher only offers full-block feedback.
type cfb struct {
	b       cipher.Block
	reg     []byte // shift register
	out     []byte
	segment int
	decrypt bool
}

func newCFB(b cipher.Block, iv []byte, segment int, decrypt bool) (cipher.Stream, error) {
	bs := b.BlockSize()
	if len(iv) != bs {
		return nil, errors.Errorf("crypto: CFB IV must be %d bytes, got %d", bs, len(iv))
	}
	if segment == 0 {
		segment = 1
	}
	if segment < 0 || segment > bs {
		return nil, errors.Errorf("crypto: invalid CFB feedback size %d", segment)
	}
	reg := make([]byte, bs)
	copy(reg, iv)
	return &cfb{b: b, reg: reg, out: make([]byte, bs), segment: segment, decrypt: decrypt}, nil
}

func (x *cfb) XORKeyStream(dst, src []byte) {
	bs := len(x.reg)
	for len(src) > 0 {
		x.b.Encrypt(x.out, x.reg)
		n := x.segment
		if n > len(src) {
			n = len(src)
		}
		// the ciphertext segment feeds back into the register
		var fb []byte
		if x.decrypt {
			fb = append(fb, src[:n]...)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ x.out[i]
		}
		if !x.decrypt {
			fb = dst[:n]
		}
		copy(x.reg, x.reg[n:])
		copy(x.reg[bs-n:], fb)

		dst = dst[n:]
		src = src[n:]
	}
}
