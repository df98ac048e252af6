package crypto

import (
	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
)

// Padding selects how a final partial block is filled.
type Padding uint8

// Padding schemes.
const (
	// NoPadding requires block-aligned input.
	NoPadding Padding = iota

	// ZeroPadding fills with zero bytes and is not removed on decrypt.
	// Office packages use it; the declared length header trims the excess.
	ZeroPadding

	// PKCS7Padding appends n bytes of value n and is removed on decrypt.
	PKCS7Padding
)

func (p Padding) pad(data []byte, bs int) ([]byte, error) {
	switch p {
	case NoPadding:
		if len(data)%bs != 0 {
			return nil, errors.Errorf("crypto: input length %d is not a multiple of %d", len(data), bs)
		}
		return data, nil
	case ZeroPadding:
		return PadTo(data, bs), nil
	case PKCS7Padding:
		n := bs - len(data)%bs
		out := make([]byte, len(data)+n)
		copy(out, data)
		for i := len(data); i < len(out); i++ {
			out[i] = byte(n)
		}
		return out, nil
	}
	return nil, errors.Errorf("crypto: unknown padding %d", p)
}

func (p Padding) unpad(data []byte, bs int) ([]byte, error) {
	if p != PKCS7Padding {
		return data, nil
	}
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, errors.Wrapf(ooxml.ErrInvalidPadding, "length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > bs {
		return nil, errors.Wrapf(ooxml.ErrInvalidPadding, "pad byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.Wrap(ooxml.ErrInvalidPadding, "inconsistent pad bytes")
		}
	}
	return data[:len(data)-n], nil
}

// PadTo returns data zero-extended to a multiple of bs. Aligned input is
// returned unchanged.
func PadTo(data []byte, bs int) []byte {
	if bs <= 0 || len(data)%bs == 0 {
		return data
	}
	out := make([]byte, len(data)+bs-len(data)%bs)
	copy(out, data)
	return out
}
