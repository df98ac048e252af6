package encryption

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// Segment sizes of the package stream. RC4 modes re-key at every segment.
const (
	agileSegmentSize    = 4096
	standardSegmentSize = 4096
)

// StandardEncryptor implements Standard (CryptoAPI) encryption with AES-ECB
// or RC4.
type StandardEncryptor struct {
	info  *Info
	opts  options
	state State

	key []byte // AES key, or the hashed password for RC4
}

// Info returns the header being built.
func (e *StandardEncryptor) Info() *Info { return e.info }

// State reports the encryptor state.
func (e *StandardEncryptor) State() State { return e.state }

// ConfirmPassword derives the key from password with a fresh random salt
// and encrypts a random verifier with it.
func (e *StandardEncryptor) ConfirmPassword(password string) error {
	return e.ConfirmPasswordWith(password, KeyMaterial{})
}

// ConfirmPasswordWith is ConfirmPassword using the fixed values in km.
func (e *StandardEncryptor) ConfirmPasswordWith(password string, km KeyMaterial) error {
	if e.state > PasswordConfirmed {
		return invalidState("confirm password", e.state)
	}
	h, v := &e.info.Header, &e.info.Verifier
	salt, err := pick(km.Salt, 16)
	if err != nil {
		return err
	}
	verifier, err := pick(km.Verifier, 16)
	if err != nil {
		return err
	}
	if len(salt) != 16 || len(verifier) != 16 {
		return errors.New("encryption: standard salt and verifier must be 16 bytes")
	}
	key, err := standardKey(password, salt, h)
	if err != nil {
		return err
	}
	hash, err := crypto.DeriveVerifierHash(h.Hash, verifier)
	if err != nil {
		return err
	}

	v.Salt = salt
	v.VerifierHashSize = len(hash)
	if h.Cipher == crypto.AES {
		if v.EncryptedVerifier, err = crypto.Encrypt(crypto.AES, crypto.ECB, key, nil, verifier, crypto.NoPadding); err != nil {
			return err
		}
		if v.EncryptedVerifierHash, err = crypto.Encrypt(crypto.AES, crypto.ECB, key, nil, hash, crypto.ZeroPadding); err != nil {
			return err
		}
	} else {
		// verifier and hash share one keystream
		ct, err := rc4Verifier(key, h, append(verifier, hash...))
		if err != nil {
			return err
		}
		v.EncryptedVerifier, v.EncryptedVerifierHash = ct[:16], ct[16:]
	}
	e.key = key
	e.state = PasswordConfirmed
	e.opts.log.WithField("cipher", h.Cipher).Debug("standard encryption password confirmed")
	return nil
}

// DataStream returns a writer for the package plaintext. Close stores the
// EncryptedPackage and EncryptionInfo entries in c.
func (e *StandardEncryptor) DataStream(c ooxml.Container) (io.WriteCloser, error) {
	if e.state != PasswordConfirmed {
		return nil, invalidState("data stream", e.state)
	}
	segSize, enc := standardSegments(e.key, &e.info.Header, false)
	w, err := newPackageWriter(c, e.info, e.opts, segSize, enc)
	if err != nil {
		return nil, err
	}
	w.done = func() { e.state = Finalized }
	e.state = Streaming
	return w, nil
}

// StandardDecryptor opens Standard encrypted packages.
type StandardDecryptor struct {
	info *Info
	opts options
	key  []byte
}

// Info returns the parsed header.
func (d *StandardDecryptor) Info() *Info { return d.info }

// VerifyPassword reports whether password unlocks the package and keeps
// the derived key when it does.
func (d *StandardDecryptor) VerifyPassword(password string) (bool, error) {
	h, v := &d.info.Header, &d.info.Verifier
	key, err := standardKey(password, v.Salt, h)
	if err != nil {
		return false, err
	}
	var verifier, hash []byte
	if h.Cipher == crypto.AES {
		if verifier, err = crypto.Decrypt(crypto.AES, crypto.ECB, key, nil, v.EncryptedVerifier, crypto.NoPadding); err != nil {
			return false, err
		}
		if hash, err = crypto.Decrypt(crypto.AES, crypto.ECB, key, nil, v.EncryptedVerifierHash, crypto.NoPadding); err != nil {
			return false, err
		}
	} else {
		pt, err := rc4Verifier(key, h, append(append([]byte(nil), v.EncryptedVerifier...), v.EncryptedVerifierHash...))
		if err != nil {
			return false, err
		}
		verifier, hash = pt[:len(v.EncryptedVerifier)], pt[len(v.EncryptedVerifier):]
	}
	want, err := crypto.DeriveVerifierHash(h.Hash, verifier)
	if err != nil {
		return false, err
	}
	if len(hash) < v.VerifierHashSize || !bytes.Equal(want, hash[:v.VerifierHashSize]) {
		return false, nil
	}
	d.key = key
	return true, nil
}

// DataStream returns the plaintext of the EncryptedPackage entry in c.
func (d *StandardDecryptor) DataStream(c ooxml.Container) (io.ReadCloser, error) {
	if d.key == nil {
		return nil, errors.Wrap(ooxml.ErrInvalidState, "data stream before password verification")
	}
	h := &d.info.Header
	segSize, dec := standardSegments(d.key, h, true)
	return openPackage(c, segSize, h.BlockSize, dec)
}

// standardKey returns the AES key, or for RC4 the hashed password that
// each block key is derived from.
func standardKey(password string, salt []byte, h *Header) ([]byte, error) {
	if h.Cipher == crypto.AES {
		return crypto.DeriveStandardKey(password, salt, h.Hash, h.KeyBits, crypto.StandardSpinCount)
	}
	return crypto.HashPassword(password, h.Hash, salt, 0)
}

func rc4Verifier(base []byte, h *Header, data []byte) ([]byte, error) {
	key, err := crypto.CryptoAPIBlockKey(base, h.Hash, h.KeyBits, 0)
	if err != nil {
		return nil, err
	}
	s, err := crypto.NewRC4(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	s.XORKeyStream(out, data)
	return out, nil
}

// standardSegments returns the package transform. AES-ECB blocks are
// independent, so any segment size works; RC4 re-keys every 512 bytes and
// is its own inverse.
func standardSegments(key []byte, h *Header, decrypt bool) (int, segmentFunc) {
	if h.Cipher == crypto.AES {
		c := crypto.Cipher{Algorithm: crypto.AES, Chaining: crypto.ECB, Key: key, Padding: crypto.ZeroPadding}
		if decrypt {
			return standardSegmentSize, func(_ uint32, data []byte) ([]byte, error) {
				return c.Decrypt(data)
			}
		}
		return standardSegmentSize, func(_ uint32, data []byte) ([]byte, error) {
			return c.Encrypt(data)
		}
	}
	return crypto.CryptoAPIRC4BlockSize, func(i uint32, data []byte) ([]byte, error) {
		k, err := crypto.CryptoAPIBlockKey(key, h.Hash, h.KeyBits, i)
		if err != nil {
			return nil, err
		}
		s, err := crypto.NewRC4(k)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		s.XORKeyStream(out, data)
		return out, nil
	}
}
