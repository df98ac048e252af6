package encryption

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// BinaryRC4Encryptor implements the RC4 encryption of Office 97-2003
// (MS-OFFCRYPTO 2.3.6). The package is re-keyed every 1024 bytes.
type BinaryRC4Encryptor struct {
	info  *Info
	opts  options
	state State

	base []byte // truncated H1 per 2.3.6.2
}

// Info returns the header being built.
func (e *BinaryRC4Encryptor) Info() *Info { return e.info }

// State reports the encryptor state.
func (e *BinaryRC4Encryptor) State() State { return e.state }

// ConfirmPassword derives the base key and verifier from password.
func (e *BinaryRC4Encryptor) ConfirmPassword(password string) error {
	return e.ConfirmPasswordWith(password, KeyMaterial{})
}

// ConfirmPasswordWith is ConfirmPassword using the fixed values in km.
func (e *BinaryRC4Encryptor) ConfirmPasswordWith(password string, km KeyMaterial) error {
	if e.state > PasswordConfirmed {
		return invalidState("confirm password", e.state)
	}
	salt, err := pick(km.Salt, 16)
	if err != nil {
		return err
	}
	verifier, err := pick(km.Verifier, 16)
	if err != nil {
		return err
	}
	if len(verifier) != 16 {
		return errors.New("encryption: binary RC4 verifier must be 16 bytes")
	}
	base, err := crypto.BinaryRC4BaseKey(password, salt)
	if err != nil {
		return err
	}
	hash, _ := crypto.DeriveVerifierHash(crypto.MD5, verifier)

	ct, err := binaryRC4Verifier(base, append(verifier, hash...))
	if err != nil {
		return err
	}
	v := &e.info.Verifier
	v.Salt = salt
	v.EncryptedVerifier, v.EncryptedVerifierHash = ct[:16], ct[16:]
	v.VerifierHashSize = 16

	e.base = base
	e.state = PasswordConfirmed
	return nil
}

// DataStream returns a writer for the package plaintext, stored in c on
// Close.
func (e *BinaryRC4Encryptor) DataStream(c ooxml.Container) (io.WriteCloser, error) {
	if e.state != PasswordConfirmed {
		return nil, invalidState("data stream", e.state)
	}
	w, err := newPackageWriter(c, e.info, e.opts, crypto.BinaryRC4BlockSize, binaryRC4Segments(e.base))
	if err != nil {
		return nil, err
	}
	w.done = func() { e.state = Finalized }
	e.state = Streaming
	return w, nil
}

// BinaryRC4Decryptor opens Binary-RC4 encrypted packages.
type BinaryRC4Decryptor struct {
	info *Info
	opts options
	base []byte
}

// Info returns the parsed header.
func (d *BinaryRC4Decryptor) Info() *Info { return d.info }

// VerifyPassword reports whether password matches the verifier.
func (d *BinaryRC4Decryptor) VerifyPassword(password string) (bool, error) {
	v := &d.info.Verifier
	base, err := crypto.BinaryRC4BaseKey(password, v.Salt)
	if err != nil {
		return false, err
	}
	pt, err := binaryRC4Verifier(base, append(append([]byte(nil), v.EncryptedVerifier...), v.EncryptedVerifierHash...))
	if err != nil {
		return false, err
	}
	newhash, _ := crypto.DeriveVerifierHash(crypto.MD5, pt[:16])
	if !bytes.Equal(newhash, pt[16:]) {
		return false, nil
	}
	d.base = base
	return true, nil
}

// DataStream returns the plaintext of the EncryptedPackage entry in c.
func (d *BinaryRC4Decryptor) DataStream(c ooxml.Container) (io.ReadCloser, error) {
	if d.base == nil {
		return nil, errors.Wrap(ooxml.ErrInvalidState, "data stream before password verification")
	}
	return openPackage(c, crypto.BinaryRC4BlockSize, 1, binaryRC4Segments(d.base))
}

// binaryRC4Verifier runs the verifier and its hash through one block 0
// keystream.
func binaryRC4Verifier(base, data []byte) ([]byte, error) {
	s, err := crypto.NewRC4(crypto.BinaryRC4BlockKey(base, 0))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	s.XORKeyStream(out, data)
	return out, nil
}

func binaryRC4Segments(base []byte) segmentFunc {
	return func(i uint32, data []byte) ([]byte, error) {
		s, err := crypto.NewRC4(crypto.BinaryRC4BlockKey(base, i))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		s.XORKeyStream(out, data)
		return out, nil
	}
}
