package encryption

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"hash"
	"io"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// AgileEncryptor implements Agile encryption (MS-OFFCRYPTO 2.3.4.10).
// The package is encrypted with a random secret key which is itself
// encrypted by the password key encryptor and any certificate key
// encryptors.
type AgileEncryptor struct {
	info  *Info
	opts  options
	state State

	secret  []byte
	hmacKey []byte
}

// Info returns the header being built.
func (e *AgileEncryptor) Info() *Info { return e.info }

// State reports the encryptor state.
func (e *AgileEncryptor) State() State { return e.state }

// ConfirmPassword generates the secret key and wraps it for password.
func (e *AgileEncryptor) ConfirmPassword(password string) error {
	return e.ConfirmPasswordWith(password, KeyMaterial{})
}

// ConfirmPasswordWith is ConfirmPassword using the fixed values in km.
func (e *AgileEncryptor) ConfirmPasswordWith(password string, km KeyMaterial) error {
	if e.state > PasswordConfirmed {
		return invalidState("confirm password", e.state)
	}
	h, v := &e.info.Header, &e.info.Verifier
	if km.KeySalt != nil {
		h.KeySalt = append([]byte(nil), km.KeySalt...)
	}
	saltSize := len(h.KeySalt)
	if saltSize == 0 {
		saltSize = 16
	}

	salt, err := pick(km.Salt, saltSize)
	if err != nil {
		return err
	}
	input, err := pick(km.Verifier, len(salt))
	if err != nil {
		return err
	}
	secret, err := pick(km.SecretKey, h.KeyBits/8)
	if err != nil {
		return err
	}
	hmacKey, err := pick(km.IntegrityKey, h.Hash.Size())
	if err != nil {
		return err
	}
	if len(secret) != h.KeyBits/8 {
		return errors.Errorf("encryption: secret key must be %d bytes", h.KeyBits/8)
	}
	if h.KeySalt == nil {
		if h.KeySalt, err = crypto.RandomBytes(saltSize); err != nil {
			return err
		}
	}

	pk, err := newPasswordKey(password, v, salt)
	if err != nil {
		return err
	}
	verifierHash, err := v.Hash.Sum(input)
	if err != nil {
		return err
	}

	v.Salt = salt
	if v.EncryptedVerifier, err = pk.encrypt(crypto.BlockKeyVerifierInput, input); err != nil {
		return err
	}
	if v.EncryptedVerifierHash, err = pk.encrypt(crypto.BlockKeyVerifierHash, verifierHash); err != nil {
		return err
	}
	if v.EncryptedKey, err = pk.encrypt(crypto.BlockKeyKeyValue, secret); err != nil {
		return err
	}

	if e.info.Integrity == nil {
		e.info.Integrity = &DataIntegrity{}
	}
	if e.info.Integrity.EncryptedHMACKey, err = keyDataCipher(h, secret, crypto.BlockKeyIntegrityKey, hmacKey, false); err != nil {
		return err
	}

	e.secret, e.hmacKey = secret, hmacKey
	e.state = PasswordConfirmed
	e.opts.log.WithField("spinCount", v.SpinCount).Debug("agile encryption password confirmed")
	return nil
}

// AddCertificate adds a key encryptor so the holder of the certificate's
// RSA private key can open the package without the password.
func (e *AgileEncryptor) AddCertificate(cert *x509.Certificate) error {
	if e.state != PasswordConfirmed {
		return invalidState("add certificate", e.state)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "certificate key type %T", cert.PublicKey)
	}
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, pub, e.secret)
	if err != nil {
		return errors.Wrap(err, "encryption: wrapping secret key")
	}
	cv, err := macOf(e.info.Header.Hash, e.secret, cert.Raw)
	if err != nil {
		return err
	}
	e.info.CertificateKeys = append(e.info.CertificateKeys, CertificateKey{
		X509Certificate:   append([]byte(nil), cert.Raw...),
		EncryptedKeyValue: wrapped,
		CertVerifier:      cv,
	})
	return nil
}

// DataStream returns a writer for the package plaintext. Close stores the
// EncryptedPackage, the integrity HMAC and EncryptionInfo in c.
func (e *AgileEncryptor) DataStream(c ooxml.Container) (io.WriteCloser, error) {
	if e.state != PasswordConfirmed {
		return nil, invalidState("data stream", e.state)
	}
	h := &e.info.Header
	w, err := newPackageWriter(c, e.info, e.opts, agileSegmentSize, agileSegments(e.secret, h, false))
	if err != nil {
		return nil, err
	}
	w.finish = func(size int64, ct io.ReadSeeker) error {
		sum, err := packageHMAC(h.Hash, e.hmacKey, size, ct)
		if err != nil {
			return err
		}
		e.info.Integrity.EncryptedHMACValue, err = keyDataCipher(h, e.secret, crypto.BlockKeyIntegrityValue, sum, false)
		return err
	}
	w.done = func() { e.state = Finalized }
	e.state = Streaming
	return w, nil
}

// AgileDecryptor opens Agile encrypted packages. The reader returned by
// DataStream also implements io.ReaderAt and io.Seeker.
type AgileDecryptor struct {
	info   *Info
	opts   options
	secret []byte
}

// Info returns the parsed header.
func (d *AgileDecryptor) Info() *Info { return d.info }

// VerifyPassword reports whether password unlocks the secret key and keeps
// the key when it does.
func (d *AgileDecryptor) VerifyPassword(password string) (bool, error) {
	h, v := &d.info.Header, &d.info.Verifier
	if len(v.Salt) == 0 {
		return false, nil
	}
	pk, err := newPasswordKey(password, v, v.Salt)
	if err != nil {
		return false, err
	}
	input, err := pk.decrypt(crypto.BlockKeyVerifierInput, v.EncryptedVerifier)
	if err != nil {
		return false, err
	}
	got, err := pk.decrypt(crypto.BlockKeyVerifierHash, v.EncryptedVerifierHash)
	if err != nil {
		return false, err
	}
	if len(input) < len(v.Salt) || len(got) < v.Hash.Size() {
		return false, errors.Wrap(ooxml.ErrCorruptHeader, "short password verifier")
	}
	want, _ := v.Hash.Sum(input[:len(v.Salt)])
	if !hmac.Equal(want, got[:len(want)]) {
		return false, nil
	}

	secret, err := pk.decrypt(crypto.BlockKeyKeyValue, v.EncryptedKey)
	if err != nil {
		return false, err
	}
	if len(secret) < h.KeyBits/8 {
		return false, errors.Wrap(ooxml.ErrCorruptHeader, "short encrypted key value")
	}
	d.secret = secret[:h.KeyBits/8]
	return true, nil
}

// VerifyCertificate unlocks the package with a certificate key encryptor.
// It reports false when no key encryptor matches cert or priv.
func (d *AgileDecryptor) VerifyCertificate(cert *x509.Certificate, priv *rsa.PrivateKey) (bool, error) {
	for _, ck := range d.info.CertificateKeys {
		if !bytes.Equal(ck.X509Certificate, cert.Raw) {
			continue
		}
		secret, err := rsa.DecryptPKCS1v15(nil, priv, ck.EncryptedKeyValue)
		if err != nil {
			continue
		}
		cv, err := macOf(d.info.Header.Hash, secret, ck.X509Certificate)
		if err != nil {
			return false, err
		}
		if hmac.Equal(cv, ck.CertVerifier) {
			d.secret = secret
			return true, nil
		}
	}
	return false, nil
}

// VerifyIntegrity recomputes the HMAC of the EncryptedPackage entry.
func (d *AgileDecryptor) VerifyIntegrity(c ooxml.Container) error {
	if d.secret == nil {
		return errors.Wrap(ooxml.ErrInvalidState, "integrity check before password verification")
	}
	h := &d.info.Header
	if d.info.Integrity == nil {
		return errors.Wrap(ooxml.ErrCorruptHeader, "missing dataIntegrity")
	}
	size := h.Hash.Size()
	key, err := keyDataCipher(h, d.secret, crypto.BlockKeyIntegrityKey, d.info.Integrity.EncryptedHMACKey, true)
	if err != nil {
		return err
	}
	want, err := keyDataCipher(h, d.secret, crypto.BlockKeyIntegrityValue, d.info.Integrity.EncryptedHMACValue, true)
	if err != nil {
		return err
	}
	if len(key) < size || len(want) < size {
		return errors.Wrap(ooxml.ErrCorruptHeader, "short dataIntegrity values")
	}

	r, _, err := c.Open(PackageStream)
	if err != nil {
		return err
	}
	if cl, ok := r.(io.Closer); ok {
		defer cl.Close()
	}
	mac := hmac.New(hashFunc(h.Hash), key[:size])
	if _, err = io.Copy(mac, r); err != nil {
		return errors.Wrap(err, "encryption: read package")
	}
	if !hmac.Equal(mac.Sum(nil), want[:size]) {
		return ooxml.ErrIntegrityCheckFailed
	}
	return nil
}

// DataStream checks the package HMAC before returning any plaintext.
func (d *AgileDecryptor) DataStream(c ooxml.Container) (io.ReadCloser, error) {
	if err := d.VerifyIntegrity(c); err != nil {
		return nil, err
	}
	h := &d.info.Header
	return openPackage(c, agileSegmentSize, h.BlockSize, agileSegments(d.secret, h, true))
}

// passwordKey encrypts and decrypts the fields of the password key encryptor.
type passwordKey struct {
	v  *Verifier
	hn []byte
	iv []byte
}

func newPasswordKey(password string, v *Verifier, salt []byte) (*passwordKey, error) {
	hn, err := crypto.HashPassword(password, v.Hash, salt, v.SpinCount)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.GenerateIV(v.Hash, salt, nil, v.BlockSize)
	if err != nil {
		return nil, err
	}
	return &passwordKey{v: v, hn: hn, iv: iv}, nil
}

func (pk *passwordKey) cipher(blockKey []byte) (crypto.Cipher, error) {
	key, err := crypto.GenerateKey(pk.hn, pk.v.Hash, blockKey, pk.v.KeyBits/8)
	if err != nil {
		return crypto.Cipher{}, err
	}
	return crypto.Cipher{
		Algorithm: pk.v.Cipher,
		Chaining:  pk.v.Chaining,
		Key:       key,
		IV:        pk.iv,
		Padding:   crypto.ZeroPadding,
	}, nil
}

func (pk *passwordKey) encrypt(blockKey, data []byte) ([]byte, error) {
	c, err := pk.cipher(blockKey)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(data)
}

func (pk *passwordKey) decrypt(blockKey, data []byte) ([]byte, error) {
	c, err := pk.cipher(blockKey)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(data)
}

// keyDataCipher runs data through the keyData cipher keyed with the secret
// key, using H(keySalt | blockKey) as the IV.
func keyDataCipher(h *Header, secret, blockKey, data []byte, decrypt bool) ([]byte, error) {
	iv, err := crypto.GenerateIV(h.Hash, h.KeySalt, blockKey, h.BlockSize)
	if err != nil {
		return nil, err
	}
	c := crypto.Cipher{Algorithm: h.Cipher, Chaining: h.Chaining, Key: secret, IV: iv, Padding: crypto.ZeroPadding}
	if decrypt {
		return c.Decrypt(data)
	}
	return c.Encrypt(data)
}

// agileSegments encrypts each 4096 byte segment independently with the IV
// H(keySalt | LE32(index)).
func agileSegments(secret []byte, h *Header, decrypt bool) segmentFunc {
	return func(i uint32, data []byte) ([]byte, error) {
		return keyDataCipher(h, secret, crypto.LE32(i), data, decrypt)
	}
}

func hashFunc(h crypto.HashAlgorithm) func() hash.Hash {
	return func() hash.Hash {
		hh, _ := h.New()
		return hh
	}
}

func macOf(h crypto.HashAlgorithm, key, data []byte) ([]byte, error) {
	if h.Size() == 0 {
		return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash %s", h)
	}
	mac := hmac.New(hashFunc(h), key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// packageHMAC covers the whole EncryptedPackage entry: the length header
// followed by the ciphertext.
func packageHMAC(h crypto.HashAlgorithm, key []byte, size int64, ct io.Reader) ([]byte, error) {
	if h.Size() == 0 {
		return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash %s", h)
	}
	mac := hmac.New(hashFunc(h), key)
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(size))
	mac.Write(hdr[:])
	if _, err := io.Copy(mac, ct); err != nil {
		return nil, errors.Wrap(err, "encryption: read staged ciphertext")
	}
	return mac.Sum(nil), nil
}
