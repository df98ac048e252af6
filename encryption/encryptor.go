package encryption

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// State is the lifecycle position of an Encryptor.
type State uint8

// Encryptor states.
const (
	Uninitialized State = iota
	PasswordConfirmed
	Streaming
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case PasswordConfirmed:
		return "password confirmed"
	case Streaming:
		return "streaming"
	case Finalized:
		return "finalized"
	}
	return "invalid"
}

// KeyMaterial replaces the random values an encryptor would generate.
// Nil fields are generated as usual.
type KeyMaterial struct {
	Salt         []byte // password verifier salt
	Verifier     []byte // plaintext password verifier
	KeySalt      []byte // Agile keyData salt
	SecretKey    []byte // Agile intermediate key
	IntegrityKey []byte // Agile HMAC key
}

// Encryptor protects a package with a password.
type Encryptor interface {
	// ConfirmPassword derives the key and verifier for password.
	ConfirmPassword(password string) error

	// ConfirmPasswordWith is ConfirmPassword using fixed key material.
	ConfirmPasswordWith(password string, km KeyMaterial) error

	// DataStream returns a writer for the plaintext package. Closing it
	// writes the EncryptedPackage and EncryptionInfo entries into c.
	DataStream(c ooxml.Container) (io.WriteCloser, error)

	// Info returns the EncryptionInfo being built.
	Info() *Info

	State() State
}

// Decryptor opens a protected package.
type Decryptor interface {
	// VerifyPassword reports whether password matches the verifier.
	// A wrong password is not an error.
	VerifyPassword(password string) (bool, error)

	// DataStream returns a reader of the decrypted package, bounded by
	// the declared plaintext length.
	DataStream(c ooxml.Container) (io.ReadCloser, error)

	Info() *Info
}

// Option configures an Encryptor or Decryptor.
type Option func(*options)

type options struct {
	log     logrus.FieldLogger
	tempDir string
}

// WithLogger sets the logger. The default is ooxml.Logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithTempDir sets where ciphertext is staged before it is written.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

func newOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = ooxml.Logger
	}
	return o
}

// NewEncryptor returns the encryptor for the mode of info.
func NewEncryptor(info *Info, opts ...Option) (Encryptor, error) {
	o := newOptions(opts)
	switch info.Mode {
	case ModeBinaryRC4:
		return &BinaryRC4Encryptor{info: info, opts: o}, nil
	case ModeStandard:
		return &StandardEncryptor{info: info, opts: o}, nil
	case ModeAgile:
		return &AgileEncryptor{info: info, opts: o}, nil
	}
	return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "no encryptor for %s mode", info.Mode)
}

// NewDecryptor returns the decryptor for the mode of info.
func NewDecryptor(info *Info, opts ...Option) (Decryptor, error) {
	o := newOptions(opts)
	switch info.Mode {
	case ModeBinaryRC4:
		return &BinaryRC4Decryptor{info: info, opts: o}, nil
	case ModeStandard:
		return &StandardDecryptor{info: info, opts: o}, nil
	case ModeAgile:
		return &AgileDecryptor{info: info, opts: o}, nil
	}
	return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "no decryptor for %s mode", info.Mode)
}

func invalidState(op string, s State) error {
	return errors.Wrapf(ooxml.ErrInvalidState, "%s while %s", op, s)
}

// pick returns fixed if set, otherwise n random bytes.
func pick(fixed []byte, n int) ([]byte, error) {
	if fixed != nil {
		return append([]byte(nil), fixed...), nil
	}
	return crypto.RandomBytes(n)
}
