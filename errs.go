package ooxml

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var (
	// configure at build time by adding go build arguments:
	//   -ldflags="-X github.com/pbnjay/ooxml.loglevel=debug"
	loglevel string = "warn"

	// Debug should be set to true to expose detailed logging.
	Debug bool = (loglevel == "debug")

	// Logger is the default logger used when an operation is not given one.
	Logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(loglevel)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	l.SetLevel(lvl)
	return l
}

// SetDebug toggles debug logging on the default Logger.
func SetDebug(on bool) {
	Debug = on
	if on {
		Logger.SetLevel(logrus.DebugLevel)
	} else {
		Logger.SetLevel(logrus.WarnLevel)
	}
}

// ErrCorruptHeader is returned when an EncryptionInfo structure is malformed:
// an unknown version tag, declared lengths past the end of the buffer, or
// fields that contradict the encryption mode.
var ErrCorruptHeader = errors.New("ooxml: corrupt encryption header")

// ErrUnsupportedAlgorithm is returned for cipher, hash or chaining
// combinations that are not implemented.
var ErrUnsupportedAlgorithm = errors.New("ooxml: unsupported algorithm")

// ErrPasswordIncorrect is returned when the password verifier does not match.
// Callers may retry with another password.
var ErrPasswordIncorrect = errors.New("ooxml: password incorrect")

// ErrIntegrityCheckFailed is returned when the Agile HMAC over the encrypted
// package does not match. The content may have been tampered with even though
// the password was correct.
var ErrIntegrityCheckFailed = errors.New("ooxml: data integrity check failed")

// ErrInvalidPadding is returned when decrypted block padding is inconsistent
// or the ciphertext is not a whole number of cipher blocks.
var ErrInvalidPadding = errors.New("ooxml: invalid cipher padding")

// ErrRowAlreadyFlushed is returned when a streaming sheet is asked to create
// a row at or below the highest row already written to temp storage.
var ErrRowAlreadyFlushed = errors.New("ooxml: row already flushed")

// ErrResourceExhausted is returned when temporary storage cannot be created.
var ErrResourceExhausted = errors.New("ooxml: temporary resource unavailable")

// ErrInvalidState is returned when an encryptor, decryptor or sheet is used
// out of order (e.g. streaming before a password was confirmed).
var ErrInvalidState = errors.New("ooxml: invalid state for operation")

// ErrEntryNotFound is returned by a Container for a missing named entry.
var ErrEntryNotFound = errors.New("ooxml: container entry not found")

// ErrNotInFormat is returned when input is not in the expected file format.
var ErrNotInFormat = errors.New("ooxml: file is not in this format")

type errx struct {
	errs []error
}

func (e errx) Error() string {
	return e.errs[0].Error()
}
func (e errx) Unwrap() []error {
	return e.errs
}

// WrapErr wraps a set of errors. The message is taken from the first,
// while errors.Is and errors.As match any of them.
func WrapErr(e ...error) error {
	if len(e) == 1 {
		return e[0]
	}
	return errx{errs: e}
}
