package encryption

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
)

// Context carries everything one encrypt or decrypt operation needs.
// A Context is never shared between concurrent operations.
type Context struct {
	Container ooxml.Container
	Password  string
	Params    Params
	Logger    logrus.FieldLogger
	TempDir   string

	// Certificates receive Agile certificate key encryptors on Encrypt.
	Certificates []*x509.Certificate

	// Certificate and PrivateKey unlock an Agile package on Decrypt
	// instead of a password.
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

func (ctx *Context) options() []Option {
	opts := []Option{WithTempDir(ctx.TempDir)}
	if ctx.Logger != nil {
		opts = append(opts, WithLogger(ctx.Logger))
	}
	return opts
}

func (ctx *Context) log() logrus.FieldLogger {
	if ctx.Logger != nil {
		return ctx.Logger
	}
	return ooxml.Logger
}

// Encrypt reads the plaintext package from r and writes the protected
// entries into ctx.Container. An empty password selects DefaultPassword.
func Encrypt(ctx Context, r io.Reader) (int64, error) {
	if ctx.Params.Mode == ModeUnknown {
		ctx.Params = DefaultParams(ModeAgile)
	}
	info, err := NewInfo(ctx.Params)
	if err != nil {
		return 0, err
	}
	enc, err := NewEncryptor(info, ctx.options()...)
	if err != nil {
		return 0, err
	}
	password := ctx.Password
	if password == "" {
		password = DefaultPassword
	}
	if err = enc.ConfirmPassword(password); err != nil {
		return 0, err
	}
	if len(ctx.Certificates) > 0 {
		ae, ok := enc.(*AgileEncryptor)
		if !ok {
			return 0, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "certificates with %s encryption", info.Mode)
		}
		for _, cert := range ctx.Certificates {
			if err = ae.AddCertificate(cert); err != nil {
				return 0, err
			}
		}
	}

	w, err := enc.DataStream(ctx.Container)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	ctx.log().WithFields(logrus.Fields{"mode": info.Mode, "bytes": n}).Info("package encrypted")
	return n, nil
}

// ReadInfo parses the EncryptionInfo entry of c.
func ReadInfo(c ooxml.Container) (*Info, error) {
	r, n, err := c.Open(InfoStream)
	if err != nil {
		return nil, err
	}
	if cl, ok := r.(io.Closer); ok {
		defer cl.Close()
	}
	data := make([]byte, n)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "encryption: read "+InfoStream)
	}
	return ParseInfo(data)
}

// Decrypt opens the protected package in ctx.Container. DefaultPassword is
// tried before ctx.Password. The returned reader yields exactly the declared
// plaintext length.
func Decrypt(ctx Context) (io.ReadCloser, error) {
	d, err := Unlock(ctx)
	if err != nil {
		return nil, err
	}
	return d.DataStream(ctx.Container)
}

// Unlock returns a decryptor whose password or certificate has been verified.
func Unlock(ctx Context) (Decryptor, error) {
	info, err := ReadInfo(ctx.Container)
	if err != nil {
		return nil, err
	}
	if info.Mode == ModeExtensible {
		return nil, errors.Wrap(ooxml.ErrUnsupportedAlgorithm, "extensible encryption")
	}
	d, err := NewDecryptor(info, ctx.options()...)
	if err != nil {
		return nil, err
	}

	if ctx.Certificate != nil && ctx.PrivateKey != nil {
		ad, ok := d.(*AgileDecryptor)
		if !ok {
			return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "certificate with %s encryption", info.Mode)
		}
		ok, err = ad.VerifyCertificate(ctx.Certificate, ctx.PrivateKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrap(ooxml.ErrPasswordIncorrect, "no key encryptor for certificate")
		}
		return d, nil
	}

	candidates := []string{DefaultPassword}
	if ctx.Password != "" && ctx.Password != DefaultPassword {
		candidates = append(candidates, ctx.Password)
	}
	for _, pw := range candidates {
		ok, err := d.VerifyPassword(pw)
		if err != nil {
			return nil, err
		}
		if ok {
			ctx.log().WithField("default", pw == DefaultPassword).Debug("password verified")
			return d, nil
		}
	}
	return nil, ooxml.ErrPasswordIncorrect
}

// IsEncrypted reports whether c holds a protected package.
func IsEncrypted(c ooxml.Container) bool {
	names, err := c.List()
	if err != nil {
		return false
	}
	var info, pkg bool
	for _, n := range names {
		switch n {
		case InfoStream:
			info = true
		case PackageStream:
			pkg = true
		}
	}
	return info && pkg
}

// Describe returns a human readable summary of info.
func Describe(info *Info) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "mode:      %s (version %d.%d)\n", info.Mode, info.VersionMajor, info.VersionMinor)
	if info.Mode == ModeExtensible {
		fmt.Fprintf(b, "payload:   %d bytes\n", len(info.Raw))
		return b.String()
	}
	h, v := &info.Header, &info.Verifier
	fmt.Fprintf(b, "cipher:    %s-%d", h.Cipher, h.KeyBits)
	if h.Chaining != 0 {
		fmt.Fprintf(b, " %s", h.Chaining)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "hash:      %s\n", h.Hash)
	if h.CSPName != "" {
		fmt.Fprintf(b, "provider:  %s\n", h.CSPName)
	}
	if info.Mode == ModeAgile {
		if len(v.Salt) > 0 {
			fmt.Fprintf(b, "password:  %s-%d %s %s, %d spins\n", v.Cipher, v.KeyBits, v.Chaining, v.Hash, v.SpinCount)
		}
		fmt.Fprintf(b, "integrity: %t\n", info.Integrity != nil && len(info.Integrity.EncryptedHMACValue) > 0)
		for _, ck := range info.CertificateKeys {
			desc := fmt.Sprintf("%d byte certificate", len(ck.X509Certificate))
			if cert, err := x509.ParseCertificate(ck.X509Certificate); err == nil {
				desc = cert.Subject.String()
			}
			fmt.Fprintf(b, "recipient: %s\n", desc)
		}
	} else if v.SpinCount > 0 {
		fmt.Fprintf(b, "spins:     %d\n", v.SpinCount)
	}
	return b.String()
}
