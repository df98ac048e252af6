package main

import (
	"bufio"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/cfb"
	"github.com/pbnjay/ooxml/encryption"
)

func (a *app) context(c ooxml.Container) encryption.Context {
	return encryption.Context{
		Container: c,
		Password:  a.password,
		Logger:    a.log,
		TempDir:   a.cfg.Streaming.TempDir,
	}
}

func (a *app) openEncrypted(filename string) (ooxml.Container, error) {
	c, err := ooxml.OpenContainer(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	if !encryption.IsEncrypted(c) {
		return nil, errors.Wrapf(ooxml.ErrNotInFormat, "%s is not an encrypted package", filename)
	}
	return c, nil
}

func (a *app) info(args []string) error {
	fs, err := subFlags("info", args, 1, nil)
	if err != nil {
		return err
	}
	c, err := a.openEncrypted(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := encryption.ReadInfo(c)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, encryption.Describe(info))
	return err
}

// encryptionParams returns the parameters selected by -mode, or by the
// config file when no mode is given.
func (a *app) encryptionParams(mode string) (encryption.Params, error) {
	if mode == "" {
		return encryption.ParamsFromConfig(a.cfg.Encryption)
	}
	m, err := encryption.ParseMode(mode)
	if err != nil {
		return encryption.Params{}, err
	}
	return encryption.DefaultParams(m), nil
}

func (a *app) encrypt(args []string) error {
	var (
		mode  string
		certs multiFlag
	)
	fs, err := subFlags("encrypt", args, 2, func(fs *flag.FlagSet) {
		fs.StringVar(&mode, "mode", "", "encryption mode, overriding the config file")
		fs.Var(&certs, "cert", "add an agile key encryptor for the PEM certificate in `file`")
	})
	if err != nil {
		return err
	}
	p, err := a.encryptionParams(mode)
	if err != nil {
		return err
	}
	var recipients []*x509.Certificate
	for _, fn := range certs {
		cert, err := loadCertificate(fn)
		if err != nil {
			return err
		}
		recipients = append(recipients, cert)
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()
	pw, err := a.readPassword(true)
	if err != nil {
		return err
	}
	if pw == "" {
		a.log.Warn("no password given, encrypting with the default password")
	}
	return a.encryptTo(fs.Arg(1), in, p, recipients)
}

// encryptTo encrypts the package read from r into a compound file at out.
func (a *app) encryptTo(out string, r io.Reader, p encryption.Params, certs []*x509.Certificate) error {
	doc := cfb.New()
	ctx := a.context(doc)
	ctx.Params = p
	ctx.Certificates = certs
	if _, err := encryption.Encrypt(ctx, r); err != nil {
		return err
	}
	return writeFile(out, doc.WriteTo)
}

// decrypted opens the encrypted package in filename and returns its
// plaintext, prompting for a password when the default one fails.
func (a *app) decrypted(filename, certFile, keyFile string) (io.ReadCloser, error) {
	c, err := a.openEncrypted(filename)
	if err != nil {
		return nil, err
	}
	ctx := a.context(c)
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, errors.New("-cert and -key must be given together")
		}
		if ctx.Certificate, err = loadCertificate(certFile); err != nil {
			return nil, err
		}
		if ctx.PrivateKey, err = loadPrivateKey(keyFile); err != nil {
			return nil, err
		}
		return encryption.Decrypt(ctx)
	}

	rc, err := encryption.Decrypt(ctx)
	if errors.Is(err, ooxml.ErrPasswordIncorrect) && a.password == "" {
		pw, perr := a.readPassword(false)
		if perr != nil {
			return nil, perr
		}
		if pw != "" {
			ctx.Password = pw
			rc, err = encryption.Decrypt(ctx)
		}
	}
	return rc, err
}

func keyFlags(certFile, keyFile *string) func(fs *flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(certFile, "cert", "", "unlock with the PEM certificate in `file`")
		fs.StringVar(keyFile, "key", "", "PEM private key `file` matching -cert")
	}
}

func (a *app) decrypt(args []string) error {
	var certFile, keyFile string
	fs, err := subFlags("decrypt", args, 2, keyFlags(&certFile, &keyFile))
	if err != nil {
		return err
	}
	rc, err := a.decrypted(fs.Arg(0), certFile, keyFile)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(fs.Arg(1), func(w io.Writer) (int64, error) {
		return io.Copy(w, rc)
	})
}

func (a *app) verify(args []string) error {
	var certFile, keyFile string
	fs, err := subFlags("verify", args, 1, keyFlags(&certFile, &keyFile))
	if err != nil {
		return err
	}
	rc, err := a.decrypted(fs.Arg(0), certFile, keyFile)
	if err != nil {
		return err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s: OK, %d bytes\n", fs.Arg(0), n)
	return err
}

// writeFile creates filename and fills it with fill. A partial file is
// removed on error.
func writeFile(filename string, fill func(io.Writer) (int64, error)) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	n, err := fill(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filename)
		return errors.Wrapf(err, "write %s", filename)
	}
	ooxml.Logger.WithFields(logrus.Fields{"file": filename, "bytes": n}).Debug("wrote file")
	return nil
}
