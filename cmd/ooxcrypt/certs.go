package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

func readPEM(filename string, types ...string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.Errorf("%s: no %v PEM block", filename, types)
		}
		for _, t := range types {
			if block.Type == t {
				return block.Bytes, nil
			}
		}
	}
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	der, err := readPEM(filename, "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	return cert, errors.Wrapf(err, "parse certificate %s", filename)
}

func loadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	der, err := readPEM(filename, "RSA PRIVATE KEY", "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrapf(err, "parse private key %s", filename)
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("%s: not an RSA private key", filename)
	}
	return key, nil
}
