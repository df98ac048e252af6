package encryption

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// Agile descriptor namespaces (MS-OFFCRYPTO 2.3.4.10).
const (
	nsEncryption   = "http://schemas.microsoft.com/office/2006/encryption"
	uriPassword    = "http://schemas.microsoft.com/office/2006/keyEncryptor/password"
	uriCertificate = "http://schemas.microsoft.com/office/2006/keyEncryptor/certificate"
)

// agileReserved follows the version tag of Agile headers.
const agileReserved = 0x40

func attrMap(attrs []xml.Attr) map[string]string {
	vals := make(map[string]string, len(attrs))
	for _, a := range attrs {
		vals[a.Name.Local] = a.Value
	}
	return vals
}

type attrErr struct {
	err error
}

func (a *attrErr) int(vals map[string]string, name string) int {
	if a.err != nil {
		return 0
	}
	n, err := strconv.Atoi(vals[name])
	if err != nil {
		a.err = errors.Wrapf(ooxml.ErrCorruptHeader, "attribute %s=%q", name, vals[name])
	}
	return n
}

func (a *attrErr) b64(vals map[string]string, name string) []byte {
	if a.err != nil {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(vals[name])
	if err != nil {
		a.err = errors.Wrapf(ooxml.ErrCorruptHeader, "attribute %s is not base64", name)
	}
	return b
}

func (a *attrErr) algs(vals map[string]string) (crypto.CipherAlgorithm, crypto.HashAlgorithm, crypto.ChainingMode) {
	if a.err != nil {
		return 0, 0, 0
	}
	c, err := crypto.ParseCipher(vals["cipherAlgorithm"])
	if err != nil {
		a.err = err
		return 0, 0, 0
	}
	h, err := crypto.ParseHash(vals["hashAlgorithm"])
	if err != nil {
		a.err = err
		return 0, 0, 0
	}
	ch, err := crypto.ParseChaining(vals["cipherChaining"])
	if err != nil {
		a.err = err
		return 0, 0, 0
	}
	return c, h, ch
}

func (info *Info) parseAgile(data []byte) error {
	if len(data) < 8 {
		return errors.Wrap(ooxml.ErrCorruptHeader, "truncated agile header")
	}
	info.Flags = binary.LittleEndian.Uint32(data[4:])
	if info.Flags != agileReserved {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "agile reserved field 0x%x", info.Flags)
	}

	dec := xml.NewDecoder(bytes.NewReader(data[8:]))
	ae := &attrErr{}
	keyEncryptor := ""
	seenRoot := false

	tok, err := dec.RawToken()
	for ; err == nil && ae.err == nil; tok, err = dec.RawToken() {
		switch v := tok.(type) {
		case xml.StartElement:
			vals := attrMap(v.Attr)
			switch v.Name.Local {
			case "encryption":
				seenRoot = true
			case "keyEncryptors":
				// container
			case "keyData":
				h := &info.Header
				h.Cipher, h.Hash, h.Chaining = ae.algs(vals)
				h.KeyBits = ae.int(vals, "keyBits")
				h.BlockSize = ae.int(vals, "blockSize")
				h.HashSize = ae.int(vals, "hashSize")
				h.KeySalt = ae.b64(vals, "saltValue")
				if n := ae.int(vals, "saltSize"); ae.err == nil && n != len(h.KeySalt) {
					ae.err = errors.Wrapf(ooxml.ErrCorruptHeader, "keyData saltSize %d with %d byte salt", n, len(h.KeySalt))
				}
			case "dataIntegrity":
				info.Integrity = &DataIntegrity{
					EncryptedHMACKey:   ae.b64(vals, "encryptedHmacKey"),
					EncryptedHMACValue: ae.b64(vals, "encryptedHmacValue"),
				}
			case "keyEncryptor":
				keyEncryptor = vals["uri"]
			case "encryptedKey":
				switch keyEncryptor {
				case uriPassword:
					pv := &info.Verifier
					pv.Cipher, pv.Hash, pv.Chaining = ae.algs(vals)
					pv.KeyBits = ae.int(vals, "keyBits")
					pv.BlockSize = ae.int(vals, "blockSize")
					pv.VerifierHashSize = ae.int(vals, "hashSize")
					pv.SpinCount = ae.int(vals, "spinCount")
					pv.Salt = ae.b64(vals, "saltValue")
					pv.EncryptedVerifier = ae.b64(vals, "encryptedVerifierHashInput")
					pv.EncryptedVerifierHash = ae.b64(vals, "encryptedVerifierHashValue")
					pv.EncryptedKey = ae.b64(vals, "encryptedKeyValue")
					if ae.err == nil && (pv.SpinCount < 0 || pv.SpinCount > crypto.MaxSpinCount) {
						ae.err = errors.Wrapf(ooxml.ErrCorruptHeader, "spinCount %d", pv.SpinCount)
					}
				case uriCertificate:
					info.CertificateKeys = append(info.CertificateKeys, CertificateKey{
						X509Certificate:   ae.b64(vals, "X509Certificate"),
						EncryptedKeyValue: ae.b64(vals, "encryptedKeyValue"),
						CertVerifier:      ae.b64(vals, "certVerifier"),
					})
				default:
					ooxml.Logger.Warnf("encryption: skipping key encryptor %q", keyEncryptor)
				}
			default:
				if ooxml.Debug {
					ooxml.Logger.Debugln("      Unhandled encryption xml tag", v.Name.Local, v.Attr)
				}
			}
		case xml.EndElement:
			if v.Name.Local == "keyEncryptor" {
				keyEncryptor = ""
			}
		default:
			// prolog, whitespace
		}
	}
	if ae.err != nil {
		return ae.err
	}
	if err != io.EOF {
		return errors.Wrap(ooxml.ErrCorruptHeader, err.Error())
	}
	if !seenRoot {
		return errors.Wrap(ooxml.ErrCorruptHeader, "missing encryption element")
	}
	if info.Integrity == nil {
		return errors.Wrap(ooxml.ErrCorruptHeader, "missing dataIntegrity element")
	}
	return nil
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func (info *Info) writeAgile(w io.Writer) error {
	h, v := &info.Header, &info.Verifier
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint32(agileReserved))

	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\" standalone=\"yes\"?>\r\n")
	fmt.Fprintf(buf, `<encryption xmlns="%s" xmlns:p="%s"`, nsEncryption, uriPassword)
	if len(info.CertificateKeys) > 0 {
		fmt.Fprintf(buf, ` xmlns:c="%s"`, uriCertificate)
	}
	buf.WriteString(">")

	fmt.Fprintf(buf, `<keyData saltSize="%d" blockSize="%d" keyBits="%d" hashSize="%d" cipherAlgorithm="%s" cipherChaining="%s" hashAlgorithm="%s" saltValue="%s"/>`,
		len(h.KeySalt), h.BlockSize, h.KeyBits, h.HashSize, h.Cipher, h.Chaining, h.Hash, b64(h.KeySalt))

	if info.Integrity != nil {
		fmt.Fprintf(buf, `<dataIntegrity encryptedHmacKey="%s" encryptedHmacValue="%s"/>`,
			b64(info.Integrity.EncryptedHMACKey), b64(info.Integrity.EncryptedHMACValue))
	}

	buf.WriteString("<keyEncryptors>")
	if len(v.Salt) > 0 {
		fmt.Fprintf(buf, `<keyEncryptor uri="%s">`, uriPassword)
		fmt.Fprintf(buf, `<p:encryptedKey spinCount="%d" saltSize="%d" blockSize="%d" keyBits="%d" hashSize="%d" cipherAlgorithm="%s" cipherChaining="%s" hashAlgorithm="%s" saltValue="%s" encryptedVerifierHashInput="%s" encryptedVerifierHashValue="%s" encryptedKeyValue="%s"/>`,
			v.SpinCount, len(v.Salt), v.BlockSize, v.KeyBits, v.VerifierHashSize, v.Cipher, v.Chaining, v.Hash,
			b64(v.Salt), b64(v.EncryptedVerifier), b64(v.EncryptedVerifierHash), b64(v.EncryptedKey))
		buf.WriteString("</keyEncryptor>")
	}
	for _, ck := range info.CertificateKeys {
		fmt.Fprintf(buf, `<keyEncryptor uri="%s">`, uriCertificate)
		fmt.Fprintf(buf, `<c:encryptedKey encryptedKeyValue="%s" X509Certificate="%s" certVerifier="%s"/>`,
			b64(ck.EncryptedKeyValue), b64(ck.X509Certificate), b64(ck.CertVerifier))
		buf.WriteString("</keyEncryptor>")
	}
	buf.WriteString("</keyEncryptors></encryption>")

	_, err := w.Write(buf.Bytes())
	return err
}
