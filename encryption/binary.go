package encryption

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// 2.3.6.1
type binaryRC4Record struct {
	Salt         [16]byte
	Verifier     [16]byte
	VerifierHash [16]byte
}

const binaryRC4RecordSize = 4 + 48

func (info *Info) parseBinaryRC4(data []byte) error {
	if len(data) != binaryRC4RecordSize {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "binary RC4 header is %d bytes (expected %d)", len(data), binaryRC4RecordSize)
	}
	r := binaryRC4Record{}
	binary.Read(bytes.NewReader(data[4:]), binary.LittleEndian, &r)

	info.Header = Header{Cipher: crypto.RC4, Hash: crypto.MD5, KeyBits: 40}
	info.Verifier = Verifier{
		Cipher:                crypto.RC4,
		Hash:                  crypto.MD5,
		KeyBits:               40,
		Salt:                  append([]byte(nil), r.Salt[:]...),
		EncryptedVerifier:     append([]byte(nil), r.Verifier[:]...),
		EncryptedVerifierHash: append([]byte(nil), r.VerifierHash[:]...),
		VerifierHashSize:      16,
	}
	return nil
}

func (info *Info) writeBinaryRC4(w io.Writer) error {
	r := binaryRC4Record{}
	copy(r.Salt[:], info.Verifier.Salt)
	copy(r.Verifier[:], info.Verifier.EncryptedVerifier)
	copy(r.VerifierHash[:], info.Verifier.EncryptedVerifierHash)
	return binary.Write(w, binary.LittleEndian, &r)
}

// 2.3.2 EncryptionHeader, without the variable length CSPName.
type standardHeader struct {
	Flags        uint32
	SizeExtra    uint32
	AlgID        uint32
	AlgIDHash    uint32
	KeySize      uint32
	ProviderType uint32
	Reserved1    uint32
	Reserved2    uint32
}

const standardHeaderSize = 32

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (info *Info) parseStandard(data []byte) error {
	b := data[4:]
	if len(b) < 8+standardHeaderSize {
		return errors.Wrap(ooxml.ErrCorruptHeader, "truncated standard header")
	}
	info.Flags = binary.LittleEndian.Uint32(b)
	headerSize := int(binary.LittleEndian.Uint32(b[4:]))
	b = b[8:]
	if headerSize < standardHeaderSize || headerSize > len(b) {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "header size %d overflows %d byte stream", headerSize, len(b))
	}

	sh := standardHeader{}
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &sh)

	cspRaw := append([]byte(nil), b[standardHeaderSize:headerSize]...)
	csp, err := decodeCSPName(cspRaw)
	if err != nil {
		return err
	}
	b = b[headerSize:]

	cipherAlg, keyBits, err := crypto.CipherFromAlgID(sh.AlgID)
	if err != nil {
		// an AlgID of 0 defers to the flags
		if sh.AlgID != 0 {
			return err
		}
		cipherAlg, keyBits = crypto.RC4, 0
		if sh.Flags&FlagAES != 0 {
			cipherAlg, keyBits = crypto.AES, 128
		}
	}
	if keyBits == 0 {
		keyBits = int(sh.KeySize)
		if keyBits == 0 && cipherAlg == crypto.RC4 {
			keyBits = 40
		}
	}
	if int(sh.KeySize) != keyBits && sh.KeySize != 0 {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "key size %d disagrees with %s-%d", sh.KeySize, cipherAlg, keyBits)
	}
	hashAlg, err := crypto.HashFromAlgID(sh.AlgIDHash)
	if err != nil {
		return err
	}

	info.Header = Header{
		Flags:     sh.Flags,
		SizeExtra: sh.SizeExtra,
		Cipher:    cipherAlg,
		Hash:      hashAlg,
		KeyBits:   keyBits,
		BlockSize: cipherAlg.BlockSize(),
		Provider:  crypto.CipherProvider(sh.ProviderType),
		CSPName:   csp,
		Stored: &StoredHeader{
			AlgID:     sh.AlgID,
			AlgIDHash: sh.AlgIDHash,
			KeySize:   sh.KeySize,
			Reserved1: sh.Reserved1,
			Reserved2: sh.Reserved2,
			CSPName:   cspRaw,
		},
	}
	if cipherAlg == crypto.AES {
		info.Header.Chaining = crypto.ECB
	}

	// 2.3.3 EncryptionVerifier
	if len(b) < 4 {
		return errors.Wrap(ooxml.ErrCorruptHeader, "truncated verifier")
	}
	saltSize := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	if saltSize != 16 || len(b) < saltSize+16+4 {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "verifier salt size %d overflows %d byte stream", saltSize, len(b))
	}
	v := Verifier{
		Cipher:            cipherAlg,
		Hash:              hashAlg,
		KeyBits:           keyBits,
		BlockSize:         info.Header.BlockSize,
		Chaining:          info.Header.Chaining,
		Salt:              append([]byte(nil), b[:16]...),
		EncryptedVerifier: append([]byte(nil), b[16:32]...),
		SpinCount:         standardSpin(cipherAlg),
	}
	v.VerifierHashSize = int(binary.LittleEndian.Uint32(b[32:]))
	b = b[36:]

	ehLen := v.VerifierHashSize
	if cipherAlg == crypto.AES {
		ehLen = len(crypto.PadTo(make([]byte, ehLen), 16))
	}
	if ehLen > len(b) {
		return errors.Wrapf(ooxml.ErrCorruptHeader, "verifier hash of %d bytes overflows %d byte stream", ehLen, len(b))
	}
	v.EncryptedVerifierHash = append([]byte(nil), b[:ehLen]...)
	info.Verifier = v
	return nil
}

func (info *Info) writeStandard(w io.Writer) error {
	h, v := &info.Header, &info.Verifier
	sh := standardHeader{
		Flags:        h.Flags,
		SizeExtra:    h.SizeExtra,
		ProviderType: uint32(h.Provider),
	}
	var csp []byte
	if st := h.Stored; st != nil {
		sh.AlgID, sh.AlgIDHash, sh.KeySize = st.AlgID, st.AlgIDHash, st.KeySize
		sh.Reserved1, sh.Reserved2 = st.Reserved1, st.Reserved2
		csp = st.CSPName
	} else {
		var err error
		if csp, err = encodeCSPName(h.CSPName); err != nil {
			return err
		}
		sh.AlgID = h.Cipher.AlgID(h.KeyBits)
		sh.AlgIDHash = h.Hash.AlgID()
		sh.KeySize = uint32(h.KeyBits)
	}

	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, info.Flags)
	binary.Write(buf, binary.LittleEndian, uint32(standardHeaderSize+len(csp)))
	binary.Write(buf, binary.LittleEndian, &sh)
	buf.Write(csp)

	binary.Write(buf, binary.LittleEndian, uint32(len(v.Salt)))
	buf.Write(v.Salt)
	buf.Write(v.EncryptedVerifier)
	binary.Write(buf, binary.LittleEndian, uint32(v.VerifierHashSize))
	buf.Write(v.EncryptedVerifierHash)

	_, err := w.Write(buf.Bytes())
	return err
}

// decodeCSPName reads a NUL terminated UTF-16LE string.
func decodeCSPName(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.Wrap(ooxml.ErrCorruptHeader, "odd length CSP name")
	}
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(ooxml.ErrCorruptHeader, err.Error())
	}
	return string(s), nil
}

func encodeCSPName(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, "encoding CSP name")
	}
	return append(b, 0, 0), nil
}

// standardSpin is the fixed iteration count of Standard key derivation.
// CryptoAPI RC4 hashes the password once.
func standardSpin(c crypto.CipherAlgorithm) int {
	if c == crypto.AES {
		return crypto.StandardSpinCount
	}
	return 0
}
