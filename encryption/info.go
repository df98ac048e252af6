// Package encryption reads and writes password protected OOXML packages.
//
// Protected documents are compound files holding an EncryptionInfo stream
// that describes the algorithms and password verifier, and an
// EncryptedPackage stream with the ciphertext of the original zip package.
//
// Algorithms designed based on specs in MS-OFFCRYPTO:
// https://docs.microsoft.com/en-us/openspecs/office_file_formats/ms-offcrypto/3c34d72a-1a61-4b52-a893-196f9157f083
package encryption

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// Container entry names used by protected documents.
const (
	InfoStream    = "EncryptionInfo"
	PackageStream = "EncryptedPackage"
)

// DefaultPassword is used by Office when a document is protected without an
// explicit password. Decrypt tries it before the caller's password.
const DefaultPassword = "VelvetSweatshop"

// Mode selects the encryption variant of an EncryptionInfo stream.
type Mode uint8

// Encryption modes.
const (
	ModeUnknown Mode = iota
	ModeBinaryRC4
	ModeStandard
	ModeAgile
	ModeExtensible
)

func (m Mode) String() string {
	switch m {
	case ModeBinaryRC4:
		return "binaryRC4"
	case ModeStandard:
		return "standard"
	case ModeAgile:
		return "agile"
	case ModeExtensible:
		return "extensible"
	}
	return "unknown"
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "binaryRC4", "binaryrc4", "rc4":
		return ModeBinaryRC4, nil
	case "standard":
		return ModeStandard, nil
	case "agile", "":
		return ModeAgile, nil
	}
	return ModeUnknown, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "encryption mode %q", name)
}

// EncryptionHeader flags (MS-OFFCRYPTO 2.3.1).
const (
	FlagCryptoAPI = 0x04
	FlagDocProps  = 0x08
	FlagExternal  = 0x10
	FlagAES       = 0x20
)

// Header describes the cipher used for the package data.
type Header struct {
	Flags     uint32
	SizeExtra uint32
	Cipher    crypto.CipherAlgorithm
	Hash      crypto.HashAlgorithm
	KeyBits   int
	BlockSize int
	Chaining  crypto.ChainingMode
	Provider  crypto.CipherProvider
	CSPName   string

	// Agile only.
	KeySalt  []byte
	HashSize int

	// Stored keeps a parsed Standard header's fields as read, so that
	// MarshalBinary writes them back unchanged. Nil for headers made by
	// NewInfo.
	Stored *StoredHeader
}

// StoredHeader is the raw CryptoAPI part of a Standard EncryptionHeader.
type StoredHeader struct {
	AlgID     uint32
	AlgIDHash uint32
	KeySize   uint32
	Reserved1 uint32
	Reserved2 uint32

	// CSPName is the UTF-16LE name field including its NUL and any
	// trailing bytes.
	CSPName []byte
}

// Verifier holds the password verifier and, for Agile, the encrypted
// intermediate key.
type Verifier struct {
	Cipher    crypto.CipherAlgorithm
	Hash      crypto.HashAlgorithm
	KeyBits   int
	BlockSize int
	Chaining  crypto.ChainingMode

	Salt                  []byte
	EncryptedVerifier     []byte
	EncryptedVerifierHash []byte
	VerifierHashSize      int

	// Agile only.
	EncryptedKey []byte
	SpinCount    int
}

// DataIntegrity is the Agile HMAC over the EncryptedPackage stream.
type DataIntegrity struct {
	EncryptedHMACKey   []byte
	EncryptedHMACValue []byte
}

// CertificateKey is an Agile key encryptor protecting the secret key with
// the RSA key of an X.509 certificate.
type CertificateKey struct {
	X509Certificate   []byte // DER
	EncryptedKeyValue []byte
	CertVerifier      []byte
}

// Info is a parsed EncryptionInfo stream.
type Info struct {
	Mode         Mode
	VersionMajor uint16
	VersionMinor uint16
	Flags        uint32

	Header    Header
	Verifier  Verifier
	Integrity *DataIntegrity

	CertificateKeys []CertificateKey

	// Raw keeps the payload following the version of Extensible headers.
	Raw []byte
}

type versionTag struct {
	Major uint16
	Minor uint16
}

// ParseInfo parses an EncryptionInfo stream.
func ParseInfo(data []byte) (*Info, error) {
	if len(data) < 4 {
		return nil, errors.Wrapf(ooxml.ErrCorruptHeader, "encryption info is %d bytes", len(data))
	}
	v := versionTag{}
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &v)

	info := &Info{VersionMajor: v.Major, VersionMinor: v.Minor}
	var err error
	switch {
	case v.Major == 1 && v.Minor == 1:
		info.Mode = ModeBinaryRC4
		err = info.parseBinaryRC4(data)
	case v.Major == 4 && v.Minor == 4:
		info.Mode = ModeAgile
		err = info.parseAgile(data)
	case (v.Major == 3 || v.Major == 4) && v.Minor == 3:
		info.Mode = ModeExtensible
		err = info.parseExtensible(data)
	case (v.Major == 2 || v.Major == 3 || v.Major == 4) && v.Minor == 2:
		info.Mode = ModeStandard
		err = info.parseStandard(data)
	default:
		return nil, errors.Wrapf(ooxml.ErrCorruptHeader, "unknown encryption version %d.%d", v.Major, v.Minor)
	}
	if err != nil {
		return nil, err
	}
	if ooxml.Debug {
		ooxml.Logger.WithField("mode", info.Mode).Debugf("parsed encryption info version %d.%d", v.Major, v.Minor)
	}
	return info, info.Validate()
}

// MarshalBinary serializes the EncryptionInfo stream.
func (info *Info) MarshalBinary() ([]byte, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, versionTag{info.VersionMajor, info.VersionMinor})

	var err error
	switch info.Mode {
	case ModeBinaryRC4:
		err = info.writeBinaryRC4(buf)
	case ModeStandard:
		err = info.writeStandard(buf)
	case ModeAgile:
		err = info.writeAgile(buf)
	case ModeExtensible:
		buf.Write(info.Raw)
	default:
		err = errors.Wrapf(ooxml.ErrCorruptHeader, "cannot serialize mode %s", info.Mode)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (info *Info) parseExtensible(data []byte) error {
	if len(data) < 8 {
		return errors.Wrap(ooxml.ErrCorruptHeader, "truncated extensible header")
	}
	info.Flags = binary.LittleEndian.Uint32(data[4:])
	if info.Flags&FlagExternal == 0 {
		return errors.Wrap(ooxml.ErrCorruptHeader, "extensible header without fExternal")
	}
	info.Raw = append([]byte(nil), data[4:]...)
	return nil
}

// Validate checks that the header and verifier agree with the mode.
func (info *Info) Validate() error {
	h, v := &info.Header, &info.Verifier
	switch info.Mode {
	case ModeExtensible:
		return nil

	case ModeBinaryRC4:
		if h.Cipher != crypto.RC4 || h.Hash != crypto.MD5 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "binary RC4 header must use RC4 and MD5")
		}
		if len(v.Salt) != 16 || len(v.EncryptedVerifier) != 16 || len(v.EncryptedVerifierHash) != 16 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "binary RC4 verifier must be 16 byte fields")
		}

	case ModeStandard:
		if h.Flags&FlagCryptoAPI == 0 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "standard header without fCryptoAPI")
		}
		switch h.Cipher {
		case crypto.AES:
			if h.Flags&FlagAES == 0 {
				return errors.Wrap(ooxml.ErrCorruptHeader, "AES cipher without fAES flag")
			}
			if h.Chaining != crypto.ECB {
				return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "standard AES with %s", h.Chaining)
			}
		case crypto.RC4:
			if h.Flags&FlagAES != 0 {
				return errors.Wrap(ooxml.ErrCorruptHeader, "RC4 cipher with fAES flag")
			}
		default:
			return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "standard encryption with %s", h.Cipher)
		}
		if h.Hash != crypto.SHA1 {
			return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "standard encryption with %s", h.Hash)
		}
		if !h.Cipher.ValidKeyBits(h.KeyBits) {
			return errors.Wrapf(ooxml.ErrCorruptHeader, "%s key size %d", h.Cipher, h.KeyBits)
		}
		if len(v.Salt) != 16 || len(v.EncryptedVerifier) != 16 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "standard verifier must have 16 byte salt and verifier")
		}
		if v.VerifierHashSize != h.Hash.Size() {
			return errors.Wrapf(ooxml.ErrCorruptHeader, "verifier hash size %d for %s", v.VerifierHashSize, h.Hash)
		}
		want := v.VerifierHashSize
		if h.Cipher == crypto.AES {
			want = len(crypto.PadTo(make([]byte, want), 16))
		}
		if len(v.EncryptedVerifierHash) != want {
			return errors.Wrapf(ooxml.ErrCorruptHeader, "encrypted verifier hash is %d bytes, want %d", len(v.EncryptedVerifierHash), want)
		}

	case ModeAgile:
		if h.Cipher.IsStream() || h.Cipher == crypto.CipherNone {
			return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "agile encryption with %s", h.Cipher)
		}
		if h.Chaining != crypto.CBC && h.Chaining != crypto.CFB {
			return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "agile encryption with %s", h.Chaining)
		}
		if h.Hash.Size() == 0 || h.HashSize != h.Hash.Size() {
			return errors.Wrapf(ooxml.ErrCorruptHeader, "keyData hashSize %d for %s", h.HashSize, h.Hash)
		}
		if h.BlockSize != h.Cipher.BlockSize() || !h.Cipher.ValidKeyBits(h.KeyBits) {
			return errors.Wrapf(ooxml.ErrCorruptHeader, "keyData %s with blockSize %d keyBits %d", h.Cipher, h.BlockSize, h.KeyBits)
		}
		if len(h.KeySalt) == 0 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "keyData without salt")
		}
		if len(v.Salt) == 0 && len(info.CertificateKeys) == 0 {
			return errors.Wrap(ooxml.ErrCorruptHeader, "no key encryptor")
		}
		if len(v.Salt) > 0 {
			if v.Cipher.IsStream() || v.Cipher == crypto.CipherNone || v.Hash.Size() == 0 {
				return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "password key encryptor with %s/%s", v.Cipher, v.Hash)
			}
			if v.VerifierHashSize != v.Hash.Size() {
				return errors.Wrapf(ooxml.ErrCorruptHeader, "password hashSize %d for %s", v.VerifierHashSize, v.Hash)
			}
		}

	default:
		return errors.Wrapf(ooxml.ErrCorruptHeader, "unknown mode %d", info.Mode)
	}
	return nil
}
