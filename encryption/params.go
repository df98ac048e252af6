package encryption

import (
	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

// Params chooses the algorithms of a new EncryptionInfo.
type Params struct {
	Mode      Mode
	Cipher    crypto.CipherAlgorithm
	Hash      crypto.HashAlgorithm
	KeyBits   int
	BlockSize int
	Chaining  crypto.ChainingMode
	SpinCount int
	SaltSize  int
}

// DefaultParams returns the algorithms Office uses for the mode.
func DefaultParams(mode Mode) Params {
	switch mode {
	case ModeBinaryRC4:
		return Params{Mode: mode, Cipher: crypto.RC4, Hash: crypto.MD5, KeyBits: 40, SaltSize: 16}
	case ModeStandard:
		return Params{Mode: mode, Cipher: crypto.AES, Hash: crypto.SHA1, KeyBits: 128,
			BlockSize: 16, Chaining: crypto.ECB, SpinCount: crypto.StandardSpinCount, SaltSize: 16}
	}
	return Params{Mode: ModeAgile, Cipher: crypto.AES, Hash: crypto.SHA512, KeyBits: 256,
		BlockSize: 16, Chaining: crypto.CBC, SpinCount: 100000, SaltSize: 16}
}

// ParamsFromConfig translates the encryption section of a config file.
func ParamsFromConfig(c ooxml.EncryptionConfig) (Params, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return Params{}, err
	}
	p := DefaultParams(mode)
	if mode == ModeBinaryRC4 {
		return p, nil
	}
	if c.Cipher != "" {
		if p.Cipher, err = crypto.ParseCipher(c.Cipher); err != nil {
			return p, err
		}
		p.BlockSize = p.Cipher.BlockSize()
		p.KeyBits = p.Cipher.DefaultKeyBits()
	}
	if c.Hash != "" {
		if p.Hash, err = crypto.ParseHash(c.Hash); err != nil {
			return p, err
		}
	}
	if c.KeyBits != 0 {
		p.KeyBits = c.KeyBits
	}
	if c.BlockSize != 0 {
		p.BlockSize = c.BlockSize
	}
	if c.Chaining != "" && mode == ModeAgile {
		if p.Chaining, err = crypto.ParseChaining(c.Chaining); err != nil {
			return p, err
		}
	}
	if c.SpinCount != 0 && mode == ModeAgile {
		p.SpinCount = c.SpinCount
	}
	if mode == ModeStandard {
		p.Chaining = crypto.ChainingNone
		if p.Cipher == crypto.AES {
			p.Chaining = crypto.ECB
		}
		p.SpinCount = standardSpin(p.Cipher)
	}
	return p, p.check()
}

func (p Params) check() error {
	if !p.Cipher.ValidKeyBits(p.KeyBits) {
		return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "%s with %d bit key", p.Cipher, p.KeyBits)
	}
	if p.Hash.Size() == 0 {
		return errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "hash %s", p.Hash)
	}
	if bs := p.Cipher.BlockSize(); bs != 0 && p.BlockSize != bs {
		return errors.Errorf("encryption: %s block size is %d, not %d", p.Cipher, bs, p.BlockSize)
	}
	if p.SpinCount < 0 || p.SpinCount > crypto.MaxSpinCount {
		return errors.Errorf("encryption: spin count %d out of range", p.SpinCount)
	}
	return nil
}

// NewInfo builds the header of a new encryption. The verifier is filled in
// when the encryptor confirms a password.
func NewInfo(p Params) (*Info, error) {
	if p.SaltSize == 0 {
		p.SaltSize = 16
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	info := &Info{Mode: p.Mode}
	switch p.Mode {
	case ModeBinaryRC4:
		if p.Cipher != crypto.RC4 || p.Hash != crypto.MD5 {
			return nil, errors.Wrap(ooxml.ErrUnsupportedAlgorithm, "binary RC4 uses RC4 and MD5 only")
		}
		info.VersionMajor, info.VersionMinor = 1, 1
		info.Header = Header{Cipher: crypto.RC4, Hash: crypto.MD5, KeyBits: 40}

	case ModeStandard:
		if p.Hash != crypto.SHA1 || (p.Cipher != crypto.AES && p.Cipher != crypto.RC4) {
			return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "standard encryption with %s/%s", p.Cipher, p.Hash)
		}
		info.VersionMajor, info.VersionMinor = 4, 2
		info.Flags = FlagCryptoAPI
		h := Header{
			Flags:     FlagCryptoAPI,
			Cipher:    p.Cipher,
			Hash:      crypto.SHA1,
			KeyBits:   p.KeyBits,
			BlockSize: p.Cipher.BlockSize(),
			Provider:  p.Cipher.Provider(),
		}
		if p.Cipher == crypto.AES {
			info.VersionMajor = 4
			info.Flags |= FlagAES
			h.Flags |= FlagAES
			h.Chaining = crypto.ECB
		} else {
			info.VersionMajor = 3
		}
		h.CSPName = h.Provider.CSPName()
		info.Header = h

	case ModeAgile:
		if p.Cipher.IsStream() {
			return nil, errors.Wrap(ooxml.ErrUnsupportedAlgorithm, "agile encryption needs a block cipher")
		}
		if p.Chaining != crypto.CBC && p.Chaining != crypto.CFB {
			return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "agile encryption with %s", p.Chaining)
		}
		info.VersionMajor, info.VersionMinor = 4, 4
		info.Flags = agileReserved
		salt, err := crypto.RandomBytes(p.SaltSize)
		if err != nil {
			return nil, err
		}
		info.Header = Header{
			Cipher:    p.Cipher,
			Hash:      p.Hash,
			KeyBits:   p.KeyBits,
			BlockSize: p.BlockSize,
			Chaining:  p.Chaining,
			KeySalt:   salt,
			HashSize:  p.Hash.Size(),
		}
		info.Integrity = &DataIntegrity{}

	default:
		return nil, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "cannot encrypt with mode %s", p.Mode)
	}

	v := &info.Verifier
	v.Cipher, v.Hash, v.KeyBits = info.Header.Cipher, info.Header.Hash, info.Header.KeyBits
	v.BlockSize, v.Chaining = info.Header.BlockSize, info.Header.Chaining
	v.SpinCount = p.SpinCount
	v.VerifierHashSize = info.Header.Hash.Size()
	if p.Mode == ModeStandard {
		v.SpinCount = standardSpin(p.Cipher)
	}
	return info, nil
}
