package encryption

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/crypto"
)

func plaintext(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func encryptTo(t *testing.T, p Params, password string, data []byte) *ooxml.MemContainer {
	t.Helper()
	mem := ooxml.NewMemContainer()
	n, err := Encrypt(Context{Container: mem, Password: password, Params: p, TempDir: t.TempDir()}, bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	return mem
}

func decryptAll(t *testing.T, mem *ooxml.MemContainer, password string) []byte {
	t.Helper()
	r, err := Decrypt(Context{Container: mem, Password: password})
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	return got
}

func agileParams(c crypto.CipherAlgorithm, h crypto.HashAlgorithm, keyBits int, ch crypto.ChainingMode) Params {
	return Params{Mode: ModeAgile, Cipher: c, Hash: h, KeyBits: keyBits,
		BlockSize: c.BlockSize(), Chaining: ch, SpinCount: 10, SaltSize: 16}
}

func standardParams(c crypto.CipherAlgorithm, keyBits int) Params {
	p := DefaultParams(ModeStandard)
	p.Cipher, p.KeyBits, p.BlockSize = c, keyBits, c.BlockSize()
	if c == crypto.RC4 {
		p.Chaining, p.SpinCount = crypto.ChainingNone, 0
	}
	return p
}

func TestRoundTripModes(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"binaryRC4", DefaultParams(ModeBinaryRC4)},
		{"standard AES-128", standardParams(crypto.AES, 128)},
		{"standard AES-256", standardParams(crypto.AES, 256)},
		{"standard RC4-128", standardParams(crypto.RC4, 128)},
		{"standard RC4-40", standardParams(crypto.RC4, 40)},
		{"agile AES-128 SHA1 CBC", agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC)},
		{"agile AES-256 SHA512 CFB", agileParams(crypto.AES, crypto.SHA512, 256, crypto.CFB)},
		{"agile AES-192 SHA384 CBC", agileParams(crypto.AES, crypto.SHA384, 192, crypto.CBC)},
		{"agile 3DES SHA256 CBC", agileParams(crypto.DES3, crypto.SHA256, 192, crypto.CBC)},
		{"agile 3DES_112 MD5 CFB", agileParams(crypto.DES3112, crypto.MD5, 128, crypto.CFB)},
		{"agile DES RIPEMD-160 CBC", agileParams(crypto.DES, crypto.RIPEMD160, 64, crypto.CBC)},
		{"agile RC2 SHA1 CBC", agileParams(crypto.RC2, crypto.SHA1, 128, crypto.CBC)},
		{"agile AES-128 RIPEMD-128 CBC", agileParams(crypto.AES, crypto.RIPEMD128, 128, crypto.CBC)},
	}
	data := plaintext(9000)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := encryptTo(t, tc.p, "Secret1", data)
			assert.True(t, IsEncrypted(mem))

			got := decryptAll(t, mem, "Secret1")
			assert.True(t, bytes.Equal(data, got), "plaintext mismatch")

			_, err := Decrypt(Context{Container: mem, Password: "secret1"})
			assert.ErrorIs(t, err, ooxml.ErrPasswordIncorrect)

			info, err := ReadInfo(mem)
			require.NoError(t, err)
			assert.Equal(t, tc.p.Mode, info.Mode)
			assert.Equal(t, tc.p.Cipher, info.Header.Cipher)
			assert.Equal(t, tc.p.KeyBits, info.Header.KeyBits)
		})
	}
}

func TestAgileScenario(t *testing.T) {
	data := plaintext(12810)
	p := agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC)
	p.SpinCount = 100000
	mem := encryptTo(t, p, "pass", data)

	pkg := mem.Bytes(PackageStream)
	require.Len(t, pkg, 8+12816)
	assert.EqualValues(t, 12810, binary.LittleEndian.Uint64(pkg))

	info, err := ReadInfo(mem)
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.VersionMajor)
	assert.EqualValues(t, 4, info.VersionMinor)
	assert.Equal(t, 100000, info.Verifier.SpinCount)

	d, err := NewDecryptor(info)
	require.NoError(t, err)
	ok, err := d.VerifyPassword("wrongpass")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.VerifyPassword("pass")
	require.NoError(t, err)
	require.True(t, ok)

	r, err := d.DataStream(mem)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestAgileTamperDetected(t *testing.T) {
	data := plaintext(5000)
	mem := encryptTo(t, agileParams(crypto.AES, crypto.SHA256, 128, crypto.CBC), "pw", data)

	mem.Bytes(PackageStream)[100] ^= 0x01
	_, err := Decrypt(Context{Container: mem, Password: "pw"})
	assert.ErrorIs(t, err, ooxml.ErrIntegrityCheckFailed)
}

func TestAgileLengthTamperDetected(t *testing.T) {
	mem := encryptTo(t, agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC), "pw", plaintext(100))

	binary.LittleEndian.PutUint64(mem.Bytes(PackageStream), 90)
	_, err := Decrypt(Context{Container: mem, Password: "pw"})
	assert.ErrorIs(t, err, ooxml.ErrIntegrityCheckFailed)
}

func TestDefaultPassword(t *testing.T) {
	data := plaintext(300)
	for _, mode := range []Mode{ModeBinaryRC4, ModeStandard, ModeAgile} {
		p := DefaultParams(mode)
		if mode == ModeAgile {
			p.SpinCount = 10
		}
		mem := encryptTo(t, p, "", data)
		got := decryptAll(t, mem, "")
		assert.True(t, bytes.Equal(data, got), "mode %s", mode)

		// the caller's password is only a fallback
		got = decryptAll(t, mem, "unrelated")
		assert.True(t, bytes.Equal(data, got), "mode %s", mode)
	}
}

func TestSeekAndReadAt(t *testing.T) {
	data := plaintext(10000)
	mem := encryptTo(t, agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC), "pw", data)

	r, err := Decrypt(Context{Container: mem, Password: "pw"})
	require.NoError(t, err)
	defer r.Close()

	rs, ok := r.(io.ReadSeeker)
	require.True(t, ok)
	pos, err := rs.Seek(4090, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 4090, pos)
	buf := make([]byte, 20)
	_, err = io.ReadFull(rs, buf)
	require.NoError(t, err)
	assert.Equal(t, data[4090:4110], buf)

	ra, ok := r.(io.ReaderAt)
	require.True(t, ok)
	n, err := ra.ReadAt(buf, 9990)
	assert.Equal(t, 10, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, data[9990:], buf[:n])

	end, err := rs.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), end)
}

func TestTruncatedPackage(t *testing.T) {
	mem := encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(100))
	pkg := mem.Bytes(PackageStream)
	require.Len(t, pkg, 8+112)

	// declared length still fits, but the last block is cut short
	mem.Put(PackageStream, pkg[:8+104])
	r, err := Decrypt(Context{Container: mem, Password: "pw"})
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ooxml.ErrInvalidPadding)

	mem.Put(PackageStream, pkg[:8+50])
	_, err = Decrypt(Context{Container: mem, Password: "pw"})
	assert.ErrorIs(t, err, ooxml.ErrCorruptHeader)
}

func TestInfoRoundTrip(t *testing.T) {
	params := []Params{
		DefaultParams(ModeBinaryRC4),
		standardParams(crypto.AES, 192),
		standardParams(crypto.RC4, 56),
		agileParams(crypto.AES, crypto.SHA512, 256, crypto.CBC),
	}
	for _, p := range params {
		mem := encryptTo(t, p, "pw", plaintext(64))
		raw := mem.Bytes(InfoStream)
		info, err := ParseInfo(raw)
		require.NoError(t, err, "mode %s", p.Mode)

		out, err := info.MarshalBinary()
		require.NoError(t, err)
		again, err := ParseInfo(out)
		require.NoError(t, err)
		assert.Equal(t, info, again, "mode %s", p.Mode)
		if p.Mode != ModeAgile {
			assert.Equal(t, raw, out, "mode %s", p.Mode)
		}
	}
}

func TestStandardInfoByteExact(t *testing.T) {
	good := encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(10)).Bytes(InfoStream)
	edit := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	headerSize := int(binary.LittleEndian.Uint32(good[8:]))

	tests := map[string][]byte{
		"hash id zero": edit(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[24:], 0)
			return b
		}),
		"reserved fields": edit(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[36:], 7)
			binary.LittleEndian.PutUint32(b[40:], 9)
			return b
		}),
		"csp padding": edit(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], uint32(headerSize+2))
			end := 12 + headerSize
			return append(b[:end:end], append([]byte{0, 0}, b[end:]...)...)
		}),
	}
	for name, raw := range tests {
		info, err := ParseInfo(raw)
		require.NoError(t, err, name)
		assert.Equal(t, crypto.SHA1, info.Header.Hash, name)
		out, err := info.MarshalBinary()
		require.NoError(t, err, name)
		assert.Equal(t, raw, out, name)
	}
}

func TestStandardInfoLayout(t *testing.T) {
	mem := encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(10))
	raw := mem.Bytes(InfoStream)
	assert.Equal(t, []byte{4, 0, 2, 0}, raw[:4])
	assert.EqualValues(t, FlagCryptoAPI|FlagAES, binary.LittleEndian.Uint32(raw[4:]))

	info, err := ParseInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, "Microsoft Enhanced RSA and AES Cryptographic Provider", info.Header.CSPName)
	assert.Equal(t, crypto.ECB, info.Header.Chaining)
	assert.Len(t, info.Verifier.EncryptedVerifierHash, 32)
	assert.Equal(t, 20, info.Verifier.VerifierHashSize)

	mem = encryptTo(t, standardParams(crypto.RC4, 128), "pw", plaintext(10))
	assert.Equal(t, []byte{3, 0, 2, 0}, mem.Bytes(InfoStream)[:4])
}

func TestCorruptInfo(t *testing.T) {
	mem := encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(10))
	good := mem.Bytes(InfoStream)

	tests := map[string][]byte{
		"short":         {4, 0},
		"bad version":   {9, 0, 9, 0, 0, 0, 0, 0},
		"truncated":     good[:20],
		"no verifier":   good[:len(good)-40],
		"binary RC4":    {1, 0, 1, 0, 1, 2, 3},
		"agile garbage": append([]byte{4, 0, 4, 0, 0x40, 0, 0, 0}, []byte("<notxml")...),
		"agile no root": append([]byte{4, 0, 4, 0, 0x40, 0, 0, 0}, []byte("<other/>")...),
	}
	for name, data := range tests {
		_, err := ParseInfo(data)
		assert.ErrorIs(t, err, ooxml.ErrCorruptHeader, name)
	}

	bad := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(bad[8:], 4000) // header size
	_, err := ParseInfo(bad)
	assert.ErrorIs(t, err, ooxml.ErrCorruptHeader)
}

func TestExtensibleInfo(t *testing.T) {
	raw := []byte{4, 0, 3, 0, FlagExternal | FlagCryptoAPI, 0, 0, 0, 0xde, 0xad, 0xbe, 0xef}
	info, err := ParseInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeExtensible, info.Mode)
	assert.Equal(t, raw[4:], info.Raw)

	out, err := info.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	mem := ooxml.NewMemContainer()
	mem.Put(InfoStream, raw)
	mem.Put(PackageStream, make([]byte, 8))
	_, err = Decrypt(Context{Container: mem})
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
	assert.Contains(t, Describe(info), "extensible")
}

func TestEncryptorStates(t *testing.T) {
	info, err := NewInfo(agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC))
	require.NoError(t, err)
	enc, err := NewEncryptor(info, WithTempDir(t.TempDir()))
	require.NoError(t, err)
	mem := ooxml.NewMemContainer()

	assert.Equal(t, Uninitialized, enc.State())
	_, err = enc.DataStream(mem)
	assert.ErrorIs(t, err, ooxml.ErrInvalidState)

	require.NoError(t, enc.ConfirmPassword("a"))
	require.NoError(t, enc.ConfirmPassword("b"))
	assert.Equal(t, PasswordConfirmed, enc.State())

	w, err := enc.DataStream(mem)
	require.NoError(t, err)
	assert.Equal(t, Streaming, enc.State())
	assert.ErrorIs(t, enc.ConfirmPassword("c"), ooxml.ErrInvalidState)
	_, err = enc.DataStream(mem)
	assert.ErrorIs(t, err, ooxml.ErrInvalidState)

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, Finalized, enc.State())

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ooxml.ErrInvalidState)
	assert.ErrorIs(t, enc.ConfirmPassword("d"), ooxml.ErrInvalidState)

	// the last confirmed password wins
	assert.Equal(t, []byte("hello"), decryptAll(t, mem, "b"))
}

func TestDecryptorRequiresPassword(t *testing.T) {
	for _, p := range []Params{
		DefaultParams(ModeBinaryRC4),
		standardParams(crypto.RC4, 128),
		agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC),
	} {
		mem := encryptTo(t, p, "pw", plaintext(10))
		info, err := ReadInfo(mem)
		require.NoError(t, err)
		d, err := NewDecryptor(info)
		require.NoError(t, err)
		_, err = d.DataStream(mem)
		assert.ErrorIs(t, err, ooxml.ErrInvalidState, "mode %s", p.Mode)
	}
}

func TestFixedKeyMaterial(t *testing.T) {
	km := KeyMaterial{
		Salt:         bytes.Repeat([]byte{1}, 16),
		Verifier:     bytes.Repeat([]byte{2}, 16),
		KeySalt:      bytes.Repeat([]byte{3}, 16),
		SecretKey:    bytes.Repeat([]byte{4}, 16),
		IntegrityKey: bytes.Repeat([]byte{5}, 20),
	}
	run := func() *ooxml.MemContainer {
		info, err := NewInfo(agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC))
		require.NoError(t, err)
		enc, err := NewEncryptor(info)
		require.NoError(t, err)
		require.NoError(t, enc.ConfirmPasswordWith("pw", km))
		mem := ooxml.NewMemContainer()
		w, err := enc.DataStream(mem)
		require.NoError(t, err)
		_, err = w.Write(plaintext(5000))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return mem
	}
	a, b := run(), run()
	assert.Equal(t, a.Bytes(PackageStream), b.Bytes(PackageStream))
	assert.Equal(t, a.Bytes(InfoStream), b.Bytes(InfoStream))

	// segment 0 is AES-CBC under the secret key with IV H(keySalt | LE32(0))
	iv, err := crypto.GenerateIV(crypto.SHA1, km.KeySalt, crypto.LE32(0), 16)
	require.NoError(t, err)
	want, err := crypto.Encrypt(crypto.AES, crypto.CBC, km.SecretKey, iv, plaintext(4096), crypto.NoPadding)
	require.NoError(t, err)
	assert.Equal(t, want, a.Bytes(PackageStream)[8:8+4096])
}

func selfSignedCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "recipient"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestCertificateKeyEncryptor(t *testing.T) {
	cert, key := selfSignedCert(t)
	data := plaintext(7000)
	mem := ooxml.NewMemContainer()
	_, err := Encrypt(Context{
		Container:    mem,
		Password:     "pw",
		Params:       agileParams(crypto.AES, crypto.SHA256, 256, crypto.CBC),
		Certificates: []*x509.Certificate{cert},
	}, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := Decrypt(Context{Container: mem, Certificate: cert, PrivateKey: key})
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	// the password still works
	assert.True(t, bytes.Equal(data, decryptAll(t, mem, "pw")))

	info, err := ReadInfo(mem)
	require.NoError(t, err)
	require.Len(t, info.CertificateKeys, 1)
	assert.Contains(t, Describe(info), "CN=recipient")

	other, otherKey := selfSignedCert(t)
	_, err = Decrypt(Context{Container: mem, Certificate: other, PrivateKey: otherKey})
	assert.ErrorIs(t, err, ooxml.ErrPasswordIncorrect)

	_, err = Encrypt(Context{
		Container:    ooxml.NewMemContainer(),
		Params:       standardParams(crypto.AES, 128),
		Certificates: []*x509.Certificate{cert},
	}, bytes.NewReader(data))
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
}

func TestDataSpaces(t *testing.T) {
	mem := encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(10))
	names, err := mem.List()
	require.NoError(t, err)
	assert.Equal(t, []string{
		PackageStream,
		InfoStream,
		dataSpacesVersion,
		dataSpacesMap,
		dataSpaceInfo,
		transformInfoPrimary,
	}, names)

	m := mem.Bytes(dataSpacesMap)
	assert.EqualValues(t, 8, binary.LittleEndian.Uint32(m))
	assert.EqualValues(t, 1, binary.LittleEndian.Uint32(m[4:]))
	assert.EqualValues(t, 104, binary.LittleEndian.Uint32(m[8:]))
	assert.Len(t, m, 8+104)

	tr := mem.Bytes(transformInfoPrimary)
	assert.EqualValues(t, 88, binary.LittleEndian.Uint32(tr))
	assert.EqualValues(t, 1, binary.LittleEndian.Uint32(tr[4:]))

	v := mem.Bytes(dataSpacesVersion)
	assert.EqualValues(t, 60, binary.LittleEndian.Uint32(v))
	assert.Len(t, v, 4+60+12)

	rc4 := encryptTo(t, DefaultParams(ModeBinaryRC4), "pw", plaintext(10))
	names, err = rc4.List()
	require.NoError(t, err)
	assert.Equal(t, []string{PackageStream, InfoStream}, names)
}

func TestIsEncrypted(t *testing.T) {
	mem := ooxml.NewMemContainer()
	assert.False(t, IsEncrypted(mem))
	mem.Put(InfoStream, []byte{4, 0, 4, 0})
	assert.False(t, IsEncrypted(mem))
	mem.Put(PackageStream, make([]byte, 8))
	assert.True(t, IsEncrypted(mem))
}

func TestDescribe(t *testing.T) {
	mem := encryptTo(t, agileParams(crypto.AES, crypto.SHA512, 256, crypto.CBC), "pw", plaintext(10))
	info, err := ReadInfo(mem)
	require.NoError(t, err)
	s := Describe(info)
	assert.Contains(t, s, "agile (version 4.4)")
	assert.Contains(t, s, "AES-256 ChainingModeCBC")
	assert.Contains(t, s, "SHA512")
	assert.Contains(t, s, "integrity: true")

	mem = encryptTo(t, standardParams(crypto.AES, 128), "pw", plaintext(10))
	info, err = ReadInfo(mem)
	require.NoError(t, err)
	s = Describe(info)
	assert.Contains(t, s, "standard (version 4.2)")
	assert.Contains(t, s, "spins:     50000")
}

func TestParamsFromConfig(t *testing.T) {
	p, err := ParamsFromConfig(ooxml.DefaultConfig().Encryption)
	require.NoError(t, err)
	assert.Equal(t, ModeAgile, p.Mode)
	assert.Equal(t, crypto.AES, p.Cipher)
	assert.Equal(t, crypto.SHA512, p.Hash)
	assert.Equal(t, 256, p.KeyBits)
	assert.Equal(t, crypto.CBC, p.Chaining)
	assert.Equal(t, 100000, p.SpinCount)

	p, err = ParamsFromConfig(ooxml.EncryptionConfig{Mode: "standard", Cipher: "AES", KeyBits: 192, SpinCount: 7})
	require.NoError(t, err)
	assert.Equal(t, ModeStandard, p.Mode)
	assert.Equal(t, crypto.ECB, p.Chaining)
	assert.Equal(t, 192, p.KeyBits)
	assert.Equal(t, crypto.StandardSpinCount, p.SpinCount)

	p, err = ParamsFromConfig(ooxml.EncryptionConfig{Mode: "rc4"})
	require.NoError(t, err)
	assert.Equal(t, ModeBinaryRC4, p.Mode)

	_, err = ParamsFromConfig(ooxml.EncryptionConfig{Mode: "agile", Cipher: "Blowfish"})
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
	_, err = ParamsFromConfig(ooxml.EncryptionConfig{Mode: "agile", Cipher: "AES", KeyBits: 100})
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
	_, err = ParamsFromConfig(ooxml.EncryptionConfig{Mode: "extensible"})
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
}

func TestNewInfoRejects(t *testing.T) {
	_, err := NewInfo(Params{Mode: ModeAgile, Cipher: crypto.RC4, Hash: crypto.SHA1, KeyBits: 128})
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)

	_, err = NewInfo(agileParams(crypto.AES, crypto.SHA1, 128, crypto.ECB))
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)

	p := standardParams(crypto.AES, 128)
	p.Hash = crypto.SHA256
	_, err = NewInfo(p)
	assert.ErrorIs(t, err, ooxml.ErrUnsupportedAlgorithm)
}

func TestTempDirFailure(t *testing.T) {
	_, err := Encrypt(Context{
		Container: ooxml.NewMemContainer(),
		Params:    agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC),
		TempDir:   "/nonexistent/ooxml-test",
	}, bytes.NewReader(plaintext(10)))
	assert.ErrorIs(t, err, ooxml.ErrResourceExhausted)
}

func TestRoundTripProperty(t *testing.T) {
	tmp := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 20000).Draw(rt, "data")
		password := rapid.StringN(0, 12, -1).Draw(rt, "password")
		var p Params
		switch rapid.IntRange(0, 3).Draw(rt, "mode") {
		case 0:
			p = DefaultParams(ModeBinaryRC4)
		case 1:
			p = standardParams(crypto.RC4, 128)
		case 2:
			p = agileParams(crypto.AES, crypto.SHA1, 128, crypto.CBC)
			p.SpinCount = 1
		case 3:
			p = agileParams(crypto.DES3, crypto.SHA256, 192, crypto.CFB)
			p.SpinCount = 1
		}

		mem := ooxml.NewMemContainer()
		n, err := Encrypt(Context{Container: mem, Password: password, Params: p, TempDir: tmp}, bytes.NewReader(data))
		if err != nil {
			rt.Fatalf("encrypt: %v", err)
		}
		if n != int64(len(data)) {
			rt.Fatalf("encrypted %d of %d bytes", n, len(data))
		}
		if got := binary.LittleEndian.Uint64(mem.Bytes(PackageStream)); got != uint64(len(data)) {
			rt.Fatalf("declared length %d, want %d", got, len(data))
		}
		r, err := Decrypt(Context{Container: mem, Password: password})
		if err != nil {
			rt.Fatalf("decrypt: %v", err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if !bytes.Equal(data, got) {
			rt.Fatalf("plaintext mismatch")
		}
		if err = r.Close(); err != nil {
			rt.Fatalf("close: %v", err)
		}
	})
}
