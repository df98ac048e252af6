package encryption

import (
	"bytes"
	"encoding/binary"

	"github.com/pbnjay/ooxml"
)

// Storage paths of the data spaces definition (MS-OFFCRYPTO 2.1).
// Path elements are separated by "/".
const (
	DataSpacesStorage     = "\x06DataSpaces"
	dataSpacesVersion     = DataSpacesStorage + "/Version"
	dataSpacesMap         = DataSpacesStorage + "/DataSpaceMap"
	dataSpaceInfo         = DataSpacesStorage + "/DataSpaceInfo/StrongEncryptionDataSpace"
	transformInfoPrimary  = DataSpacesStorage + "/TransformInfo/StrongEncryptionTransform/\x06Primary"
	strongDataSpaceName   = "StrongEncryptionDataSpace"
	strongTransformName   = "StrongEncryptionTransform"
	encryptionTransformID = "{FF9A3F03-56EF-4613-BDD5-5A41C1D07246}"
	encryptionTransform   = "Microsoft.Container.EncryptionTransform"
	dataSpacesFeature     = "Microsoft.Container.DataSpaces"
)

type dsWriter struct {
	bytes.Buffer
}

func (w *dsWriter) u32(v uint32) {
	binary.Write(w, binary.LittleEndian, v)
}

// lp writes a UNICODE-LP-P4 string: byte length, UTF-16LE, padded to 4 bytes.
func (w *dsWriter) lp(s string) {
	// only called with the ASCII names above
	b, _ := utf16le.NewEncoder().Bytes([]byte(s))
	w.u32(uint32(len(b)))
	w.Write(b)
	for n := len(b); n%4 != 0; n++ {
		w.WriteByte(0)
	}
}

// versions writes reader, updater and writer versions of 1.0.
func (w *dsWriter) versions() {
	for i := 0; i < 3; i++ {
		binary.Write(w, binary.LittleEndian, [2]uint16{1, 0})
	}
}

func lpLen(s string) int {
	n := 2 * len([]rune(s))
	return 4 + (n+3)/4*4
}

// WriteDataSpaces writes the \x06DataSpaces storage that marks the
// EncryptedPackage stream as protected by the strong encryption transform.
func WriteDataSpaces(c ooxml.Container) error {
	entries := make(map[string][]byte, 4)

	w := &dsWriter{}
	w.lp(dataSpacesFeature)
	w.versions()
	entries[dataSpacesVersion] = w.Bytes()

	w = &dsWriter{}
	w.u32(8) // header length
	w.u32(1) // entry count
	w.u32(uint32(4 + 4 + 4 + lpLen(PackageStream) + lpLen(strongDataSpaceName)))
	w.u32(1) // reference component count
	w.u32(0) // stream
	w.lp(PackageStream)
	w.lp(strongDataSpaceName)
	entries[dataSpacesMap] = w.Bytes()

	w = &dsWriter{}
	w.u32(8) // header length
	w.u32(1) // transform reference count
	w.lp(strongTransformName)
	entries[dataSpaceInfo] = w.Bytes()

	w = &dsWriter{}
	w.u32(uint32(8 + lpLen(encryptionTransformID)))
	w.u32(1) // transform type
	w.lp(encryptionTransformID)
	w.lp(encryptionTransform)
	w.versions()
	w.u32(0) // empty encryption name
	w.u32(0) // block size
	w.u32(0) // cipher mode
	w.u32(4) // reserved
	entries[transformInfoPrimary] = w.Bytes()

	for _, name := range []string{dataSpacesVersion, dataSpacesMap, dataSpaceInfo, transformInfoPrimary} {
		if err := writeEntry(c, name, entries[name]); err != nil {
			return err
		}
	}
	return nil
}
