// Package ooxml reads and writes the protected and streamed forms of Office
// Open XML spreadsheet packages.
//
// The encryption subpackage implements the password based encryption modes
// of MS-OFFCRYPTO (Binary RC4, Standard and Agile) on top of the Container
// abstraction defined here. The sxssf subpackage writes large worksheets with
// bounded memory by flushing rows to temporary files.
package ooxml

import (
	"errors"
	"io"
	"sort"
)

// Container is a named-entry store such as a compound file or a zip package.
type Container interface {
	// List the entry names within this container.
	List() ([]string, error)

	// Open the named entry for reading, returning its declared size.
	// Returns ErrEntryNotFound if there is no such entry.
	Open(name string) (io.ReadSeeker, int64, error)

	// Create or replace the named entry. The entry is committed when
	// the returned writer is closed.
	Create(name string) (io.WriteCloser, error)

	// WriteTo serializes the whole container to w.
	WriteTo(w io.Writer) (int64, error)
}

// OpenFunc defines a Container's instantiation function.
// It should return ErrNotInFormat immediately if filename is not of the correct file type.
type OpenFunc func(filename string) (Container, error)

// OpenContainer opens a container file using the registered formats.
func OpenContainer(filename string) (Container, error) {
	for _, o := range srcTable {
		src, err := o.op(filename)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, ErrNotInFormat) {
			return nil, err
		}
		Logger.Debugln(" ", filename, "is not in", o.name, "format")
	}
	return nil, ErrNotInFormat
}

type srcOpenTab struct {
	name string
	pri  int
	op   OpenFunc
}

var srcTable = make([]*srcOpenTab, 0, 4)

// Register the named container format.
func Register(name string, priority int, opener OpenFunc) error {
	srcTable = append(srcTable, &srcOpenTab{name: name, pri: priority, op: opener})
	sort.Slice(srcTable, func(i, j int) bool {
		return srcTable[i].pri < srcTable[j].pri
	})
	return nil
}
