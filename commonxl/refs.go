package commonxl

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sheet dimensions of the OOXML grid.
const (
	MaxRows    = 1048576
	MaxColumns = 16384
)

// ColumnName returns the letters of the zero-based column index, 0 => "A",
// 26 => "AA".
func ColumnName(col int) string {
	var buf [4]byte
	i := len(buf)
	for col >= 0 {
		i--
		buf[i] = byte('A' + col%26)
		col = col/26 - 1
	}
	return string(buf[i:])
}

// CellRef returns the A1 style reference of a zero-based row and column.
func CellRef(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// RangeRef returns the "A1:B2" reference of the rectangle spanning both
// corners.
func RangeRef(firstRow, firstCol, lastRow, lastCol int) string {
	return CellRef(firstRow, firstCol) + ":" + CellRef(lastRow, lastCol)
}

// ParseCellRef converts an A1 style reference to zero-based row and column.
// Absolute markers ("$A$1") are accepted.
func ParseCellRef(ref string) (row, col int, err error) {
	s := strings.ToUpper(strings.ReplaceAll(ref, "$", ""))
	i := 0
	col = 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
		if col > MaxColumns {
			return 0, 0, errors.Errorf("commonxl: column out of range in %q", ref)
		}
	}
	if i == 0 || i == len(s) {
		return 0, 0, errors.Errorf("commonxl: invalid cell reference %q", ref)
	}
	row, err = strconv.Atoi(s[i:])
	if err != nil || row < 1 || row > MaxRows {
		return 0, 0, errors.Errorf("commonxl: invalid row in %q", ref)
	}
	return row - 1, col - 1, nil
}
