// Package commonxl holds the cell model shared by the spreadsheet writers:
// typed cell values, Excel serial dates, number format codes and A1 style
// references.
package commonxl

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// CellType annotates the type of data stored in the cell.
type CellType uint16

// CellType annotations for various cell value types.
const (
	BlankCell CellType = iota
	IntegerCell
	FloatCell
	StringCell
	BooleanCell
	DateCell
	FormulaCell
)

// String returns a string description of the cell data type.
func (c CellType) String() string {
	switch c {
	case BlankCell:
		return "blank"
	case IntegerCell:
		return "integer"
	case FloatCell:
		return "float"
	case BooleanCell:
		return "boolean"
	case DateCell:
		return "date"
	case FormulaCell:
		return "formula"
	default: // StringCell
		return "string"
	}
}

// ParseCellType accepts the names returned by CellType.String.
func ParseCellType(s string) (CellType, bool) {
	for t := BlankCell; t <= FormulaCell; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, true
		}
	}
	switch strings.ToLower(s) {
	case "int":
		return IntegerCell, true
	case "bool":
		return BooleanCell, true
	}
	return BlankCell, false
}

// Cell represents a single cell value.
type Cell []interface{}

// internally, it is a slice sized 2 or 3
//   [Value, CellType] or [Value, CellType, StyleNumber]
// where StyleNumber is a uint16 if not 0

// Value returns the contents as a generic interface{}.
func (c Cell) Value() interface{} {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Type returns the CellType of the value.
func (c Cell) Type() CellType {
	if len(c) < 2 {
		return BlankCell
	}
	return c[1].(CellType)
}

// StyleNo returns the workbook style index used for display.
func (c Cell) StyleNo() uint16 {
	if len(c) == 3 {
		return c[2].(uint16)
	}
	return 0
}

// SetStyle changes the style index stored with the cell.
func (c *Cell) SetStyle(s uint16) {
	if len(*c) < 2 {
		*c = Cell{nil, BlankCell}
	}
	if s == 0 {
		*c = (*c)[:2]
		return
	}
	if len(*c) == 2 {
		*c = append(*c, s)
	} else {
		(*c)[2] = s
	}
}

var boolStrings = map[string]bool{
	"yes": true, "true": true, "t": true, "y": true, "1": true, "on": true,
	"no": false, "false": false, "f": false, "n": false, "0": false, "off": false,
	"YES": true, "TRUE": true, "T": true, "Y": true, "1.0": true, "ON": true,
	"NO": false, "FALSE": false, "F": false, "N": false, "0.0": false, "OFF": false,
}

// NewCellWithType creates a new cell value with the given type, coercing as
// necessary. Numbers become dates through the serial date system selected by
// date1904.
func NewCellWithType(value interface{}, t CellType, date1904 bool) Cell {
	c := NewCell(value)
	if c.Type() == t || c.Type() == BlankCell {
		return c
	}

	switch v := c.Value().(type) {
	case bool:
		n := int64(0)
		if v {
			n = 1
		}
		switch t {
		case IntegerCell:
			return Cell{n, IntegerCell}
		case FloatCell:
			return Cell{float64(n), FloatCell}
		case StringCell:
			return Cell{strings.ToUpper(strconv.FormatBool(v)), StringCell}
		}
	case int64:
		switch t {
		case FloatCell:
			return Cell{float64(v), FloatCell}
		case BooleanCell:
			return Cell{v != 0, BooleanCell}
		case DateCell:
			return Cell{ConvertToDate(float64(v), date1904), DateCell}
		}
	case float64:
		switch t {
		case IntegerCell:
			return Cell{int64(v), IntegerCell}
		case BooleanCell:
			return Cell{v != 0, BooleanCell}
		case DateCell:
			return Cell{ConvertToDate(v, date1904), DateCell}
		}
	case string:
		if r, ok := parseAs(strings.TrimSpace(v), t); ok {
			return r
		}
	}
	if t == StringCell {
		return Cell{fmt.Sprint(c.Value()), StringCell}
	}
	return c
}

// parseAs converts trimmed text to type t.
func parseAs(s string, t CellType) (Cell, bool) {
	switch t {
	case IntegerCell:
		if x, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Cell{x, IntegerCell}, true
		}
	case FloatCell:
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return Cell{x, FloatCell}, true
		}
	case BooleanCell:
		if b, ok := boolStrings[s]; ok {
			return Cell{b, BooleanCell}, true
		}
	case DateCell:
		if d, ok := parseDate(s); ok {
			return Cell{d, DateCell}, true
		}
	case FormulaCell:
		return NewFormula(s), true
	}
	return nil, false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InferCell picks the narrowest type for text read from a delimited file:
// integer, float, boolean, ISO date, formula (leading "="), else string.
func InferCell(s string) Cell {
	if s == "" {
		return NewCell(s)
	}
	if strings.HasPrefix(s, "=") && len(s) > 1 {
		return NewFormula(s[1:])
	}
	if x, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewCell(x)
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(x, 0) && !math.IsNaN(x) {
		return NewCell(x)
	}
	switch s {
	case "TRUE", "true":
		return NewCell(true)
	case "FALSE", "false":
		return NewCell(false)
	}
	if t, ok := parseDate(s); ok {
		return NewCell(t)
	}
	return NewCell(s)
}

// NewFormula creates a formula cell. The expression is stored without the
// leading "=" and is not evaluated.
func NewFormula(expr string) Cell {
	return Cell{strings.TrimPrefix(expr, "="), FormulaCell}
}

// NewCell creates a new cell value from any builtin type. Values of other
// types are stored as their fmt.Sprint text.
func NewCell(value interface{}) Cell {
	switch v := value.(type) {
	case nil:
		return Cell{nil, BlankCell}
	case bool:
		return Cell{v, BooleanCell}
	case int, int8, int16, int32, int64:
		return Cell{reflect.ValueOf(v).Int(), IntegerCell}
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(v).Uint()
		if u > math.MaxInt64 {
			return Cell{float64(u), FloatCell}
		}
		return Cell{int64(u), IntegerCell}
	case float32:
		return Cell{float64(v), FloatCell}
	case float64:
		return Cell{v, FloatCell}
	case string:
		return textCell(v)
	case []byte:
		return textCell(string(v))
	case []uint16:
		return textCell(string(utf16.Decode(v)))
	case []rune:
		return textCell(string(v))
	case time.Time:
		return Cell{v, DateCell}
	case fmt.Stringer:
		return textCell(v.String())
	}
	return Cell{fmt.Sprint(value), StringCell}
}

// textCell is blank for empty text.
func textCell(s string) Cell {
	if s == "" {
		return Cell{nil, BlankCell}
	}
	return Cell{s, StringCell}
}
