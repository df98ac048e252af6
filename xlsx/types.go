package xlsx

import "encoding/xml"

// CellType is the t attribute of a <c> element.
type CellType string

// CellTypes define data type in section 18.18.11
const (
	BlankCellType         CellType = ""
	BooleanCellType       CellType = "b"
	DateCellType          CellType = "d"
	ErrorCellType         CellType = "e"
	NumberCellType        CellType = "n"
	SharedStringCellType  CellType = "s"
	FormulaStringCellType CellType = "str"
	InlineStringCellType  CellType = "inlineStr"
)

// getAttrs returns the values of the named attributes, matched by local name.
func getAttrs(attrs []xml.Attr, keys ...string) []string {
	res := make([]string, len(keys))
	for _, a := range attrs {
		for i, k := range keys {
			if a.Name.Local == k {
				res[i] = a.Value
			}
		}
	}
	return res
}
