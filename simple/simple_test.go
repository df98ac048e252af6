package simple

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbnjay/ooxml/commonxl"
)

func TestCSVRecords(t *testing.T) {
	in := "name,qty,price,when\n\"Smith, J\",3,1.25,2024-02-29\n\"multi\nline\",,TRUE\n"
	r := New("orders.csv", strings.NewReader(in))

	require.True(t, r.Next())
	assert.Equal(t, []string{"name", "qty", "price", "when"}, r.Strings())
	assert.Equal(t, 1, r.Record())

	require.True(t, r.Next())
	cells := r.Cells()
	assert.Equal(t, "Smith, J", cells[0].Value())
	assert.Equal(t, int64(3), cells[1].Value())
	assert.Equal(t, 1.25, cells[2].Value())
	assert.Equal(t, commonxl.DateCell, cells[3].Type())

	var (
		name  string
		qty   int
		price float64
		when  time.Time
	)
	require.NoError(t, r.Scan(&name, &qty, &price, &when))
	assert.Equal(t, "Smith, J", name)
	assert.Equal(t, 3, qty)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), when)

	require.True(t, r.Next())
	assert.Equal(t, []string{"multi\nline", "", "TRUE"}, r.Strings())
	cells = r.Cells()
	assert.Equal(t, commonxl.BlankCell, cells[1].Type())
	assert.Equal(t, true, cells[2].Value())
	assert.Error(t, r.Scan(&name))

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestTSVRecords(t *testing.T) {
	r := New("data.TSV", strings.NewReader("a\tb\r\n1\t\"x\"\n"))
	require.True(t, r.Next())
	assert.Equal(t, []string{"a", "b"}, r.Strings())
	require.True(t, r.Next())
	assert.Equal(t, []string{"1", `"x"`}, r.Strings())
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestCSVError(t *testing.T) {
	r := NewCSV(strings.NewReader("a,\"b\nc"))
	assert.False(t, r.Next())
	assert.Error(t, r.Err())
	assert.False(t, r.Next())

	var b bool
	r = NewCSV(strings.NewReader("yes\n"))
	require.True(t, r.Next())
	require.NoError(t, r.Scan(&b))
	assert.True(t, b)
	assert.ErrorIs(t, r.Scan(new(uint8)), ErrInvalidScanType)
}
