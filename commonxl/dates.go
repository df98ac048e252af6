package commonxl

import (
	"math"
	"time"
)

// ConvertToDate converts a floating-point value using the
// Excel date serialization conventions. The result is in UTC, rounded to
// the millisecond.
func ConvertToDate(val float64, date1904 bool) time.Time {
	v := int(math.Floor(val))
	frac := val - float64(v)
	date := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	switch {
	case date1904:
		date = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
	case v < 61:
		// serials up to 60 count the nonexistent 1900-02-29
		date = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)
	}

	t := time.Duration(float64(time.Hour*24) * frac)
	return date.AddDate(0, 0, v).Add(t).Round(time.Millisecond)
}

var (
	epoch1900 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC).Unix()
	epoch1904 = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	leapBug   = time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
)

// SerialFromTime returns the Excel serial number of the wall clock time t.
// The time zone of t is ignored. In the 1900 date system serials before
// 1900-03-01 skip the nonexistent 1900-02-29.
func SerialFromTime(t time.Time, date1904 bool) float64 {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()

	base := epoch1900
	if date1904 {
		base = epoch1904
	}
	days := float64((day - base) / 86400)
	if !date1904 && day < leapBug && days > 0 {
		days--
	}

	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	frac := (float64(secs) + float64(t.Nanosecond())/1e9) / 86400
	// keep milliseconds, drop float noise
	return math.Round((days+frac)*864e5) / 864e5
}

// 0x0001 = date   0b0010 = time    0b0011 = date+time
var builtInDateFormats = map[uint16]byte{
	14: 1, 15: 1, 16: 1, 17: 1, 18: 2, 19: 2, 20: 2, 21: 2, 22: 3,
	45: 2, 46: 2, 47: 2, 27: 1, 28: 1, 29: 1, 30: 1, 31: 1, 32: 2,
	33: 2, 34: 2, 35: 2, 36: 1, 50: 1, 51: 1, 52: 1, 53: 1, 54: 1,
	55: 2, 56: 2, 57: 1, 58: 1, 71: 1, 72: 1, 73: 1, 74: 1, 75: 2,
	76: 2, 77: 3, 78: 2, 79: 2, 80: 2, 81: 1,
}

// IsDateFormat reports whether the built-in number format displays a date
// or time.
func IsDateFormat(id uint16) bool {
	return builtInDateFormats[id] != 0
}

// Built-in formats used for time.Time cells without an explicit style.
const (
	FormatDate     uint16 = 14
	FormatDateTime uint16 = 22
)

// DefaultDateFormat picks FormatDate for midnight values and
// FormatDateTime otherwise.
func DefaultDateFormat(t time.Time) uint16 {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return FormatDate
	}
	return FormatDateTime
}
