package sxssf

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
)

// DefaultWindowSize is the number of rows a sheet keeps in memory unless
// WithWindowSize says otherwise.
const DefaultWindowSize = 100

// Unbounded keeps every row in memory until the workbook is finalized.
const Unbounded = -1

// Compression selects how flushed rows are stored in temp files.
type Compression int

// Supported flush target encodings.
const (
	CompressNone Compression = iota
	CompressGzip
	CompressZstd
)

func (c Compression) String() string {
	switch c {
	case CompressGzip:
		return "gzip"
	case CompressZstd:
		return "zstd"
	}
	return "none"
}

// ParseCompression accepts the names returned by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressNone, nil
	case "gzip", "gz":
		return CompressGzip, nil
	case "zstd":
		return CompressZstd, nil
	}
	return CompressNone, errors.Errorf("sxssf: unknown compression %q", s)
}

// Option configures a Workbook.
type Option func(*options)

type options struct {
	window      int
	compression Compression
	tempDir     string
	log         logrus.FieldLogger
	date1904    bool
	newTarget   TargetFactory
}

// WithWindowSize sets how many rows each sheet keeps in memory. Use
// Unbounded (-1) to never flush before finalization. Zero is invalid.
func WithWindowSize(n int) Option {
	return func(o *options) { o.window = n }
}

// WithCompression sets the encoding of flushed rows.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithTempDir sets where flush targets are created. The default is
// os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithLogger sets the logger. The default is ooxml.Logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// With1904Dates stores dates in the 1904 date system.
func With1904Dates(on bool) Option {
	return func(o *options) { o.date1904 = on }
}

// WithTargetFactory replaces the temp file flush targets, for example
// with in-memory ones.
func WithTargetFactory(f TargetFactory) Option {
	return func(o *options) { o.newTarget = f }
}

// OptionsFromConfig translates the streaming section of a config file.
func OptionsFromConfig(c ooxml.StreamingConfig) ([]Option, error) {
	comp, err := ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithCompression(comp)}
	if c.WindowSize != 0 {
		opts = append(opts, WithWindowSize(c.WindowSize))
	}
	if c.TempDir != "" {
		opts = append(opts, WithTempDir(c.TempDir))
	}
	return opts, nil
}

func newOptions(opts []Option) (options, error) {
	o := options{window: DefaultWindowSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.window == 0 || o.window < Unbounded {
		return o, errors.Errorf("sxssf: invalid window size %d", o.window)
	}
	switch o.compression {
	case CompressNone, CompressGzip, CompressZstd:
	default:
		return o, errors.Wrapf(ooxml.ErrUnsupportedAlgorithm, "sxssf: compression %d", int(o.compression))
	}
	if o.log == nil {
		o.log = ooxml.Logger
	}
	if o.newTarget == nil {
		o.newTarget = TempFileTargets(o.compression, o.tempDir)
	}
	return o, nil
}
