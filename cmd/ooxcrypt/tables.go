package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pbnjay/ooxml"
	"github.com/pbnjay/ooxml/commonxl"
	"github.com/pbnjay/ooxml/encryption"
	"github.com/pbnjay/ooxml/simple"
	"github.com/pbnjay/ooxml/sxssf"
	"github.com/pbnjay/ooxml/xlsx"
)

var newlines = regexp.MustCompile("[ \n\r\t]+")

// loadWorkbook opens an xlsx file, decrypting it first when it is an
// encrypted package.
func (a *app) loadWorkbook(filename, certFile, keyFile string) (*xlsx.Workbook, error) {
	c, err := ooxml.OpenContainer(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	if encryption.IsEncrypted(c) {
		rc, err := a.decrypted(filename, certFile, keyFile)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		_, err = io.Copy(&buf, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if c, err = xlsx.Read(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
			return nil, errors.Wrap(err, "decrypted package")
		}
	}
	return xlsx.Load(c)
}

type cellFormat struct {
	date     string
	dateTime string
	float    string
}

func (f cellFormat) format(c commonxl.Cell) string {
	if len(c) == 0 {
		return ""
	}
	switch v := c.Value().(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf(f.float, v)
	case bool:
		return strings.ToUpper(fmt.Sprint(v))
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(f.date)
		}
		return v.Format(f.dateTime)
	case string:
		if c.Type() == commonxl.FormulaCell {
			v = "=" + v
		}
		return strings.TrimSpace(newlines.ReplaceAllString(v, " "))
	default:
		return fmt.Sprint(v)
	}
}

func (a *app) cat(args []string) error {
	var (
		f                 cellFormat
		sheetName         string
		certFile, keyFile string
	)
	fs, err := subFlags("cat", args, 1, func(fs *flag.FlagSet) {
		fs.StringVar(&f.date, "date", "2006-01-02", "date format (Go) string")
		fs.StringVar(&f.dateTime, "datetime", "2006-01-02 15:04:05", "date and time format (Go) string")
		fs.StringVar(&f.float, "float", "%g", "float format string")
		fs.StringVar(&sheetName, "sheet", "", "print only the named sheet")
		keyFlags(&certFile, &keyFile)(fs)
	})
	if err != nil {
		return err
	}
	book, err := a.loadWorkbook(fs.Arg(0), certFile, keyFile)
	if err != nil {
		return err
	}
	names := book.List()
	if sheetName != "" {
		names = []string{sheetName}
	}

	bw := bufio.NewWriter(a.stdout)
	defer bw.Flush()
	for _, name := range names {
		sheet, err := book.Get(name)
		if err != nil {
			return err
		}
		if len(names) > 1 {
			fmt.Fprintf(bw, "# %s\n", name)
		}
		next := 0
		err = sheet.Rows(func(index int, cells []commonxl.Cell) error {
			for ; next < index; next++ {
				bw.WriteByte('\n')
			}
			next = index + 1
			row := make([]string, len(cells))
			for i, c := range cells {
				row[i] = f.format(c)
			}
			_, err := fmt.Fprintln(bw, strings.Join(row, "\t"))
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "sheet %q", name)
		}
	}
	return bw.Flush()
}

var invalidSheetChars = regexp.MustCompile(`[\[\]:*?/\\]+`)

func defaultSheetName(filename string) string {
	base := filepath.Base(filename)
	name := invalidSheetChars.ReplaceAllString(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}

func (a *app) csv2xlsx(args []string) error {
	var (
		sheetName string
		encrypt   bool
		mode      string
	)
	fs, err := subFlags("csv2xlsx", args, 2, func(fs *flag.FlagSet) {
		fs.StringVar(&sheetName, "sheet", "", "sheet name (default from the input filename)")
		fs.BoolVar(&encrypt, "encrypt", false, "encrypt the workbook")
		fs.StringVar(&mode, "mode", "", "encryption mode with -encrypt, overriding the config file")
	})
	if err != nil {
		return err
	}
	in, out := fs.Arg(0), fs.Arg(1)
	if sheetName == "" {
		sheetName = defaultSheetName(in)
	}

	opts, err := sxssf.OptionsFromConfig(a.cfg.Streaming)
	if err != nil {
		return err
	}
	wb, err := sxssf.NewWorkbook(append(opts, sxssf.WithLogger(a.log))...)
	if err != nil {
		return err
	}
	defer wb.Close()
	sheet, err := wb.NewSheet(sheetName)
	if err != nil {
		return err
	}

	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	rows, err := fillSheet(sheet, simple.New(in, f))
	if err != nil {
		return errors.Wrapf(err, "read %s", in)
	}
	a.log.WithField("rows", rows).Info("converted records")

	if !encrypt {
		return writeFile(out, wb.WriteTo)
	}

	p, err := a.encryptionParams(mode)
	if err != nil {
		return err
	}
	if _, err = a.readPassword(true); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(a.cfg.Streaming.TempDir, "ooxcrypt-*.xlsx")
	if err != nil {
		return ooxml.WrapErr(err, ooxml.ErrResourceExhausted)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	bw := bufio.NewWriter(tmp)
	if _, err = wb.WriteTo(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return a.encryptTo(out, tmp, p, nil)
}

// fillSheet writes one row per record, typing each field with
// commonxl.InferCell.
func fillSheet(sheet *sxssf.Sheet, records *simple.Records) (int, error) {
	n := 0
	for records.Next() {
		row, err := sheet.CreateRow(n)
		if err != nil {
			return n, err
		}
		for col, c := range records.Cells() {
			if c.Type() == commonxl.BlankCell {
				continue
			}
			if err = row.SetCell(col, c); err != nil {
				return n, errors.Wrapf(err, "record %d", records.Record())
			}
		}
		n++
	}
	return n, records.Err()
}
