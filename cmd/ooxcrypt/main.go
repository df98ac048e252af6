// Command ooxcrypt encrypts, decrypts and inspects password protected Office
// Open XML files, and converts delimited text to xlsx workbooks.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pbnjay/ooxml"
)

func main() {
	if err := Main(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("%+v", err)
	}
}

// app holds the global flags shared by every command.
type app struct {
	cfg      ooxml.Config
	password string
	askPass  bool
	log      logrus.FieldLogger
	stdout   io.Writer
}

type command struct {
	usage string
	run   func(a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"info":     {"FILE", (*app).info},
		"encrypt":  {"[-mode agile|standard|rc4] [-cert cert.pem]... IN OUT", (*app).encrypt},
		"decrypt":  {"[-cert cert.pem -key key.pem] IN OUT", (*app).decrypt},
		"verify":   {"FILE", (*app).verify},
		"cat":      {"[-date layout] [-sheet NAME] FILE", (*app).cat},
		"csv2xlsx": {"[-sheet NAME] [-encrypt] IN.csv OUT.xlsx", (*app).csv2xlsx},
	}
}

var commandOrder = []string{"info", "encrypt", "decrypt", "verify", "cat", "csv2xlsx"}

// Main runs the command line in args, writing command output to stdout.
func Main(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ooxcrypt", flag.ContinueOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "USAGE: ooxcrypt [flags] COMMAND [args]\n\nCommands:\n")
		for _, name := range commandOrder {
			fmt.Fprintf(out, "  %-9s %s\n", name, commands[name].usage)
		}
		fmt.Fprintf(out, "\nFlags:\n")
		fs.PrintDefaults()
	}
	flagConfig := fs.String("config", "", "load settings from a YAML `file`")
	flagDebug := fs.Bool("debug", false, "enable debug logging")
	flagPassword := fs.String("password", "", "document password (prompted for when needed and not given)")
	flagNoPrompt := fs.Bool("no-prompt", false, "never prompt for a password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("a command is needed")
	}

	a := &app{
		cfg:      ooxml.DefaultConfig(),
		password: *flagPassword,
		askPass:  !*flagNoPrompt,
		stdout:   stdout,
	}
	if *flagConfig != "" {
		cfg, err := ooxml.LoadConfig(*flagConfig)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if err := a.cfg.ApplyLogLevel(); err != nil {
		return err
	}
	if *flagDebug {
		ooxml.SetDebug(true)
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return errors.Errorf("unknown command %q", name)
	}
	a.log = ooxml.Logger.WithField("command", name)
	return cmd.run(a, fs.Args()[1:])
}

// subFlags returns the flag set of a command and parses args into it,
// checking the number of positional arguments.
func subFlags(name string, args []string, narg int, setup func(fs *flag.FlagSet)) (*flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "USAGE: ooxcrypt %s %s\n", name, commands[name].usage)
		fs.PrintDefaults()
	}
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != narg {
		fs.Usage()
		return nil, errors.Errorf("%s needs %d file arguments, got %d", name, narg, fs.NArg())
	}
	return fs, nil
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string {
	return fmt.Sprint([]string(*m))
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
