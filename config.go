package ooxml

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config holds file-based defaults for the command line tools and for
// callers that prefer configuration over code.
type Config struct {
	LogLevel   string           `yaml:"logLevel"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Streaming  StreamingConfig  `yaml:"streaming"`
}

// EncryptionConfig selects the algorithms used when encrypting a package.
// Names follow the Agile XML vocabulary ("AES", "SHA512", "ChainingModeCBC").
type EncryptionConfig struct {
	Mode      string `yaml:"mode"` // agile, standard, rc4, binaryrc4
	Cipher    string `yaml:"cipher"`
	Hash      string `yaml:"hash"`
	KeyBits   int    `yaml:"keyBits"`
	BlockSize int    `yaml:"blockSize"`
	Chaining  string `yaml:"chaining"`
	SpinCount int    `yaml:"spinCount"`
}

// StreamingConfig configures the streaming sheet writer.
type StreamingConfig struct {
	WindowSize  int    `yaml:"windowSize"`  // -1 keeps every row in memory
	Compression string `yaml:"compression"` // none, gzip, zstd
	TempDir     string `yaml:"tempDir"`
}

// DefaultConfig returns the defaults applied to missing config values.
func DefaultConfig() Config {
	c := Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = loglevel
	}
	if c.Streaming.WindowSize == 0 {
		c.Streaming.WindowSize = 100
	}
	if c.Streaming.Compression == "" {
		c.Streaming.Compression = "none"
	}

	e := &c.Encryption
	if e.Mode == "" {
		e.Mode = "agile"
	}
	if e.Mode != "agile" {
		// the other modes take their algorithms from encryption.DefaultParams
		return
	}
	if e.Cipher == "" {
		e.Cipher = "AES"
	}
	if e.Hash == "" {
		e.Hash = "SHA512"
	}
	if e.KeyBits == 0 {
		e.KeyBits = 256
	}
	if e.BlockSize == 0 {
		e.BlockSize = 16
	}
	if e.Chaining == "" {
		e.Chaining = "ChainingModeCBC"
	}
	if e.SpinCount == 0 {
		e.SpinCount = 100000
	}
}

// LoadConfig reads a YAML config file and fills in defaults for missing values.
func LoadConfig(filename string) (Config, error) {
	var c Config
	data, err := os.ReadFile(filename)
	if err != nil {
		return c, errors.Wrap(err, "ooxml: read config")
	}
	if err = yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "ooxml: parse config %s", filename)
	}
	c.fillDefaults()
	return c, nil
}

// ApplyLogLevel sets the level of the default Logger from the config.
func (c Config) ApplyLogLevel() error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "ooxml: logLevel")
	}
	Logger.SetLevel(lvl)
	Debug = lvl >= logrus.DebugLevel
	return nil
}
