package userconfig

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// DefaultEnvFile is read when the caller doesn't name a dotenv file. It's
// fine for it not to exist.
const DefaultEnvFile = ".env"

// Meta represents the YAML config file. The file is optional, and so is
// every field in it, since the environment can supply the same options.
type Meta struct {
	Email Credentials `yaml:"email"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// Path to a YAML file. Skipped if empty.
	ConfigPath string
	// Path to a dotenv file. Defaults to DefaultEnvFile. A missing file
	// is not an error.
	EnvFile string
	// Looks up process environment variables. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Load merges configuration from, in order of precedence, the process
// environment, a dotenv file, a YAML file, and defaults. It doesn't check for
// required options--call CheckAndSetDefaults on the result (the mailer does
// this before each send).
//
// The dotenv file is read without modifying the process environment.
func Load(opts LoadOptions) (Credentials, error) {
	c := defaults()

	if opts.ConfigPath != "" {
		f, err := os.Open(opts.ConfigPath)
		if err != nil {
			return Credentials{}, fmt.Errorf("can't open the config file: %w", err)
		}
		defer f.Close()

		m, err := Parse(f)
		if err != nil {
			return Credentials{}, err
		}
		c = m.Email
		log.Debug().Str("configPath", opts.ConfigPath).Msg("read the config file")
	}

	ef := opts.EnvFile
	if ef == "" {
		ef = DefaultEnvFile
	}

	dotenv, err := godotenv.Read(ef)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("envFile", ef).Msg("no dotenv file found, using the environment and defaults")
		dotenv = map[string]string{}
	} else if err != nil {
		return Credentials{}, fmt.Errorf("can't read the dotenv file %v: %w", ef, err)
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	for _, k := range envKeys {
		v, ok := lookup(k.name)
		if !ok || v == "" {
			v, ok = dotenv[k.name]
		}
		if !ok || v == "" {
			continue
		}
		if err := k.set(&c, v); err != nil {
			return Credentials{}, fmt.Errorf("invalid value for %v: %w", k.name, err)
		}
	}

	if c.CACertPath != "" {
		if _, err := c.TLSConfig(); err != nil {
			return Credentials{}, err
		}
	}

	return c, nil
}

// Parse reads a YAML config from r on top of the default settings. An empty
// document is valid and yields the defaults.
func Parse(r io.Reader) (*Meta, error) {
	m := Meta{
		Email: defaults(),
	}

	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	err := dec.Decode(&m)

	if err != nil && !errors.Is(err, io.EOF) {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	return &m, nil
}

func defaults() Credentials {
	return Credentials{
		SMTPHost:    DefaultSMTPHost,
		SMTPPort:    DefaultSMTPPort,
		DialTimeout: defaultDialTimeout,
		HeloName:    defaultHeloName,
	}
}
