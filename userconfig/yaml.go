package userconfig

import (
	"fmt"
	"strconv"
	"time"
)

// setter applies a single raw config value to a Credentials, returning an
// error if the value can't be parsed.
type setter func(c *Credentials, v string) error

// YAML keys and environment variables share setters so both sources are
// validated the same way.
var (
	yamlKeys = map[string]setter{
		"senderAddress":      setSenderAddress,
		"senderSecret":       setSenderSecret,
		"smtpHost":           setSMTPHost,
		"smtpPort":           setSMTPPort,
		"dialTimeout":        setDialTimeout,
		"insecureSkipVerify": setInsecureSkipVerify,
		"caCert":             setCACertPath,
		"heloName":           setHeloName,
	}

	// The first four names are the ones the mailer has always read.
	envKeys = []struct {
		name string
		set  setter
	}{
		{"EMAIL_ADDRESS", setSenderAddress},
		{"EMAIL_PASSWORD", setSenderSecret},
		{"SMTP_SERVER", setSMTPHost},
		{"SMTP_PORT", setSMTPPort},
		{"SMTP_DIAL_TIMEOUT", setDialTimeout},
		{"SMTP_INSECURE_SKIP_VERIFY", setInsecureSkipVerify},
		{"SMTP_CA_CERT", setCACertPath},
		{"SMTP_HELO_NAME", setHeloName},
	}
)

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. Required fields aren't enforced here since they may come
// from the environment instead. See CheckAndSetDefaults.
func (c *Credentials) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the email config: %v", err)
	}

	for k, val := range v {
		set, ok := yamlKeys[k]
		if !ok {
			return fmt.Errorf("unrecognized email config option %q", k)
		}
		if err := set(c, val); err != nil {
			return fmt.Errorf("invalid value for %v: %w", k, err)
		}
	}

	return nil
}

func setSenderAddress(c *Credentials, v string) error {
	c.SenderAddress = v
	return nil
}

func setSenderSecret(c *Credentials, v string) error {
	c.SenderSecret = v
	return nil
}

func setSMTPHost(c *Credentials, v string) error {
	c.SMTPHost = v
	return nil
}

func setSMTPPort(c *Credentials, v string) error {
	p, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("can't parse the SMTP port as an integer: %v", err)
	}
	if err := checkPort(p); err != nil {
		return err
	}
	c.SMTPPort = p
	return nil
}

func setDialTimeout(c *Credentials, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("can't parse the dial timeout as a duration: %v", err)
	}
	if d < 0 {
		return fmt.Errorf("the dial timeout can't be negative")
	}
	c.DialTimeout = d
	return nil
}

func setInsecureSkipVerify(c *Credentials, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("can't parse %q as a boolean", v)
	}
	c.InsecureSkipVerify = b
	return nil
}

func setCACertPath(c *Credentials, v string) error {
	c.CACertPath = v
	return nil
}

func setHeloName(c *Credentials, v string) error {
	c.HeloName = v
	return nil
}
