package userconfig

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envMap returns a LookupEnv that only sees m, so tests never depend on the
// environment of whoever runs them.
func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParse(t *testing.T) {
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
	}{
		{
			description: "valid case",
			conf: `---
email:
    senderAddress: me@example.com
    senderSecret: 123456-A_BCDE
    smtpHost: smtp.example.com
    smtpPort: 465
    dialTimeout: 10s
    insecureSkipVerify: false
    heloName: client.example.com`,
			shouldBeError: false,
		},
		{
			description:   "empty document",
			conf:          ``,
			shouldBeError: false,
		},
		{
			description: "port not an integer",
			conf: `email:
    smtpPort: smtp`,
			shouldBeError: true,
		},
		{
			description: "port zero",
			conf: `email:
    smtpPort: 0`,
			shouldBeError: true,
		},
		{
			description: "timeout not a duration",
			conf: `email:
    dialTimeout: "10"`,
			shouldBeError: true,
		},
		{
			description: "skip verify not a boolean",
			conf: `email:
    insecureSkipVerify: sometimes`,
			shouldBeError: true,
		},
		{
			description: "unknown email option",
			conf: `email:
    fromAddress: me@example.com`,
			shouldBeError: true,
		},
		{
			description: "unknown section",
			conf: `scraping:
    interval: 5s`,
			shouldBeError: true,
		},
		{
			description:   "not yaml",
			conf:          `this is not yaml`,
			shouldBeError: true,
		},
		{
			description: "email section not a map",
			conf: `email:
    - me@example.com`,
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := Parse(bytes.NewBufferString(tc.conf))
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(`email:
    senderAddress: me@example.com`))
	require.NoError(t, err)

	assert.Equal(t, "me@example.com", m.Email.SenderAddress)
	assert.Equal(t, DefaultSMTPHost, m.Email.SMTPHost)
	assert.Equal(t, DefaultSMTPPort, m.Email.SMTPPort)
	assert.Equal(t, defaultDialTimeout, m.Email.DialTimeout)
}

func TestCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description string
		input       Credentials
		wantErr     error
		want        Credentials
	}{
		{
			description: "complete credentials",
			input: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPHost:      "smtp.example.com",
				SMTPPort:      465,
				HeloName:      "client.example.com",
			},
			want: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPHost:      "smtp.example.com",
				SMTPPort:      465,
				HeloName:      "client.example.com",
			},
		},
		{
			description: "host and helo name defaulted",
			input: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPPort:      587,
			},
			want: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPHost:      "smtp.gmail.com",
				SMTPPort:      587,
				HeloName:      "localhost",
			},
		},
		{
			description: "no sender",
			input: Credentials{
				SenderSecret: "hunter2",
			},
			wantErr: ErrMissingSender,
		},
		{
			description: "no secret",
			input: Credentials{
				SenderAddress: "me@example.com",
			},
			wantErr: ErrMissingSecret,
		},
		{
			description: "port unset",
			input: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
			},
			wantErr: ErrInvalidPort,
		},
		{
			description: "port negative",
			input: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPPort:      -1,
			},
			wantErr: ErrInvalidPort,
		},
		{
			description: "port out of range",
			input: Credentials{
				SenderAddress: "me@example.com",
				SenderSecret:  "hunter2",
				SMTPPort:      70000,
			},
			wantErr: ErrInvalidPort,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, err := tc.input.CheckAndSetDefaults()
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "got error %v", err)
				assert.Equal(t, Credentials{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	conf := writeFile(t, "config.yaml", `email:
    senderAddress: yaml@example.com
    senderSecret: yaml-secret
    smtpHost: yaml.example.com
    smtpPort: 2465`)

	envFile := writeFile(t, ".env", `EMAIL_PASSWORD=dotenv-secret
SMTP_SERVER=dotenv.example.com
`)

	c, err := Load(LoadOptions{
		ConfigPath: conf,
		EnvFile:    envFile,
		LookupEnv: envMap(map[string]string{
			"SMTP_SERVER": "env.example.com",
			// Empty values don't override lower layers
			"EMAIL_ADDRESS": "",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "yaml@example.com", c.SenderAddress)
	assert.Equal(t, "dotenv-secret", c.SenderSecret)
	assert.Equal(t, "env.example.com", c.SMTPHost)
	assert.Equal(t, 2465, c.SMTPPort)
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(LoadOptions{
		EnvFile: filepath.Join(t.TempDir(), "missing.env"),
		LookupEnv: envMap(map[string]string{
			"EMAIL_ADDRESS":     "me@example.com",
			"EMAIL_PASSWORD":    "hunter2",
			"SMTP_DIAL_TIMEOUT": "5s",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.gmail.com", c.SMTPHost)
	assert.Equal(t, 587, c.SMTPPort)
	assert.Equal(t, time.Duration(5)*time.Second, c.DialTimeout)
	assert.Equal(t, "smtp.gmail.com:587", c.Address())
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	for _, port := range []string{"0", "-25", "65536"} {
		t.Run(port, func(t *testing.T) {
			_, err := Load(LoadOptions{
				EnvFile:   filepath.Join(t.TempDir(), "missing.env"),
				LookupEnv: envMap(map[string]string{"SMTP_PORT": port}),
			})
			assert.ErrorIs(t, err, ErrInvalidPort)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	testCases := []struct {
		description string
		opts        LoadOptions
	}{
		{
			description: "config file doesn't exist",
			opts: LoadOptions{
				ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
				EnvFile:    noEnv,
				LookupEnv:  envMap(nil),
			},
		},
		{
			description: "port not an integer",
			opts: LoadOptions{
				EnvFile:   noEnv,
				LookupEnv: envMap(map[string]string{"SMTP_PORT": "five-eight-seven"}),
			},
		},
		{
			description: "CA bundle doesn't exist",
			opts: LoadOptions{
				EnvFile:   noEnv,
				LookupEnv: envMap(map[string]string{"SMTP_CA_CERT": filepath.Join(t.TempDir(), "ca.pem")}),
			},
		},
		{
			description: "CA bundle has no certificates",
			opts: LoadOptions{
				EnvFile:   noEnv,
				LookupEnv: envMap(map[string]string{"SMTP_CA_CERT": writeFile(t, "ca.pem", "not a cert")}),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := Load(tc.opts)
			assert.Error(t, err)
		})
	}
}

func TestStringRedactsSecret(t *testing.T) {
	c := Credentials{
		SenderAddress: "me@example.com",
		SenderSecret:  "hunter2",
		SMTPHost:      "smtp.example.com",
		SMTPPort:      465,
	}

	s := c.String()
	assert.False(t, strings.Contains(s, "hunter2"), "the secret leaked: %v", s)
	assert.Contains(t, s, "[redacted]")
	assert.Contains(t, s, "smtp.example.com:465")
}

func TestTLSConfig(t *testing.T) {
	c := Credentials{
		SMTPHost:           "smtp.example.com",
		InsecureSkipVerify: true,
	}
	tlsc, err := c.TLSConfig()
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com", tlsc.ServerName)
	assert.True(t, tlsc.InsecureSkipVerify)
	assert.Nil(t, tlsc.RootCAs)
}
