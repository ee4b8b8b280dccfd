package e2e

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/joho/godotenv"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	SenderAddress string
	SenderSecret  string
	SMTPHost      string
	SMTPPort      int
	CACert        string
	DialTimeout   string
}

// createAppConfig writes a configuration YAML doc to the given path.
func createAppConfig(path string, opts appConfigOptions) error {
	configTemplate := `---
email:
  senderAddress: {{ .SenderAddress }}
  senderSecret: {{ .SenderSecret }}
  smtpHost: {{ .SMTPHost }}
  smtpPort: {{ .SMTPPort }}
  caCert: {{ .CACert }}
{{- if .DialTimeout }}
  dialTimeout: {{ .DialTimeout }}
{{- end }}
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	err = os.WriteFile(path, config.Bytes(), 0600)
	if err != nil {
		return fmt.Errorf("couldn't write to the config file: %v", err)
	}

	return nil
}

// createEnvFile writes vars to a dotenv file at path.
func createEnvFile(path string, vars map[string]string) error {
	if err := godotenv.Write(vars, path); err != nil {
		return fmt.Errorf("couldn't write the dotenv file: %v", err)
	}
	return nil
}
