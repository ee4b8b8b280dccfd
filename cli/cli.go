// Package cli builds the one-mailer command tree. Running the root command
// with no subcommand sends a demonstration email, and "send" sends one
// message of the caller's choosing. Delivery failures are printed, not
// returned, so a failed send still exits cleanly. Only problems with flags
// or configuration are returned as errors.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ptgott/one-mailer/email"
	"github.com/ptgott/one-mailer/userconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	demoRecipient = "recipient@example.com"
	demoSubject   = "Test Subject"
	demoBody      = "This is the second test email body."
)

// Options holds dependencies of the command tree that tests replace.
type Options struct {
	// Console output. Defaults to os.Stdout.
	Stdout io.Writer
	// Defaults to os.LookupEnv
	LookupEnv func(key string) (string, bool)
	// Passed to every Mailer the commands create
	MailerOptions []email.Option
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	level      string
}

// NewRootCommand returns the root one-mailer command.
func NewRootCommand(o Options) *cobra.Command {
	g := &globalFlags{}
	var to string

	root := &cobra.Command{
		Use:   "one-mailer",
		Short: "Send a plain-text email through an SMTP server over implicit TLS",
		Long: `one-mailer sends a single plain-text email using the sender credentials in
EMAIL_ADDRESS and EMAIL_PASSWORD and the server in SMTP_SERVER and SMTP_PORT.
Values can also come from a dotenv file or a YAML config file.

Without a subcommand, it sends a demonstration email.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setLevel(g.level)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMailer(g, o)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Sending test email...")
			report(out, m.Send(cmd.Context(), to, demoSubject, demoBody))
			fmt.Fprintln(out, "Test email process completed.")
			return nil
		},
	}

	if o.Stdout != nil {
		root.SetOut(o.Stdout)
	} else {
		root.SetOut(os.Stdout)
	}

	pf := root.PersistentFlags()
	pf.StringVar(
		&g.configPath,
		"config",
		"",
		"path to a YAML file containing your configuration (optional)",
	)
	pf.StringVar(
		&g.envFile,
		"env-file",
		userconfig.DefaultEnvFile,
		"path to a dotenv file; skipped if it doesn't exist",
	)
	pf.StringVar(
		&g.level,
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)

	root.Flags().StringVar(&to, "to", demoRecipient, "recipient of the demonstration email")

	root.AddCommand(newSendCommand(g, o))

	return root
}

func newSendCommand(g *globalFlags, o Options) *cobra.Command {
	var (
		to       string
		subject  string
		body     string
		bodyFile string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one plain-text email",
		Example: `  one-mailer send --to you@example.com --subject "Hello" --body "Hi there"
  echo "Hi there" | one-mailer send --to you@example.com --subject "Hello" --body-file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bodyFile != "" {
				b, err := readBody(cmd.InOrStdin(), bodyFile)
				if err != nil {
					return err
				}
				body = b
			}

			m, err := newMailer(g, o)
			if err != nil {
				return err
			}

			report(cmd.OutOrStdout(), m.Send(cmd.Context(), to, subject, body))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&to, "to", "", "recipient address")
	f.StringVar(&subject, "subject", "", "subject line")
	f.StringVar(&body, "body", "", "plain-text message body")
	f.StringVar(&bodyFile, "body-file", "", `read the body from this file ("-" for stdin)`)

	// Only fails if the flag doesn't exist
	_ = cmd.MarkFlagRequired("to")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

func newMailer(g *globalFlags, o Options) (*email.Mailer, error) {
	creds, err := userconfig.Load(userconfig.LoadOptions{
		ConfigPath: g.configPath,
		EnvFile:    g.envFile,
		LookupEnv:  o.LookupEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("problem loading your config: %w", err)
	}

	log.Debug().Str("credentials", creds.String()).Msg("loaded the config")

	return email.NewMailer(creds, o.MailerOptions...), nil
}

func readBody(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("can't read the body from stdin: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("can't read the body file: %w", err)
	}
	return string(b), nil
}

// report prints the outcome of a send the same way for every command.
func report(w io.Writer, res email.Result) {
	if res.OK() {
		fmt.Fprintf(w, "Email sent to %v\n", res.Recipient)
		return
	}
	fmt.Fprintf(w, "Failed to send email: %v\n", res.Err)
}

func setLevel(level string) {
	switch level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}
