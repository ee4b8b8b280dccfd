package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/ptgott/one-mailer/cli"

	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe and stays out of the console output on stdout.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// An interrupt cancels the context, which aborts a send in progress
	// and lets the command report the failure before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := cli.NewRootCommand(cli.Options{
		Stdout: os.Stdout,
	}).ExecuteContext(ctx)

	if err != nil {
		log.Error().
			Err(err).
			Msg("could not run the mailer")
		stop()
		os.Exit(1)
	}
}
