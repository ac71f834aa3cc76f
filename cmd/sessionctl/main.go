// Command sessionctl inspects and maintains the dashboard's stored sessions.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/app"
	"github.com/msull/misc/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	c := &cli{
		cfg: cfg,
		open: func(ctx context.Context) (*app.Records, error) {
			return app.OpenRecords(ctx, cfg)
		},
		out: os.Stdout,
	}

	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
