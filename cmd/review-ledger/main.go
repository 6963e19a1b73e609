// Package main provides review-ledger, the operator tool for audit ledger entries and
// review progress.
package main

import (
	"context"
	"os"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "review-ledger",
		EnableShellCompletion: true,
		Usage:                 "Publish, verify and resolve review audit ledger entries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), "")

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewPublishCommand(),
			NewVerifyCommand(),
			NewResolveCommand(),
			NewProbeCommand(),
			NewProgressCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
