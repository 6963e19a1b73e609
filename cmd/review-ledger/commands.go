package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/cmd"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/log"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/resolver"
	"github.com/dustin/go-humanize"
	cli "github.com/urfave/cli/v3"
)

func NewPublishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Write a ledger entry to the output directory and relay it to a collector",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "entry",
				Usage:    "Path to the ledger entry JSON",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Usage:   "Ledger output directory",
				Value:   ledger.DefaultOutputDir,
				Sources: cli.EnvVars("LEDGER_OUTPUT_DIR"),
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "HTTP collector the entry is relayed to",
				Sources: cli.EnvVars("LEDGER_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for the collector",
				Sources: cli.EnvVars("LEDGER_TOKEN"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			entry, err := ledger.LoadEntry(command.String("entry"))
			if err != nil {
				return err
			}

			logger := log.WithModule("review-ledger")
			out := command.Root().Writer

			publisher := ledger.NewPublisher(logger, ledger.WithNotifier(ledger.NotifierFunc(func(_ context.Context, event ledger.RelayEvent) {
				_, _ = fmt.Fprintf(out, "%s: %s after %d attempts\n", event.Type, event.Endpoint, event.Attempts)
			})))

			result, err := publisher.Publish(ctx, *entry, ledger.Options{
				OutputDir:    command.String("output-dir"),
				HTTPEndpoint: command.String("endpoint"),
				HTTPToken:    command.String("token"),
			})
			if err != nil {
				return err
			}

			return renderPublishResult(out, entry, result)
		},
	}
}

func NewVerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check that a stage payload matches the digest recorded in a ledger entry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "entry",
				Usage:    "Path to the ledger entry JSON",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "stage",
				Usage:    "Stage that recorded the entry",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "payload",
				Usage:    "Path to the stage result JSON that was recorded",
				Required: true,
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			stage, err := models.ParseStageName(command.String("stage"))
			if err != nil {
				return err
			}

			payload, err := readJSON(command.String("payload"))
			if err != nil {
				return err
			}

			if err := ledger.Verify(command.String("entry"), stage, payload); err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "ok: %s matches %s\n", command.String("payload"), command.String("entry"))

			return err
		},
	}
}

func NewResolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve a ledger pointer to a readable artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "pointer",
				Usage:    "Recorded entry path or URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "source-file",
				Usage: "Fallback pointer recorded alongside the entry",
			},
			&cli.StringFlag{
				Name:  "revision",
				Usage: "Agent revision the artifact belongs to",
			},
			&cli.StringSliceFlag{
				Name:    "root",
				Usage:   "Managed artifact roots local pointers must stay under",
				Value:   []string{ledger.DefaultOutputDir},
				Sources: cli.EnvVars("LEDGER_ROOTS"),
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "Directory remote downloads are cached in",
				Value:   "./.ledger-cache",
				Sources: cli.EnvVars("LEDGER_CACHE_DIR"),
			},
			&cli.BoolFlag{
				Name:  "allow-remote",
				Usage: "Download remote pointers",
			},
			&cli.StringFlag{
				Name:  "max-download",
				Usage: "Largest remote download accepted",
				Value: humanize.IBytes(uint64(resolver.DefaultMaxDownloadBytes)),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			maxDownload, err := humanize.ParseBytes(command.String("max-download"))
			if err != nil {
				return fmt.Errorf("invalid --max-download: %w", err)
			}

			r := resolver.New(log.WithModule("review-ledger"), command.String("cache-dir"), command.StringSlice("root"),
				resolver.WithMaxDownloadBytes(int64(maxDownload)))

			res := r.Resolve(ctx, resolver.Request{
				Pointer:     command.String("pointer"),
				SourceFile:  command.String("source-file"),
				RevisionID:  command.String("revision"),
				AllowRemote: command.Bool("allow-remote"),
			})

			return renderResolution(command.Root().Writer, res)
		},
	}
}

func NewProbeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "Check that a remote ledger location is reachable without downloading it",
		ArgsUsage: "<url>",
		Action: func(ctx context.Context, command *cli.Command) error {
			target := command.Args().First()
			if target == "" {
				return fmt.Errorf("a url is required")
			}

			r := resolver.New(log.WithModule("review-ledger"), os.TempDir(), nil)

			return renderProbe(command.Root().Writer, r.Probe(ctx, target))
		},
	}
}

func NewProgressCommand() *cli.Command {
	return &cli.Command{
		Name:      "progress",
		Usage:     "Show the stage table of a review pipeline from the state store",
		ArgsUsage: "<submission-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Pipeline state store URL",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the raw progress document",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			submissionID := command.Args().First()
			if submissionID == "" {
				return fmt.Errorf("a submission id is required")
			}

			logger := log.WithModule("review-ledger")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() { _ = store.Close(ctx) }()

			snapshot, err := store.SnapshotByID(ctx, submissionID)
			if err != nil {
				return err
			}

			out := command.Root().Writer

			if command.Bool("json") {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")

				return encoder.Encode(snapshot.Progress)
			}

			return renderProgress(out, snapshot)
		},
	}
}

func readJSON(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", path, err)
	}

	return payload, nil
}
