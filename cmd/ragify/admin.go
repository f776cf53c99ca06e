package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/poiesic/ragify"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/reindex"
	"github.com/urfave/cli/v2"
)

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a document with its chunks, vectors and stored file",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "id", Usage: "Document id"},
			&cli.StringFlag{Name: "file", Usage: "Document file name"},
		},
		Action: func(c *cli.Context) error {
			id, file := c.String("id"), c.String("file")
			if (id == "") == (file == "") {
				return errors.New("exactly one of --id and --file is required")
			}
			t := tenant(c)
			return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
				var err error
				if id != "" {
					err = e.Delete(ctx, t, id)
				} else {
					err = e.DeleteByFileName(ctx, t, file)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "deleted")
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a tenant's documents",
		Flags: []cli.Flag{tenantFlag()},
		Action: func(c *cli.Context) error {
			t := tenant(c)
			return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
				docs, err := e.List(ctx, t)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFILE\tFORMAT\tSIZE\tCREATED")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.FileName, d.Format, d.SizeBytes, formatTime(d.CreatedAt))
				}
				return tw.Flush()
			})
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count a tenant's documents and chunks",
		Flags: []cli.Flag{tenantFlag()},
		Action: func(c *cli.Context) error {
			t := tenant(c)
			return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
				stats, err := e.Stats(ctx, t)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "tenant %s: %d documents, %d chunks\n", stats.TenantID, stats.Documents, stats.Chunks)
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show ingestion jobs by id, or all jobs in the given states",
		ArgsUsage: "[JOB_ID...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "state",
				Usage: "Job states to list when no ids are given (received, chunked, embedded, indexed, persisted, done, failed)",
			},
		},
		Action: func(c *cli.Context) error {
			return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
				var jobs []*core.IngestionJob
				if c.NArg() > 0 {
					for _, id := range c.Args().Slice() {
						job, err := e.Status(ctx, id)
						if err != nil {
							return fmt.Errorf("job %s: %w", id, err)
						}
						jobs = append(jobs, job)
					}
				} else {
					var states []core.JobState
					for _, s := range c.StringSlice("state") {
						states = append(states, core.JobState(s))
					}
					var err error
					if jobs, err = e.Queue().Jobs(ctx, states...); err != nil {
						return err
					}
				}

				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tTENANT\tFILE\tSTATE\tATTEMPTS\tUPDATED\tERROR")
				for _, j := range jobs {
					file := ""
					if j.Document != nil {
						file = j.Document.FileName
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						j.ID, j.TenantID, file, j.State, j.Attempts, formatTime(j.UpdatedAt), j.Error)
				}
				return tw.Flush()
			})
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Remove vector points of ingestions that never committed",
		Action: func(c *cli.Context) error {
			return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
				report, err := e.Reconcile(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "examined %d intents: %d committed, %d cleaned, %d failed\n",
					report.Examined, report.Committed, report.Cleaned, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d intents could not be reconciled", report.Failed)
				}
				return nil
			})
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:   "reindex",
		Usage:  "Re-embed a tenant's chunks with the configured embedding model",
		Action: reindexAction,
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of chunks to process in each batch",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N chunks",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed operations",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 1 * time.Second,
			},
		},
	}
}

func reindexAction(c *cli.Context) error {
	rc := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Normalize:      true,
	}
	if rc.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if rc.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if rc.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	t := tenant(c)
	return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
		cfg := e.Config()
		fmt.Fprintf(os.Stderr, "Tenant: %s\n", t.ID)
		fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
		fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
		fmt.Fprintln(os.Stderr)

		report, err := e.Reindex(ctx, t, rc, os.Stderr)
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "reindexed %d chunks in %d batches (%s)\n",
			report.Chunks, report.Batches, report.Elapsed.Round(time.Millisecond))
		return nil
	})
}
