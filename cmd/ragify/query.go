package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/ragify"
	"github.com/poiesic/ragify/core"
	"github.com/urfave/cli/v2"
)

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Retrieve the chunks most relevant to a query",
		ArgsUsage: "QUERY...",
		Action:    queryAction,
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of results (0 uses the configured limit)",
			},
			&cli.BoolFlag{
				Name:    "answer",
				Aliases: []string{"a"},
				Usage:   "Synthesize an answer from the results",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print JSON instead of text",
			},
		},
	}
}

func queryAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}
	t := tenant(c)
	return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
		if c.Bool("answer") {
			turn, err := e.Ask(ctx, t, query, c.Int("limit"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, turn)
			}
			printAnswer(c.App.Writer, &turn.Answer)
			return nil
		}

		results, err := e.Retrieve(ctx, t, query, c.Int("limit"))
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return writeJSON(c.App.Writer, results)
		}
		printResults(c.App.Writer, results)
		return nil
	})
}

func printResults(w io.Writer, results []core.RetrievalResult) {
	fmt.Fprintf(w, "Found %d results\n", len(results))
	for i, r := range results {
		fmt.Fprintf(w, "%d: [%.3f] %s p.%d\n   %s\n", i+1, r.Score, r.FileName, r.PageNumber, r.Text)
	}
}

func printAnswer(w io.Writer, a *core.Answer) {
	fmt.Fprintln(w, a.Text)
	if a.Degraded {
		return
	}
	if a.FileName != nil {
		page := ""
		if a.PageNumber != nil {
			page = fmt.Sprintf(", page %d", *a.PageNumber)
		}
		fmt.Fprintf(w, "\nSource: %s%s (score %.3f)\n", *a.FileName, page, a.Score)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
