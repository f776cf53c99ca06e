package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poiesic/ragify"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/ingestion"
	"github.com/poiesic/ragify/ingestion/kafka"
	"github.com/urfave/cli/v2"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest documents for a tenant",
		ArgsUsage: "FILE...",
		Action:    ingestAction,
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Publish the documents to Kafka for a worker instead of ingesting them here",
			},
			&cli.StringFlag{
				Name:  "text-suffix",
				Usage: "Suffix of the extracted text file read for pdf and docx inputs",
				Value: ".txt",
			},
		},
	}
}

// readRequest builds the request for one file. PDF and DOCX text must have
// been extracted beforehand, e.g. report.pdf.txt from pdftotext.
func readRequest(tenant core.Tenant, path, textSuffix string) (ingestion.IngestRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return ingestion.IngestRequest{}, err
	}
	name := filepath.Base(path)
	format := core.FormatFromFileName(name)

	text := string(content)
	switch format {
	case core.FormatPDF, core.FormatDOCX:
		extracted, err := os.ReadFile(path + textSuffix)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ingestion.IngestRequest{}, fmt.Errorf("%s: extracted text %s not found", name, path+textSuffix)
			}
			return ingestion.IngestRequest{}, err
		}
		text = string(extracted)
	}

	return ingestion.IngestRequest{
		Tenant: tenant,
		Document: &core.SourceDocument{
			TenantID:  tenant.ID,
			FileName:  name,
			Format:    format,
			MediaType: format.MediaType(),
			SizeBytes: int64(len(content)),
		},
		RawText: text,
		Content: content,
	}, nil
}

func ingestAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	t := tenant(c)
	reqs := make([]ingestion.IngestRequest, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		req, err := readRequest(t, path, c.String("text-suffix"))
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	if c.Bool("async") {
		return publish(c, reqs)
	}

	return withEngine(c, func(ctx context.Context, e *ragify.Engine) error {
		jobs := make([]*core.IngestionJob, 0, len(reqs))
		for _, req := range reqs {
			job, err := e.Submit(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", req.Document.FileName, err)
			}
			jobs = append(jobs, job)
		}
		e.Queue().Wait()

		failed := 0
		for _, job := range jobs {
			status, err := e.Status(ctx, job.ID)
			if err != nil {
				return err
			}
			if status.State == core.StateDone {
				fmt.Fprintf(c.App.Writer, "ingested %s: document %s, %d chunks\n",
					status.Document.FileName, status.Document.ID, status.Chunks)
				continue
			}
			failed++
			fmt.Fprintf(c.App.Writer, "failed %s at %s: %s\n",
				status.Document.FileName, status.FailedStage, status.Error)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(jobs))
		}
		return nil
	})
}

// publish sends the requests to Kafka. Original file content is not
// published, so async ingestion never uploads to object storage.
func publish(c *cli.Context, reqs []ingestion.IngestRequest) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("--async needs kafka brokers in the configuration")
	}
	pub, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return err
	}
	defer pub.Close()

	for _, req := range reqs {
		job := ingestion.NewJob(req)
		if err := pub.Publish(c.Context, job); err != nil {
			return fmt.Errorf("%s: %w", req.Document.FileName, err)
		}
		fmt.Fprintf(c.App.Writer, "queued %s: job %s\n", req.Document.FileName, job.ID)
	}
	return nil
}
