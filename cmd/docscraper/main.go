// Command docscraper runs one documentation crawl job end to end: it wires
// crawler.Options from the environment and command-line flags, drives an
// Engine through Run, and prints a one-line summary on exit. It mirrors the
// teacher's own env-first configuration style (crawler.NewFromEnv) with an
// explicit flag layer on top for the things a single invocation must always
// specify: which URL to start from and where to write output.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/codepr/docscraper/crawler"
	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/progress"
)

func main() {
	var (
		seedURL   = flag.String("seed", os.Getenv("SEED_URL"), "seed URL to start crawling from")
		project   = flag.String("project", os.Getenv("PROJECT"), "project name this crawl belongs to")
		version   = flag.String("version", os.Getenv("PROJECT_VERSION"), "documentation version tag")
		kind      = flag.String("kind", os.Getenv("DOC_KIND"), "reference or api")
		outputDir = flag.String("out", os.Getenv("OUTPUT_DIR"), "directory to write crawl output to")
		jobID     = flag.String("job-id", os.Getenv("JOB_ID"), "identifier for this crawl job, used on the progress bus")
		clean     = flag.Bool("clean", false, "ignore any existing checkpoint and start fresh")
	)
	flag.Parse()

	if *seedURL == "" || *project == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "usage: docscraper -seed <url> -project <name> -out <dir> [-version v] [-kind reference|api] [-job-id id] [-clean]")
		os.Exit(2)
	}
	if *jobID == "" {
		*jobID = *project
	}

	docKind := model.KindReference
	if strings.EqualFold(*kind, "api") {
		docKind = model.KindAPI
	}

	opts := crawler.OptionsFromEnv()
	opts.OutputDir = *outputDir
	opts.Clean = *clean
	opts.Seeds = []crawler.Seed{
		{URL: *seedURL, Project: *project, Version: *version, Kind: docKind},
	}

	logger := log.New(os.Stderr, "docscraper: ", log.LstdFlags)
	bus := progress.New()
	logProgress(logger, bus, *jobID)

	engine := crawler.New(*jobID, opts, bus)

	ctx := context.Background()
	if err := engine.Run(ctx); err != nil {
		logger.Printf("crawl failed: %v", err)
		os.Exit(1)
	}

	logger.Printf("crawl complete: job=%s project=%s output=%s", *jobID, *project, *outputDir)
	os.Exit(0)
}

// logProgress subscribes to jobID's topic and logs every event, standing in
// for a WebSocket or SSE façade that might otherwise consume the bus; this
// one just writes to stderr.
func logProgress(logger *log.Logger, bus *progress.Bus, jobID string) {
	events := bus.Subscribe(jobID)
	go func() {
		for ev := range events {
			if ev.Stage == model.StageError {
				logger.Printf("[%s] %5.1f%% %s: %s", ev.Stage, ev.ProgressPct, ev.Message, ev.Error)
				continue
			}
			logger.Printf("[%s] %5.1f%% %s", ev.Stage, ev.ProgressPct, ev.Message)
		}
	}()
}
