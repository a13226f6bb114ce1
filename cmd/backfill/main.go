// Command backfill loads a spreadsheet of historical transcripts and runs
// each through storage and insight extraction.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/app"
	"call-insights-go/internal/config"
	"call-insights-go/internal/dataset"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/storage"
)

func main() {
	file := flag.String("file", os.Getenv("DATASET_PATH"), "xlsx file with one transcript per row")
	clientID := flag.String("client", "", "client id for rows that carry none")
	clientName := flag.String("client-name", "", "client name for rows that carry none")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}
	log := logger.NewWith(cfg.Environment, cfg.LogLevel, os.Stdout)
	if *file == "" {
		log.Fatal("-file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payloads, rowErrs, err := dataset.LoadTranscripts(*file, dataset.LoadOptions{ClientID: *clientID, ClientName: *clientName})
	if err != nil {
		log.WithError(err).Fatal("failed to load dataset")
	}
	for _, re := range rowErrs {
		log.WithField("row", re.Row).WithField("error", re.Err.Error()).Warn("skipped row")
	}

	c, err := app.Open(ctx, cfg, log, false, false)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise components")
	}
	defer c.Close()

	var done, duplicates, failed int
	for _, p := range payloads {
		if ctx.Err() != nil {
			break
		}
		res, err := c.Processor.Process(ctx, p)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			duplicates++
		case err != nil:
			failed++
			log.WithField("conversation_id", p.SessionID).WithError(err).Error("backfill failed")
		default:
			done++
			if len(res.Failures) > 0 {
				log.WithField("conversation_id", p.SessionID).WithField("failures", res.Failures).Warn("partial insight stored")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"file":       *file,
		"processed":  done,
		"duplicates": duplicates,
		"failed":     failed,
		"skipped":    len(rowErrs),
	}).Info("backfill finished")
}
