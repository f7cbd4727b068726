// Команда importer — пакетное вступление в каналы по CSV-списку ссылок.
// Валидирует ссылки, вступает с паузами и добавляет каналы в целевую папку;
// дискавери архиватора подберёт их на следующем тике.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-archiver/internal/importer"
	"telegram-archiver/internal/infra/config"
	"telegram-archiver/internal/infra/logger"
	tgclient "telegram-archiver/internal/telegram"
)

const appVersion = "archiver-importer/1.0.0"

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	csvPath := flag.String("csv", "", "path to csv with channel links (required)")
	folder := flag.String("folder", "", "target folder title (default: FOLDER_ARCHIVE_ALL_PATTERN)")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg := config.Env()

	logger.Init(cfg.LogLevel)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	folderTitle := *folder
	if folderTitle == "" {
		folderTitle = cfg.FolderArchivePattern
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		logger.Fatal("failed to open csv", zap.Error(err))
	}
	refs, err := importer.ParseRefs(file)
	file.Close()
	if err != nil {
		logger.Fatal("failed to parse csv", zap.Error(err))
	}
	logger.Infof("importer: %d ссылок из %s, целевая папка %q", len(refs), *csvPath, folderTitle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := tgclient.New(tgclient.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		PhoneNumber: cfg.PhoneNumber,
		SessionFile: cfg.SessionFile,
		ThrottleRPS: cfg.ThrottleRPS,
		TestDC:      cfg.TestDC,
		AppVersion:  appVersion,
	})
	if err != nil {
		logger.Fatal("telegram client init failed", zap.Error(err))
	}
	defer client.Close()

	runErr := client.Run(ctx, func(ctx context.Context) error {
		pipeline := importer.New(client, folderTitle)
		job, err := pipeline.Run(ctx, refs)
		if job != nil {
			s := job.Summarize()
			logger.Infof("importer: итог %s: всего %d, вступили %d, уже состояли %d, валидация %d, вступление %d — отказов",
				job.State, s.Total, s.Joined, s.AlreadyMember, s.ValidationFailed, s.JoinFailed)
		}
		return err
	})
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("importer run failed", zap.Error(runErr))
	}
}
