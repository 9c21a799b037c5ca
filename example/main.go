package main

import (
	"flag"
	"log"

	"github.com/pthm/quill"
	"github.com/pthm/quill/example/components"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a quill YAML config")
	flag.Parse()

	cfg, err := quill.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	app := quill.New(quill.WithConfig(cfg), quill.WithLogger(logger))
	if err := components.Register(app, NewStore()); err != nil {
		logger.Fatal("register pages", zap.Error(err))
	}

	logger.Info("starting server", zap.String("addr", cfg.Addr()))
	if err := app.Start(cfg.Host, cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
