package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"call-coach-go/internal/config"
	"call-coach-go/internal/llm"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/pipeline"
	"call-coach-go/internal/segmenter"
	"call-coach-go/internal/store"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "call-coach-go").Info("starting service")

	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()
	log.WithField("db_path", cfg.DBPath).Info("store ready")

	llmClient := llm.NewFromEnv(llm.WithTimeout(cfg.StageTimeout))
	pipe := pipeline.New(st, segmenter.New(), llmClient, llmClient,
		pipeline.WithStageTimeout(cfg.StageTimeout),
		pipeline.WithGradeWorkers(cfg.GradeWorkers),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      newServer(st, pipe, cfg).routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}
