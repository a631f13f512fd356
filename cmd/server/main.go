package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/fer-lens/internal/config"
	"github.com/Brownie44l1/fer-lens/internal/emotion"
	"github.com/Brownie44l1/fer-lens/internal/facedetect"
	"github.com/Brownie44l1/fer-lens/internal/facedetect/cascade"
	"github.com/Brownie44l1/fer-lens/internal/handlers"
	"github.com/Brownie44l1/fer-lens/internal/httpx"
	"github.com/Brownie44l1/fer-lens/internal/metrics"
	"github.com/Brownie44l1/fer-lens/internal/model"
	"github.com/Brownie44l1/fer-lens/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting fer-lens API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meta, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return err
	}

	classifier, err := model.NewClassifier(cfg.ModelPath, meta, cfg.ORTLibraryPath)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	defer classifier.Close()

	logger.Info("model loaded",
		slog.String("path", cfg.ModelPath),
		slog.Any("classes", meta.Classes),
		slog.Any("input_shape", meta.InputShape),
	)

	detector, err := newDetector(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize face detector: %w", err)
	}
	defer detector.Close()

	store, err := session.Open(cfg.SessionsDBPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	latency := metrics.NewLatencyTracker(0.2)
	emotions := emotion.NewService(detector, classifier, meta, logger).
		WithOffsets(cfg.OffsetX, cfg.OffsetY).
		WithLatency(latency)
	sessions := session.NewService(store, logger)

	h := handlers.NewHandler(emotions, sessions, logger).
		WithStats(latency).
		WithMaxUpload(cfg.MaxUploadBytes)

	mux := http.NewServeMux()
	h.Routes(mux)

	if cfg.IsDevelopment() {
		logger.Debug("try it",
			slog.String("detect", fmt.Sprintf(`curl -X POST -F "image=@face.jpg" http://localhost:%d/api/predict/image`, cfg.Port)),
		)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpx.Chain(mux,
			httpx.Recover(logger),
			httpx.RequestID,
			httpx.Logger(logger),
			httpx.CORS{AllowOrigins: cfg.CORSOrigins}.Wrap,
		),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	logger.Info("server stopped")

	return nil
}

func newDetector(ctx context.Context, cfg *config.Config) (facedetect.Detector, error) {
	if cfg.FaceDetector == config.DetectorRekognition {
		r, err := facedetect.NewRekognition(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	c, err := cascade.New(cfg.CascadePath, cascade.DefaultParams())
	if err != nil {
		return nil, err
	}
	return c, nil
}
