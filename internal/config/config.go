package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DetectorCascade     = "cascade"
	DetectorRekognition = "rekognition"
)

type Config struct {
	// Server
	Port           int      `envconfig:"PORT" default:"8000"`
	Environment    string   `envconfig:"ENV" default:"development"`
	CORSOrigins    []string `envconfig:"CORS_ORIGINS" default:"*"`
	MaxUploadBytes int64    `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	// Models
	ModelPath        string `envconfig:"MODEL_PATH" default:"models/emotion.onnx"`
	MetadataPath     string `envconfig:"METADATA_PATH" default:"models/emotion_metadata.json"`
	ExplainModelPath string `envconfig:"EXPLAIN_MODEL_PATH" default:"models/emotion_explain.onnx"`
	ORTLibraryPath   string `envconfig:"ORT_LIBRARY_PATH"`

	// Face detection
	FaceDetector string `envconfig:"FACE_DETECTOR" default:"cascade"`
	CascadePath  string `envconfig:"CASCADE_PATH" default:"models/haarcascade_frontalface_default.xml"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"us-east-1"`
	OffsetX      int    `envconfig:"DETECT_OFFSET_X" default:"20"`
	OffsetY      int    `envconfig:"DETECT_OFFSET_Y" default:"40"`

	// Sessions
	SessionsDBPath string `envconfig:"SESSIONS_DB_PATH" default:"sessions.db"`
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.FaceDetector {
	case DetectorCascade, DetectorRekognition:
	default:
		return fmt.Errorf("unknown FACE_DETECTOR %q", c.FaceDetector)
	}
	if c.OffsetX < 0 || c.OffsetY < 0 {
		return fmt.Errorf("detect offsets must be non-negative, got (%d, %d)", c.OffsetX, c.OffsetY)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_BYTES %d", c.MaxUploadBytes)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
