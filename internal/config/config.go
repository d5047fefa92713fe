package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	ModelPath      string
	LabelsPath     string
	ORTLibraryPath string
	InputName      string
	OutputName     string
	TopK           int
	LogLevel       string
	ImageRoot      string
	MaxImagePixels int
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		ModelPath:      getEnv("MODEL_PATH", "models/plant_disease_model.onnx"),
		LabelsPath:     getEnv("LABELS_PATH", "models/plant_labels.txt"),
		ORTLibraryPath: os.Getenv("ORT_LIBRARY_PATH"),
		InputName:      getEnv("MODEL_INPUT_NAME", "input"),
		OutputName:     getEnv("MODEL_OUTPUT_NAME", "output"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ImageRoot:      getEnv("IMAGE_ROOT", "images"),
	}

	topK, err := strconv.Atoi(getEnv("TOP_K", "3"))
	if err != nil || topK < 0 {
		return nil, fmt.Errorf("invalid TOP_K %q", os.Getenv("TOP_K"))
	}
	cfg.TopK = topK

	maxPixels, err := strconv.Atoi(getEnv("MAX_IMAGE_PIXELS", "40000000"))
	if err != nil || maxPixels <= 0 {
		return nil, fmt.Errorf("invalid MAX_IMAGE_PIXELS %q", os.Getenv("MAX_IMAGE_PIXELS"))
	}
	cfg.MaxImagePixels = maxPixels

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
