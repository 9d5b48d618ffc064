package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Library
	MusicDir       string
	OverridesFile  string // YAML file of per-track BPM/key
	AnalyzeWorkers int
	FFmpegPath     string

	// Deck behavior
	CrossfadeDuration time.Duration
	VolumeA           float64 // final gain of channel A after a fade-in
	VolumeB           float64
	Loop              bool // start over when the queue runs out

	// Outputs
	Port    int
	Speaker bool // play through the local sound card

	// Logging
	LogLevel string
	LogFile  string
	Debug    bool // contract violations panic
}

// Load reads configuration from environment variables with sane defaults.
// Variables from the given .env files (or ./.env) are added first without
// overriding the real environment. A missing ./.env is fine; a file named
// explicitly must be readable.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return fromEnv(), nil
}

func fromEnv() Config {
	return Config{
		MusicDir:       envStr("HDJ_MUSIC_DIR", "."),
		OverridesFile:  envStr("HDJ_OVERRIDES", ""),
		AnalyzeWorkers: envInt("HDJ_ANALYZE_WORKERS", 4),
		FFmpegPath:     envStr("HDJ_FFMPEG_PATH", "ffmpeg"),

		CrossfadeDuration: envDuration("HDJ_CROSSFADE_DURATION", 15*time.Second),
		VolumeA:           envFloat("HDJ_VOLUME_A", 1.0),
		VolumeB:           envFloat("HDJ_VOLUME_B", 1.0),
		Loop:              envBool("HDJ_LOOP", false),

		Port:    envInt("HDJ_PORT", 8080),
		Speaker: envBool("HDJ_SPEAKER", true),

		LogLevel: envStr("HDJ_LOG_LEVEL", "info"),
		LogFile:  envStr("HDJ_LOG_FILE", ""),
		Debug:    envBool("HDJ_DEBUG", false),
	}
}

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error
	if c.CrossfadeDuration < 0 {
		errs = append(errs, fmt.Errorf("crossfade duration %v is negative", c.CrossfadeDuration))
	}
	for name, v := range map[string]float64{"A": c.VolumeA, "B": c.VolumeB} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("channel %s volume %v outside [0, 1]", name, v))
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.AnalyzeWorkers < 1 {
		errs = append(errs, fmt.Errorf("analyze workers must be at least 1, got %d", c.AnalyzeWorkers))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts plain seconds ("15", "7.5") or a Go duration ("1m30s").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
