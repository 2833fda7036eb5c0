package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Version is the released server version.
const Version = "0.1.0"

type Config struct {
	Addr        string
	DBPath      string
	ImageDir    string
	TokenSecret string
	TokenTTL    time.Duration
	Version     string
	RateLimits  RateLimits
}

type RateLimits struct {
	SubmitPerMinute int
	TokenPerMinute  int
	FetchPerMinute  int
}

func Load() Config {
	_ = godotenv.Load()

	addr := envString("QUILLBOX_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:        addr,
		DBPath:      envString("QUILLBOX_DB", "quillbox.db"),
		ImageDir:    envString("QUILLBOX_IMAGE_DIR", "images"),
		TokenSecret: envString("QUILLBOX_TOKEN_SECRET", "dev-token-secret"),
		TokenTTL:    envDuration("QUILLBOX_TOKEN_TTL", 5*time.Minute),
		Version:     Version,
		RateLimits: RateLimits{
			SubmitPerMinute: envInt("QUILLBOX_RL_SUBMIT_PER_MIN", 10),
			TokenPerMinute:  envInt("QUILLBOX_RL_TOKEN_PER_MIN", 60),
			FetchPerMinute:  envInt("QUILLBOX_RL_FETCH_PER_MIN", 120),
		},
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
