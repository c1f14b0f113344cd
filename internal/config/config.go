// Package config reads service settings from SITESAFE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "SITESAFE_"

const (
	EnvDev        = "dev"
	EnvProduction = "production"
)

type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenSecret string
	TokenIssuer string
	SessionTTL  time.Duration

	RatePerSec     float64
	RateBurst      int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Dev reports whether weak secrets and the in-memory store are acceptable.
func (c Config) Dev() bool { return c.Env == EnvDev }

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	var errs []error
	c := Config{
		Env:            str("ENV", EnvDev),
		HTTPAddr:       str("HTTP_ADDR", ":8080"),
		GRPCAddr:       str("GRPC_ADDR", ":9090"),
		LogLevel:       str("LOG_LEVEL", "info"),
		PGDSN:          str("PG_DSN", ""),
		RedisAddr:      str("REDIS_ADDR", ""),
		RedisPassword:  str("REDIS_PASSWORD", ""),
		TokenSecret:    str("TOKEN_SECRET", ""),
		TokenIssuer:    str("TOKEN_ISSUER", "sitesafe"),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
	}
	c.RedisDB = integer("REDIS_DB", 0, &errs)
	c.SessionTTL = duration("SESSION_TTL", 12*time.Hour, &errs)
	c.RatePerSec = float("RATE_PER_SEC", 10, &errs)
	c.RateBurst = integer("RATE_BURST", 20, &errs)
	c.MaxBodyBytes = int64(integer("MAX_BODY_BYTES", 1<<20, &errs))

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDev, "staging", EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("%sENV: unknown environment %q", prefix, c.Env))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, fmt.Errorf("%sHTTP_ADDR is required", prefix))
	}
	if !c.Dev() {
		if len(c.TokenSecret) < 32 {
			errs = append(errs, fmt.Errorf("%sTOKEN_SECRET must be at least 32 bytes", prefix))
		}
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("%sPG_DSN is required outside dev", prefix))
		}
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("%sREDIS_ADDR is required outside dev", prefix))
		}
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("%sSESSION_TTL must be positive", prefix))
	}
	if c.RatePerSec <= 0 || c.RateBurst <= 0 {
		errs = append(errs, fmt.Errorf("%sRATE_PER_SEC and %sRATE_BURST must be positive", prefix, prefix))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES must be positive", prefix))
	}
	return errors.Join(errs...)
}

func str(key, def string) string {
	if v, ok := os.LookupEnv(prefix + key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func list(key string) []string {
	raw := str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func integer(key string, def int, errs *[]error) int {
	raw := str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return v
}

func float(key string, def float64, errs *[]error) float64 {
	raw := str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return v
}

func duration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return v
}
