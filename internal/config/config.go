package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config carries both deployment settings and the engine tunables. The
// progression rules treat these as inputs rather than constants so content
// changes never require a code change.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	MetricsUser string
	MetricsPass string

	// DefaultTimezone is used for players that have not set one.
	DefaultTimezone string

	// QualifyThreshold is the minimum fraction of core quest instances that
	// must finish COMPLETED (or allowed-partial) for a day to qualify.
	QualifyThreshold float64

	// PartialMinPercent is the fallback minimum completion percent for
	// templates that allow partial credit but do not configure their own.
	PartialMinPercent float64

	// GraceTokenEvery is the number of consecutive qualifying days per earned
	// grace token. GraceTokenCap bounds the balance.
	GraceTokenEvery int
	GraceTokenCap   int

	// CurveCoefficient scales the cumulative XP required per level.
	CurveCoefficient float64

	// Bonus multipliers for the named modifier slots.
	WeekendBonus  float64
	HardModeBonus float64
	SeasonalBonus float64

	// SweepInterval controls the abandoned-day sweep worker.
	SweepInterval time.Duration
}

var (
	cfg  *Config
	once sync.Once
)

func Load() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
		cfg = &Config{
			Port:              getEnv("PORT", "3333"),
			DatabaseURL:       os.Getenv("DATABASE_URL"),
			RedisURL:          os.Getenv("REDIS_URL"),
			JWTSecret:         os.Getenv("JWT_SECRET"),
			MetricsUser:       os.Getenv("METRICS_USER"),
			MetricsPass:       os.Getenv("METRICS_PASS"),
			DefaultTimezone:   getEnv("DEFAULT_TIMEZONE", "UTC"),
			QualifyThreshold:  getEnvFloat("QUALIFY_THRESHOLD", 0.8),
			PartialMinPercent: getEnvFloat("PARTIAL_MIN_PERCENT", 50),
			GraceTokenEvery:   getEnvInt("GRACE_TOKEN_EVERY", 7),
			GraceTokenCap:     getEnvInt("GRACE_TOKEN_CAP", 3),
			CurveCoefficient:  getEnvFloat("CURVE_COEFFICIENT", 100),
			WeekendBonus:      getEnvFloat("WEEKEND_BONUS", 1.1),
			HardModeBonus:     getEnvFloat("HARD_MODE_BONUS", 1.25),
			SeasonalBonus:     getEnvFloat("SEASONAL_BONUS", 1.0),
			SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Hour),
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal("Invalid config: ", err)
		}
	})
	return cfg
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable is not set")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}
	if c.QualifyThreshold <= 0 || c.QualifyThreshold > 1 {
		return errors.New("QUALIFY_THRESHOLD must be in (0, 1]")
	}
	if c.PartialMinPercent < 0 || c.PartialMinPercent > 100 {
		return errors.New("PARTIAL_MIN_PERCENT must be in [0, 100]")
	}
	if c.GraceTokenEvery < 1 {
		return errors.New("GRACE_TOKEN_EVERY must be at least 1")
	}
	if c.GraceTokenCap < 0 {
		return errors.New("GRACE_TOKEN_CAP must not be negative")
	}
	if c.CurveCoefficient <= 0 {
		return errors.New("CURVE_COEFFICIENT must be positive")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return errors.New("DEFAULT_TIMEZONE is not a valid IANA zone name")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Config: ignoring invalid %s=%q", key, v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Config: ignoring invalid %s=%q", key, v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Config: ignoring invalid %s=%q", key, v)
	}
	return fallback
}
