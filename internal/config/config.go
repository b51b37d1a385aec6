package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all relay configuration loaded from environment variables.
type Config struct {
	Port          int           `validate:"min=1,max=65535"`
	UpstreamURL   string        `validate:"required,url"`
	MountSecret   string        `validate:"required,min=16"`
	MountTokenTTL time.Duration `validate:"gt=0"`
	PollInterval  time.Duration `validate:"gt=0"`
	QRExpiry      time.Duration `validate:"gtfield=PollInterval"`
	DevMount      bool
	CORSOrigins   []string `validate:"dive,required"`
	SimulateRPS   float64  `validate:"gt=0"`
	SimulateBurst int      `validate:"min=1"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "4010"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be a number: %w", err)
	}

	upstream := strings.TrimRight(getEnv("KAMIPAY_UPSTREAM_URL", ""), "/")
	if upstream == "" {
		return nil, fmt.Errorf("KAMIPAY_UPSTREAM_URL is required")
	}

	secret := getEnv("MOUNT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("MOUNT_SECRET is required")
	}

	pollInterval, err := getDuration("KAMIPAY_POLL_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}
	expiry, err := getDuration("KAMIPAY_QR_EXPIRY", "10m")
	if err != nil {
		return nil, err
	}
	tokenTTL, err := getDuration("MOUNT_TOKEN_TTL", "30m")
	if err != nil {
		return nil, err
	}

	devMount, err := strconv.ParseBool(getEnv("KAMIPAY_DEV_MOUNT", "false"))
	if err != nil {
		return nil, fmt.Errorf("KAMIPAY_DEV_MOUNT must be a boolean: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("SIMULATE_RPS", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("SIMULATE_RPS must be a number: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("SIMULATE_BURST", "5"))
	if err != nil {
		return nil, fmt.Errorf("SIMULATE_BURST must be a number: %w", err)
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:8069"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	cfg := &Config{
		Port:          port,
		UpstreamURL:   upstream,
		MountSecret:   secret,
		MountTokenTTL: tokenTTL,
		PollInterval:  pollInterval,
		QRExpiry:      expiry,
		DevMount:      devMount,
		CORSOrigins:   origins,
		SimulateRPS:   rps,
		SimulateBurst: burst,
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv sets variables from a .env file if it exists. Variables already
// present in the environment win.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
