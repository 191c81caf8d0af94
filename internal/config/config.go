// Package config loads thermalcal-server settings from flags with
// environment variable fallbacks.
package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"thermalcal/pkg/thermalcal"
)

// Defaults.
const (
	DefaultAddr        = ":8080"
	DefaultMaxUploadMB = 512
	DefaultTimeout     = 2 * time.Minute
)

// Config holds server settings.
type Config struct {
	Addr string
	// TablePath names a YAML or JSON coefficient table. Empty uses the
	// built-in table.
	TablePath      string
	MaxUploadBytes int64
	// Workers bounds calibration parallelism; 0 means GOMAXPROCS.
	Workers        int
	PreserveNoData bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// AllowedOrigins is the CORS allow list.
	AllowedOrigins []string
}

// Load parses args (without the program name). Flags take precedence over
// THERMALCAL_* variables read through getenv.
func Load(args []string, getenv func(string) string, errOut io.Writer) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	maxMB, err := envInt(getenv, "THERMALCAL_MAX_UPLOAD_MB", DefaultMaxUploadMB)
	if err != nil {
		return Config{}, err
	}
	workers, err := envInt(getenv, "THERMALCAL_WORKERS", 0)
	if err != nil {
		return Config{}, err
	}
	keep, err := envBool(getenv, "THERMALCAL_KEEP_NODATA")
	if err != nil {
		return Config{}, err
	}
	timeout := DefaultTimeout
	if raw := getenv("THERMALCAL_TIMEOUT"); raw != "" {
		if timeout, err = time.ParseDuration(raw); err != nil {
			return Config{}, fmt.Errorf("THERMALCAL_TIMEOUT: %w", err)
		}
	}

	fs := flag.NewFlagSet("thermalcal-server", flag.ContinueOnError)
	if errOut != nil {
		fs.SetOutput(errOut)
	}
	addr := fs.String("addr", envString(getenv, "THERMALCAL_ADDR", DefaultAddr), "listen address")
	table := fs.String("table", getenv("THERMALCAL_TABLE"), "coefficient table file (YAML or JSON)")
	fs.IntVar(&maxMB, "max-upload-mb", maxMB, "maximum upload size in MiB")
	fs.IntVar(&workers, "workers", workers, "calibration workers (0 = GOMAXPROCS)")
	fs.BoolVar(&keep, "keep-nodata", keep, "write nodata pixels back unchanged")
	fs.DurationVar(&timeout, "timeout", timeout, "HTTP read/write timeout")
	origins := fs.String("cors-origins", envString(getenv, "THERMALCAL_CORS_ORIGINS", "*"), "comma separated CORS origins")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := Config{
		Addr:           *addr,
		TablePath:      *table,
		MaxUploadBytes: int64(maxMB) << 20,
		Workers:        workers,
		PreserveNoData: keep,
		ReadTimeout:    timeout,
		WriteTimeout:   timeout,
		AllowedOrigins: splitList(*origins),
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d bytes", c.MaxUploadBytes)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// CoefficientTable loads the configured table, or the built-in one.
func (c Config) CoefficientTable() (*thermalcal.CoefficientTable, error) {
	if c.TablePath == "" {
		return thermalcal.DefaultCoefficientTable(), nil
	}
	return thermalcal.LoadCoefficientTable(c.TablePath)
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envBool(getenv func(string) string, key string) (bool, error) {
	raw := getenv(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
