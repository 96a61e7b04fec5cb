package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where acstracker stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// InstanceURL is the url of your acstracker instance.
	InstanceURL string
	// Secret signs and verifies session access tokens
	Secret string

	// Pipeline configuration
	MaxInputRefs          int           // ACSTRACKER_MAX_INPUT_REFS (default: 10)
	MaxConcurrentSessions int64         // ACSTRACKER_MAX_CONCURRENT_SESSIONS (default: 8)
	StepTimeout           time.Duration // ACSTRACKER_STEP_TIMEOUT (default: 30s)
	SimulatedStepDelay    time.Duration // ACSTRACKER_SIMULATED_STEP_DELAY (default: 500ms, mock work only)

	// Session retention configuration
	SessionTTL    time.Duration // ACSTRACKER_SESSION_TTL (default: 24h)
	ResultGrace   time.Duration // ACSTRACKER_RESULT_GRACE (default: 10m)
	SweepInterval time.Duration // ACSTRACKER_SWEEP_INTERVAL (default: 5m)

	// Cache configuration
	CacheRedisAddr     string // ACSTRACKER_CACHE_REDIS_ADDR (optional L2 cache)
	CacheRedisPassword string // ACSTRACKER_CACHE_REDIS_PASSWORD
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from ACSTRACKER_* environment variables.
// Skips empty values so defaults take effect.
func (p *Profile) FromEnv() {
	p.MaxInputRefs = getIntEnv("ACSTRACKER_MAX_INPUT_REFS", 10)
	p.MaxConcurrentSessions = int64(getIntEnv("ACSTRACKER_MAX_CONCURRENT_SESSIONS", 8))
	p.StepTimeout = getDurationEnv("ACSTRACKER_STEP_TIMEOUT", 30*time.Second)
	p.SimulatedStepDelay = getDurationEnv("ACSTRACKER_SIMULATED_STEP_DELAY", 500*time.Millisecond)

	p.SessionTTL = getDurationEnv("ACSTRACKER_SESSION_TTL", 24*time.Hour)
	p.ResultGrace = getDurationEnv("ACSTRACKER_RESULT_GRACE", 10*time.Minute)
	p.SweepInterval = getDurationEnv("ACSTRACKER_SWEEP_INTERVAL", 5*time.Minute)

	p.CacheRedisAddr = os.Getenv("ACSTRACKER_CACHE_REDIS_ADDR")
	p.CacheRedisPassword = os.Getenv("ACSTRACKER_CACHE_REDIS_PASSWORD")

	if p.Secret == "" {
		p.Secret = getEnvOrDefault("ACSTRACKER_SECRET", "")
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "acstracker")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/acstracker"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("acstracker_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.MaxInputRefs <= 0 {
		p.MaxInputRefs = 10
	}
	if p.MaxConcurrentSessions <= 0 {
		p.MaxConcurrentSessions = 8
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = 30 * time.Second
	}

	return nil
}
