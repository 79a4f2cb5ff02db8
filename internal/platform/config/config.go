package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Getenv returns the value of k, or d when k is unset or empty.
func Getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func GetenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func GetenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

// Database describes the primary and replica endpoints. Connection
// parameters are shared; hosts differ per endpoint.
type Database struct {
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	Name     string   `yaml:"name"`
	Port     int      `yaml:"port"`
	Primary  string   `yaml:"primary"`
	Replicas []string `yaml:"replicas"`

	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	InitRetries    int           `yaml:"init_retries"`
	InitDelay      time.Duration `yaml:"init_delay"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

type Config struct {
	HTTPAddr  string   `yaml:"http_addr"`
	AdminAddr string   `yaml:"admin_addr"`
	GRPCAddr  string   `yaml:"grpc_addr"`
	Database  Database `yaml:"database"`

	RateLimitRPS   float64       `yaml:"ratelimit_rps"`
	RateLimitBurst int           `yaml:"ratelimit_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxInFlight    int           `yaml:"max_inflight"`
	HealthInterval time.Duration `yaml:"health_interval"`
	Profiling      bool          `yaml:"profiling"`
}

// Defaults mirror the reference docker-compose deployment.
func Defaults() Config {
	return Config{
		HTTPAddr:  ":3000",
		AdminAddr: ":8081",
		Database: Database{
			User:           "postgres",
			Password:       "admin_password",
			Name:           "macrocoach_db",
			Port:           5432,
			Primary:        "postgres-primary",
			Replicas:       []string{"postgres-replica-1", "postgres-replica-2"},
			ConnectTimeout: 5 * time.Second,
			InitRetries:    5,
			InitDelay:      2 * time.Second,
			ProbeTimeout:   time.Second,
		},
		RateLimitRPS:   200,
		RateLimitBurst: 400,
		RequestTimeout: 30 * time.Second,
		MaxInFlight:    512,
		HealthInterval: 10 * time.Second,
	}
}

// Load resolves configuration as defaults < YAML file < environment.
// A .env file in the working directory is loaded first when present.
// path may be empty, in which case MATCHD_CONFIG is consulted.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		path = os.Getenv("MATCHD_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = Getenv("MATCH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.AdminAddr = Getenv("MATCH_ADMIN_ADDR", cfg.AdminAddr)
	cfg.GRPCAddr = Getenv("MATCH_GRPC_ADDR", cfg.GRPCAddr)
	cfg.RateLimitRPS = getenvFloat("MATCH_RATELIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetenvInt("MATCH_RATELIMIT_BURST", cfg.RateLimitBurst)
	cfg.RequestTimeout = GetenvDuration("MATCH_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxInFlight = GetenvInt("MATCH_MAX_INFLIGHT", cfg.MaxInFlight)
	cfg.HealthInterval = GetenvDuration("MATCH_HEALTH_INTERVAL", cfg.HealthInterval)
	if v := os.Getenv("MATCH_ADMIN_PPROF"); v != "" {
		cfg.Profiling, _ = strconv.ParseBool(v)
	}

	d := &cfg.Database
	d.User = Getenv("DB_USER", d.User)
	d.Password = Getenv("DB_PASS", d.Password)
	d.Name = Getenv("DB_NAME", d.Name)
	d.Port = GetenvInt("DB_PORT", d.Port)
	d.Primary = Getenv("DB_HOST_WRITE", d.Primary)

	if list := os.Getenv("DB_HOST_READ"); list != "" {
		d.Replicas = splitHosts(list)
	} else {
		for i := range d.Replicas {
			d.Replicas[i] = Getenv(fmt.Sprintf("DB_HOST_READ_%d", i+1), d.Replicas[i])
		}
	}

	d.MaxConns = int32(GetenvInt("DB_MAX_CONNS", int(d.MaxConns)))
	d.ConnectTimeout = GetenvDuration("DB_CONNECT_TIMEOUT", d.ConnectTimeout)
	d.InitRetries = GetenvInt("DB_INIT_RETRIES", d.InitRetries)
	d.InitDelay = GetenvDuration("DB_INIT_DELAY", d.InitDelay)
	d.ProbeTimeout = GetenvDuration("DB_PROBE_TIMEOUT", d.ProbeTimeout)
}

func (c Config) Validate() error {
	if c.Database.Primary == "" {
		return fmt.Errorf("config: primary database host is required")
	}
	if len(c.Database.Replicas) == 0 {
		return fmt.Errorf("config: at least one replica host is required")
	}
	for i, h := range c.Database.Replicas {
		if h == "" {
			return fmt.Errorf("config: replica %d has an empty host", i+1)
		}
	}
	if c.Database.InitRetries < 1 {
		return fmt.Errorf("config: init_retries must be >= 1, got %d", c.Database.InitRetries)
	}
	return nil
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func getenvFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}
