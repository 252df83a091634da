package config

import (
	"encoding/hex"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
)

const seedBytes = 32

// Config represents the hostmeter configuration.
type Config struct {
	Calibration CalibrationConfig
	VM          VMConfig
	Budget      BudgetConfig
	Store       StoreConfig
	Server      ServerConfig
	CORS        CORSConfig
	Log         LogConfig
}

// CalibrationConfig controls the measurement sweep.
type CalibrationConfig struct {
	Seed        string   `env:"CALIBRATION_SEED"         envDefault:"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"`
	ScaleLevels int      `env:"CALIBRATION_SCALE_LEVELS" envDefault:"33"`
	Fit         bool     `env:"CALIBRATION_FIT"          envDefault:"true"`
	CostTypes   []string `env:"CALIBRATION_COST_TYPES"   envSeparator:","`
	Verbose     bool     `env:"CALIBRATION_VERBOSE"      envDefault:"false"`
}

// SeedBytes decodes the hex seed.
func (c CalibrationConfig) SeedBytes() ([seedBytes]byte, error) {
	var seed [seedBytes]byte

	raw, err := hex.DecodeString(c.Seed)
	if err != nil {
		return seed, fmt.Errorf("invalid calibration seed: %w", err)
	}
	if len(raw) != seedBytes {
		return seed, fmt.Errorf("calibration seed must be %d bytes, got %d", seedBytes, len(raw))
	}

	copy(seed[:], raw)
	return seed, nil
}

// VMConfig controls the wasm engine used by VM cost types.
type VMConfig struct {
	CompilationMode  string `env:"WASM_COMPILATION_MODE"   envDefault:"eager"`
	MemoryLimitPages uint32 `env:"WASM_MEMORY_LIMIT_PAGES" envDefault:"256"`
}

// BudgetConfig contains the default invocation limits.
type BudgetConfig struct {
	CPULimit        uint64 `env:"BUDGET_CPU_LIMIT" envDefault:"100000000"`
	MemLimit        uint64 `env:"BUDGET_MEM_LIMIT" envDefault:"41943040"`
	ProtocolVersion uint32 `env:"PROTOCOL_VERSION" envDefault:"22"`
}

// StoreConfig selects where calibrated params are persisted.
type StoreConfig struct {
	Backend     string `env:"STORE_BACKEND"      envDefault:"memory"`
	BoltPath    string `env:"STORE_BOLT_PATH"    envDefault:"hostmeter.db"`
	RedisAddr   string `env:"STORE_REDIS_ADDR"   envDefault:"localhost:6379"`
	RedisDB     int    `env:"STORE_REDIS_DB"     envDefault:"0"`
	RedisPrefix string `env:"STORE_REDIS_PREFIX" envDefault:"hostmeter"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"30"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL"       envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*CalibrationConfig
	*VMConfig
	*BudgetConfig
	*StoreConfig
	*ServerConfig
	*CORSConfig
	*LogConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Calibration,
		&cfg.VM,
		&cfg.Budget,
		&cfg.Store,
		&cfg.Server,
		&cfg.CORS,
		&cfg.Log,
	}
}
