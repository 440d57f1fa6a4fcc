package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Model   ModelConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Debug       bool
	RunMain     bool
	MaxInFlight int
}

type OllamaConfig struct {
	BaseURL string
}

type ModelConfig struct {
	Name string
}

type StorageConfig struct {
	Journal bool
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5000,
			MaxInFlight: 1,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Model: ModelConfig{
			Name: "medllama2",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in layers: defaults, then the TOML file at
// $MEDCHAT_CONFIG (or $XDG_CONFIG_HOME/medchat/config.toml), then a .env file
// in the working directory, then MEDCHAT_* environment variables.
// Variables from .env never override ones already set in the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxInFlight < 1 {
		return fmt.Errorf("invalid config: server.max_inflight must be at least 1, got %d", c.Server.MaxInFlight)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return fmt.Errorf("invalid config: model.name is empty")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ShouldLoadModel reports whether this process owns the model. In debug mode
// only the process flagged with run_main loads it.
func (c Config) ShouldLoadModel() bool {
	return !c.Server.Debug || c.Server.RunMain
}

// LogLevel maps log.level to a slog level. Debug mode forces debug logging.
func (c Config) LogLevel() slog.Level {
	if c.Server.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
