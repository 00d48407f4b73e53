package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "LOQA_TTS_"

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	StdoutTraces bool   `yaml:"stdout_traces" env:"STDOUT_TRACES"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" env:"BIND"`
	Port int    `yaml:"port" env:"PORT"`
}

// ModelsConfig controls the startup scan of voice model directories.
type ModelsConfig struct {
	Directory       string `yaml:"directory" env:"DIRECTORY"`
	DefaultVoice    string `yaml:"default_voice" env:"DEFAULT_VOICE"`
	Engine          string `yaml:"engine" env:"ENGINE"` // sherpa, exec, mock
	Command         string `yaml:"command" env:"COMMAND"`
	NumThreads      int    `yaml:"num_threads" env:"NUM_THREADS"`
	Debug           bool   `yaml:"debug" env:"DEBUG"`
	Provider        string `yaml:"provider" env:"PROVIDER"`
	MaxNumSentences int    `yaml:"max_num_sentences" env:"MAX_NUM_SENTENCES"`
}

type SynthesisConfig struct {
	CacheSize    int     `yaml:"cache_size" env:"CACHE_SIZE"`
	DefaultSpeed float32 `yaml:"default_speed" env:"DEFAULT_SPEED"`
	// MaxTextLength of zero disables the limit.
	MaxTextLength int `yaml:"max_text_length" env:"MAX_TEXT_LENGTH"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" env:"ENABLED"`
	Embedded       bool     `yaml:"embedded" env:"EMBEDDED"`
	Port           int      `yaml:"port" env:"PORT"`
	StoreDir       string   `yaml:"store_dir" env:"STORE_DIR"`
	Servers        []string `yaml:"servers" env:"SERVERS" envSeparator:","`
	Username       string   `yaml:"username" env:"USERNAME"`
	Password       string   `yaml:"password" env:"PASSWORD"`
	Token          string   `yaml:"token" env:"TOKEN"`
	TLSInsecure    bool     `yaml:"tls_insecure" env:"TLS_INSECURE"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
	RequestTimeout int      `yaml:"request_timeout_ms" env:"REQUEST_TIMEOUT_MS"`
}

type NodeConfig struct {
	ID                string `yaml:"id" env:"ID"`
	Role              string `yaml:"role" env:"ROLE"`
	Tier              string `yaml:"tier" env:"TIER"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms" env:"HEARTBEAT_INTERVAL_MS"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms" env:"HEARTBEAT_TIMEOUT_MS"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	Path          string `yaml:"path" env:"PATH"`
	RetentionMode string `yaml:"retention_mode" env:"RETENTION_MODE"`
	RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
	MaxRecords    int    `yaml:"max_records" env:"MAX_RECORDS"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" env:"VACUUM_ON_START"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name" env:"RUNTIME_NAME"`
	Environment string          `yaml:"environment" env:"ENVIRONMENT"`
	HTTP        HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Telemetry   TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Models      ModelsConfig    `yaml:"models" envPrefix:"MODELS_"`
	Synthesis   SynthesisConfig `yaml:"synthesis" envPrefix:"SYNTHESIS_"`
	Bus         BusConfig       `yaml:"bus" envPrefix:"BUS_"`
	Node        NodeConfig      `yaml:"node" envPrefix:"NODE_"`
	History     HistoryConfig   `yaml:"history" envPrefix:"HISTORY_"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Models: ModelsConfig{
			Directory:       "./models",
			DefaultVoice:    "kokoro-en-v0_19",
			Engine:          "sherpa",
			NumThreads:      2,
			Provider:        "cpu",
			MaxNumSentences: 1,
		},
		Synthesis: SynthesisConfig{
			CacheSize:     0,
			DefaultSpeed:  1.0,
			MaxTextLength: 4096,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestTimeout: 45000,
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			Tier:              "balanced",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/loqa-tts-history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
	}
}

// Load reads path over Default, applies LOQA_TTS_ environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	var servers []string
	for _, s := range cfg.Bus.Servers {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	cfg.Bus.Servers = servers
	cfg.Telemetry.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Telemetry.LogLevel))
	cfg.Models.Engine = strings.ToLower(strings.TrimSpace(cfg.Models.Engine))
	if cfg.Models.MaxNumSentences == 0 {
		cfg.Models.MaxNumSentences = 1
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Models.Directory == "" {
		return errors.New("models.directory must not be empty")
	}
	switch cfg.Models.Engine {
	case "sherpa", "mock":
	case "exec":
		if strings.TrimSpace(cfg.Models.Command) == "" {
			return errors.New("models.command must be set when engine=exec")
		}
	default:
		return errors.New("models.engine must be one of sherpa|exec|mock")
	}
	if cfg.Models.NumThreads <= 0 {
		return errors.New("models.num_threads must be positive")
	}
	if cfg.Models.MaxNumSentences < 0 {
		return errors.New("models.max_num_sentences must be positive")
	}
	if cfg.Synthesis.CacheSize < 0 {
		return errors.New("synthesis.cache_size must be >= 0")
	}
	if cfg.Synthesis.DefaultSpeed <= 0 {
		return errors.New("synthesis.default_speed must be positive")
	}
	if cfg.Synthesis.MaxTextLength < 0 {
		return errors.New("synthesis.max_text_length must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty")
		}
		switch cfg.History.RetentionMode {
		case "ephemeral", "persistent":
		default:
			return errors.New("history.retention_mode must be one of ephemeral|persistent")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	return nil
}
