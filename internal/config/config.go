package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bench       BenchConfig       `mapstructure:"bench" yaml:"bench"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Ports       []PortConfig      `mapstructure:"ports" yaml:"ports"`
	Channels    []ChannelConfig   `mapstructure:"channels" yaml:"channels"`
	RunLog      RunLogConfig      `mapstructure:"runlog" yaml:"runlog"`
	Monitor     MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	Script      ScriptConfig      `mapstructure:"script" yaml:"script"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	MQTT        MQTTConfig        `mapstructure:"mqtt" yaml:"mqtt"`
}

type BenchConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" yaml:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type GatewayConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	Port            int           `mapstructure:"port" yaml:"port"`
	UnitID          int           `mapstructure:"unit_id" yaml:"unit_id"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff" yaml:"connect_backoff"`
	ReadRetries     int           `mapstructure:"read_retries" yaml:"read_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// PortConfig bindet ein Modul direkt an einen Master-Port (X01..X08).
type PortConfig struct {
	Port   int    `mapstructure:"port" yaml:"port"`
	Module string `mapstructure:"module" yaml:"module"`
	Alias  string `mapstructure:"alias" yaml:"alias"`
}

// ChannelConfig bindet ein Analogmodul an einen Hub-Kanal (X1.0..X1.7).
type ChannelConfig struct {
	Channel int    `mapstructure:"channel" yaml:"channel"`
	Module  string `mapstructure:"module" yaml:"module"`
	Alias   string `mapstructure:"alias" yaml:"alias"`
}

type RunLogConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type ScriptConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type CalibrationConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
}

type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker    string `mapstructure:"broker" yaml:"broker"`
	Port      int    `mapstructure:"port" yaml:"port"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	UseTLS    bool   `mapstructure:"use_tls" yaml:"use_tls"`
	RootTopic string `mapstructure:"root_topic" yaml:"root_topic"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults setzen
	v.SetDefault("bench.name", "bench")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("gateway.port", 502)
	v.SetDefault("gateway.unit_id", 1)
	v.SetDefault("gateway.timeout", "3s")
	v.SetDefault("gateway.connect_attempts", 4)
	v.SetDefault("gateway.connect_backoff", "500ms")
	v.SetDefault("gateway.read_retries", 3)
	v.SetDefault("gateway.retry_delay", "150ms")
	v.SetDefault("runlog.dir", "runlogs")
	v.SetDefault("runlog.interval", "250ms")
	v.SetDefault("monitor.interval", "2s")
	v.SetDefault("script.path", "")
	v.SetDefault("calibration.path", "calibration.json")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "benchlink")
	v.SetDefault("database.user", "benchlink")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "benchlink")
	v.SetDefault("mqtt.root_topic", "benchlink")

	// Environment Variables mit Prefix BENCH_, Punkte werden Unterstriche
	// (BENCH_SCRIPT_PATH, BENCH_CALIBRATION_PATH, BENCH_GATEWAY_ADDRESS)
	v.SetEnvPrefix("BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate prüft die Verdrahtung: Ports im Bereich des Masters, Kanäle im
// Bereich des Hubs, Aliasse eindeutig.
func (c *Config) Validate() error {
	seenPorts := make(map[int]string)
	seenAliases := make(map[string]bool)

	for _, p := range c.Ports {
		if p.Port < 1 || p.Port > 8 {
			return fmt.Errorf("port %d outside 1..8 (module %s)", p.Port, p.Module)
		}
		if p.Module == "" {
			return fmt.Errorf("port %d has no module", p.Port)
		}
		if prev, dup := seenPorts[p.Port]; dup {
			return fmt.Errorf("port %d assigned twice (%s and %s)", p.Port, prev, p.Module)
		}
		seenPorts[p.Port] = p.Module
		if p.Alias != "" {
			if seenAliases[p.Alias] {
				return fmt.Errorf("alias %q assigned twice", p.Alias)
			}
			seenAliases[p.Alias] = true
		}
	}

	seenChannels := make(map[int]string)
	for _, ch := range c.Channels {
		if ch.Channel < 0 || ch.Channel > 7 {
			return fmt.Errorf("hub channel %d outside 0..7 (module %s)", ch.Channel, ch.Module)
		}
		if ch.Module == "" {
			return fmt.Errorf("hub channel %d has no module", ch.Channel)
		}
		if prev, dup := seenChannels[ch.Channel]; dup {
			return fmt.Errorf("hub channel %d assigned twice (%s and %s)", ch.Channel, prev, ch.Module)
		}
		seenChannels[ch.Channel] = ch.Module
		if ch.Alias != "" {
			if seenAliases[ch.Alias] {
				return fmt.Errorf("alias %q assigned twice", ch.Alias)
			}
			seenAliases[ch.Alias] = true
		}
	}

	return nil
}

// WriteDefault schreibt eine Startkonfiguration, wenn noch keine existiert.
func WriteDefault(path string) error {
	cfg, err := Load("")
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
