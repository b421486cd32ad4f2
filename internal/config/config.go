package config

import (
	"fmt"
	"time"

	"github.com/polarsystems/polarmanager/internal/logger"
	"github.com/spf13/viper"
)

// Defaults applied by Validate.
const (
	DefaultClientID         = "client-1"
	DefaultHTTPBind         = "127.0.0.1"
	DefaultHTTPPort         = 8765
	DefaultMaxServers       = 25
	DefaultTickInterval     = time.Second
	DefaultMaxRestartPerMin = 6
	DefaultPriority         = 50
	DefaultHealthTimeout    = 2 * time.Second
)

// DefaultLogKeywords flag a log line as important when no per-server list is
// configured.
var DefaultLogKeywords = []string{"ERROR", "FATAL", "panic", "Exception"}

// ServerConfig describes one managed server. It is immutable after load;
// the manager references it, never copies or mutates it.
type ServerConfig struct {
	ID      string            `toml:"id" mapstructure:"id"`
	Name    string            `toml:"name" mapstructure:"name"`
	WorkDir string            `toml:"workdir" mapstructure:"workdir"`
	Start   []string          `toml:"start_cmd" mapstructure:"start_cmd"`
	Stop    []string          `toml:"stop_cmd" mapstructure:"stop_cmd"`
	Env     map[string]string `toml:"env" mapstructure:"env"`

	RestartPolicy       string `toml:"restart_policy" mapstructure:"restart_policy"` // always | on-failure | never
	MaxRestartPerMinute int    `toml:"max_restart_per_minute" mapstructure:"max_restart_per_minute"`

	Priority int `toml:"priority" mapstructure:"priority"`

	HealthPort    int           `toml:"health_port" mapstructure:"health_port"` // 0 = no TCP check
	HealthHTTPURL string        `toml:"health_http_url" mapstructure:"health_http_url"`
	HealthTimeout time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`

	LogKeywords []string `toml:"log_important_keywords" mapstructure:"log_important_keywords"`
}

// RelayConfig configures the outbound event relay connection.
type RelayConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	URL     string `toml:"url" mapstructure:"url"`
	Token   string `toml:"token" mapstructure:"token"`
}

// Config is the top-level daemon configuration.
type Config struct {
	ClientID     string        `toml:"client_id" mapstructure:"client_id"`
	HTTPBind     string        `toml:"http_bind" mapstructure:"http_bind"`
	HTTPPort     int           `toml:"http_port" mapstructure:"http_port"`
	MaxServers   int           `toml:"max_servers" mapstructure:"max_servers"`
	SharedSecret string        `toml:"shared_secret" mapstructure:"shared_secret"`
	TickInterval time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`

	Log     logger.Config        `toml:"log" mapstructure:"log"`
	Capture logger.CaptureConfig `toml:"capture" mapstructure:"capture"`
	Relay   RelayConfig          `toml:"relay" mapstructure:"relay"`
	Servers []ServerConfig       `toml:"servers" mapstructure:"servers"`
}

// Load reads a TOML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate fills defaults and rejects configurations the supervisor could
// not run safely.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.HTTPBind == "" {
		c.HTTPBind = DefaultHTTPBind
	}
	if c.HTTPPort <= 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.MaxServers <= 0 {
		c.MaxServers = DefaultMaxServers
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay enabled but relay.url is empty")
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.ID == "" {
			return fmt.Errorf("servers[%d]: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Name == "" {
			s.Name = s.ID
		}
		if len(s.Start) == 0 {
			return fmt.Errorf("server %q: start_cmd is required", s.ID)
		}
		switch s.RestartPolicy {
		case "":
			s.RestartPolicy = "on-failure"
		case "always", "on-failure", "never":
		default:
			return fmt.Errorf("server %q: unknown restart_policy %q", s.ID, s.RestartPolicy)
		}
		if s.MaxRestartPerMinute <= 0 {
			s.MaxRestartPerMinute = DefaultMaxRestartPerMin
		}
		if s.Priority == 0 {
			s.Priority = DefaultPriority
		}
		if s.HealthTimeout <= 0 {
			s.HealthTimeout = DefaultHealthTimeout
		}
		if s.LogKeywords == nil {
			s.LogKeywords = append([]string(nil), DefaultLogKeywords...)
		}
	}
	return nil
}
