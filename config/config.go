// Package config provides configuration management for the RDP proxy.
// This package supports loading configuration from multiple sources:
//   - JSON and YAML files
//   - Environment variables
//   - Default values
//
// The configuration covers the outer, operator-facing surface of the
// proxy (listen/target addressing, credential substitution, recording
// sinks, relay policy and logging), while the protocol engine itself is
// configured programmatically through mitm.Options.
//
// Example usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Proxy.TargetAddress = "192.168.1.100:3389"
//
//	// Or load from file
//	cfg, err := config.LoadFromFile("proxy.yaml")
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete proxy configuration.
type Config struct {
	// Proxy addressing and identity
	Proxy ProxyConfig `json:"proxy" yaml:"proxy"`

	// Target connection settings
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Credential substitution toward the target
	Authentication AuthConfig `json:"authentication" yaml:"authentication"`

	// Virtual channel relay policy
	Channels ChannelConfig `json:"channels" yaml:"channels"`

	// Logging settings
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ProxyConfig contains the settings that drive the MITM listener: where
// it accepts victim connections, which real server each accepted
// connection is paired with, the identity it presents to victims, and
// where the session transcripts go.
type ProxyConfig struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	TargetAddress string `json:"target_address" yaml:"target_address"`

	// IdentityCommonName is the subject common name of the self-signed
	// TLS certificate the proxy presents to every victim in place of the
	// real target's; the RSA key pair is generated independently of it.
	IdentityCommonName string `json:"identity_common_name" yaml:"identity_common_name"`

	// RecordingDir is where each session's transcript file is written,
	// named <session-id>.rdpcap. Empty disables file recording.
	RecordingDir string `json:"recording_dir" yaml:"recording_dir"`

	// LiveViewAddress, if set, serves a websocket endpoint every session's
	// transcript is additionally mirrored to, for real-time viewing.
	LiveViewAddress string `json:"live_view_address" yaml:"live_view_address"`
}

// ConnectionConfig tunes the proxy's outbound connection to the target.
// ConnectTimeout bounds the dial; KeepAlive and KeepAlivePeriod are not
// applied to the connection.
type ConnectionConfig struct {
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	KeepAlive       bool          `json:"keep_alive" yaml:"keep_alive"`
	KeepAlivePeriod time.Duration `json:"keep_alive_period" yaml:"keep_alive_period"`
}

// AuthConfig configures credential substitution: when Substitute is set,
// the proxy authenticates to the target with these credentials instead of
// whatever the victim typed (which is still captured in the transcript).
type AuthConfig struct {
	Substitute bool   `json:"substitute" yaml:"substitute"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	Domain     string `json:"domain" yaml:"domain"`
}

// ChannelConfig holds per-channel switches for the static virtual
// channels. The session does not consult them: which channels are
// bridged depends only on what the victim requests and the target joins.
type ChannelConfig struct {
	Clipboard bool     `json:"clipboard" yaml:"clipboard"`
	Audio     bool     `json:"audio" yaml:"audio"`
	Device    bool     `json:"device" yaml:"device"`
	Extra     []string `json:"extra" yaml:"extra"`
}

// LoggingConfig controls both the printf tracing and the structured
// event stream.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file" yaml:"file"`
}

// DefaultConfig returns a configuration that listens on the standard RDP
// port and records to ./recordings; the target address must be supplied
// by the operator.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenAddress:      ":3389",
			IdentityCommonName: "localhost",
			RecordingDir:       "./recordings",
		},
		Connection: ConnectionConfig{
			ConnectTimeout:  10 * time.Second,
			KeepAlive:       true,
			KeepAlivePeriod: 30 * time.Second,
		},
		Channels: ChannelConfig{
			Clipboard: true,
			Audio:     true,
			Device:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, layered over
// the defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	if strings.HasSuffix(filename, ".json") {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	} else {
		return nil, fmt.Errorf("unsupported config file format")
	}

	return config, nil
}

// LoadFromEnvironment loads configuration from environment variables,
// layered over the defaults.
func LoadFromEnvironment() *Config {
	config := DefaultConfig()

	if addr := os.Getenv("RDPMITM_LISTEN"); addr != "" {
		config.Proxy.ListenAddress = addr
	}
	if addr := os.Getenv("RDPMITM_TARGET"); addr != "" {
		config.Proxy.TargetAddress = addr
	}
	if dir := os.Getenv("RDPMITM_RECORDING_DIR"); dir != "" {
		config.Proxy.RecordingDir = dir
	}
	if addr := os.Getenv("RDPMITM_LIVE_VIEW"); addr != "" {
		config.Proxy.LiveViewAddress = addr
	}
	if timeout := os.Getenv("RDPMITM_CONNECT_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Connection.ConnectTimeout = t
		}
	}
	if username := os.Getenv("RDPMITM_USERNAME"); username != "" {
		config.Authentication.Substitute = true
		config.Authentication.Username = username
	}
	if password := os.Getenv("RDPMITM_PASSWORD"); password != "" {
		config.Authentication.Password = password
	}
	if domain := os.Getenv("RDPMITM_DOMAIN"); domain != "" {
		config.Authentication.Domain = domain
	}
	if level := os.Getenv("RDPMITM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	return config
}

// Merge overlays another configuration's non-zero string and duration
// values onto this one, and its whole Authentication section when
// Substitute is set. Boolean switches (KeepAlive, Channels.*) and
// Channels.Extra are not merged.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Proxy.ListenAddress != "" {
		c.Proxy.ListenAddress = other.Proxy.ListenAddress
	}
	if other.Proxy.TargetAddress != "" {
		c.Proxy.TargetAddress = other.Proxy.TargetAddress
	}
	if other.Proxy.RecordingDir != "" {
		c.Proxy.RecordingDir = other.Proxy.RecordingDir
	}
	if other.Proxy.LiveViewAddress != "" {
		c.Proxy.LiveViewAddress = other.Proxy.LiveViewAddress
	}
	if other.Proxy.IdentityCommonName != "" {
		c.Proxy.IdentityCommonName = other.Proxy.IdentityCommonName
	}
	if other.Connection.ConnectTimeout != 0 {
		c.Connection.ConnectTimeout = other.Connection.ConnectTimeout
	}
	if other.Connection.KeepAlivePeriod != 0 {
		c.Connection.KeepAlivePeriod = other.Connection.KeepAlivePeriod
	}
	if other.Authentication.Substitute {
		c.Authentication = other.Authentication
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
}

// Validate checks the configuration for the mistakes an operator can
// actually make.
func (c *Config) Validate() error {
	if c.Proxy.ListenAddress == "" {
		return fmt.Errorf("proxy.listen_address is required")
	}
	if c.Proxy.TargetAddress == "" {
		return fmt.Errorf("proxy.target_address is required")
	}
	if c.Authentication.Substitute && c.Authentication.Username == "" {
		return fmt.Errorf("authentication.username is required when substitution is enabled")
	}
	if c.Connection.ConnectTimeout < 0 {
		return fmt.Errorf("connection.connect_timeout must not be negative")
	}
	return nil
}

// ToMap converts the configuration to a map for dotted-path access.
func (c *Config) ToMap() map[string]interface{} {
	data, _ := json.Marshal(c)
	var result map[string]interface{}
	json.Unmarshal(data, &result)
	return result
}

// GetString returns a string value from the configuration by dotted path,
// e.g. "proxy.target_address".
func (c *Config) GetString(path string) (string, error) {
	parts := strings.Split(path, ".")
	current := c.ToMap()

	for i, part := range parts {
		if i == len(parts)-1 {
			if val, ok := current[part].(string); ok {
				return val, nil
			}
			return "", fmt.Errorf("path %s does not point to a string value", path)
		}

		if next, ok := current[part].(map[string]interface{}); ok {
			current = next
		} else {
			return "", fmt.Errorf("invalid path: %s", path)
		}
	}

	return "", fmt.Errorf("path not found: %s", path)
}

// GetInt returns an integer value from the configuration by dotted path.
func (c *Config) GetInt(path string) (int, error) {
	parts := strings.Split(path, ".")
	current := c.ToMap()

	for i, part := range parts {
		if i == len(parts)-1 {
			if val, ok := current[part].(float64); ok {
				return int(val), nil
			}
			return 0, fmt.Errorf("path %s does not point to a numeric value", path)
		}

		if next, ok := current[part].(map[string]interface{}); ok {
			current = next
		} else {
			return 0, fmt.Errorf("invalid path: %s", path)
		}
	}

	return 0, fmt.Errorf("path not found: %s", path)
}

// GetBool returns a boolean value from the configuration by dotted path.
func (c *Config) GetBool(path string) (bool, error) {
	parts := strings.Split(path, ".")
	current := c.ToMap()

	for i, part := range parts {
		if i == len(parts)-1 {
			if val, ok := current[part].(bool); ok {
				return val, nil
			}
			return false, fmt.Errorf("path %s does not point to a boolean value", path)
		}

		if next, ok := current[part].(map[string]interface{}); ok {
			current = next
		} else {
			return false, fmt.Errorf("invalid path: %s", path)
		}
	}

	return false, fmt.Errorf("path not found: %s", path)
}
