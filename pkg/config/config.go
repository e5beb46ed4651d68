// Package config provides the layered configuration a host process uses to
// wire up this library's engines: loaded from built-in defaults, then an
// optional JSON file, then environment variables, in that order, using
// github.com/knadh/koanf exactly as the teacher application does.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/Dash-Industry-Forum/css-sync/pkg/logging"
)

// EndpointConfig holds the handful of values a host process typically needs
// to override when it wires up a wall-clock server, a CII server and a TS
// server from this library.
type EndpointConfig struct {
	// WCPort is the UDP port the wall-clock server listens on.
	WCPort int `json:"wcport"`
	// WCRepeatIntervalMS is the wall-clock client's repeat interval, in
	// milliseconds: the delay between request/response exchanges, as in a
	// wcclient algorithm's RepeatInterval. No package in this module reads
	// it; it is carried for the host process.
	WCRepeatIntervalMS int `json:"wcrepeatintervalms"`
	// CIIMaxConnections caps concurrent CII client connections (<= 0 means
	// unlimited).
	CIIMaxConnections int `json:"ciimaxconnections"`
	// TSMaxConnections caps concurrent TS client connections (<= 0 means
	// unlimited).
	TSMaxConnections int `json:"tsmaxconnections"`
	// LogFormat is one of logging.LogFormats.
	LogFormat string `json:"logformat"`
	// LogLevel is one of logging.LogLevels.
	LogLevel string `json:"loglevel"`
}

// DefaultConfig is the built-in starting point for Load: UDP port
// 6677 per spec.md §6.1, unlimited CII/TS connections, text logging at INFO.
var DefaultConfig = EndpointConfig{
	WCPort:             6677,
	WCRepeatIntervalMS: 1000,
	CIIMaxConnections:  0,
	TSMaxConnections:   0,
	LogFormat:          logging.LogText,
	LogLevel:           "INFO",
}

// EnvPrefix is the prefix environment variables must carry to override
// configuration, e.g. CSS_SYNC_WCPORT=6678.
const EnvPrefix = "CSS_SYNC_"

// Load builds an EndpointConfig from DefaultConfig, optionally overlaid by
// the JSON file at cfgFile (skipped if cfgFile is empty), and finally
// overlaid by CSS_SYNC_-prefixed environment variables.
func Load(cfgFile string) (*EndpointConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", cfgFile, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg EndpointConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.LogLevel = level
	if !validLogFormat(cfg.LogFormat) {
		return nil, fmt.Errorf("config: log format %q not known", cfg.LogFormat)
	}

	return &cfg, nil
}

func validLogFormat(format string) bool {
	for _, f := range logging.LogFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Override applies a single key/value pair on top of an already-loaded
// configuration, useful for a host process that wants to set one value
// programmatically (e.g. a test picking an ephemeral port) without a file or
// environment variable. key uses the same dotted/lowercase field names as
// the JSON tags above (e.g. "wcport").
func Override(cfg *EndpointConfig, key string, value any) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(*cfg, "json"), nil); err != nil {
		return fmt.Errorf("config: loading current value: %w", err)
	}
	if err := k.Load(confmap.Provider(map[string]any{key: value}, "."), nil); err != nil {
		return fmt.Errorf("config: applying override: %w", err)
	}
	return k.Unmarshal("", cfg)
}
