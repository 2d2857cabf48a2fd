// Package config loads runtime configuration for a fabric node: flags
// and environment variables for the ambient concerns (data directory,
// logging), plus the IVR and SMS sections spec.md §6 describes as an
// INI-style file this repository validates but does not itself parse
// — the file grammar is an external collaborator, fed in here as a
// pre-parsed INIValues map when one is available.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// INIValues is the pre-parsed form of the IVR/SMS configuration file
// spec.md §6 describes (`[section]` blocks of `key = value` pairs).
// Parsing INI text into this shape is left to an external caller;
// Load only validates and applies the values found here.
type INIValues map[string]map[string]string

// Config holds all runtime configuration for a fabric node.
// Precedence: CLI flags > env vars > INIValues > defaults.
type Config struct {
	DataDir   string
	LogLevel  string
	LogFormat string

	// AdvertiseIP is the address this node hands to peers for FastAGI
	// and SMS callback traffic. Empty means auto-detect.
	AdvertiseIP string

	// IVR [general]
	FastAGIPort int
	DefaultTTS  string

	// IVR [incoming]
	IncomingEnabled bool

	// IVR [outgoing]
	OutgoingEnabled         bool
	OutgoingChannels        []string
	GatewayAddress          string
	LocalIntCode            string
	IntDialout              string
	Prefix                  string
	InternalExtensionLength int
	ManagerHost             string
	ManagerPort             int
	ManagerUsername         string
	ManagerSecret           string

	// IVR [speech-server]
	SpeechServerAddress string
	SpeechServerPort    int

	// SMS [receive]
	SMSReceiveEnabled bool
	SMSReceivePort    int

	// SMS [sendsms]
	SMSSendEnabled  bool
	SMSSendUsername string
	SMSSendPassword string
	SMSSendHost     string
	SMSSendPort     int
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultFastAGIPort    = 6500
	defaultTTS            = "flite"
	defaultManagerPort    = 5038
	defaultSMSReceivePort = 4500
	defaultSMSSendHost    = "127.0.0.1"
	defaultSMSSendPort    = 13013
)

// envPrefix is the prefix for all fabric environment variables.
const envPrefix = "MOBILIVR_"

// Load parses configuration from CLI flags and environment variables,
// layering any IVR/SMS values supplied via ini on top of the built-in
// defaults before flags/env are applied — CLI flags > env vars > ini
// > defaults.
func Load(args []string, ini INIValues) (*Config, error) {
	cfg := &Config{
		DataDir:        defaultDataDir,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		FastAGIPort:    defaultFastAGIPort,
		DefaultTTS:     defaultTTS,
		ManagerPort:    defaultManagerPort,
		SMSReceivePort: defaultSMSReceivePort,
		SMSSendHost:    defaultSMSSendHost,
		SMSSendPort:    defaultSMSSendPort,
	}
	applyINIOverrides(ini, cfg)

	fs := flag.NewFlagSet("fabric", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory for the call history database")
	fs.StringVar(&cfg.AdvertiseIP, "advertise-ip", cfg.AdvertiseIP, "IP address advertised to peer nodes for FastAGI/SMS callbacks (auto-detected if unset)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log output format (text, json)")
	fs.IntVar(&cfg.FastAGIPort, "fastagi-port", cfg.FastAGIPort, "FastAGI server listen port")
	fs.StringVar(&cfg.DefaultTTS, "default-tts", cfg.DefaultTTS, "default text-to-speech engine name")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyINIOverrides lays the IVR/SMS sections of a pre-parsed config
// file on top of cfg's built-in defaults.
func applyINIOverrides(ini INIValues, cfg *Config) {
	if ini == nil {
		return
	}

	if general, ok := ini["general"]; ok {
		if v, ok := general["fastagi_port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.FastAGIPort = n
			}
		}
		if v, ok := general["default_tts"]; ok && v != "" {
			cfg.DefaultTTS = v
		}
	}

	if incoming, ok := ini["incoming"]; ok {
		cfg.IncomingEnabled = parseBool(incoming["enabled"])
	}

	if outgoing, ok := ini["outgoing"]; ok {
		cfg.OutgoingEnabled = parseBool(outgoing["enabled"])
		if v := outgoing["channels"]; v != "" {
			cfg.OutgoingChannels = splitCommaList(v)
		}
		cfg.GatewayAddress = outgoing["gateway_address"]
		cfg.LocalIntCode = outgoing["local_int_code"]
		cfg.IntDialout = outgoing["int_dialout"]
		cfg.Prefix = outgoing["prefix"]
		if v, ok := outgoing["internal_extension_length"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.InternalExtensionLength = n
			}
		}
		cfg.ManagerHost = outgoing["host"]
		if v, ok := outgoing["port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.ManagerPort = n
			}
		}
		cfg.ManagerUsername = outgoing["username"]
		cfg.ManagerSecret = outgoing["secret"]
	}

	if speech, ok := ini["speech-server"]; ok {
		cfg.SpeechServerAddress = speech["speech_server_address"]
		if v, ok := speech["speech_server_port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.SpeechServerPort = n
			}
		}
	}

	if receive, ok := ini["receive"]; ok {
		cfg.SMSReceiveEnabled = parseBool(receive["enabled"])
		if v, ok := receive["port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.SMSReceivePort = n
			}
		}
	}

	if sendsms, ok := ini["sendsms"]; ok {
		cfg.SMSSendEnabled = parseBool(sendsms["enabled"])
		cfg.SMSSendUsername = sendsms["username"]
		cfg.SMSSendPassword = sendsms["password"]
		if v := sendsms["host"]; v != "" {
			cfg.SMSSendHost = v
		}
		if v, ok := sendsms["port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.SMSSendPort = n
			}
		}
	}
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnvOverrides checks environment variables for any flag that was
// not explicitly provided on the command line. This preserves the
// precedence: CLI flags > env vars > ini > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":     envPrefix + "DATA_DIR",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"fastagi-port": envPrefix + "FASTAGI_PORT",
		"default-tts":  envPrefix + "DEFAULT_TTS",
		"advertise-ip": envPrefix + "ADVERTISE_IP",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "fastagi-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.FastAGIPort = v
			}
		case "default-tts":
			cfg.DefaultTTS = val
		case "advertise-ip":
			cfg.AdvertiseIP = val
		}
	}
}

// ConfigError reports a configuration validation failure, naming the
// offending field the way a caller assembling a user-facing message
// would want (rather than a single opaque error string).
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.FastAGIPort < 1 || c.FastAGIPort > 65535 {
		return &ConfigError{Field: "fastagi-port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.FastAGIPort)}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return &ConfigError{Field: "log-level", Message: fmt.Sprintf("must be one of debug, info, warn, error; got %q", c.LogLevel)}
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return &ConfigError{Field: "log-format", Message: fmt.Sprintf("must be one of text, json; got %q", c.LogFormat)}
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.OutgoingEnabled && (c.ManagerPort < 1 || c.ManagerPort > 65535) {
		return &ConfigError{Field: "outgoing.port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.ManagerPort)}
	}
	if c.SMSReceiveEnabled && (c.SMSReceivePort < 1 || c.SMSReceivePort > 65535) {
		return &ConfigError{Field: "receive.port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.SMSReceivePort)}
	}
	if c.SMSSendEnabled && (c.SMSSendPort < 1 || c.SMSSendPort > 65535) {
		return &ConfigError{Field: "sendsms.port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.SMSSendPort)}
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log
// level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
