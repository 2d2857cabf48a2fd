package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"MOBILIVR_DATA_DIR", "MOBILIVR_LOG_LEVEL", "MOBILIVR_LOG_FORMAT",
		"MOBILIVR_FASTAGI_PORT", "MOBILIVR_DEFAULT_TTS", "MOBILIVR_ADVERTISE_IP",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.FastAGIPort != defaultFastAGIPort {
		t.Errorf("FastAGIPort = %d, want %d", cfg.FastAGIPort, defaultFastAGIPort)
	}
	if cfg.DefaultTTS != defaultTTS {
		t.Errorf("DefaultTTS = %q, want %q", cfg.DefaultTTS, defaultTTS)
	}
	if cfg.SMSSendHost != defaultSMSSendHost {
		t.Errorf("SMSSendHost = %q, want %q", cfg.SMSSendHost, defaultSMSSendHost)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOBILIVR_FASTAGI_PORT", "7000")
	t.Setenv("MOBILIVR_DATA_DIR", "/tmp/fabric-test")
	t.Setenv("MOBILIVR_LOG_LEVEL", "debug")

	cfg, err := Load(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FastAGIPort != 7000 {
		t.Errorf("FastAGIPort = %d, want 7000", cfg.FastAGIPort)
	}
	if cfg.DataDir != "/tmp/fabric-test" {
		t.Errorf("DataDir = %q, want /tmp/fabric-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOBILIVR_FASTAGI_PORT", "7000")
	t.Setenv("MOBILIVR_LOG_LEVEL", "debug")

	cfg, err := Load([]string{"--fastagi-port", "9000", "--log-level", "warn"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FastAGIPort != 9000 {
		t.Errorf("FastAGIPort = %d, want 9000 (CLI should override env)", cfg.FastAGIPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestINIOverridesApplyBelowFlagsAndEnv(t *testing.T) {
	clearEnv(t)
	ini := INIValues{
		"general": {"fastagi_port": "6600", "default_tts": "espeak"},
		"outgoing": {
			"enabled":  "true",
			"channels": "console, console2",
			"host":     "10.0.0.5",
			"port":     "5038",
		},
		"sendsms": {"enabled": "true", "username": "u", "password": "p", "host": "10.0.0.9", "port": "13013"},
	}

	cfg, err := Load(nil, ini)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FastAGIPort != 6600 {
		t.Errorf("FastAGIPort = %d, want 6600 from ini", cfg.FastAGIPort)
	}
	if cfg.DefaultTTS != "espeak" {
		t.Errorf("DefaultTTS = %q, want espeak from ini", cfg.DefaultTTS)
	}
	if !cfg.OutgoingEnabled || cfg.ManagerHost != "10.0.0.5" {
		t.Errorf("outgoing section not applied: %+v", cfg)
	}
	if len(cfg.OutgoingChannels) != 2 || cfg.OutgoingChannels[0] != "console" || cfg.OutgoingChannels[1] != "console2" {
		t.Errorf("OutgoingChannels = %v", cfg.OutgoingChannels)
	}
	if !cfg.SMSSendEnabled || cfg.SMSSendUsername != "u" {
		t.Errorf("sendsms section not applied: %+v", cfg)
	}

	// A CLI flag still wins over the ini value.
	cfg2, err := Load([]string{"--fastagi-port", "6700"}, ini)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg2.FastAGIPort != 6700 {
		t.Errorf("FastAGIPort = %d, want 6700 (flag should override ini)", cfg2.FastAGIPort)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	clearEnv(t)
	_, err := Load([]string{"--fastagi-port", "99999"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	_, err := Load([]string{"--log-level", "verbose"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateSMSSendPortOnlyCheckedWhenEnabled(t *testing.T) {
	clearEnv(t)
	ini := INIValues{"sendsms": {"enabled": "false", "port": "999999"}}
	if _, err := Load(nil, ini); err != nil {
		t.Fatalf("disabled sendsms section should not be validated: %v", err)
	}

	ini["sendsms"]["enabled"] = "true"
	if _, err := Load(nil, ini); err == nil {
		t.Fatal("expected error for invalid sendsms port once enabled")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
