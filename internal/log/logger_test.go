package log

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"countryball/internal/config"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug"}, "test")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Errorf("expected debug level to be enabled")
	}
	_ = logger.Sync()
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud"}, "test"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewLogger_JSONEncoding(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Encoding: "json", OutputPaths: []string{"stderr"}}, "production")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Errorf("info should be disabled at warn level")
	}
}

func TestBuildConfig_EnvironmentPresets(t *testing.T) {
	prod, err := buildConfig(config.LoggingConfig{Level: "info"}, "production")
	if err != nil {
		t.Fatalf("buildConfig returned error: %v", err)
	}
	if prod.Encoding != "json" {
		t.Errorf("production without explicit encoding should log json, got %s", prod.Encoding)
	}
	if prod.Sampling == nil {
		t.Errorf("production preset should keep sampling")
	}
	if prod.InitialFields["environment"] != "production" {
		t.Errorf("missing environment field: %v", prod.InitialFields)
	}

	dev, err := buildConfig(config.LoggingConfig{Level: "debug", Development: true, OutputPaths: []string{"stderr"}}, "development")
	if err != nil {
		t.Fatalf("buildConfig returned error: %v", err)
	}
	if dev.Encoding != "console" || dev.Sampling != nil || !dev.Development {
		t.Errorf("unexpected development config: encoding=%s sampling=%v", dev.Encoding, dev.Sampling)
	}
	if len(dev.OutputPaths) != 1 || dev.OutputPaths[0] != "stderr" {
		t.Errorf("output paths not applied: %v", dev.OutputPaths)
	}

	explicit, err := buildConfig(config.LoggingConfig{Level: "info", Encoding: "Console"}, "production")
	if err != nil {
		t.Fatalf("buildConfig returned error: %v", err)
	}
	if explicit.Encoding != "console" {
		t.Errorf("explicit encoding must win, got %s", explicit.Encoding)
	}
}
