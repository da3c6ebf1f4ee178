package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"familysite/internal/config"

	"github.com/sirupsen/logrus"
)

func TestNewLevelsAndFormats(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	cfg.Level = "debug"
	cfg.Format = "json"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter, got %T", logger.Formatter)
	}

	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	cfg.File = filepath.Join(t.TempDir(), "logs", "site.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	logger.WithField("component", "test").Info("hello from the log file")

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("Log file not written: %v", err)
	}
	if !strings.Contains(string(data), "hello from the log file") {
		t.Errorf("Log file missing entry: %s", data)
	}
}
