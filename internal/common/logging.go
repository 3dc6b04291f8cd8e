package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu  sync.Mutex
	logger = log.New(os.Stderr, "[dlt2log] ", log.LstdFlags|log.Lmicroseconds)
	// rotator is the active log file, if any, so it can be closed on exit.
	rotator *lumberjack.Logger
)

// LogConfig controls the rotating diagnostic log file. An empty Directory
// keeps logging on stderr only.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	FileName   string `yaml:"fileName"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// ApplyDefaults fills zero values with the rotation limits used by both
// binaries.
func (c *LogConfig) ApplyDefaults(fileName string) {
	if c.FileName == "" {
		c.FileName = fileName
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 25
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 7
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
}

// SetupLogging tees the package logger into a lumberjack-rotated file under
// cfg.Directory while still writing to console.
func SetupLogging(console io.Writer, cfg LogConfig) error {
	if console == nil {
		console = os.Stderr
	}
	logMu.Lock()
	defer logMu.Unlock()
	if cfg.Directory == "" {
		logger.SetOutput(console)
		return nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if rotator != nil {
		rotator.Close()
	}
	rotator = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, cfg.FileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	out := io.MultiWriter(console, rotator)
	logger.SetOutput(out)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

// CloseLogging flushes and closes the rotating log file, if one is open.
func CloseLogging() error {
	logMu.Lock()
	defer logMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	logger.SetOutput(os.Stderr)
	log.SetOutput(os.Stderr)
	return err
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
