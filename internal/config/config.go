package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
)

type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
	Compress  bool   `yaml:"compress"`
}

type StorageHeaderConfig struct {
	RewindOnMismatch bool `yaml:"rewindOnMismatch"`
}

type TimestampConfig struct {
	// UseModTime anchors relative timestamps to the input's modification
	// time. A pointer so an explicit false survives defaulting.
	UseModTime *bool `yaml:"useModTime"`
}

type ReportConfig struct {
	JSON    bool   `yaml:"json"`
	PDF     bool   `yaml:"pdf"`
	History string `yaml:"history"`
}

type WatchConfig struct {
	Patterns []string      `yaml:"patterns"`
	Settle   time.Duration `yaml:"settle"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	StorageDir  string `yaml:"storageDir"`
	MaxUploadMB int    `yaml:"maxUploadMB"`
	Concurrency int    `yaml:"concurrency"`
}

// Config is shared by dlt2log and dlt2logd.
type Config struct {
	Output        OutputConfig        `yaml:"output"`
	StorageHeader StorageHeaderConfig `yaml:"storageHeader"`
	Timestamps    TimestampConfig     `yaml:"timestamps"`
	Logs          common.LogConfig    `yaml:"logs"`
	Report        ReportConfig        `yaml:"report"`
	Watch         WatchConfig         `yaml:"watch"`
	Server        ServerConfig        `yaml:"server"`
}

// ModTimeBase reports whether relative timestamps are anchored to the input
// modification time.
func (c Config) ModTimeBase() bool {
	return c.Timestamps.UseModTime == nil || *c.Timestamps.UseModTime
}

// MaxUploadBytes converts the configured megabyte limit; zero keeps the
// server default.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Default is the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Output.Extension == "" {
		c.Output.Extension = ".log"
	}
	if !strings.HasPrefix(c.Output.Extension, ".") {
		c.Output.Extension = "." + c.Output.Extension
	}
	if c.Timestamps.UseModTime == nil {
		on := true
		c.Timestamps.UseModTime = &on
	}
	if c.Watch.Settle <= 0 {
		c.Watch.Settle = 2 * time.Second
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.StorageDir == "" {
		c.Server.StorageDir = filepath.Join(".", "data")
	}
	if c.Server.Concurrency <= 0 {
		c.Server.Concurrency = runtime.NumCPU()
	}
	if c.Logs.Directory == "" && c.Logs.FileName != "" {
		c.Logs.Directory = filepath.Join(c.Server.StorageDir, "logs")
	}
}

// Load reads a YAML config file. Relative paths in it are resolved against
// the file's directory. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Server.MaxUploadMB < 0 {
		return cfg, errors.New("server.maxUploadMB must not be negative")
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.Output.Dir = resolvePath(cfg.Output.Dir)
	cfg.Report.History = resolvePath(cfg.Report.History)
	cfg.Server.StorageDir = resolvePath(cfg.Server.StorageDir)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	for i, p := range cfg.Watch.Patterns {
		cfg.Watch.Patterns[i] = resolvePath(p)
	}
	cfg.applyDefaults()
	return cfg, nil
}
