package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	var err error
	switch cmd {
	case "convert":
		err = convertCmd(os.Args[2:], os.Stdout)
	case "batch":
		err = batchCmd(os.Args[2:], os.Stdout)
	case "watch":
		err = watchCmd(os.Args[2:], os.Stdout)
	case "report":
		err = reportCmd(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("dlt2log %s (built %s)\n", version, buildDate)
	default:
		usage()
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Println(cmd+":", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`dlt2log %s (built %s) <command> [options]

Commands:
  convert --in <file.dlt> [--out <file.log>] [--config <yaml>] [--verbose] [--progress] [--metrics] [--report <summary.json>] [--pdf <summary.pdf>] [--no-mtime] [--rewind] [--compress] [--strict]
  batch   --in <dir|glob> --out-dir <dir> [--config <yaml>] [--jobs <n>] [--summary <batch.json>] [--verbose]
  watch   --pattern <glob> [--pattern <glob>...] [--out-dir <dir>] [--config <yaml>] [--settle <duration>] [--existing]
  report  --summary <summary.json> [--pdf <out.pdf>] | --history <runs.jsonl>
  version
`, version, buildDate)
}

// loadConfig reads the optional config file and starts file logging when it
// asks for it. The returned func closes the log.
func loadConfig(path string) (config.Config, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, func() {}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Logs.Directory == "" {
		return cfg, func() {}, nil
	}
	cfg.Logs.ApplyDefaults("dlt2log.log")
	if err := common.SetupLogging(os.Stderr, cfg.Logs); err != nil {
		return cfg, func() {}, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, func() { common.CloseLogging() }, nil
}

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	return fmt.Sprint(*l)
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
