package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
	"github.com/johnny1995johnny1995/dlt2log/internal/watch"
)

func watchCmd(args []string, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWatch(ctx, args, stdout)
}

// runWatch converts matching files as they settle until ctx is done.
func runWatch(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var patterns stringList
	fs.Var(&patterns, "pattern", "glob of files to convert, ** allowed (repeatable)")
	outDir := fs.String("out-dir", "", "results directory (default: next to each input; outputs are never re-converted)")
	configPath := fs.String("config", "", "YAML configuration file")
	settle := fs.Duration("settle", 0, "quiet period before a file is converted (default from config)")
	existing := fs.Bool("existing", false, "convert files that already match before watching")
	verboseFlag := fs.Bool("verbose", false, "log every frame and its offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()
	if len(patterns) == 0 {
		patterns = cfg.Watch.Patterns
	}
	if len(patterns) == 0 {
		return errors.New("required: --pattern")
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	quiet := cfg.Watch.Settle
	if *settle > 0 {
		quiet = *settle
	}
	history := historyFor(cfg)

	convert := func(path string) {
		if isGeneratedOutput(path, cfg) {
			return
		}
		sum, err := convertFile(convertJob{
			input:   path,
			cfg:     cfg,
			verbose: *verboseFlag,
			history: history,
		})
		var frameErr *dlt.FrameError
		switch {
		case err == nil:
			fmt.Fprintf(stdout, "%s: %d messages -> %s\n", path, sum.Frames, sum.Output)
		case errors.As(err, &frameErr):
			fmt.Fprintf(stdout, "%s: %d messages -> %s (stopped early: %v)\n", path, sum.Frames, sum.Output, frameErr)
		default:
			common.Logf("convert %s: %v", path, err)
		}
	}

	w, err := watch.New(patterns, quiet)
	if err != nil {
		return err
	}
	if *existing {
		files, err := watch.Expand(patterns)
		if err != nil {
			return err
		}
		for _, f := range files {
			convert(f)
		}
	}
	common.Logf("watching %v (settle %v)", []string(patterns), quiet.Round(time.Millisecond))
	if err := w.Run(ctx, convert); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
