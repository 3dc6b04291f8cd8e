package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/report"
	"github.com/johnny1995johnny1995/dlt2log/internal/watch"
)

const batchSummaryName = "batch-summary.json"

// batchInputs expands in, a directory or a glob, and returns the matches
// with the directory their relative output paths are computed from.
func batchInputs(in string) ([]string, string, error) {
	if info, err := os.Stat(in); err == nil && info.IsDir() {
		root := filepath.Clean(in)
		pattern := filepath.Join(root, "**", "*.{dlt,dlt.zst}")
		files, err := watch.Expand([]string{pattern})
		return files, root, err
	}
	base, _ := doublestar.SplitPattern(filepath.ToSlash(in))
	files, err := watch.Expand([]string{in})
	return files, filepath.FromSlash(base), err
}

type batchResult struct {
	sum report.Summary
	err error
}

func batchCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	in := fs.String("in", ".", "input directory or glob")
	outDir := fs.String("out-dir", "out", "results directory")
	configPath := fs.String("config", "", "YAML configuration file")
	jobs := fs.Int("jobs", runtime.NumCPU(), "files converted concurrently")
	summaryOut := fs.String("summary", "", "batch summary JSON (default: <out-dir>/batch-summary.json)")
	verboseFlag := fs.Bool("verbose", false, "log every frame and its offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()
	files, root, err := batchInputs(*in)
	if err != nil {
		return fmt.Errorf("expand inputs: %w", err)
	}
	files = slices.DeleteFunc(files, func(f string) bool { return isGeneratedOutput(f, cfg) })
	if len(files) == 0 {
		return fmt.Errorf("no inputs match %s", *in)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	if *jobs <= 0 {
		*jobs = 1
	}
	history := historyFor(cfg)

	results := make([]batchResult, len(files))
	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				input := files[i]
				rel, err := filepath.Rel(root, input)
				if err != nil {
					rel = filepath.Base(input)
				}
				jobCfg := cfg
				jobCfg.Output.Dir = ""
				output := outputFor(filepath.Join(*outDir, rel), jobCfg)
				sum, err := convertFile(convertJob{
					input:   input,
					output:  output,
					cfg:     cfg,
					verbose: *verboseFlag,
					history: history,
				})
				results[i] = batchResult{sum: sum, err: err}
			}
		}()
	}
	for i := range files {
		idx <- i
	}
	close(idx)
	wg.Wait()

	summaries := make([]report.Summary, 0, len(results))
	failed := 0
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tFRAMES\tRESULT")
	for _, res := range results {
		result := "ok"
		if res.err != nil {
			failed++
			result = res.err.Error()
			if res.sum.Error == "" {
				res.sum.Error = result
			}
		}
		summaries = append(summaries, res.sum)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", res.sum.Input, res.sum.Frames, result)
	}
	tw.Flush()

	path := *summaryOut
	if path == "" {
		path = filepath.Join(*outDir, batchSummaryName)
	}
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write batch summary: %w", err)
	}
	common.Logf("batch %s: %d files, %d failed", *in, len(files), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(files))
	}
	return nil
}
