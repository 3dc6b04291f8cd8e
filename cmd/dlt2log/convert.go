package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/config"
	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
	"github.com/johnny1995johnny1995/dlt2log/internal/report"
)

// convertJob is one input file and where its text and reports go.
type convertJob struct {
	input   string
	output  string
	cfg     config.Config
	verbose bool
	metrics *common.Metrics
	// jsonPath and pdfPath override the summary locations derived from cfg.
	jsonPath string
	pdfPath  string
	history  *common.RunLog
}

// outputFor derives the text path for input: the configured extension,
// under cfg.Output.Dir when set, with .zst appended when compressing.
func outputFor(input string, cfg config.Config) string {
	out := common.OutputPath(input, cfg.Output.Extension)
	if cfg.Output.Dir != "" {
		out = filepath.Join(cfg.Output.Dir, filepath.Base(out))
	}
	if cfg.Output.Compress && !strings.HasSuffix(out, common.ZstdExtension) {
		out += common.ZstdExtension
	}
	return out
}

func summaryPath(output, ext string) string {
	return strings.TrimSuffix(output, common.ZstdExtension) + ".summary" + ext
}

// isGeneratedOutput reports whether path looks like something this tool
// writes: converted text, a run summary, the batch summary or the history.
// Broad watch and batch patterns skip these so outputs are never re-read as
// captures.
func isGeneratedOutput(path string, cfg config.Config) bool {
	if cfg.Report.History != "" && filepath.Clean(path) == filepath.Clean(cfg.Report.History) {
		return true
	}
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), common.ZstdExtension))
	if name == batchSummaryName {
		return true
	}
	if ext := strings.ToLower(cfg.Output.Extension); ext != "" && strings.HasSuffix(name, ext) {
		return true
	}
	return strings.HasSuffix(name, ".summary.json") || strings.HasSuffix(name, ".summary.pdf")
}

// baseFromModTime converts a modification time to epoch microseconds.
func baseFromModTime(t time.Time) uint64 {
	us := t.UnixMicro()
	if us <= 0 {
		return 0
	}
	return uint64(us)
}

// convertFile converts one file. The summary is filled whenever the input
// could be opened; a decoding failure is returned as a *dlt.FrameError after
// the text before it has been written.
func convertFile(job convertJob) (report.Summary, error) {
	in, err := common.OpenInput(job.input)
	if err != nil {
		return report.Summary{Input: job.input}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()
	output := job.output
	if output == "" {
		output = outputFor(job.input, job.cfg)
	}
	out, err := common.CreateOutput(output, job.cfg.Output.Compress)
	if err != nil {
		return report.Summary{Input: job.input}, fmt.Errorf("create output: %w", err)
	}
	var base uint64
	if job.cfg.ModTimeBase() {
		base = baseFromModTime(in.ModTime)
	}
	collector := report.NewCollector(job.input, output)
	n, convErr := dlt.Convert(in, out, dlt.Options{
		BaseTimestampUs:       base,
		RewindOnMagicMismatch: job.cfg.StorageHeader.RewindOnMismatch,
		Verbose:               job.verbose,
		Metrics:               job.metrics,
		OnRecord:              collector.Observe,
	})
	if err := out.Close(); err != nil && convErr == nil {
		convErr = fmt.Errorf("close output: %w", err)
	}
	sum := collector.Finish(n, convErr)
	sum.BaseTimestampUs = base
	sum.OutputSHA256 = out.Sum()
	if digest, _, err := common.Sha256OfFile(job.input); err == nil {
		sum.InputSHA256 = digest
	}
	if err := writeReports(job, sum); err != nil {
		return sum, err
	}
	if job.history != nil {
		entry := common.RunEntry{
			RunID:  sum.RunID,
			Input:  sum.Input,
			Output: sum.Output,
			Frames: sum.Frames,
			Error:  sum.Error,
		}
		if err := job.history.Append(entry); err != nil {
			common.Logf("history append: %v", err)
		}
	}
	return sum, convErr
}

func writeReports(job convertJob, sum report.Summary) error {
	jsonPath := job.jsonPath
	if jsonPath == "" && job.cfg.Report.JSON {
		jsonPath = summaryPath(sum.Output, ".json")
	}
	if jsonPath != "" {
		if err := report.SaveJSON(sum, jsonPath); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	pdfPath := job.pdfPath
	if pdfPath == "" && job.cfg.Report.PDF {
		pdfPath = summaryPath(sum.Output, ".pdf")
	}
	if pdfPath != "" {
		if err := report.SavePDF(sum, pdfPath); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	return nil
}

func historyFor(cfg config.Config) *common.RunLog {
	if cfg.Report.History == "" {
		return nil
	}
	return common.NewRunLog(cfg.Report.History)
}

func convertCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	in := fs.String("in", "", "input .dlt file (.dlt.zst is inflated)")
	out := fs.String("out", "", "output text file (default: input with .log extension)")
	configPath := fs.String("config", "", "YAML configuration file")
	verboseFlag := fs.Bool("verbose", false, "log every frame and its offset")
	progressFlag := fs.Bool("progress", false, "display conversion progress updates")
	metricsFlag := fs.Bool("metrics", false, "print conversion throughput metrics")
	reportPath := fs.String("report", "", "write a JSON conversion summary")
	pdfPath := fs.String("pdf", "", "write a PDF conversion summary")
	noModTime := fs.Bool("no-mtime", false, "do not anchor relative timestamps to the input modification time")
	rewind := fs.Bool("rewind", false, "re-read the 4 bytes after a storage header magic mismatch")
	compress := fs.Bool("compress", false, "zstd-compress the output")
	strict := fs.Bool("strict", false, "exit non-zero when decoding stops early")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()
	if *noModTime {
		off := false
		cfg.Timestamps.UseModTime = &off
	}
	if *rewind {
		cfg.StorageHeader.RewindOnMismatch = true
	}
	if *compress {
		cfg.Output.Compress = true
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	sum, err := convertFile(convertJob{
		input:    *in,
		output:   *out,
		cfg:      cfg,
		verbose:  *verboseFlag,
		metrics:  metrics,
		jsonPath: *reportPath,
		pdfPath:  *pdfPath,
		history:  historyFor(cfg),
	})
	if stopProgress != nil {
		stopProgress()
	}
	var frameErr *dlt.FrameError
	if err != nil && !errors.As(err, &frameErr) {
		return err
	}
	fmt.Fprintf(stdout, "Successfully processed %d messages.\n", sum.Frames)
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Fprintf(stdout, "Metrics: duration=%s frames=%d legacy=%d extended=%d processed=%s throughput=%.2f MB/s (%.0f frames/s)\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Frames,
			snap.Legacy,
			snap.Extended,
			common.FormatBytes(snap.Bytes),
			snap.ThroughputBytesPerSecond()/1_000_000,
			snap.FramesPerSecond(),
		)
	}
	if frameErr != nil {
		fmt.Fprintf(os.Stderr, "stopped early: %v\n", frameErr)
		if *strict {
			return frameErr
		}
	}
	return nil
}
