package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/config"
	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
	"github.com/johnny1995johnny1995/dlt2log/internal/report"
	"github.com/johnny1995johnny1995/dlt2log/internal/samples"
)

var captureLines = []string{
	"[1700000000250000][APP1 CTX1][INFO] engine start uint(3)",
	"[1700000000251000][DIAG DTC][WARN] coolant temp high sint(-4)",
	"[1700000000252000][NAV GPS][INFO] fix acquired",
}

func helloFrame(ts uint32) []byte {
	return samples.LegacyFrame{
		EcuID:       "ECU1",
		Timestamp:   samples.Uint32Ptr(ts),
		AppID:       "APP1",
		CtxID:       "CTX1",
		MessageInfo: samples.LevelInfo,
		Args:        [][]byte{samples.StringArg("hello", false)},
	}.Bytes()
}

func writeInput(t *testing.T, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	in, err := common.OpenInput(path)
	if err != nil {
		t.Fatalf("OpenInput %s: %v", path, err)
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestConvertCmdDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, filepath.Join(dir, "drive.dlt"), samples.BuildCapture())
	var stdout bytes.Buffer
	if err := convertCmd([]string{"--in", in}, &stdout); err != nil {
		t.Fatalf("convertCmd: %v", err)
	}
	if got := stdout.String(); got != "Successfully processed 3 messages.\n" {
		t.Fatalf("stdout = %q", got)
	}
	lines := readLines(t, filepath.Join(dir, "drive.log"))
	if !equalLines(lines, captureLines) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestConvertCmdModTimeBase(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, filepath.Join(dir, "boot.dlt"), helloFrame(300))
	mtime := time.Unix(1_600_000_000, 0)
	if err := os.Chtimes(in, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "anchored", args: nil, want: "[1600000000030000][APP1 CTX1][INFO] hello"},
		{name: "no-mtime", args: []string{"--no-mtime"}, want: "[0000000000030000][APP1 CTX1][INFO] hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "boot.log")
			args := append([]string{"--in", in, "--out", out}, tc.args...)
			if err := convertCmd(args, io.Discard); err != nil {
				t.Fatalf("convertCmd: %v", err)
			}
			lines := readLines(t, out)
			if len(lines) != 1 || lines[0] != tc.want {
				t.Fatalf("lines = %q, want %q", lines, tc.want)
			}
		})
	}
}

func TestConvertCmdReportsAndCompression(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, filepath.Join(dir, "drive.dlt"), samples.BuildCapture())
	out := filepath.Join(dir, "text", "drive.log.zst")
	summaryPath := filepath.Join(dir, "summary.json")
	pdfPath := filepath.Join(dir, "summary.pdf")
	args := []string{"--in", in, "--out", out, "--report", summaryPath, "--pdf", pdfPath, "--metrics"}
	var stdout bytes.Buffer
	if err := convertCmd(args, &stdout); err != nil {
		t.Fatalf("convertCmd: %v", err)
	}
	if !strings.Contains(stdout.String(), "Metrics: ") || !strings.Contains(stdout.String(), "frames=3 legacy=2 extended=1") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x28, 0xB5, 0x2F, 0xFD}) {
		t.Fatalf("output is not zstd framed: % x", raw[:4])
	}
	if lines := readLines(t, out); !equalLines(lines, captureLines) {
		t.Fatalf("lines = %q", lines)
	}
	sum, err := report.LoadJSON(summaryPath)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if sum.Frames != 3 || sum.Legacy != 2 || sum.Extended != 1 || !sum.OK() {
		t.Fatalf("summary = %+v", sum)
	}
	plain := []byte(strings.Join(captureLines, "\n") + "\n")
	h := common.NewHasher()
	h.Write(plain)
	if sum.OutputSHA256 != h.Sum() {
		t.Fatalf("output digest %s, want digest of plaintext %s", sum.OutputSHA256, h.Sum())
	}
	inDigest, _, err := common.Sha256OfFile(in)
	if err != nil {
		t.Fatalf("Sha256OfFile: %v", err)
	}
	if sum.InputSHA256 != inDigest {
		t.Fatalf("input digest %s, want %s", sum.InputSHA256, inDigest)
	}
	if info, err := os.Stat(pdfPath); err != nil || info.Size() == 0 {
		t.Fatalf("pdf not written: %v", err)
	}
}

func TestConvertCmdStopsEarly(t *testing.T) {
	dir := t.TempDir()
	first := helloFrame(1)
	in := writeInput(t, filepath.Join(dir, "cut.dlt"), append(append([]byte{}, first...), 0x00))
	out := filepath.Join(dir, "cut.log")

	var stdout bytes.Buffer
	if err := convertCmd([]string{"--in", in, "--out", out, "--no-mtime"}, &stdout); err != nil {
		t.Fatalf("convertCmd: %v", err)
	}
	if got := stdout.String(); got != "Successfully processed 1 messages.\n" {
		t.Fatalf("stdout = %q", got)
	}
	if lines := readLines(t, out); len(lines) != 1 {
		t.Fatalf("kept lines = %q", lines)
	}

	err := convertCmd([]string{"--in", in, "--out", out, "--strict"}, io.Discard)
	if !errors.Is(err, dlt.ErrUnknownVersion) {
		t.Fatalf("strict err = %v", err)
	}
}

func TestConvertCmdConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, filepath.Join(dir, "in", "drive.dlt"), samples.BuildCapture())
	cfgPath := filepath.Join(dir, "dlt2log.yaml")
	cfgBody := "output:\n  dir: text\n  extension: txt\nreport:\n  json: true\n  history: runs.jsonl\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := convertCmd([]string{"--in", in, "--config", cfgPath}, io.Discard); err != nil {
		t.Fatalf("convertCmd: %v", err)
	}
	out := filepath.Join(dir, "text", "drive.txt")
	if lines := readLines(t, out); !equalLines(lines, captureLines) {
		t.Fatalf("lines = %q", lines)
	}
	if _, err := report.LoadJSON(filepath.Join(dir, "text", "drive.txt.summary.json")); err != nil {
		t.Fatalf("summary: %v", err)
	}
	entries, err := common.ReadRunLog(filepath.Join(dir, "runs.jsonl"))
	if err != nil {
		t.Fatalf("ReadRunLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Frames != 3 || entries[0].Output != out {
		t.Fatalf("history = %+v", entries)
	}
}

func TestConvertCmdArguments(t *testing.T) {
	if err := convertCmd(nil, io.Discard); err == nil || !strings.Contains(err.Error(), "--in") {
		t.Fatalf("missing input err = %v", err)
	}
	missing := filepath.Join(t.TempDir(), "none.dlt")
	if err := convertCmd([]string{missing}, io.Discard); err == nil || !strings.Contains(err.Error(), "open input") {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestIsGeneratedOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Report.History = filepath.Join("data", "runs.jsonl")
	tests := []struct {
		path string
		want bool
	}{
		{"logs/a.dlt", false},
		{"logs/a.dlt.zst", false},
		{"logs/a.log", true},
		{"logs/a.LOG.zst", true},
		{"logs/a.log.summary.json", true},
		{"logs/a.log.summary.pdf", true},
		{"out/" + batchSummaryName, true},
		{filepath.Join("data", "runs.jsonl"), true},
		{"other/runs.jsonl", false},
	}
	for _, tc := range tests {
		if got := isGeneratedOutput(tc.path, cfg); got != tc.want {
			t.Fatalf("isGeneratedOutput(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestOutputFor(t *testing.T) {
	cfg := config.Default()
	if got := outputFor("logs/a.dlt", cfg); got != "logs/a.log" {
		t.Fatalf("default = %q", got)
	}
	if got := outputFor("logs/a.dlt.zst", cfg); got != "logs/a.log" {
		t.Fatalf("zst input = %q", got)
	}
	cfg.Output.Dir = "out"
	cfg.Output.Compress = true
	if got := outputFor("logs/a.dlt", cfg); got != filepath.Join("out", "a.log.zst") {
		t.Fatalf("dir + compress = %q", got)
	}
	if got := summaryPath("out/a.log.zst", ".json"); got != "out/a.log.summary.json" {
		t.Fatalf("summary path = %q", got)
	}
}
