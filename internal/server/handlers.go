package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
	"github.com/johnny1995johnny1995/dlt2log/internal/report"
)

// Response headers set by /convert in text mode.
const (
	HeaderFrames   = "X-Dlt-Frames"
	HeaderError    = "X-Dlt-Error"
	HeaderRunID    = "X-Dlt-Run-Id"
	HeaderSHA256   = "X-Dlt-Output-Sha256"
	HeaderOutput   = "X-Dlt-Output-Artifact"
	HeaderSummary  = "X-Dlt-Summary-Artifact"
	HeaderPDF      = "X-Dlt-Report-Artifact"
	formatText     = "text"
	formatNDJSON   = "ndjson"
	contentTypeLog = "text/plain; charset=utf-8"
)

// Server converts uploaded captures and keeps the produced files as
// downloadable artifacts until Close.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	maxUpload  int64
	sem        chan struct{}
	rewind     bool
	useModTime bool
	verbose    bool
	history    *common.RunLog
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "dlt2logd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	s := &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		maxUpload:  opts.MaxUploadBytes,
		sem:        make(chan struct{}, opts.Concurrency),
		rewind:     opts.RewindOnMagicMismatch,
		useModTime: opts.UseModTime,
		verbose:    opts.Verbose,
	}
	if opts.HistoryPath != "" {
		s.history = common.NewRunLog(opts.HistoryPath)
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

type convertRequest struct {
	format string
	base   uint64
	pdf    bool
}

func parseConvertRequest(r *http.Request) (convertRequest, error) {
	q := r.URL.Query()
	req := convertRequest{format: strings.ToLower(strings.TrimSpace(q.Get("format")))}
	switch req.format {
	case "":
		req.format = formatText
	case formatText, formatNDJSON:
	default:
		return req, fmt.Errorf("unsupported format %q", req.format)
	}
	if b := strings.TrimSpace(q.Get("base")); b != "" {
		v, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid base timestamp: %w", err)
		}
		if v > dlt.MaxTimestampUs {
			return req, fmt.Errorf("base timestamp %d exceeds %d", v, dlt.MaxTimestampUs)
		}
		req.base = v
	}
	req.pdf = q.Get("report") == "pdf"
	return req, nil
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := parseConvertRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	src, err := s.readRequestInput(w, r)
	if src.temp && src.path != "" {
		defer os.Remove(src.path)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("read input: %v", err), uploadStatus(err))
		return
	}

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	in, err := common.OpenInputLimit(src.path, s.maxUpload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, common.ErrInputTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, fmt.Sprintf("open input: %v", err), status)
		return
	}
	defer in.Close()
	base := req.base
	if base == 0 && s.useModTime {
		base = uint64(in.ModTime.UnixMicro())
	}
	opts := dlt.Options{
		BaseTimestampUs:       base,
		RewindOnMagicMismatch: s.rewind,
		Verbose:               s.verbose,
	}
	collector := report.NewCollector(src.name, "")
	if req.format == formatNDJSON {
		s.convertNDJSON(w, in, opts, collector)
		return
	}
	s.convertText(w, in, opts, collector, req.pdf)
}

func (s *Server) convertText(w http.ResponseWriter, in *common.Input, opts dlt.Options, collector *report.Collector, withPDF bool) {
	outPath, err := s.tempPath("convert-*.log")
	if err != nil {
		http.Error(w, fmt.Sprintf("output temp: %v", err), http.StatusInternalServerError)
		return
	}
	out, err := common.CreateOutput(outPath, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("create output: %v", err), http.StatusInternalServerError)
		return
	}
	opts.OnRecord = collector.Observe
	n, convErr := dlt.Convert(in, out, opts)
	if err := out.Close(); err != nil && convErr == nil {
		convErr = err
	}
	sum := collector.Finish(n, convErr)
	sum.BaseTimestampUs = opts.BaseTimestampUs
	sum.Output = common.OutputPath(sum.Input, ".log")
	sum.OutputSHA256 = out.Sum()
	s.logConversion(sum)

	logArt, err := s.addArtifact(outPath, filepath.Base(sum.Output), contentTypeLog, "output")
	if err != nil {
		http.Error(w, fmt.Sprintf("register output: %v", err), http.StatusInternalServerError)
		return
	}
	sumArt, err := s.saveSummary(sum)
	if err != nil {
		http.Error(w, fmt.Sprintf("write summary: %v", err), http.StatusInternalServerError)
		return
	}
	h := w.Header()
	if withPDF {
		pdfArt, err := s.savePDF(sum)
		if err != nil {
			http.Error(w, fmt.Sprintf("write report: %v", err), http.StatusInternalServerError)
			return
		}
		h.Set(HeaderPDF, pdfArt.ID)
	}
	h.Set("Content-Type", contentTypeLog)
	h.Set(HeaderFrames, strconv.Itoa(n))
	h.Set(HeaderRunID, sum.RunID)
	h.Set(HeaderSHA256, sum.OutputSHA256)
	h.Set(HeaderOutput, logArt.ID)
	h.Set(HeaderSummary, sumArt.ID)
	if convErr != nil {
		h.Set(HeaderError, convErr.Error())
	}
	f, err := os.Open(outPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("open output: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	h.Set("Content-Length", strconv.FormatInt(logArt.Size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func (s *Server) convertNDJSON(w http.ResponseWriter, in *common.Input, opts dlt.Options, collector *report.Collector) {
	writer := NewNDJSONWriter(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	sc, err := dlt.NewScanner(in, opts)
	if err != nil {
		_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	var scanErr error
	for {
		rec, err := sc.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				scanErr = err
			}
			break
		}
		collector.Observe(rec)
		if err := writer.WriteRecord(rec); err != nil {
			scanErr = err
			break
		}
	}
	sum := collector.Finish(sc.Count(), scanErr)
	sum.BaseTimestampUs = opts.BaseTimestampUs
	s.logConversion(sum)
	if scanErr != nil {
		obj := map[string]any{"type": "error", "error": scanErr.Error()}
		if sum.ErrorOffset != nil {
			obj["offset"] = *sum.ErrorOffset
		}
		_ = writer.WriteObject(obj)
	}
	_ = writer.WriteObject(struct {
		Type    string         `json:"type"`
		Summary report.Summary `json:"summary"`
	}{Type: "summary", Summary: sum})
}

func (s *Server) saveSummary(sum report.Summary) (Artifact, error) {
	path, err := s.tempPath("summary-*.json")
	if err != nil {
		return Artifact{}, err
	}
	if err := report.SaveJSON(sum, path); err != nil {
		return Artifact{}, err
	}
	return s.addArtifact(path, "summary.json", "application/json", "summary")
}

func (s *Server) savePDF(sum report.Summary) (Artifact, error) {
	path, err := s.tempPath("summary-*.pdf")
	if err != nil {
		return Artifact{}, err
	}
	if err := report.SavePDF(sum, path); err != nil {
		return Artifact{}, err
	}
	return s.addArtifact(path, "summary.pdf", "application/pdf", "report")
}

func (s *Server) logConversion(sum report.Summary) {
	if sum.OK() {
		common.Logf("convert %s: %d frames in %v", sum.Input, sum.Frames, sum.Duration.Round(time.Millisecond))
	} else {
		common.Logf("convert %s: %d frames before error: %s", sum.Input, sum.Frames, sum.Error)
	}
	if s.history == nil {
		return
	}
	entry := common.RunEntry{
		RunID:  sum.RunID,
		Input:  sum.Input,
		Output: sum.Output,
		Frames: sum.Frames,
		Error:  sum.Error,
	}
	if err := s.history.Append(entry); err != nil {
		common.Logf("history append: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"artifacts": len(s.listArtifacts()),
		"busy":      len(s.sem),
	})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		writeJSON(w, http.StatusOK, s.listArtifacts())
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".log", ".txt":
		return contentTypeLog
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
