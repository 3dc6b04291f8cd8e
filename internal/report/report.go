package report

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
)

// Summary describes one conversion run.
type Summary struct {
	RunID            string         `json:"runId"`
	Input            string         `json:"input"`
	InputSHA256      string         `json:"inputSha256,omitempty"`
	Output           string         `json:"output,omitempty"`
	OutputSHA256     string         `json:"outputSha256,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	Duration         time.Duration  `json:"durationNs"`
	BaseTimestampUs  uint64         `json:"baseTimestampUs,omitempty"`
	Frames           int            `json:"frames"`
	Legacy           int            `json:"legacy"`
	Extended         int            `json:"extended"`
	Levels           map[string]int `json:"levels,omitempty"`
	Apps             map[string]int `json:"apps,omitempty"`
	FirstTimestampUs uint64         `json:"firstTimestampUs,omitempty"`
	LastTimestampUs  uint64         `json:"lastTimestampUs,omitempty"`
	Error            string         `json:"error,omitempty"`
	ErrorOffset      *int64         `json:"errorOffset,omitempty"`
}

// OK reports whether the run reached a clean end of input.
func (s Summary) OK() bool {
	return s.Error == ""
}

// Counted is a label with its number of frames, used for stable rendering of
// the Levels and Apps maps.
type Counted struct {
	Name  string
	Count int
}

// Sorted orders m by descending count, then name.
func Sorted(m map[string]int) []Counted {
	out := make([]Counted, 0, len(m))
	for k, v := range m {
		out = append(out, Counted{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Collector builds a Summary from the records of one scan. Observe matches
// dlt.Options.OnRecord.
type Collector struct {
	sum Summary
}

func NewCollector(input, output string) *Collector {
	return &Collector{sum: Summary{
		RunID:     uuid.New().String(),
		Input:     input,
		Output:    output,
		StartedAt: time.Now().UTC(),
		Levels:    map[string]int{},
		Apps:      map[string]int{},
	}}
}

func (c *Collector) Observe(rec dlt.Record) {
	s := &c.sum
	if s.Frames == 0 {
		s.FirstTimestampUs = rec.TimestampUs
	}
	s.LastTimestampUs = rec.TimestampUs
	s.Frames++
	switch rec.Version {
	case dlt.VersionLegacy:
		s.Legacy++
	case dlt.VersionExtended:
		s.Extended++
	}
	s.Levels[rec.Level]++
	s.Apps[rec.AppID]++
}

// Finish closes the run. count is what the converter reported and wins over
// the number of observed records; err is the scan error, if any.
func (c *Collector) Finish(count int, err error) Summary {
	s := c.sum
	s.Duration = time.Since(s.StartedAt)
	s.Frames = count
	if err != nil {
		s.Error = err.Error()
		var fe *dlt.FrameError
		if errors.As(err, &fe) {
			off := fe.Offset
			s.ErrorOffset = &off
		}
	}
	s.Levels = copyCounts(s.Levels)
	s.Apps = copyCounts(s.Apps)
	return s
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func SaveJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}
