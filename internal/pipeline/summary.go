package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
)

// SourceSummary describes one parsed source.
type SourceSummary struct {
	Level       string `json:"level"`
	Source      string `json:"source"`
	Rows        int    `json:"rows"`
	NullPrimary int    `json:"null_primary"`
}

// Sample is a reported rejected row.
type Sample struct {
	Source    string `json:"source"`
	Line      int    `json:"line"`
	Candidate string `json:"candidate"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail"`
}

// Summary is the final report of a run.
type Summary struct {
	RunID         string `json:"run_id"`
	CorrelationID string `json:"correlation_id"`
	From          string `json:"from,omitempty"` // Run whose stored output seeded this one

	State       State        `json:"state"`
	FailedStage *State       `json:"failed_stage,omitempty"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	Sources    []SourceSummary     `json:"sources,omitempty"`
	Rows       int                 `json:"rows"`
	Candidates int                 `json:"candidates"`
	Accepted   snapshot.Counts     `json:"accepted"`
	Rejected   map[core.Reason]int `json:"rejected"`
	Samples    []Sample            `json:"samples,omitempty"`
	Warnings   []core.Warning      `json:"warnings,omitempty"`

	CuratedKeys   []string         `json:"curated_keys,omitempty"`
	ProcessedKeys []string         `json:"processed_keys,omitempty"`
	Snapshot      *snapshot.Handle `json:"snapshot,omitempty"`
}

// RejectedTotal sums the per-reason rejection counts.
func (s *Summary) RejectedTotal() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Balanced reports whether every candidate was either accepted or rejected.
// Runs seeded from processed tables have no candidates and are trivially balanced.
func (s *Summary) Balanced() bool {
	if s.Rows == 0 {
		return true
	}
	return s.Accepted.Measurements+s.RejectedTotal() == s.Candidates
}

func newSamples(rejs []core.Rejection) []Sample {
	out := make([]Sample, len(rejs))
	for i, r := range rejs {
		out[i] = Sample{
			Source:    r.Source,
			Line:      r.Line,
			Candidate: string(r.Candidate),
			Reason:    string(r.Reason),
			Detail:    r.Detail(),
		}
	}
	return out
}

// WriteText prints a human-readable report.
func (s *Summary) WriteText(w io.Writer) {
	fmt.Fprintf(w, "run %s (%s): %s", s.RunID, s.CorrelationID, s.State)
	if s.FailedStage != nil {
		fmt.Fprintf(w, " during %s", *s.FailedStage)
	}
	fmt.Fprintf(w, " in %s\n", s.Duration.Round(time.Millisecond))
	if s.From != "" {
		fmt.Fprintf(w, "  from run %s\n", s.From)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", s.Error)
	}

	for _, src := range s.Sources {
		fmt.Fprintf(w, "  source %-14s %-28s rows=%d null_primary=%d\n", src.Level, src.Source, src.Rows, src.NullPrimary)
	}
	if s.Rows > 0 {
		fmt.Fprintf(w, "  rows=%d candidates=%d accepted=%d rejected=%d\n",
			s.Rows, s.Candidates, s.Accepted.Measurements, s.RejectedTotal())
	}
	fmt.Fprintf(w, "  geografia=%d indicadores=%d datos_medicion=%d\n",
		s.Accepted.Entities, s.Accepted.Indicators, s.Accepted.Measurements)

	reasons := make([]string, 0, len(s.Rejected))
	for r := range s.Rejected {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  rejected %-22s %d\n", r, s.Rejected[core.Reason(r)])
	}
	for _, smp := range s.Samples {
		fmt.Fprintf(w, "    %s:%d [%s] %s\n", smp.Source, smp.Line, smp.Candidate, smp.Detail)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  warning %s: %s\n", warn.Code, warn.Message)
	}

	if len(s.CuratedKeys) > 0 {
		fmt.Fprintf(w, "  curated: %s\n", strings.Join(s.CuratedKeys, ", "))
	}
	if len(s.ProcessedKeys) > 0 {
		fmt.Fprintf(w, "  processed: %s\n", strings.Join(s.ProcessedKeys, ", "))
	}
	if h := s.Snapshot; h != nil {
		fmt.Fprintf(w, "  snapshot: %s (attempts=%d, latest=%v)\n", h.Location, h.Attempts, h.Latest)
		if h.Quality != nil {
			for _, lvl := range h.Quality.ByLevel {
				fmt.Fprintf(w, "    %-14s entities=%d measurements=%d\n", lvl.Level, lvl.Entities, lvl.Measurements)
			}
		}
	}
}
