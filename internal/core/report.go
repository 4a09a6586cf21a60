package core

import (
	"errors"
	"sort"
)

// Reason tags a rejected candidate.
type Reason string

const (
	ReasonMissingParent    Reason = "missing_parent"
	ReasonInvalidIndicator Reason = "invalid_indicator"
	ReasonNullValue        Reason = "null_value"
	ReasonDuplicate        Reason = "duplicate_measurement"
	ReasonMalformedRow     Reason = "malformed_row"
)

// Reasons lists every rejection reason in report order.
var Reasons = []Reason{
	ReasonMissingParent,
	ReasonInvalidIndicator,
	ReasonNullValue,
	ReasonDuplicate,
	ReasonMalformedRow,
}

// ReasonOf maps a row-level error to its reason tag.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrMissingParent):
		return ReasonMissingParent
	case errors.Is(err, ErrInvalidIndicator):
		return ReasonInvalidIndicator
	case errors.Is(err, ErrNullValue):
		return ReasonNullValue
	case errors.Is(err, ErrDuplicateMeasurement):
		return ReasonDuplicate
	default:
		return ReasonMalformedRow
	}
}

// Candidate names which value of a row a rejection refers to.
type Candidate string

const (
	CandidatePrimary    Candidate = "primary"
	CandidateComparator Candidate = "comparator"
)

// Rejection is one rejected candidate.
type Rejection struct {
	Source    string
	Line      int
	Candidate Candidate
	Reason    Reason
	Err       error
}

// Detail returns the error text, or "" when there is none.
func (r Rejection) Detail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RowOutcome is the tagged result of ingesting one row.
type RowOutcome struct {
	Accepted   []Measurement
	Rejections []Rejection
	Candidates int // Candidates evaluated: 1, or 2 when the comparator was considered
}

// Warning is a non-fatal finding attached to the run report.
type Warning struct {
	Code    string
	Message string
}

// Warning codes.
const (
	WarnDanglingReference  = "dangling_reference"
	WarnDepthExceeded      = "depth_exceeded"
	WarnParentLevel        = "parent_level_mismatch"
	WarnOrphan             = "orphan_entity"
	WarnPercentageRange    = "percentage_out_of_range"
	WarnComparatorConflict = "comparator_conflict"
	WarnValueConflict      = "value_conflict"
	WarnDuplicateKey       = "duplicate_key"
)

// RejectionReport accumulates rejections: a count per reason plus a bounded sample.
type RejectionReport struct {
	sampleSize int
	counts     map[Reason]int
	samples    map[Reason][]Rejection
}

// NewRejectionReport keeps at most sampleSize sample rows per reason.
func NewRejectionReport(sampleSize int) *RejectionReport {
	return &RejectionReport{
		sampleSize: sampleSize,
		counts:     make(map[Reason]int),
		samples:    make(map[Reason][]Rejection),
	}
}

// Add records one rejection.
func (r *RejectionReport) Add(rej Rejection) {
	r.counts[rej.Reason]++
	if len(r.samples[rej.Reason]) < r.sampleSize {
		r.samples[rej.Reason] = append(r.samples[rej.Reason], rej)
	}
}

// Count returns the number of rejections for reason.
func (r *RejectionReport) Count(reason Reason) int { return r.counts[reason] }

// Counts returns a copy of the per-reason counts.
func (r *RejectionReport) Counts() map[Reason]int {
	out := make(map[Reason]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Total is the number of rejections across every reason.
func (r *RejectionReport) Total() int {
	n := 0
	for _, v := range r.counts {
		n += v
	}
	return n
}

// Samples returns the sampled rejections for reason.
func (r *RejectionReport) Samples(reason Reason) []Rejection {
	return r.samples[reason]
}

// AllSamples returns every sample ordered by reason, then source and line.
func (r *RejectionReport) AllSamples() []Rejection {
	var out []Rejection
	for _, reason := range Reasons {
		s := append([]Rejection(nil), r.samples[reason]...)
		sort.SliceStable(s, func(i, j int) bool {
			if s[i].Source != s[j].Source {
				return s[i].Source < s[j].Source
			}
			return s[i].Line < s[j].Line
		})
		out = append(out, s...)
	}
	return out
}
