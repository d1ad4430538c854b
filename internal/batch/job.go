package batch

import (
	"fmt"
	"time"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/resource"
)

// Result is the outcome of a successful compression.
type Result struct {
	CompressedSize int64
	SavingsPercent float64
	Extension      string
	MediaType      string
	Output         resource.Token
}

// Job is one admitted file and its processing record. Jobs are owned by a
// Controller and only ever mutated under its lock.
type Job struct {
	ID           string
	Source       media.SourceFile
	OriginalSize int64
	Category     media.Category
	AdmittedAt   time.Time

	state         State
	metadata      *probe.Metadata
	preview       resource.Token
	result        *Result
	failureReason string
}

func newJob(id string, category media.Category, src media.SourceFile) *Job {
	return &Job{
		ID:           id,
		Source:       src,
		OriginalSize: src.Size,
		Category:     category,
		AdmittedAt:   time.Now(),
		state:        StatePending,
	}
}

// State returns the current state.
func (j *Job) State() State { return j.state }

func (j *Job) transition(to State) error {
	if !CanTransition(j.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, to)
	}
	j.state = to
	return nil
}

func (j *Job) complete(res *Result) error {
	if err := j.transition(StateCompleted); err != nil {
		return err
	}
	j.result = res
	return nil
}

func (j *Job) fail(reason string) error {
	if err := j.transition(StateFailed); err != nil {
		return err
	}
	if reason == "" {
		reason = "compression failed"
	}
	j.failureReason = reason
	return nil
}

// handles returns every live token owned by the job.
func (j *Job) handles() []resource.Token {
	var out []resource.Token
	if j.preview.Valid() {
		out = append(out, j.preview)
	}
	if j.result != nil && j.result.Output.Valid() {
		out = append(out, j.result.Output)
	}
	if j.Source.Handle.Valid() {
		out = append(out, j.Source.Handle)
	}
	return out
}

// ResultView is the presentation projection of a Result.
type ResultView struct {
	CompressedSize int64   `json:"compressedSize"`
	SavingsPercent float64 `json:"savingsPercent"`
	Savings        string  `json:"savings"`
	Filename       string  `json:"filename"`
	MediaType      string  `json:"mediaType"`
}

// Snapshot is a read-only copy of a Job.
type Snapshot struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MediaType     string          `json:"mediaType"`
	Category      media.Category  `json:"category"`
	OriginalSize  int64           `json:"originalSize"`
	State         State           `json:"state"`
	Metadata      *probe.Metadata `json:"metadata,omitempty"`
	HasPreview    bool            `json:"hasPreview"`
	Result        *ResultView     `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	AdmittedAt    time.Time       `json:"admittedAt"`
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:            j.ID,
		Name:          j.Source.Name,
		MediaType:     j.Source.MediaType,
		Category:      j.Category,
		OriginalSize:  j.OriginalSize,
		State:         j.state,
		HasPreview:    j.preview.Valid(),
		FailureReason: j.failureReason,
		AdmittedAt:    j.AdmittedAt,
	}
	if j.metadata != nil {
		md := *j.metadata
		s.Metadata = &md
	}
	if j.result != nil {
		s.Result = &ResultView{
			CompressedSize: j.result.CompressedSize,
			SavingsPercent: j.result.SavingsPercent,
			Savings:        compressor.FormatSavings(j.result.SavingsPercent),
			Filename:       SuggestedFilename(j.Source, j.result.Extension),
			MediaType:      j.result.MediaType,
		}
	}
	return s
}

// SuggestedFilename returns compressed_<stem>.<ext> for a download.
func SuggestedFilename(src media.SourceFile, ext string) string {
	if ext == "" {
		ext = src.Ext()
	}
	name := "compressed_" + src.Stem()
	if ext != "" {
		name += "." + ext
	}
	return name
}
