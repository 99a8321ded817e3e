package domain

import (
	"encoding/json"
	"time"
)

// AnnotationRecord is the minimal structured description a model returns for
// a file. Extra keeps any free-form fields next to the known ones.
type AnnotationRecord struct {
	FileName          string         `json:"file_name"`
	Description       string         `json:"description"`
	Tags              []string       `json:"tags"`
	SuggestedFilePath string         `json:"suggested_file_path"`
	Extra             map[string]any `json:"-"`
}

func (r *AnnotationRecord) UnmarshalJSON(data []byte) error {
	type plain AnnotationRecord
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range []string{"file_name", "description", "tags", "suggested_file_path"} {
		delete(all, key)
	}
	*r = AnnotationRecord(known)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

// Annotation is the normalized document committed next to an organized file.
type Annotation struct {
	Body       []byte             `json:"-"`
	Structured bool               `json:"structured"`
	Fallbacks  int                `json:"fallbacks"`
	Records    []AnnotationRecord `json:"records,omitempty"`
}

type ItemOutcome string

const (
	OutcomeCommitted          ItemOutcome = "committed"
	OutcomeSkippedUnsupported ItemOutcome = "skipped_unsupported"
	OutcomeFailedExtraction   ItemOutcome = "failed_extraction"
	OutcomeFailedCompletion   ItemOutcome = "failed_completion"
	OutcomeFailedStorage      ItemOutcome = "failed_storage"
)

type RunReport struct {
	RunID      string    `json:"run_id"`
	Tenant     Tenant    `json:"tenant"`
	Queued     int       `json:"queued"`
	Committed  int       `json:"committed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *RunReport) Record(outcome ItemOutcome) {
	switch outcome {
	case OutcomeCommitted:
		r.Committed++
	case OutcomeSkippedUnsupported:
		r.Skipped++
	default:
		r.Failed++
	}
}

// CommitRecord describes one committed queue item for the ledger and the
// event bus.
type CommitRecord struct {
	RunID          string    `json:"run_id"`
	Tenant         Tenant    `json:"tenant"`
	FileName       string    `json:"file_name"`
	AnnotationFile string    `json:"annotation_file"`
	Structured     bool      `json:"structured"`
	Description    string    `json:"description,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	SuggestedPath  string    `json:"suggested_file_path,omitempty"`
	CommittedAt    time.Time `json:"committed_at"`
}
