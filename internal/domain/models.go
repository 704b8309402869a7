// Package domain defines the persistence models and value types of the visa
// evaluation backend. Types are mapped with GORM and shared by the repository,
// service and HTTP layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationStatus is the lifecycle state of an Evaluation.
type EvaluationStatus string

const (
	StatusPending    EvaluationStatus = "pending"
	StatusProcessing EvaluationStatus = "processing"
	StatusCompleted  EvaluationStatus = "completed"
	StatusFailed     EvaluationStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s EvaluationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s EvaluationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CheckpointStatus is the verdict for a single checklist item.
type CheckpointStatus string

const (
	CheckpointMet           CheckpointStatus = "met"
	CheckpointPartiallyMet  CheckpointStatus = "partially_met"
	CheckpointNotMet        CheckpointStatus = "not_met"
	CheckpointNotApplicable CheckpointStatus = "not_applicable"
)

// Valid reports whether s belongs to the closed checkpoint status set.
func (s CheckpointStatus) Valid() bool {
	switch s {
	case CheckpointMet, CheckpointPartiallyMet, CheckpointNotMet, CheckpointNotApplicable:
		return true
	}
	return false
}

// Document is an uploaded file attached to an evaluation.
type Document struct {
	Type        string    `json:"type"`
	StorageKey  string    `json:"storageKey"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	WordCount   int       `json:"wordCount,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Checkpoint is the model's assessment of one required-document criterion.
type Checkpoint struct {
	Checkpoint string           `json:"checkpoint"`
	Status     CheckpointStatus `json:"status"`
	Evidence   string           `json:"evidence,omitempty"`
	Feedback   string           `json:"feedback,omitempty"`
	Score      *int             `json:"score,omitempty"`
}

// EvaluationResult is the validated verdict for an evaluation.
//
// When IsMalicious is true MaliciousReason is non-empty and Checkpoints is
// empty; otherwise Checkpoints is non-empty. Scores are integers in [0, 85].
type EvaluationResult struct {
	IsMalicious     bool         `json:"isMalicious"`
	MaliciousReason string       `json:"maliciousReason,omitempty"`
	Score           int          `json:"score"`
	Summary         string       `json:"summary"`
	Checkpoints     []Checkpoint `json:"checkpoints,omitempty"`
	Strengths       []string     `json:"strengths"`
	Weaknesses      []string     `json:"weaknesses"`
	Suggestions     []string     `json:"suggestions"`
	RawAnalysis     string       `json:"rawAnalysis,omitempty"`
}

// Evaluation is a single eligibility analysis over a set of uploaded documents.
// The row is created on admission and mutated by the orchestrator until it
// reaches a terminal status.
type Evaluation struct {
	ID          string                                 `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string                                 `json:"userId"      gorm:"type:char(36);not null;index:idx_eval_user_created,priority:1"`
	Country     string                                 `json:"country"     gorm:"type:varchar(8);not null;index"`
	VisaType    string                                 `json:"visaType"    gorm:"type:varchar(64);not null"`
	Status      EvaluationStatus                       `json:"status"      gorm:"type:varchar(16);not null;index;check:status IN ('pending','processing','completed','failed')"`
	Documents   datatypes.JSONSlice[Document]          `json:"documents"   gorm:"type:json;not null"`
	Result      datatypes.JSONType[*EvaluationResult] `json:"result"      gorm:"type:json"`
	CreatedAt   time.Time                              `json:"createdAt"   gorm:"index:idx_eval_user_created,priority:2"`
	UpdatedAt   time.Time                              `json:"updatedAt"`
	ProcessedAt *time.Time                             `json:"processedAt,omitempty"`
}

// TableName returns the database table name for Evaluation.
func (Evaluation) TableName() string { return "evaluations" }

// EvaluationResultOrNil returns the stored result, nil while pending.
func (e *Evaluation) EvaluationResultOrNil() *EvaluationResult {
	if e == nil {
		return nil
	}
	return e.Result.Data()
}

// Outcome classifies a terminal evaluation. Flagged submissions are stored as
// StatusCompleted with IsMalicious set; the outcome keeps them distinguishable.
type Outcome string

const (
	OutcomeClean   Outcome = "clean"
	OutcomeFlagged Outcome = "flagged"
	OutcomeFailed  Outcome = "failed"
)

// Outcome derives the terminal outcome; empty while still in flight.
func (e *Evaluation) Outcome() Outcome {
	switch e.Status {
	case StatusFailed:
		return OutcomeFailed
	case StatusCompleted:
		if r := e.Result.Data(); r != nil && r.IsMalicious {
			return OutcomeFlagged
		}
		return OutcomeClean
	}
	return ""
}
