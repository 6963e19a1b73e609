// Package models defines the core domain models for the agent review pipeline.
package models

import (
	"errors"
	"fmt"
	"slices"
)

// StageName identifies one gate of the review pipeline.
type StageName string

const (
	StagePrecheck   StageName = "precheck"
	StageSecurity   StageName = "security"
	StageFunctional StageName = "functional"
	StageJudge      StageName = "judge"
	StageHuman      StageName = "human"
	StagePublish    StageName = "publish"
)

// ErrInvalidStage indicates a stage name outside the fixed pipeline order.
var ErrInvalidStage = errors.New("invalid stage")

var stageOrder = []StageName{
	StagePrecheck,
	StageSecurity,
	StageFunctional,
	StageJudge,
	StageHuman,
	StagePublish,
}

// StageOrder returns the fixed execution order of all stages.
func StageOrder() []StageName {
	return slices.Clone(stageOrder)
}

// Index returns the position of the stage in the fixed order, or -1.
func (s StageName) Index() int {
	return slices.Index(stageOrder, s)
}

func (s StageName) Valid() bool {
	return s.Index() >= 0
}

// ParseStageName validates a raw stage name.
func ParseStageName(raw string) (StageName, error) {
	stage := StageName(raw)
	if !stage.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
	}

	return stage, nil
}

// StageStatus is the lifecycle status of a single stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// IsTerminal reports whether the status is final for the stage.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed || s == StageStatusSkipped
}

// StageProgress is the queryable state of one stage.
type StageProgress struct {
	Status         StageStatus    `json:"status"`
	Attempts       int            `json:"attempts"`
	LastUpdatedSeq int64          `json:"lastUpdatedSeq"`
	Message        string         `json:"message,omitempty"`
	Warnings       []string       `json:"warnings"`
	Details        map[string]any `json:"details,omitempty"`
}

// NewStageProgress returns a pending stage with no attempts.
func NewStageProgress() *StageProgress {
	return &StageProgress{
		Status:   StageStatusPending,
		Warnings: []string{},
	}
}

// Clone returns a deep copy of the stage progress.
func (p *StageProgress) Clone() *StageProgress {
	if p == nil {
		return nil
	}

	clone := *p
	clone.Warnings = append([]string{}, p.Warnings...)
	clone.Details = cloneMap(p.Details)

	return &clone
}

// SetDetail stores a stage-specific detail value.
func (p *StageProgress) SetDetail(key string, value any) {
	if p.Details == nil {
		p.Details = make(map[string]any)
	}

	p.Details[key] = value
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}

	return dst
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return cloneMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}

		return out
	case []string:
		return slices.Clone(value)
	default:
		return value
	}
}
