package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

// ErrInvalidResponseFormat is returned for any model output that cannot be
// turned into a fully valid EvaluationResult.
var ErrInvalidResponseFormat = errors.New("invalid response format")

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Clamp records one score that was forced into [0, MaxScore].
type Clamp struct {
	Field    string
	Original float64
	Applied  float64
}

// Report describes the corrections applied while validating.
type Report struct {
	Clamps []Clamp
}

// Clamped reports whether any score was adjusted.
func (r Report) Clamped() bool { return len(r.Clamps) > 0 }

type wireCheckpoint struct {
	Checkpoint *string  `json:"checkpoint"`
	Status     *string  `json:"status"`
	Evidence   *string  `json:"evidence"`
	Feedback   *string  `json:"feedback"`
	Score      *float64 `json:"score"`
}

type wireResult struct {
	IsMalicious     bool             `json:"isMalicious"`
	MaliciousReason *string          `json:"maliciousReason"`
	Score           float64          `json:"score"`
	Summary         string           `json:"summary"`
	Checkpoints     []wireCheckpoint `json:"checkpoints"`
	Strengths       []string         `json:"strengths"`
	Weaknesses      []string         `json:"weaknesses"`
	Suggestions     []string         `json:"suggestions"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponseFormat, fmt.Sprintf(format, args...))
}

// Validate turns raw model output into an EvaluationResult. Scores above
// MaxScore are clamped and reported rather than rejected. The returned result
// is either fully valid or nil.
func Validate(raw string) (*domain.EvaluationResult, Report, error) {
	var rep Report

	match := jsonObject.FindString(raw)
	if match == "" {
		return nil, rep, invalid("no JSON found in response")
	}

	var generic any
	if err := json.Unmarshal([]byte(match), &generic); err != nil {
		return nil, rep, invalid("parse: %v", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, rep, invalid("schema: %v", err)
	}

	var w wireResult
	if err := json.Unmarshal([]byte(match), &w); err != nil {
		return nil, rep, invalid("decode: %v", err)
	}
	res := &domain.EvaluationResult{
		IsMalicious: w.IsMalicious,
		Score:       toScore(&rep, "score", w.Score),
		Summary:     w.Summary,
		Strengths:   nonNil(w.Strengths),
		Weaknesses:  nonNil(w.Weaknesses),
		Suggestions: nonNil(w.Suggestions),
	}

	if w.IsMalicious {
		if w.MaliciousReason == nil || strings.TrimSpace(*w.MaliciousReason) == "" {
			return nil, rep, invalid("malicious document must have maliciousReason")
		}
		res.MaliciousReason = *w.MaliciousReason
		logClamps(rep)
		return res, rep, nil
	}

	// A missing or null array decodes to nil; an empty one does not.
	if w.Checkpoints == nil {
		return nil, rep, invalid("missing or invalid checkpoints array")
	}
	if len(w.Checkpoints) == 0 {
		return nil, rep, invalid("checkpoints array is empty")
	}
	res.Checkpoints = make([]domain.Checkpoint, 0, len(w.Checkpoints))
	for i, cp := range w.Checkpoints {
		if cp.Checkpoint == nil || strings.TrimSpace(*cp.Checkpoint) == "" {
			return nil, rep, invalid("checkpoint %d has no name", i)
		}
		if cp.Status == nil || *cp.Status == "" {
			return nil, rep, invalid("checkpoint %d has no status", i)
		}
		status := domain.CheckpointStatus(*cp.Status)
		if !status.Valid() {
			return nil, rep, invalid("invalid checkpoint status: %s", *cp.Status)
		}
		out := domain.Checkpoint{
			Checkpoint: *cp.Checkpoint,
			Status:     status,
			Evidence:   deref(cp.Evidence),
			Feedback:   deref(cp.Feedback),
		}
		if cp.Score != nil {
			s := toScore(&rep, fmt.Sprintf("checkpoints[%d].score", i), *cp.Score)
			out.Score = &s
		}
		res.Checkpoints = append(res.Checkpoints, out)
	}

	logClamps(rep)
	return res, rep, nil
}

// toScore clamps v into [0, MaxScore] and rounds it to the nearest integer.
func toScore(rep *Report, field string, v float64) int {
	return int(math.Round(clampScore(rep, field, v)))
}

func clampScore(rep *Report, field string, v float64) float64 {
	applied := v
	switch {
	case v > MaxScore:
		applied = MaxScore
	case v < 0:
		applied = 0
	default:
		return v
	}
	rep.Clamps = append(rep.Clamps, Clamp{Field: field, Original: v, Applied: applied})
	return applied
}

func logClamps(rep Report) {
	for _, c := range rep.Clamps {
		log.Warn().
			Str("field", c.Field).
			Float64("original", c.Original).
			Float64("applied", c.Applied).
			Msg("llm score out of range; clamped")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
