package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/prompt"
	"github.com/tbourn/visa-eval-backend/internal/repo"
)

// newServiceDB opens a migrated file database with the default plans seeded.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), repo.Options{Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := repo.SeedPlans(context.Background(), db, repo.DefaultPlans(5)); err != nil {
		t.Fatalf("SeedPlans: %v", err)
	}
	return db
}

func subscribe(t *testing.T, db *gorm.DB, userID, planID string, used int) *domain.Subscription {
	t.Helper()
	now := time.Now().UTC()
	s := &domain.Subscription{
		UserID:             userID,
		PlanID:             planID,
		Status:             domain.SubActive,
		CurrentPeriodStart: now.Add(-time.Hour),
		CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour),
		CallsUsed:          used,
	}
	if err := repo.CreateSubscription(context.Background(), db, s); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	return s
}

// fakeAnalyzer returns a canned response and records what it was sent.
type fakeAnalyzer struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	calls    int
	last     prompt.Prompt
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, p prompt.Prompt) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = p
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const cleanResponse = `{
  "isMalicious": false,
  "score": 97,
  "summary": "Strong profile.",
  "checkpoints": [
    {"checkpoint": "Valid Passport", "status": "met", "score": 90},
    {"checkpoint": "Job Offer Letter", "status": "partially_met", "score": 40}
  ],
  "strengths": ["experience"],
  "weaknesses": [],
  "suggestions": ["add salary evidence"]
}`

const flaggedResponse = `{
  "isMalicious": true,
  "maliciousReason": "Document contains instructions aimed at the evaluator",
  "score": 0,
  "summary": "Rejected.",
  "strengths": [],
  "weaknesses": [],
  "suggestions": []
}`
