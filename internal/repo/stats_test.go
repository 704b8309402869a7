package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

func TestEvaluationsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := EvaluationsStats(context.Background(), db, "u1"); err == nil {
		t.Fatalf("expected error due to missing evaluations table")
	}
}

func TestEvaluationsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Evaluation{})
	count, maxAt, err := EvaluationsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("EvaluationsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestEvaluationsStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Evaluation{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	t4 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) // other user

	rows := []domain.Evaluation{
		{ID: "a", UserID: "u1", UpdatedAt: t1},
		{ID: "b", UserID: "u1", UpdatedAt: t2},
		{ID: "c", UserID: "u1", UpdatedAt: t3},
		{ID: "d", UserID: "u2", UpdatedAt: t4},
	}
	for i := range rows {
		rows[i].Country = "IE"
		rows[i].VisaType = "critical_skills"
		rows[i].Status = domain.StatusCompleted
		rows[i].CreatedAt = t1
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", rows[i].ID, err)
		}
	}

	count, maxAt, err := EvaluationsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("EvaluationsStats error: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("maxUpdatedAt = %v, want %v", maxAt, t2)
	}
}
