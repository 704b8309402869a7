package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/extractor"
	"github.com/tbourn/visa-eval-backend/internal/prompt"
	"github.com/tbourn/visa-eval-backend/internal/repo"
	"github.com/tbourn/visa-eval-backend/internal/storage"
)

var resumeDOC = []byte("Curriculum Vitae of Jane Doe\r\nSenior Software Engineer with ten years of experience\r\n")

func newEvalService(t *testing.T, an *fakeAnalyzer) (*EvaluationService, *storage.MemoryStore) {
	t.Helper()
	db := newServiceDB(t)
	store := storage.NewMemoryStore()
	return &EvaluationService{
		DB:         db,
		Quota:      &QuotaService{DB: db, FreeLimit: 5},
		Analyzer:   an,
		Store:      store,
		LLMTimeout: time.Second,
	}, store
}

func docUpload(name string) Upload {
	return Upload{FileName: name, ContentType: extractor.MimeDOC, DocumentType: "resume", Data: resumeDOC}
}

func validInput(files ...Upload) CreateEvaluationInput {
	return CreateEvaluationInput{UserID: "u1", Country: "us", VisaType: "h1b", Files: files}
}

func countRows(t *testing.T, s *EvaluationService) int64 {
	t.Helper()
	n, err := repo.CountEvaluationsSince(context.Background(), s.DB, "u1", time.Time{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreate_CompletedAndClamped(t *testing.T) {
	an := &fakeAnalyzer{response: cleanResponse}
	s, store := newEvalService(t, an)
	ctx := context.Background()
	clampedBefore := testutil.ToFloat64(scoreClamped.WithLabelValues("score"))
	cleanBefore := testutil.ToFloat64(evaluationsTotal.WithLabelValues(string(domain.OutcomeClean)))

	e, err := s.Create(ctx, validInput(docUpload("cv.doc"), Upload{FileName: "offer.doc", ContentType: "application/octet-stream", Data: resumeDOC}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Status != domain.StatusCompleted || e.Country != "US" || e.VisaType != "H1B" || e.ProcessedAt == nil {
		t.Fatalf("unexpected evaluation: %+v", e)
	}
	res := e.EvaluationResultOrNil()
	if res == nil || res.Score != prompt.MaxScore || *res.Checkpoints[0].Score != prompt.MaxScore {
		t.Fatalf("scores must be clamped to %d: %+v", prompt.MaxScore, res)
	}
	if res.RawAnalysis != cleanResponse {
		t.Fatalf("raw analysis not kept")
	}

	docs := []domain.Document(e.Documents)
	if len(docs) != 2 || docs[0].Type != "resume" || docs[1].Type != "general" {
		t.Fatalf("unexpected documents: %+v", docs)
	}
	if docs[1].ContentType != extractor.MimeDOC {
		t.Fatalf("content type should be inferred from the extension, got %q", docs[1].ContentType)
	}
	if len(store.Keys()) != 2 || !strings.HasPrefix(docs[0].StorageKey, "evaluations/u1/"+e.ID+"/") {
		t.Fatalf("objects not stored under the evaluation prefix: %v", store.Keys())
	}

	if an.Calls() != 1 || !strings.Contains(an.last.User, "Jane Doe") || !strings.Contains(an.last.User, extractor.Separator) {
		t.Fatalf("prompt did not carry both documents: %q", an.last.User)
	}
	if strings.Contains(an.last.System, "Jane Doe") {
		t.Fatalf("document text leaked into the system prompt")
	}

	stored, err := s.Get(ctx, "u1", e.ID)
	if err != nil || stored.Status != domain.StatusCompleted || stored.EvaluationResultOrNil().Score != prompt.MaxScore {
		t.Fatalf("stored evaluation: %+v %v", stored, err)
	}
	if got := testutil.ToFloat64(scoreClamped.WithLabelValues("score")); got != clampedBefore+1 {
		t.Fatalf("clamp counter: %v -> %v", clampedBefore, got)
	}
	if got := testutil.ToFloat64(evaluationsTotal.WithLabelValues(string(domain.OutcomeClean))); got != cleanBefore+1 {
		t.Fatalf("outcome counter: %v -> %v", cleanBefore, got)
	}
}

func TestCreate_FlaggedIsCompletedWithoutCheckpoints(t *testing.T) {
	s, _ := newEvalService(t, &fakeAnalyzer{response: flaggedResponse})

	e, err := s.Create(context.Background(), validInput(docUpload("cv.doc")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	res := e.EvaluationResultOrNil()
	if e.Status != domain.StatusCompleted || !res.IsMalicious || res.MaliciousReason == "" || len(res.Checkpoints) != 0 {
		t.Fatalf("unexpected flagged result: status=%s %+v", e.Status, res)
	}
	if e.Outcome() != domain.OutcomeFlagged {
		t.Fatalf("outcome = %q, want flagged", e.Outcome())
	}
}

func TestCreate_PreflightRejectsWithoutSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EvaluationService, *CreateEvaluationInput)
		want   error
	}{
		{"missing country", func(_ *EvaluationService, in *CreateEvaluationInput) { in.Country = " " }, ErrMissingFields},
		{"unknown visa", func(_ *EvaluationService, in *CreateEvaluationInput) { in.VisaType = "tourist" }, ErrVisaTypeNotFound},
		{"no files", func(_ *EvaluationService, in *CreateEvaluationInput) { in.Files = nil }, ErrNoDocuments},
		{"too many", func(s *EvaluationService, in *CreateEvaluationInput) {
			s.MaxFiles = 1
			in.Files = append(in.Files, docUpload("b.doc"))
		}, ErrTooManyFiles},
		{"too large", func(s *EvaluationService, _ *CreateEvaluationInput) { s.MaxFileSize = 8 }, ErrFileTooLarge},
		{"unsupported", func(_ *EvaluationService, in *CreateEvaluationInput) {
			in.Files = []Upload{{FileName: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}}
		}, ErrUnsupportedFileType},
		{"no analyzer", func(s *EvaluationService, _ *CreateEvaluationInput) { s.Analyzer = nil }, ErrConfiguration},
		{"no storage", func(s *EvaluationService, _ *CreateEvaluationInput) { s.Store = nil }, ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			an := &fakeAnalyzer{response: cleanResponse}
			s, store := newEvalService(t, an)
			in := validInput(docUpload("cv.doc"))
			tc.mutate(s, &in)

			e, err := s.Create(context.Background(), in)
			if !errors.Is(err, tc.want) || e != nil {
				t.Fatalf("Create = (%v, %v), want %v", e, err, tc.want)
			}
			if countRows(t, s) != 0 || len(store.Keys()) != 0 || an.Calls() != 0 {
				t.Fatalf("preflight failure must not persist, upload or call the model")
			}
		})
	}
}

func TestCreate_QuotaExceededWritesNothing(t *testing.T) {
	an := &fakeAnalyzer{response: cleanResponse}
	s, _ := newEvalService(t, an)
	s.Quota.FreeLimit = 1
	ctx := context.Background()

	if _, err := s.Create(ctx, validInput(docUpload("cv.doc"))); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	e, err := s.Create(ctx, validInput(docUpload("cv.doc")))
	var qe *QuotaExceededError
	if e != nil || !errors.As(err, &qe) || qe.Used != 1 || qe.Limit != 1 {
		t.Fatalf("expected quota error, got (%v, %v)", e, err)
	}
	if countRows(t, s) != 1 || an.Calls() != 1 {
		t.Fatalf("denied request must not persist or analyse")
	}
}

func TestCreate_FailuresAreRecorded(t *testing.T) {
	cases := []struct {
		name    string
		an      *fakeAnalyzer
		files   []Upload
		putErr  error
		summary string
		calls   int
	}{
		{
			name:    "extraction",
			an:      &fakeAnalyzer{response: cleanResponse},
			files:   []Upload{docUpload("cv.doc"), {FileName: "bad.doc", ContentType: extractor.MimeDOC, Data: []byte{1, 2, 3}}},
			summary: "Analysis failed: failed to process file bad.doc",
		},
		{
			name:    "upload",
			an:      &fakeAnalyzer{response: cleanResponse},
			files:   []Upload{docUpload("cv.doc")},
			putErr:  errors.New("bucket offline"),
			summary: "Analysis failed: failed to upload file cv.doc: bucket offline",
		},
		{
			name:    "provider",
			an:      &fakeAnalyzer{err: errors.New("502 bad gateway")},
			files:   []Upload{docUpload("cv.doc")},
			summary: "Analysis failed: 502 bad gateway",
			calls:   1,
		},
		{
			name:    "invalid format",
			an:      &fakeAnalyzer{response: "I cannot help with that."},
			files:   []Upload{docUpload("cv.doc")},
			summary: "Analysis failed: invalid response format",
			calls:   1,
		},
		{
			name:    "timeout",
			an:      &fakeAnalyzer{response: cleanResponse, delay: time.Minute},
			files:   []Upload{docUpload("cv.doc")},
			summary: "Analysis failed: analysis timed out",
			calls:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, store := newEvalService(t, tc.an)
			s.LLMTimeout = 50 * time.Millisecond
			store.FailPut = tc.putErr

			e, err := s.Create(context.Background(), validInput(tc.files...))
			if !errors.Is(err, ErrAnalysisFailed) {
				t.Fatalf("expected ErrAnalysisFailed, got %v", err)
			}
			if e == nil || e.ID == "" {
				t.Fatalf("failed evaluation must be returned with the error")
			}

			stored, gerr := s.Get(context.Background(), "u1", e.ID)
			if gerr != nil {
				t.Fatalf("Get: %v", gerr)
			}
			res := stored.EvaluationResultOrNil()
			if stored.Status != domain.StatusFailed || res == nil || res.IsMalicious || res.Score != 0 {
				t.Fatalf("unexpected failed row: %+v %+v", stored, res)
			}
			if !strings.HasPrefix(res.Summary, tc.summary) {
				t.Fatalf("summary = %q, want prefix %q", res.Summary, tc.summary)
			}
			if stored.Outcome() != domain.OutcomeFailed || tc.an.Calls() != tc.calls {
				t.Fatalf("outcome=%q calls=%d", stored.Outcome(), tc.an.Calls())
			}
			// Free-plan usage counts rows, so the failed one stays counted.
			if countRows(t, s) != 1 {
				t.Fatalf("failed evaluation must keep its row")
			}
		})
	}
}

func TestCreate_SubscribedCallsCountOnlySuccess(t *testing.T) {
	cases := []struct {
		name  string
		an    *fakeAnalyzer
		files []Upload
		want  int
		fails bool
	}{
		{"completed", &fakeAnalyzer{response: cleanResponse}, []Upload{docUpload("cv.doc")}, 1, false},
		{"flagged", &fakeAnalyzer{response: flaggedResponse}, []Upload{docUpload("cv.doc")}, 1, false},
		{"provider down", &fakeAnalyzer{err: errors.New("provider down")}, []Upload{docUpload("cv.doc")}, 0, true},
		{"not json", &fakeAnalyzer{response: "not json"}, []Upload{docUpload("cv.doc")}, 0, true},
		{"extraction", &fakeAnalyzer{response: cleanResponse}, []Upload{{FileName: "bad.doc", ContentType: extractor.MimeDOC, Data: []byte{1, 2, 3}}}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newEvalService(t, tc.an)
			ctx := context.Background()
			subscribe(t, s.DB, "u1", "pro_monthly", 0)

			_, err := s.Create(ctx, validInput(tc.files...))
			if tc.fails != (err != nil) {
				t.Fatalf("Create err = %v", err)
			}
			sub, err := repo.GetActiveSubscription(ctx, s.DB, "u1", time.Now())
			if err != nil {
				t.Fatalf("GetActiveSubscription: %v", err)
			}
			if sub.CallsUsed != tc.want {
				t.Fatalf("callsUsed = %d, want %d", sub.CallsUsed, tc.want)
			}
		})
	}
}

func TestQuotaRelease_NeverBelowZero(t *testing.T) {
	db := newServiceDB(t)
	q := &QuotaService{DB: db, FreeLimit: 5}
	ctx := context.Background()
	sub := subscribe(t, db, "u1", "pro_monthly", 0)

	if err := q.Release(ctx, QuotaStatus{Subscription: sub}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := q.Release(ctx, QuotaStatus{}); err != nil {
		t.Fatalf("Release without subscription: %v", err)
	}
	st, err := q.Check(ctx, "u1")
	if err != nil || st.Used != 0 {
		t.Fatalf("used = %d, err = %v", st.Used, err)
	}
}

func TestCreate_ExtractionFailureKeepsEarlierUploads(t *testing.T) {
	s, store := newEvalService(t, &fakeAnalyzer{response: cleanResponse})
	bad := Upload{FileName: "bad.doc", ContentType: extractor.MimeDOC, Data: []byte{1, 2, 3}}

	e, err := s.Create(context.Background(), validInput(docUpload("cv.doc"), bad))
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if len(store.Keys()) != 1 || len(e.Documents) != 1 {
		t.Fatalf("first upload should stay stored and listed: keys=%v docs=%+v", store.Keys(), e.Documents)
	}
}

func TestListGetDelete(t *testing.T) {
	s, _ := newEvalService(t, &fakeAnalyzer{response: cleanResponse})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := s.Create(ctx, validInput(docUpload("cv.doc")))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, e.ID)
	}

	page, err := s.List(ctx, "u1", EvaluationListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Evaluations) != 2 || !page.HasMore || page.Limit != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if r := page.Evaluations[0].EvaluationResultOrNil(); r == nil || r.RawAnalysis != "" {
		t.Fatalf("list must omit raw analysis: %+v", r)
	}

	page, _ = s.List(ctx, "u1", EvaluationListFilter{Limit: 1000, Country: "us", Status: domain.StatusCompleted})
	if page.Limit != maxListLimit || page.Total != 3 || page.HasMore {
		t.Fatalf("filtered page: %+v", page)
	}

	if _, err := s.Get(ctx, "u2", ids[0]); !errors.Is(err, ErrEvaluationNotFound) {
		t.Fatalf("foreign Get should be not found, got %v", err)
	}
	if err := s.Delete(ctx, "u2", ids[0]); !errors.Is(err, ErrEvaluationNotFound) {
		t.Fatalf("foreign Delete should be not found, got %v", err)
	}
	if err := s.Delete(ctx, "u1", ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "u1", ids[0]); !errors.Is(err, ErrEvaluationNotFound) {
		t.Fatalf("deleted evaluation still readable: %v", err)
	}
}

func TestDocumentURLs(t *testing.T) {
	s, _ := newEvalService(t, &fakeAnalyzer{response: cleanResponse})
	e, err := s.Create(context.Background(), validInput(docUpload("cv.doc")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	links := s.DocumentURLs(context.Background(), e)
	if len(links) != 1 || !strings.HasPrefix(links[0].URL, "memory://") || links[0].FileName != "cv.doc" {
		t.Fatalf("unexpected links: %+v", links)
	}
}
