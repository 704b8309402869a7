// Package services – EvaluationService
//
// EvaluationService orchestrates one analysis request end to end: input
// preflight, quota admission, text extraction, document upload, the language
// model call and response validation. The evaluation row is the source of
// truth for progress:
//
//	pending -> processing -> completed | failed
//
// Nothing is written before admission. After admission every failure is
// recorded on the row as a synthetic result, and the evaluation is returned
// together with the error so callers can reference it.
//
// Observability: each phase runs in its own OpenTelemetry span; terminal
// outcomes and score clamps are counted in Prometheus.
package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/extractor"
	"github.com/tbourn/visa-eval-backend/internal/llm"
	"github.com/tbourn/visa-eval-backend/internal/prompt"
	"github.com/tbourn/visa-eval-backend/internal/repo"
	"github.com/tbourn/visa-eval-backend/internal/storage"
	"github.com/tbourn/visa-eval-backend/internal/utils"
	"github.com/tbourn/visa-eval-backend/internal/visadata"
)

const (
	defaultMaxFiles    = 10
	defaultMaxFileSize = 10 << 20
	defaultLLMTimeout  = 90 * time.Second
	defaultURLExpiry   = time.Hour

	defaultListLimit = 20
	maxListLimit     = 100

	defaultDocumentType = "general"
)

// Upload is one file received with an evaluation request.
type Upload struct {
	FileName     string
	ContentType  string
	DocumentType string
	Data         []byte
}

// CreateEvaluationInput is the request to analyse a set of documents.
type CreateEvaluationInput struct {
	UserID   string
	Country  string
	VisaType string
	Files    []Upload
}

// EvaluationListFilter narrows List. Limit is capped at 100.
type EvaluationListFilter struct {
	Status   domain.EvaluationStatus
	Country  string
	VisaType string
	Limit    int
	Skip     int
}

// EvaluationPage is one page of a user's evaluations.
type EvaluationPage struct {
	Evaluations []domain.Evaluation
	Total       int64
	Limit       int
	Skip        int
	HasMore     bool
}

// DocumentLink is a stored document with a time-limited download URL.
type DocumentLink struct {
	domain.Document
	URL string `json:"url,omitempty"`
}

// EvaluationService runs the analysis pipeline.
type EvaluationService struct {
	DB       *gorm.DB
	Quota    *QuotaService
	Analyzer llm.Analyzer
	Store    storage.Store
	Catalog  *visadata.Catalog

	MaxFiles    int
	MaxFileSize int64
	LLMTimeout  time.Duration
	URLExpiry   time.Duration
}

func (s *EvaluationService) maxFiles() int {
	if s.MaxFiles > 0 {
		return s.MaxFiles
	}
	return defaultMaxFiles
}

func (s *EvaluationService) maxFileSize() int64 {
	if s.MaxFileSize > 0 {
		return s.MaxFileSize
	}
	return defaultMaxFileSize
}

func (s *EvaluationService) catalog() *visadata.Catalog {
	if s.Catalog != nil {
		return s.Catalog
	}
	return visadata.Default()
}

// Create validates the request, reserves quota and runs the pipeline
// synchronously. On a post-admission failure both the failed evaluation and
// an error wrapping ErrAnalysisFailed are returned.
func (s *EvaluationService) Create(ctx context.Context, in CreateEvaluationInput) (*domain.Evaluation, error) {
	tr := otel.Tracer("services/EvaluationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.String("visa.country", in.Country),
			attribute.String("visa.type", in.VisaType),
			attribute.Int("documents.count", len(in.Files)),
		),
	)
	defer span.End()

	country, visa, types, err := s.preflight(in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e := &domain.Evaluation{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Country:   country.Code,
		VisaType:  visa.Code,
		Status:    domain.StatusPending,
		Documents: datatypes.NewJSONSlice([]domain.Document{}),
	}
	reserved, err := s.Quota.Reserve(ctx, in.UserID, e)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("evaluation.id", e.ID))

	lg := zerolog.Ctx(ctx).With().Str("evaluation_id", e.ID).Logger()
	lg.Info().
		Str("country", e.Country).
		Str("visa_type", e.VisaType).
		Int("documents", len(in.Files)).
		Msg("evaluation admitted")

	texts, err := s.ingest(ctx, e, in.Files, types)
	if err != nil {
		return s.fail(ctx, span, e, reserved, err)
	}

	raw, result, err := s.analyze(ctx, extractor.Join(texts), country, visa)
	if err != nil {
		return s.fail(ctx, span, e, reserved, err)
	}

	result.RawAnalysis = raw
	now := time.Now().UTC()
	e.Status = domain.StatusCompleted
	e.Result = datatypes.NewJSONType(result)
	e.ProcessedAt = &now
	if err := repo.SaveEvaluationProgress(ctx, s.DB, e); err != nil {
		return s.fail(ctx, span, e, reserved, fmt.Errorf("save result: %w", err))
	}

	observeOutcome(e.Outcome())
	span.SetAttributes(
		attribute.String("evaluation.outcome", string(e.Outcome())),
		attribute.Int("evaluation.score", result.Score),
	)
	lg.Info().
		Str("outcome", string(e.Outcome())).
		Int("score", result.Score).
		Msg("evaluation completed")
	return e, nil
}

// preflight rejects a request before anything is persisted or consumed.
// It returns the resolved catalogue entries and each file's extension.
func (s *EvaluationService) preflight(in CreateEvaluationInput) (visadata.Country, visadata.VisaType, []string, error) {
	var (
		country visadata.Country
		visa    visadata.VisaType
	)
	if strings.TrimSpace(in.Country) == "" || strings.TrimSpace(in.VisaType) == "" {
		return country, visa, nil, ErrMissingFields
	}
	country, visa, ok := s.catalog().VisaType(strings.TrimSpace(in.Country), strings.TrimSpace(in.VisaType))
	if !ok {
		return country, visa, nil, fmt.Errorf("%w: %s for country %s", ErrVisaTypeNotFound, in.VisaType, in.Country)
	}

	if len(in.Files) == 0 {
		return country, visa, nil, ErrNoDocuments
	}
	if len(in.Files) > s.maxFiles() {
		return country, visa, nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyFiles, len(in.Files), s.maxFiles())
	}
	types := make([]string, len(in.Files))
	for i, f := range in.Files {
		if int64(len(f.Data)) > s.maxFileSize() {
			return country, visa, nil, fmt.Errorf("%w: %s", ErrFileTooLarge, f.FileName)
		}
		ft := fileType(f)
		if ft == "" {
			ct := f.ContentType
			if ct == "" {
				ct = f.FileName
			}
			return country, visa, nil, fmt.Errorf("%w: %s (supported: PDF, DOC, DOCX)", ErrUnsupportedFileType, ct)
		}
		types[i] = ft
	}

	if s.Analyzer == nil || s.Store == nil {
		return country, visa, nil, ErrConfiguration
	}
	return country, visa, types, nil
}

// fileType resolves the extractor type from the MIME type, falling back to
// the file extension when the client sent a generic content type.
func fileType(u Upload) string {
	if ext := extractor.ExtensionFor(u.ContentType); ext != "unknown" {
		return ext
	}
	switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.FileName), ".")); ext {
	case "pdf", "doc", "docx":
		return ext
	}
	return ""
}

// ingest moves the row to processing, extracts every file (fail-fast) and
// uploads it. The documents list is saved before the model is called.
func (s *EvaluationService) ingest(ctx context.Context, e *domain.Evaluation, files []Upload, types []string) ([]string, error) {
	ctx, span := otel.Tracer("services/EvaluationService").Start(ctx, "Ingest")
	defer span.End()

	e.Status = domain.StatusProcessing
	if err := repo.SaveEvaluationProgress(ctx, s.DB, e); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	texts := make([]string, 0, len(files))
	docs := make([]domain.Document, 0, len(files))
	for i, f := range files {
		ex, err := extractor.Extract(f.Data, types[i])
		if err != nil {
			return nil, fmt.Errorf("failed to process file %s: %w", f.FileName, err)
		}

		key := storage.ObjectKey(e.UserID, e.ID, f.FileName)
		contentType := f.ContentType
		if !extractor.IsSupported(contentType) {
			contentType = mimeFor(types[i])
		}
		if err := s.Store.Put(ctx, key, f.Data, contentType); err != nil {
			return nil, fmt.Errorf("failed to upload file %s: %w", f.FileName, err)
		}

		docType := strings.TrimSpace(f.DocumentType)
		if docType == "" {
			docType = defaultDocumentType
		}
		docs = append(docs, domain.Document{
			Type:        docType,
			StorageKey:  key,
			FileName:    f.FileName,
			ContentType: contentType,
			Size:        int64(len(f.Data)),
			WordCount:   ex.WordCount,
			UploadedAt:  time.Now().UTC(),
		})
		// Keep what is already stored visible even if a later file fails.
		e.Documents = datatypes.NewJSONSlice(docs)
		texts = append(texts, ex.Text)
	}
	span.SetAttributes(attribute.Int("documents.stored", len(docs)))

	if err := repo.SaveEvaluationProgress(ctx, s.DB, e); err != nil {
		return nil, fmt.Errorf("save documents: %w", err)
	}
	return texts, nil
}

func mimeFor(ext string) string {
	switch ext {
	case "pdf":
		return extractor.MimePDF
	case "doc":
		return extractor.MimeDOC
	default:
		return extractor.MimeDOCX
	}
}

// analyze builds the prompt, calls the model under the configured timeout and
// validates the answer.
func (s *EvaluationService) analyze(ctx context.Context, text string, country visadata.Country, visa visadata.VisaType) (string, *domain.EvaluationResult, error) {
	ctx, span := otel.Tracer("services/EvaluationService").Start(ctx, "Analyze")
	defer span.End()

	p := prompt.Build(prompt.Data{
		DocumentText: text,
		VisaType:     visa,
		CountryName:  country.Name,
	})

	timeout := s.LLMTimeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.Analyzer.Analyze(lctx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("analysis timed out after %s: %w", timeout, err)
		}
		return "", nil, err
	}

	res, rep, err := prompt.Validate(raw)
	if err != nil {
		return raw, nil, err
	}
	observeClamps(rep)
	span.SetAttributes(
		attribute.Bool("llm.malicious", res.IsMalicious),
		attribute.Int("llm.clamps", len(rep.Clamps)),
	)
	return raw, res, nil
}

// fail records cause on the row, gives back the subscription call reserved
// for it and returns the evaluation with the error. The writes use a context
// that survives request cancellation so a timed-out client still leaves a
// terminal row behind.
func (s *EvaluationService) fail(ctx context.Context, span trace.Span, e *domain.Evaluation, reserved QuotaStatus, cause error) (*domain.Evaluation, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	now := time.Now().UTC()
	e.Status = domain.StatusFailed
	e.ProcessedAt = &now
	e.Result = datatypes.NewJSONType(&domain.EvaluationResult{
		IsMalicious: false,
		Score:       0,
		Summary:     "Analysis failed: " + cause.Error(),
		Strengths:   []string{},
		Weaknesses:  []string{},
		Suggestions: []string{},
	})
	bg := context.WithoutCancel(ctx)
	if err := repo.SaveEvaluationProgress(bg, s.DB, e); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("evaluation_id", e.ID).Msg("could not record failed evaluation")
	}
	if err := s.Quota.Release(bg, reserved); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("evaluation_id", e.ID).Msg("could not release reserved call")
	}
	observeOutcome(domain.OutcomeFailed)
	zerolog.Ctx(ctx).Warn().Err(cause).Str("evaluation_id", e.ID).Msg("evaluation failed")
	return e, fmt.Errorf("%w: %w", ErrAnalysisFailed, cause)
}

// List returns a page of the user's evaluations, newest first, without the
// raw model output.
func (s *EvaluationService) List(ctx context.Context, userID string, f EvaluationListFilter) (*EvaluationPage, error) {
	ctx, span := otel.Tracer("services/EvaluationService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", f.Limit),
			attribute.Int("skip", f.Skip),
		),
	)
	defer span.End()

	w := utils.ClampWindow(f.Limit, f.Skip, defaultListLimit, maxListLimit)
	limit, skip := w.Limit, w.Skip

	items, total, err := repo.ListEvaluations(ctx, s.DB, userID, repo.EvaluationFilter{
		Status:   f.Status,
		Country:  strings.ToUpper(strings.TrimSpace(f.Country)),
		VisaType: strings.TrimSpace(f.VisaType),
		Offset:   skip,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	for i := range items {
		if r := items[i].EvaluationResultOrNil(); r != nil {
			cp := *r
			cp.RawAnalysis = ""
			items[i].Result = datatypes.NewJSONType(&cp)
		}
	}
	return &EvaluationPage{
		Evaluations: items,
		Total:       total,
		Limit:       limit,
		Skip:        skip,
		HasMore:     utils.HasMore(total, skip, len(items)),
	}, nil
}

// Get returns one evaluation owned by userID.
func (s *EvaluationService) Get(ctx context.Context, userID, id string) (*domain.Evaluation, error) {
	ctx, span := otel.Tracer("services/EvaluationService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("evaluation.id", id)))
	defer span.End()

	e, err := repo.GetEvaluation(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}
	return e, nil
}

// Delete removes an evaluation owned by userID. Stored document objects are
// not removed.
func (s *EvaluationService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := otel.Tracer("services/EvaluationService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("evaluation.id", id)))
	defer span.End()

	if err := repo.DeleteEvaluation(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEvaluationNotFound
		}
		return err
	}
	return nil
}

// DocumentURLs attaches presigned download links to e's documents. A link
// that cannot be signed is left empty rather than failing the read.
func (s *EvaluationService) DocumentURLs(ctx context.Context, e *domain.Evaluation) []DocumentLink {
	docs := []domain.Document(e.Documents)
	out := make([]DocumentLink, 0, len(docs))
	expiry := s.URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	for _, d := range docs {
		link := DocumentLink{Document: d}
		if s.Store != nil && d.StorageKey != "" {
			url, err := s.Store.PresignedURL(ctx, d.StorageKey, expiry)
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("key", d.StorageKey).Msg("presign failed")
			} else {
				link.URL = url
			}
		}
		out = append(out, link)
	}
	return out
}
