// Evaluation HTTP handlers.
//
// This file exposes the analysis endpoints:
//   - POST   /evaluations        (multipart upload, synchronous analysis)
//   - GET    /evaluations        (list, filtered and paginated, ETag support)
//   - GET    /evaluations/{id}   (detail with presigned document links)
//   - DELETE /evaluations/{id}
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// evaluation exists for (user, route, key), the handler returns that stored
// evaluation and sets `Idempotency-Replayed: true`. No quota is consumed.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
	"github.com/tbourn/visa-eval-backend/internal/services"
	"github.com/tbourn/visa-eval-backend/internal/utils"
)

const (
	// formFiles is the multipart field carrying the documents. The bracketed
	// variant is accepted for clients that append [] to repeated fields.
	formFiles = "documents"
	// multipartMemory is held in memory before parts spill to temp files.
	multipartMemory = 32 << 20
)

//
// DTOs
//

// EvaluationView is an evaluation whose documents carry download links.
type EvaluationView struct {
	*domain.Evaluation
	Documents []services.DocumentLink `json:"documents"`
}

// CreateEvaluationResponse is the outcome of a submitted analysis. The raw
// model output is kept on the stored row and never returned here.
type CreateEvaluationResponse struct {
	EvaluationID string                   `json:"evaluationId"`
	Status       domain.EvaluationStatus  `json:"status"`
	Country      string                   `json:"country"`
	VisaType     string                   `json:"visaType"`
	Documents    []services.DocumentLink  `json:"documents"`
	Result       *domain.EvaluationResult `json:"result,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	ProcessedAt  *time.Time               `json:"processedAt,omitempty"`
}

// ListPagination is the offset pagination of list responses.
type ListPagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Skip    int   `json:"skip"`
	HasMore bool  `json:"hasMore"`
}

// ListEvaluationsResponse wraps a page of evaluations.
type ListEvaluationsResponse struct {
	Evaluations []domain.Evaluation `json:"evaluations"`
	Pagination  ListPagination      `json:"pagination"`
}

//
// Helpers
//

// readUploads collects the uploaded documents in form order. The optional
// "documentType_documents" value labels them; the service defaults it.
func readUploads(form *multipart.Form) ([]services.Upload, error) {
	docType := ""
	if v := form.Value["documentType_"+formFiles]; len(v) > 0 {
		docType = v[0]
	}

	var uploads []services.Upload
	for _, field := range []string{formFiles, formFiles + "[]"} {
		for _, fh := range form.File[field] {
			data, err := readPart(fh)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
			}
			uploads = append(uploads, services.Upload{
				FileName:     fh.Filename,
				ContentType:  fh.Header.Get("Content-Type"),
				DocumentType: docType,
				Data:         data,
			})
		}
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// evaluationsETag builds a weak ETag for the caller's list. The query is part
// of the tag because filters change the page.
func (h *Handlers) evaluationsETag(c *gin.Context, uid string) (string, bool) {
	if h.stats == nil {
		return "", false
	}
	count, latest, err := h.stats(c.Request.Context(), uid)
	if err != nil {
		return "", false
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"evaluations:%s:%d:%d:%s"`, uid, count, ts, c.Request.URL.RawQuery), true
}

func (h *Handlers) createResponse(ctx context.Context, e *domain.Evaluation) CreateEvaluationResponse {
	out := CreateEvaluationResponse{
		EvaluationID: e.ID,
		Status:       e.Status,
		Country:      e.Country,
		VisaType:     e.VisaType,
		Documents:    h.evals.DocumentURLs(ctx, e),
		CreatedAt:    e.CreatedAt,
		ProcessedAt:  e.ProcessedAt,
	}
	if r := e.EvaluationResultOrNil(); r != nil {
		cp := *r
		cp.RawAnalysis = ""
		out.Result = &cp
	}
	return out
}

// replay serves a stored evaluation for a repeated Idempotency-Key.
func (h *Handlers) replay(c *gin.Context, uid, key string) bool {
	if h.idem == nil || key == "" {
		return false
	}
	ctx := c.Request.Context()
	id, found, err := h.idem.Lookup(ctx, uid, middleware.IdempotencyScope(c), key)
	if err != nil || !found {
		return false
	}
	prev, err := h.evals.Get(ctx, uid, id)
	if err != nil {
		return false
	}
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	ok(c, http.StatusOK, h.createResponse(ctx, prev))
	return true
}

//
// Handlers
//

// CreateEvaluation godoc
// @ID          createEvaluation
// @Summary     Analyse visa documents
// @Description Uploads 1–10 documents (PDF, DOCX or DOC; 10 MiB each) and runs the
// @Description analysis synchronously. Consumes one call of the monthly quota.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Evaluations
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
//
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       country          formData  string  true  "Country code"  example(DE)
// @Param       visaType         formData  string  true  "Visa type code"  example(EU_BLUE_CARD)
// @Param       documents        formData  file    true  "Documents (repeatable)"
//
// @Success     201  {object}  handlers.SuccessResponse{data=handlers.CreateEvaluationResponse}
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.CreateEvaluationResponse}  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Analysis failed"
// @Router      /evaluations [post]
func (h *Handlers) CreateEvaluation(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replay(c, uid, idemKey) {
		return
	}

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart/form-data body required")
		return
	}
	form := c.Request.MultipartForm
	defer form.RemoveAll()

	uploads, err := readUploads(form)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	in := services.CreateEvaluationInput{
		UserID:   uid,
		Country:  strings.TrimSpace(c.PostForm("country")),
		VisaType: strings.TrimSpace(c.PostForm("visaType")),
		Files:    uploads,
	}
	middleware.SetUsageMetadata(c, map[string]any{
		"country":       in.Country,
		"visaType":      in.VisaType,
		"documentCount": len(uploads),
	})

	e, err := h.evals.Create(ctx, in)
	if err != nil {
		if e != nil {
			status, code := statusFor(err)
			abort(c, status, ErrorResponse{
				Code:         code,
				Message:      err.Error(),
				EvaluationID: e.ID,
			})
			return
		}
		failErr(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if h.idem != nil && idemKey != "" {
		if err := h.idem.Save(ctx, uid, middleware.IdempotencyScope(c), idemKey, e.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}

	ok(c, http.StatusCreated, h.createResponse(ctx, e))
}

// ListEvaluations godoc
// @ID          listEvaluations
// @Summary     List evaluations
// @Description Returns the caller's evaluations, newest first, without the raw model output.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Evaluations
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "pending|processing|completed|failed"
// @Param       country        query   string  false "Country code"
// @Param       visaType       query   string  false "Visa type code"
// @Param       limit          query   int     false "Page size"  minimum(1) maximum(100) default(20)
// @Param       skip           query   int     false "Offset"     minimum(0) default(0)
//
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.ListEvaluationsResponse}
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /evaluations [get]
func (h *Handlers) ListEvaluations(c *gin.Context) {
	uid := userID(c)

	status := domain.EvaluationStatus(strings.TrimSpace(c.Query("status")))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "status must be one of pending, processing, completed, failed")
		return
	}

	if etag, has := h.evaluationsETag(c, uid); has {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, err := h.evals.List(c.Request.Context(), uid, services.EvaluationListFilter{
		Status:   status,
		Country:  c.Query("country"),
		VisaType: c.Query("visaType"),
		Limit:    utils.QueryInt(c.Query("limit"), 0),
		Skip:     utils.QueryInt(c.Query("skip"), 0),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListEvaluationsResponse{
		Evaluations: page.Evaluations,
		Pagination: ListPagination{
			Total:   page.Total,
			Limit:   page.Limit,
			Skip:    page.Skip,
			HasMore: page.HasMore,
		},
	})
}

// GetEvaluation godoc
// @ID          getEvaluation
// @Summary     Get an evaluation
// @Description Documents carry presigned download links valid for one hour.
// @Tags        Evaluations
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Param       id  path  string  true  "Evaluation ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.EvaluationView}
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /evaluations/{id} [get]
func (h *Handlers) GetEvaluation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "evaluation id must be a UUID")
		return
	}
	ctx := c.Request.Context()
	e, err := h.evals.Get(ctx, userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, EvaluationView{Evaluation: e, Documents: h.evals.DocumentURLs(ctx, e)})
}

// DeleteEvaluation godoc
// @ID          deleteEvaluation
// @Summary     Delete an evaluation
// @Tags        Evaluations
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Param       id  path  string  true  "Evaluation ID (UUID)"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /evaluations/{id} [delete]
func (h *Handlers) DeleteEvaluation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "evaluation id must be a UUID")
		return
	}
	if err := h.evals.Delete(c.Request.Context(), userID(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
