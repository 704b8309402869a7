// Auth HTTP handlers.
//
// This file exposes account and API-key endpoints:
//   - POST   /auth/signup
//   - POST   /auth/login
//   - GET    /auth/me
//   - POST   /auth/api-keys
//   - GET    /auth/api-keys
//   - DELETE /auth/api-keys/{id}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

//
// DTOs
//

// SignupRequest is the JSON payload for creating an account.
type SignupRequest struct {
	Name     string `json:"name"     binding:"required" example:"Ada Lovelace"`
	Email    string `json:"email"    binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}

// LoginRequest is the JSON payload for signing in.
type LoginRequest struct {
	Email    string `json:"email"    binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}

// CreateAPIKeyRequest names a new API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,min=1,max=128" example:"CI pipeline"`
}

//
// Handlers
//

// Signup godoc
// @ID          signup
// @Summary     Create an account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SignupRequest  true  "Signup payload"
// @Success     201  {object}  handlers.SuccessResponse{data=services.Session}
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already registered"
// @Router      /auth/signup [post]
func (h *Handlers) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "name, email and password are required")
		return
	}
	sess, err := h.auth.Signup(c.Request.Context(), services.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, sess)
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object}  handlers.SuccessResponse{data=services.Session}
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}
	sess, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.SuccessResponse{data=domain.User}
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.auth.Me(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// CreateAPIKey godoc
// @ID          createApiKey
// @Summary     Generate an API key
// @Description The plaintext key is returned once and never stored.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CreateAPIKeyRequest  true  "Key name"
// @Success     201  {object}  handlers.SuccessResponse{data=services.IssuedAPIKey}
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /auth/api-keys [post]
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "name required (1–128 chars)")
		return
	}
	issued, err := h.auth.CreateAPIKey(c.Request.Context(), userID(c), strings.TrimSpace(req.Name))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, issued)
}

// ListAPIKeys godoc
// @ID          listApiKeys
// @Summary     List API keys
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SuccessResponse{data=[]domain.APIKey}
// @Router      /auth/api-keys [get]
func (h *Handlers) ListAPIKeys(c *gin.Context) {
	keys, err := h.auth.ListAPIKeys(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, keys)
}

// DeactivateAPIKey godoc
// @ID          deactivateApiKey
// @Summary     Deactivate an API key
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "API key ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse{data=domain.APIKey}
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /auth/api-keys/{id} [delete]
func (h *Handlers) DeactivateAPIKey(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api key id must be a UUID")
		return
	}
	key, err := h.auth.DeactivateAPIKey(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, key)
}
