package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

type fakeAuth struct {
	keys   map[string]services.Principal
	tokens map[string]services.Principal
}

func (f fakeAuth) AuthenticateAPIKey(_ context.Context, key string) (services.Principal, error) {
	if p, ok := f.keys[key]; ok {
		return p, nil
	}
	return services.Principal{}, errors.New("no such key")
}

func (f fakeAuth) ParseToken(token string) (services.Principal, error) {
	if p, ok := f.tokens[token]; ok {
		return p, nil
	}
	return services.Principal{}, errors.New("bad token")
}

func newFakeAuth() fakeAuth {
	return fakeAuth{
		keys:   map[string]services.Principal{"vk_good": {UserID: "u1", APIKeyID: "k1", Method: services.AuthAPIKey}},
		tokens: map[string]services.Principal{"jwt-good": {UserID: "u2", Method: services.AuthJWT}},
	}
}

func authRouter(t *testing.T, methods ...services.AuthMethod) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(Authenticate(newFakeAuth(), methods...))
	r.GET("/me", func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || p.UserID != UserIDFrom(c) {
			t.Fatalf("principal not stored: %+v", p)
		}
		c.JSON(http.StatusOK, gin.H{"user": p.UserID, "method": p.Method})
	})
	return r
}

func doAuth(r http.Handler, header, value string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestAuthenticate_APIKeyAndBearer(t *testing.T) {
	r := authRouter(t)

	w, body := doAuth(r, HeaderAPIKey, "vk_good")
	if w.Code != http.StatusOK || body["user"] != "u1" || body["method"] != "api_key" {
		t.Fatalf("api key: %d %v", w.Code, body)
	}
	w, body = doAuth(r, "Authorization", "Bearer jwt-good")
	if w.Code != http.StatusOK || body["user"] != "u2" || body["method"] != "jwt" {
		t.Fatalf("bearer: %d %v", w.Code, body)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	r := authRouter(t)
	cases := []struct {
		name, header, value string
	}{
		{"missing", "", ""},
		{"bad key", HeaderAPIKey, "vk_bad"},
		{"bad token", "Authorization", "Bearer nope"},
		{"wrong scheme", "Authorization", "Basic abc"},
		{"empty bearer", "Authorization", "Bearer "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doAuth(r, tc.header, tc.value)
			if w.Code != http.StatusUnauthorized || body["code"] != "unauthorized" || body["success"] != false {
				t.Fatalf("want 401 envelope, got %d %v", w.Code, body)
			}
		})
	}
}

func TestAuthenticate_RestrictedMethods(t *testing.T) {
	jwtOnly := authRouter(t, services.AuthJWT)
	if w, body := doAuth(jwtOnly, HeaderAPIKey, "vk_good"); w.Code != http.StatusForbidden || body["code"] != "forbidden" {
		t.Fatalf("api key on jwt-only route: %d %v", w.Code, body)
	}
	if w, _ := doAuth(jwtOnly, "Authorization", "Bearer jwt-good"); w.Code != http.StatusOK {
		t.Fatalf("jwt on jwt-only route: %d", w.Code)
	}

	keyOnly := authRouter(t, services.AuthAPIKey)
	if w, _ := doAuth(keyOnly, "Authorization", "Bearer jwt-good"); w.Code != http.StatusForbidden {
		t.Fatalf("jwt on key-only route: %d", w.Code)
	}
}

func TestPrincipalFrom_Absent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := PrincipalFrom(c); ok {
		t.Fatalf("expected no principal")
	}
	if UserIDFrom(c) != "" {
		t.Fatalf("expected empty user id")
	}
}
