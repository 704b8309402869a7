package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

type lookupCall struct {
	userID, scope, key string
	at                 time.Time
}

type idemObserved struct {
	key     string
	hasKey  bool
	replay  bool
	bypass  bool
	reached bool
}

// idemRouter mounts IdempotencyValidator behind an optional principal and
// records what the handler observed.
func idemRouter(userID string, opts IdempotencyOptions, lookup IdempotencyLookup, seen *idemObserved) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	if userID != "" {
		r.Use(func(c *gin.Context) {
			setPrincipal(c, services.Principal{UserID: userID, Method: services.AuthJWT})
			c.Next()
		})
	}
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/api/evaluations", func(c *gin.Context) {
		seen.reached = true
		seen.key, seen.hasKey = GetIdempotencyKey(c)
		seen.replay = IsReplay(c)
		seen.bypass = IsRateBypass(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func postWithKey(r http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/evaluations", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_KeyValidation(t *testing.T) {
	digits := regexp.MustCompile(`^[0-9]+$`)
	cases := []struct {
		name   string
		opts   IdempotencyOptions
		key    string
		status int
	}{
		{"absent", IdempotencyOptions{}, "", http.StatusNoContent},
		{"default pattern", IdempotencyOptions{}, "eval:2024-01-01.a_b~c", http.StatusNoContent},
		{"space rejected", IdempotencyOptions{}, "two words", http.StatusBadRequest},
		{"slash rejected", IdempotencyOptions{}, "a/b", http.StatusBadRequest},
		{"over max len", IdempotencyOptions{MaxLen: 5}, "abcdef", http.StatusBadRequest},
		{"at max len", IdempotencyOptions{MaxLen: 5}, "abcde", http.StatusNoContent},
		{"custom pattern miss", IdempotencyOptions{Pattern: digits}, "abc123", http.StatusBadRequest},
		{"custom pattern hit", IdempotencyOptions{Pattern: digits}, "123", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen idemObserved
			w := postWithKey(idemRouter("", tc.opts, nil, &seen), tc.key)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.status != http.StatusBadRequest {
				if seen.hasKey != (tc.key != "") || seen.key != tc.key {
					t.Fatalf("stashed key = %q (%v)", seen.key, seen.hasKey)
				}
				return
			}
			if seen.reached {
				t.Fatalf("handler ran for rejected key")
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["success"] != false || body["request_id"] == "" {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_Lookup(t *testing.T) {
	t.Run("anonymous caller skips lookup", func(t *testing.T) {
		var seen idemObserved
		r := idemRouter("", IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
			t.Fatalf("lookup must not run without a user")
			return false, nil
		}, &seen)
		if w := postWithKey(r, "k1"); w.Code != http.StatusNoContent || !seen.hasKey || seen.replay {
			t.Fatalf("code=%d seen=%+v", w.Code, seen)
		}
	})

	t.Run("no header skips lookup", func(t *testing.T) {
		called := false
		var seen idemObserved
		r := idemRouter("u1", IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
			called = true
			return true, nil
		}, &seen)
		postWithKey(r, "")
		if called || seen.replay {
			t.Fatalf("lookup called=%v replay=%v", called, seen.replay)
		}
	})

	t.Run("miss", func(t *testing.T) {
		var got lookupCall
		var seen idemObserved
		r := idemRouter("u1", IdempotencyOptions{}, func(_ context.Context, userID, scope, key string, at time.Time) (bool, error) {
			got = lookupCall{userID, scope, key, at}
			return false, nil
		}, &seen)
		postWithKey(r, "k1")
		if got.userID != "u1" || got.scope != "POST /api/evaluations" || got.key != "k1" || got.at.IsZero() {
			t.Fatalf("lookup args = %+v", got)
		}
		if seen.replay || seen.bypass {
			t.Fatalf("miss marked as replay: %+v", seen)
		}
	})

	t.Run("hit marks replay and rate bypass", func(t *testing.T) {
		var seen idemObserved
		r := idemRouter("u9", IdempotencyOptions{}, func(_ context.Context, userID, _, key string, _ time.Time) (bool, error) {
			return userID == "u9" && key == "k9", nil
		}, &seen)
		postWithKey(r, "k9")
		if !seen.replay || !seen.bypass {
			t.Fatalf("hit not marked: %+v", seen)
		}
	})

	t.Run("lookup error treated as miss", func(t *testing.T) {
		var seen idemObserved
		r := idemRouter("u1", IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
			return true, context.DeadlineExceeded
		}, &seen)
		postWithKey(r, "k1")
		if !seen.reached || seen.replay {
			t.Fatalf("error should fall through as a miss: %+v", seen)
		}
	})
}

func TestIdempotencyScope_FallsBackToRawPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/evaluations/abc", nil)
	if got := IdempotencyScope(c); got != "DELETE /api/evaluations/abc" {
		t.Fatalf("scope = %q", got)
	}
	c.Set(ctxKeyIdemKey, 42)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key should read as absent")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag should read as false")
	}
}
