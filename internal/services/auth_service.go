// Package services – AuthService
//
// AuthService owns accounts and credentials. Passwords are stored as argon2id
// PHC strings, sessions are HS256 JWTs, and API keys are random "vsk_" tokens
// of which only the SHA-256 hash and a short display prefix are persisted.
// Resolved API keys are cached for a short TTL; deactivation evicts the entry.
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/cache"
	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/repo"
)

const (
	// APIKeyPrefix starts every issued key.
	APIKeyPrefix = "vsk_"
	// apiKeyDisplayLen is how much of the key is kept for display.
	apiKeyDisplayLen = 8

	minNameLen     = 2
	minPasswordLen = 6

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// AuthMethod names how a request was authenticated.
type AuthMethod string

const (
	AuthJWT    AuthMethod = "jwt"
	AuthAPIKey AuthMethod = "api_key"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	APIKeyID string
	Method   AuthMethod
}

// Session is returned by Signup and Login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// IssuedAPIKey carries the plaintext key. It is only available at creation.
type IssuedAPIKey struct {
	Key    string         `json:"key"`
	APIKey *domain.APIKey `json:"apiKey"`
}

// SignupInput is a new account request.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// AuthService manages users, sessions and API keys.
type AuthService struct {
	DB        *gorm.DB
	JWTSecret []byte
	JWTTTL    time.Duration
	// KeyCache maps key hashes to principals; nil disables caching.
	KeyCache cache.Cache[string, Principal]
	Now      func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Signup creates an account and opens a session for it.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Signup")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if utf8.RuneCountInString(name) < minNameLen {
		return nil, fmt.Errorf("%w: name must be at least %d characters", ErrInvalidSignup, minNameLen)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidSignup)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignup, minPasswordLen)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := repo.CreateUser(ctx, s.DB, name, email, hash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.session(u)
}

// Login checks credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Me loads the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	return u, err
}

func (s *AuthService) session(u *domain.User) (*Session, error) {
	tok, exp, err := s.IssueToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

// IssueToken signs a bearer token for userID.
func (s *AuthService) IssueToken(userID string) (string, time.Time, error) {
	if len(s.JWTSecret) == 0 {
		return "", time.Time{}, ErrAuthNotConfigured
	}
	ttl := s.JWTTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.JWTSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// ParseToken validates a bearer token and returns its principal.
func (s *AuthService) ParseToken(token string) (Principal, error) {
	if len(s.JWTSecret) == 0 {
		return Principal{}, ErrAuthNotConfigured
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{UserID: claims.Subject, Method: AuthJWT}, nil
}

// AuthenticateAPIKey resolves a plaintext key and marks it used.
func (s *AuthService) AuthenticateAPIKey(ctx context.Context, key string) (Principal, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return Principal{}, ErrUnauthenticated
	}
	hash := HashAPIKey(key)

	p, ok := s.cached(hash)
	if !ok {
		rec, err := repo.GetActiveAPIKeyByHash(ctx, s.DB, hash)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return Principal{}, ErrUnauthenticated
			}
			return Principal{}, err
		}
		if subtle.ConstantTimeCompare([]byte(rec.KeyHash), []byte(hash)) != 1 {
			return Principal{}, ErrUnauthenticated
		}
		p = Principal{UserID: rec.UserID, APIKeyID: rec.ID, Method: AuthAPIKey}
		if s.KeyCache != nil {
			s.KeyCache.Set(hash, p)
		}
	}

	if err := repo.TouchAPIKey(ctx, s.DB, p.APIKeyID, s.now()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("api_key_id", p.APIKeyID).Msg("touch api key failed")
	}
	return p, nil
}

func (s *AuthService) cached(hash string) (Principal, bool) {
	if s.KeyCache == nil {
		return Principal{}, false
	}
	return s.KeyCache.Get(hash)
}

// CreateAPIKey issues a new key for userID.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID, name string) (*IssuedAPIKey, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "CreateAPIKey",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Default"
	}
	plain, err := NewAPIKey()
	if err != nil {
		return nil, err
	}
	rec, err := repo.CreateAPIKey(ctx, s.DB, userID, name, plain[:len(APIKeyPrefix)+apiKeyDisplayLen], HashAPIKey(plain))
	if err != nil {
		return nil, err
	}
	return &IssuedAPIKey{Key: plain, APIKey: rec}, nil
}

// ListAPIKeys returns the user's keys without secrets.
func (s *AuthService) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return repo.ListAPIKeys(ctx, s.DB, userID)
}

// DeactivateAPIKey disables a key and evicts it from the cache.
func (s *AuthService) DeactivateAPIKey(ctx context.Context, userID, id string) (*domain.APIKey, error) {
	rec, err := repo.DeactivateAPIKey(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	if s.KeyCache != nil {
		s.KeyCache.Delete(rec.KeyHash)
	}
	return rec, nil
}

// NewAPIKey returns "vsk_" followed by 32 random hex characters.
func NewAPIKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(b[:]), nil
}

// HashAPIKey is the lowercase hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashPassword encodes password as an argon2id PHC string.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an argon2id PHC string.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var (
		memory, timeCost uint32
		threads          uint8
	)
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return false
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return false
		}
		switch k {
		case "m":
			memory = uint32(n)
		case "t":
			timeCost = uint32(n)
		case "p":
			if n > 255 {
				return false
			}
			threads = uint8(n)
		default:
			return false
		}
	}
	if memory == 0 || timeCost == 0 || threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}
