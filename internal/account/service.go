package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/scores"
)

const issuer = "edutara"

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// ProfileWriter receives the profile created at registration.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p scores.Profile) (scores.Profile, error)
}

// Config holds dependencies and settings for the account service.
type Config struct {
	Store      Store
	Profiles   ProfileWriter // optional
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// Service registers and authenticates learners.
type Service struct {
	store    Store
	profiles ProfileWriter
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

// NewService creates an account service. Zero TTL means 24h and an out of
// range cost means bcrypt.DefaultCost.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is empty")
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:    store,
		profiles: cfg.Profiles,
		secret:   []byte(cfg.Secret),
		ttl:      ttl,
		cost:     cost,
		now:      time.Now,
	}, nil
}

// RegisterRequest is a sign-up form. Name and grade seed the profile.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=100"`
	Grade    int    `json:"grade" validate:"min=0,max=5"`
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns a session for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	req.Email = normalizeEmail(req.Email)
	if err := learning.ValidateStruct(req); err != nil {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	acct := Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return Session{}, err
	}

	if s.profiles != nil {
		if _, err := s.profiles.UpsertProfile(ctx, initialProfile(acct, req)); err != nil {
			slog.Error("failed to create profile", "owner_id", acct.ID, "error", err)
		}
	}

	slog.Info("account registered", "owner_id", acct.ID)
	return s.issue(acct.ID)
}

// initialProfile fills in a display name and grade when the form omits them.
func initialProfile(a Account, req RegisterRequest) scores.Profile {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name, _, _ = strings.Cut(a.Email, "@")
	}
	grade := req.Grade
	if grade == 0 {
		grade = learning.MinGrade
	}
	return scores.Profile{OwnerID: a.ID, Name: name, Email: a.Email, Grade: grade}
}

// Login checks the password and returns a new session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	acct, err := s.store.ByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(acct.ID)
}

func (s *Service) issue(ownerID string) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{Token: signed, UserID: ownerID, ExpiresAt: exp.UTC()}, nil
}

// Verify checks a bearer token and returns the owner id it was issued to.
func (s *Service) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.VerifyIssuer(issuer, true) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
