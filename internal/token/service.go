// Package token implements the session token lifecycle: short-lived
// stateless access tokens, registry-backed refresh tokens, and an
// access-token revocation set.
//
// The revocation set is pruned by size (newest 500 kept once it passes
// 1000 entries), not by expiry. Under heavy logout churn an old but still
// valid blacklisted token can fall out of the set early; the short access
// TTL bounds the exposure.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/223-Media/223media-website/internal/identity"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"

	issuer = "223media-portal"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	revokedHighWater = 1000
	revokedRetained  = 500
)

var (
	ErrRevoked      = errors.New("token has been revoked")
	ErrExpired      = errors.New("token is expired")
	ErrInvalid      = errors.New("invalid token")
	ErrNotFound     = errors.New("refresh token not found")
	ErrWrongKind    = errors.New("unexpected token kind")
	ErrUserMissing  = errors.New("user not found")
	ErrUserInactive = errors.New("user is inactive")
)

// Claims is the single schema shared by signer and verifier for both token
// kinds; TokenType distinguishes them.
type Claims struct {
	UserID      string                `json:"uid"`
	Email       string                `json:"email"`
	Role        identity.Role         `json:"role,omitempty"`
	Package     identity.Package      `json:"pkg,omitempty"`
	Permissions []identity.Permission `json:"perms,omitempty"`
	TokenType   string                `json:"typ"`
	jwt.RegisteredClaims
}

type registryEntry struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service owns all mutable token state. Construct once at startup.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      identity.Store

	mu           sync.Mutex
	registry     map[string]registryEntry
	revoked      map[string]struct{}
	revokedOrder []string

	now func() time.Time
}

func NewService(store identity.Store, secret string) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		store:      store,
		registry:   make(map[string]registryEntry),
		revoked:    make(map[string]struct{}),
		now:        time.Now,
	}
}

func (s *Service) WithTTLs(accessTTL, refreshTTL time.Duration) *Service {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueAccess mints a stateless access token. No side effects.
func (s *Service) IssueAccess(user identity.User) (string, int64, error) {
	now := s.now().UTC()
	claims := Claims{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Package:     user.Package,
		Permissions: user.Permissions,
		TokenType:   KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// IssueRefresh mints a refresh token and records it in the registry so it
// can be looked up and revoked individually.
func (s *Service) IssueRefresh(user identity.User) (string, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.refreshTTL)
	claims := Claims{
		UserID:    user.ID,
		Email:     user.Email,
		TokenType: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	s.mu.Lock()
	s.registry[encoded] = registryEntry{
		UserID:    user.ID,
		Email:     user.Email,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	s.mu.Unlock()

	return encoded, nil
}

// Verify checks the revocation set, signature, and expiry, returning the
// decoded claims. Parse failures keep the underlying reason for operator
// diagnosis.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	s.mu.Lock()
	_, isRevoked := s.revoked[tokenStr]
	s.mu.Unlock()
	if isRevoked {
		return nil, ErrRevoked
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}

// Refresh redeems a refresh token for a new access token bound to the
// user's current role and package. The refresh token itself is not
// rotated; it stays valid until its own expiry or explicit revocation.
// Any failure leaves the registry untouched.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, identity.User, error) {
	claims, err := s.Verify(refreshToken)
	if err != nil {
		return "", 0, identity.User{}, err
	}
	if claims.TokenType != KindRefresh {
		return "", 0, identity.User{}, fmt.Errorf("%w: got %q", ErrWrongKind, claims.TokenType)
	}

	now := s.now().UTC()
	s.mu.Lock()
	entry, ok := s.registry[refreshToken]
	s.mu.Unlock()
	if !ok || now.After(entry.ExpiresAt) {
		return "", 0, identity.User{}, ErrNotFound
	}

	user, found, err := s.store.Lookup(ctx, entry.Email)
	if err != nil {
		return "", 0, identity.User{}, fmt.Errorf("resolve user for refresh: %w", err)
	}
	if !found {
		return "", 0, identity.User{}, ErrUserMissing
	}
	if !user.Active {
		return "", 0, identity.User{}, ErrUserInactive
	}

	access, expiresIn, err := s.IssueAccess(user)
	if err != nil {
		return "", 0, identity.User{}, err
	}

	return access, expiresIn, user, nil
}

// RevokeRefresh removes a refresh token from the registry. Idempotent.
func (s *Service) RevokeRefresh(refreshToken string) {
	s.mu.Lock()
	delete(s.registry, refreshToken)
	s.mu.Unlock()
}

// BlacklistAccess adds an access token to the revocation set and prunes
// the set past the high-water mark.
func (s *Service) BlacklistAccess(tokenStr string) {
	if tokenStr == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.revoked[tokenStr]; exists {
		return
	}
	s.revoked[tokenStr] = struct{}{}
	s.revokedOrder = append(s.revokedOrder, tokenStr)

	if len(s.revoked) > revokedHighWater {
		retained := s.revokedOrder[len(s.revokedOrder)-revokedRetained:]
		s.revoked = make(map[string]struct{}, len(retained))
		for _, t := range retained {
			s.revoked[t] = struct{}{}
		}
		s.revokedOrder = append([]string(nil), retained...)
	}
}

// RegistrySize reports the number of live refresh tokens.
func (s *Service) RegistrySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// SweepExpired drops expired refresh-registry entries and returns how many
// were removed. Called by the background maintenance loop.
func (s *Service) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.registry {
		if now.After(entry.ExpiresAt) {
			delete(s.registry, token)
			removed++
		}
	}

	return removed
}
