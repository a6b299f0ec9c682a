package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/security"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResult is what Authenticate hands the middleware. Rotated is non-nil
// when the request came in on an expired access token and the refresh path
// minted a replacement pair the handler must forward to the client.
type AuthResult struct {
	User    *domain.User
	Rotated *TokenPair
}

type AuthConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotationGrace time.Duration
	ContextPepper string
}

// AuthService owns credentials, session issuance and the refresh rotation
// protocol. The session store, not token signatures, is the source of truth
// for liveness: revocation is a store delete.
type AuthService struct {
	users    repository.UserRepository
	sessions SessionStore
	jwt      *security.JWTManager
	clock    clock.Clock
	cfg      AuthConfig
}

func NewAuthService(users repository.UserRepository, sessions SessionStore, jwtManager *security.JWTManager, clk clock.Clock, cfg AuthConfig) *AuthService {
	return &AuthService{users: users, sessions: sessions, jwt: jwtManager, clock: clk, cfg: cfg}
}

func (s *AuthService) Register(ctx context.Context, email, username, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string, client security.ClientContext) (*domain.User, *TokenPair, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin("password", "invalid_credentials")
			return nil, nil, ErrInvalidCredentials
		}
		observability.RecordAuthLogin("password", "error")
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		observability.RecordAuthLogin("password", "invalid_credentials")
		return nil, nil, ErrInvalidCredentials
	}
	if user.Suspended {
		observability.RecordAuthLogin("password", "suspended")
		return nil, nil, ErrAccountSuspended
	}

	pair, err := s.issuePair(ctx, user, client)
	if err != nil {
		observability.RecordAuthLogin("password", "error")
		return nil, nil, err
	}
	observability.RecordAuthLogin("password", "success")
	return user, pair, nil
}

// LoginExternal signs in a user already verified by an identity provider,
// provisioning the account on first sight.
func (s *AuthService) LoginExternal(ctx context.Context, provider string, identity ExternalIdentity, client security.ClientContext) (*domain.User, *TokenPair, error) {
	user, err := s.users.FindByEmail(identity.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin(provider, "error")
			return nil, nil, err
		}
		user = &domain.User{
			Email:    identity.Email,
			Username: identity.Name,
			Verified: true,
		}
		if cerr := s.users.Create(user); cerr != nil {
			observability.RecordAuthLogin(provider, "error")
			return nil, nil, cerr
		}
	}
	if user.Suspended {
		observability.RecordAuthLogin(provider, "suspended")
		return nil, nil, ErrAccountSuspended
	}

	pair, err := s.issuePair(ctx, user, client)
	if err != nil {
		observability.RecordAuthLogin(provider, "error")
		return nil, nil, err
	}
	observability.RecordAuthLogin(provider, "success")
	return user, pair, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *domain.User, client security.ClientContext) (*TokenPair, error) {
	jti := uuid.NewString()
	access, err := s.jwt.SignAccessToken(user.ID, user.TokenVersion, s.cfg.AccessTTL, jti)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.jwt.SignRefreshToken(user.ID, user.TokenVersion, s.cfg.RefreshTTL, jti)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	rec := SessionRecord{
		UserID:      user.ID,
		ContextHash: security.HashClientContext(client, s.cfg.ContextPepper),
	}
	if err := s.sessions.Put(ctx, jti, rec, s.cfg.RefreshTTL); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Authenticate resolves the current user for a request. A live access token
// must still be whitelisted; an expired one falls through to the refresh
// path, which rotates the pair on success.
func (s *AuthService) Authenticate(ctx context.Context, accessToken, refreshToken string, client security.ClientContext) (*AuthResult, error) {
	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err == nil {
		rec, gerr := s.sessions.Get(ctx, claims.ID)
		if gerr != nil {
			return nil, gerr
		}
		if rec == nil {
			return nil, ErrSessionInvalid
		}
		user, uerr := s.loadSessionUser(claims.Subject, claims.TokenVersion)
		if uerr != nil {
			return nil, uerr
		}
		return &AuthResult{User: user}, nil
	}
	if !security.IsExpired(err) {
		return nil, ErrAuthenticationFailed
	}
	if refreshToken == "" {
		return nil, ErrSessionInvalid
	}
	return s.refresh(ctx, refreshToken, client)
}

// Refresh rotates a session from its refresh token alone, for clients that
// call the refresh endpoint explicitly instead of riding the middleware's
// expired-access fallback.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client security.ClientContext) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrSessionInvalid
	}
	return s.refresh(ctx, refreshToken, client)
}

// refresh validates the refresh token against the whitelist and rotates the
// session. Two anomalies are treated as theft and revoke every session for
// the user: a well-signed token whose session is gone (replay after the
// rotation grace ran out) and a client fingerprint that no longer matches.
func (s *AuthService) refresh(ctx context.Context, refreshToken string, client security.ClientContext) (*AuthResult, error) {
	claims, err := s.jwt.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthRefresh("invalid_token")
		return nil, ErrSessionInvalid
	}

	rec, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		s.revokeOnAnomaly(ctx, claims.Subject, "refresh_replay")
		observability.RecordAuthRefresh("replay")
		return nil, ErrSessionInvalid
	}
	if rec.ContextHash != security.HashClientContext(client, s.cfg.ContextPepper) {
		s.revokeOnAnomaly(ctx, claims.Subject, "context_mismatch")
		observability.RecordAuthRefresh("context_mismatch")
		return nil, ErrSessionInvalid
	}

	user, err := s.loadSessionUser(claims.Subject, claims.TokenVersion)
	if err != nil {
		observability.RecordAuthRefresh("stale_version")
		return nil, err
	}

	pair, err := s.issuePair(ctx, user, client)
	if err != nil {
		observability.RecordAuthRefresh("error")
		return nil, err
	}
	// The old session keeps authenticating for the grace period so refreshes
	// already in flight do not lose the race.
	if err := s.sessions.MarkGrace(ctx, claims.ID, s.cfg.RotationGrace); err != nil {
		slog.WarnContext(ctx, "mark session grace", "error", err)
	}
	observability.RecordAuthRefresh("success")
	return &AuthResult{User: user, Rotated: pair}, nil
}

func (s *AuthService) loadSessionUser(subject string, tokenVersion int) (*domain.User, error) {
	userID, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	user, err := s.users.FindByID(uint(userID))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if user.Suspended {
		return nil, ErrAccountSuspended
	}
	if user.TokenVersion != tokenVersion {
		return nil, ErrSessionInvalid
	}
	return user, nil
}

func (s *AuthService) revokeOnAnomaly(ctx context.Context, subject, reason string) {
	userID, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return
	}
	n, err := s.sessions.RevokeAll(ctx, uint(userID))
	if err != nil {
		slog.ErrorContext(ctx, "revoke sessions on anomaly", "user_id", userID, "reason", reason, "error", err)
		return
	}
	observability.AuditIncident("sessions_revoked", "user_id", userID, "reason", reason, "revoked", n)
}

// Logout removes the session behind a still-valid access token. An expired
// token has nothing to log out; its session dies with the store TTL.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err != nil {
		observability.RecordAuthLogout("invalid_token")
		return ErrAuthenticationFailed
	}
	if err := s.sessions.Delete(ctx, claims.ID); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	observability.RecordAuthLogout("success")
	return nil
}

// RevokeAllSessions kills every outstanding session and bumps the token
// version so even whitelisted tokens signed before the bump stop validating.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID uint) (int, error) {
	if err := s.users.BumpTokenVersion(ctx, userID); err != nil {
		return 0, err
	}
	return s.sessions.RevokeAll(ctx, userID)
}
