package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

var (
	// ErrInvalidCredentials is returned for every failed login so callers
	// cannot tell unknown users from bad passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTokenRevoked       = errors.New("refresh token has been revoked")
	ErrInvalidUser        = errors.New("invalid user")
)

// LoginRecorder counts login attempts.
type LoginRecorder interface {
	LoginAttempt(success bool)
}

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(bool) {}

type Service struct {
	users       UserRepository
	tokens      *auth.TokenIssuer
	revocations auth.RevocationStore
	recorder    LoginRecorder
	logger      zerolog.Logger
	hashCost    int
	now         func() time.Time

	// dummyHash keeps unknown-user logins as slow as bad-password ones.
	dummyHash []byte
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, revocations auth.RevocationStore) *Service {
	s := &Service{
		users:       users,
		tokens:      tokens,
		revocations: revocations,
		recorder:    nopRecorder{},
		logger:      zerolog.Nop(),
		hashCost:    bcrypt.DefaultCost,
		now:         time.Now,
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("clinicdesk-dummy"), s.hashCost)
	return s
}

func (s *Service) SetRecorder(r LoginRecorder) {
	if r != nil {
		s.recorder = r
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func subjectOf(u *User) auth.Subject {
	return auth.Subject{
		UserID:      u.ID.String(),
		Username:    u.Username,
		Role:        u.Role,
		IsSuperuser: u.IsSuperuser,
	}
}

// Login checks the password and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*auth.TokenPair, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !u.IsActive {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.recorder.LoginAttempt(false)
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.recorder.LoginAttempt(false)
		s.logger.Warn().Str("username", u.Username).Msg("failed login")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(subjectOf(u))
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.users.TouchLastLogin(ctx, u.ID, s.now().UTC()); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("failed to update last_login")
	}
	s.recorder.LoginAttempt(true)
	return pair, nil
}

func (s *Service) validRefresh(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.tokens.ParseRefresh(token)
	if err != nil {
		return nil, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// revoke claims the refresh token's jti. Only one caller can claim a given
// token; the rest get ErrTokenRevoked.
func (s *Service) revoke(ctx context.Context, claims *auth.Claims) error {
	if s.revocations == nil {
		return nil
	}
	exp := s.now()
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	claimed, err := s.revocations.RevokeOnce(ctx, claims.ID, exp)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !claimed {
		return ErrTokenRevoked
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, token string) (*auth.TokenPair, error) {
	claims, err := s.validRefresh(ctx, token)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidUser
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidUser
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidUser
	}
	if err := s.revoke(ctx, claims); err != nil {
		return nil, err
	}
	return s.tokens.Issue(subjectOf(u))
}

// Logout revokes a refresh token until it expires.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.validRefresh(ctx, token)
	if err != nil {
		return err
	}
	if err := s.revoke(ctx, claims); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", claims.Subject).Msg("logged out")
	return nil
}

func (s *Service) Profile(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// CreateUser hashes the password and stores a new active account.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if !auth.ValidRole(in.Role) {
		return nil, fmt.Errorf("invalid role %q", in.Role)
	}
	if len(in.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(in.FullName),
		Role:         in.Role,
		IsSuperuser:  in.IsSuperuser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user created")
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}
