package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/studyroom-server/internal/store"
)

// ErrInvalidToken is returned when a credential is missing, malformed or expired.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the verified identity behind a credential.
type Principal struct {
	UserID   string
	Nickname string
}

// Service verifies access credentials.
type Service struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service. users may be nil, in
// which case the nickname comes from the token only.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		users:     users,
		jwtConfig: jwtConfig,
	}
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Authenticate verifies a bearer credential. A "Bearer " prefix is accepted
// and stripped. The subject must be a known user; its stored nickname is used
// when the token carries none.
func (s *Service) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	token := StripBearer(credential)
	if token == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrInvalidToken)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	p := &Principal{UserID: claims.Subject, Nickname: claims.Nickname}
	if s.users != nil {
		user, err := s.users.GetUserByID(ctx, p.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
			}
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		if p.Nickname == "" {
			p.Nickname = user.Nickname
		}
	}
	return p, nil
}

// StripBearer removes a case-insensitive "Bearer " prefix and surrounding space.
func StripBearer(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) >= 7 && strings.EqualFold(credential[:7], "bearer ") {
		credential = strings.TrimSpace(credential[7:])
	}
	return credential
}
