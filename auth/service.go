package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a bearer token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret signals the service was built without a signing key.
	ErrMissingSecret = errors.New("auth: jwt secret not configured")
)

// DefaultTokenTTL bounds tokens minted by IssueToken.
const DefaultTokenTTL = 24 * time.Hour

// Service resolves bearer tokens into identities. Credential exchange lives
// in the upstream identity provider; this service only signs and verifies.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// NewService creates a new identity service. repo may be nil when only
// token verification is needed.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// IssueToken signs a token for an existing user, taking the role from the
// users table.
func (s *Service) IssueToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	if s.repo == nil {
		return "", fmt.Errorf("auth: issue token: no user repository")
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.SignToken(user.ID, user.Role, ttl)
}

// SignToken creates a token for the given identity without a user lookup.
func (s *Service) SignToken(userID string, role Role, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrMissingSecret
	}
	if userID == "" {
		return "", fmt.Errorf("auth: sign token: empty user id")
	}
	if !role.Valid() {
		return "", fmt.Errorf("auth: sign token: invalid role %q", role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT token and returns the caller identity.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	if len(s.jwtSecret) == 0 {
		return Identity{}, ErrMissingSecret
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}

	return Identity{UserID: userID, Role: role}, nil
}
