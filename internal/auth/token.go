// Package auth issues and verifies the player tokens accepted by the
// standalone server.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

const defaultTTL = 24 * time.Hour

var (
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid player token")
	// ErrSubjectMismatch is returned when a token belongs to another player.
	ErrSubjectMismatch = errors.New("token subject does not match player")
)

// TokenService signs HS256 player tokens whose subject is the player id.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService; ttl <= 0 selects one day.
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// GenerateToken issues a token for playerID.
func (s *TokenService) GenerateToken(playerID int64) (string, error) {
	if playerID <= 0 {
		return "", fmt.Errorf("player id must be positive, got %d", playerID)
	}
	now := s.now()
	claims := jwt.StandardClaims{
		Issuer:    s.issuer,
		Subject:   strconv.FormatInt(playerID, 10),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyToken returns the player id carried by tokenString.
func (s *TokenService) VerifyToken(tokenString string) (int64, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return 0, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// Authorize checks that tokenString was issued for playerID.
func (s *TokenService) Authorize(tokenString string, playerID int64) error {
	id, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if id != playerID {
		return ErrSubjectMismatch
	}
	return nil
}
