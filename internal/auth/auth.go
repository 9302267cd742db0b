// Package auth issues and checks the signed tokens agents attach to league
// messages, and guards the league control API with admin credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/playperu/league/internal/league"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMissingToken     = fmt.Errorf("%w: missing token", ErrUnauthorized)
	ErrExpiredToken     = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	ErrWrongSubject     = fmt.Errorf("%w: token issued to another participant", ErrUnauthorized)
	ErrInvalidToken     = fmt.Errorf("%w: invalid token", ErrUnauthorized)
)

// Claims bind a token to one participant of one league.
type Claims struct {
	Role   string `json:"role"`
	League string `json:"league"`
	jwt.RegisteredClaims
}

// Authority signs tokens with a secret shared by the league manager and the
// referees, so referees can check player tokens without a round trip.
type Authority struct {
	secret   []byte
	leagueID string
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthority(secret, leagueID string, ttl time.Duration) *Authority {
	return &Authority{
		secret:   []byte(secret),
		leagueID: leagueID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock returns a copy of a that reads time from now.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	c := *a
	c.now = now
	return &c
}

// Issue signs a token for p.
func (a *Authority) Issue(p league.Participant) (string, error) {
	now := a.now()
	claims := &Claims{
		Role:   string(p.Role),
		League: a.leagueID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.leagueID,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate checks that token was issued by this league to participantID.
// Every failure wraps ErrUnauthorized.
func (a *Authority) Validate(token, participantID string) error {
	_, err := a.Claims(token, participantID)
	return err
}

// Claims validates token like Validate and returns its claims.
func (a *Authority) Claims(token, participantID string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer(a.leagueID))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != participantID {
		return nil, ErrWrongSubject
	}
	return claims, nil
}
