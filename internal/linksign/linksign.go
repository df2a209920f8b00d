// Package linksign issues short-lived download tokens for report artifacts
// held in stores that cannot presign their own URLs.
package linksign

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL    = 15 * time.Minute
	defaultIssuer = "fleet-reports"
)

var (
	ErrInvalidLink = errors.New("invalid download link")
	ErrExpiredLink = errors.New("download link expired")
	ErrNoSecret    = errors.New("link signing secret is empty")
)

type Claims struct {
	ArtifactKey string `json:"key"`
	jwt.RegisteredClaims
}

// Grant is what a verified token authorizes.
type Grant struct {
	JobID       string
	ArtifactKey string
	ExpiresAt   time.Time
}

type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Signer)

func WithTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Signer) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(secret string, options ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	signer := &Signer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, option := range options {
		option(signer)
	}
	return signer, nil
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Sign(jobID, artifactKey string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		ArtifactKey: artifactKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download link: %w", err)
	}
	return token, expiresAt.UTC().Truncate(time.Second), nil
}

func (s *Signer) Verify(raw string) (Grant, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Grant{}, ErrExpiredLink
		}
		return Grant{}, ErrInvalidLink
	}
	if !token.Valid || claims.Subject == "" || claims.ArtifactKey == "" {
		return Grant{}, ErrInvalidLink
	}

	return Grant{
		JobID:       claims.Subject,
		ArtifactKey: claims.ArtifactKey,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
