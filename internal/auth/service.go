// Package auth gates the control API. The operator exchanges the static
// control token for a short-lived JWT; only the token's bcrypt hash is kept
// in configuration.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const controlSubject = "operator"

var ErrInvalidToken = errors.New("invalid control token")

type Service struct {
	issuer    string
	secret    []byte
	ttl       time.Duration
	tokenHash []byte
}

func NewService(issuer string, secret []byte, ttl time.Duration, controlTokenHash string) *Service {
	return &Service{issuer: issuer, secret: secret, ttl: ttl, tokenHash: []byte(controlTokenHash)}
}

// Login verifies the control token against its bcrypt hash and issues a JWT.
func (s *Service) Login(controlToken string) (string, error) {
	if controlToken == "" {
		return "", ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(controlToken)); err != nil {
		return "", ErrInvalidToken
	}
	return s.signToken(controlSubject)
}

func (s *Service) signToken(subject string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Issuer != s.issuer {
		return "", errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid subject")
	}
	return claims.Subject, nil
}
