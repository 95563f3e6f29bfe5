package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid feed token")
	// ErrExpiredToken is returned for well-signed tokens past their expiry.
	ErrExpiredToken = errors.New("feed token expired")
)

// FeedClaims is what a subscription token carries: the owner and an opaque
// scope (typically an encoded filter query).
type FeedClaims struct {
	Subject   string
	Scope     string
	ExpiresAt time.Time
}

// FeedSigner issues and verifies HMAC-signed calendar feed tokens.
type FeedSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewFeedSigner constructs a signer with the provided secret and TTL.
func NewFeedSigner(secret string, ttl time.Duration) *FeedSigner {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &FeedSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, used by tests.
func (s *FeedSigner) WithClock(now func() time.Time) *FeedSigner {
	s.now = now
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *FeedSigner) TTL() time.Duration {
	return s.ttl
}

// Issue returns a token for subject and scope together with its expiry.
func (s *FeedSigner) Issue(subject, scope string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	parts := []string{
		encode(subject),
		strconv.FormatInt(expiresAt.Unix(), 10),
		encode(scope),
	}
	parts = append(parts, s.sign(parts))
	return strings.Join(parts, "."), expiresAt, nil
}

// Verify checks the signature and expiry of token.
func (s *FeedSigner) Verify(token string) (FeedClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || len(s.secret) == 0 {
		return FeedClaims{}, ErrInvalidToken
	}
	expected := s.sign(parts[:3])
	if !hmac.Equal([]byte(expected), []byte(parts[3])) {
		return FeedClaims{}, ErrInvalidToken
	}

	subject, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return FeedClaims{}, ErrInvalidToken
	}
	scope, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return FeedClaims{}, ErrInvalidToken
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return FeedClaims{}, ErrInvalidToken
	}

	claims := FeedClaims{Subject: string(subject), Scope: string(scope), ExpiresAt: time.Unix(exp, 0)}
	if s.now().After(claims.ExpiresAt) {
		return claims, ErrExpiredToken
	}
	return claims, nil
}

func (s *FeedSigner) sign(parts []string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

func encode(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}
