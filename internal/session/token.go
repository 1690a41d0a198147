// Package session persists the client's session as a signed, self-contained
// cookie value with a fixed lifetime.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "chat_session"
	DefaultTTL = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid session token")

type claims struct {
	Session models.Session `json:"session"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a codec signing with secret. An empty secret is replaced by a
// random one, which invalidates all sessions on restart.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: key, ttl: ttl, now: time.Now}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue serializes s and returns the token together with its expiry.
func (c *Codec) Issue(s models.Session) (string, time.Time, error) {
	now := c.now()
	expires := now.Add(c.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Session: s,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session: %w", err)
	}
	return signed, expires, nil
}

func (c *Codec) Parse(raw string) (models.Session, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(
		raw,
		&cl,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if cl.Session.ID == "" || cl.Subject != cl.Session.ID {
		return models.Session{}, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return cl.Session, nil
}
