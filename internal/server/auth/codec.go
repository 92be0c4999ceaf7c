// Package auth signs and verifies the bearer tokens handed out by the
// session service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const Issuer = "chatkeeper"

// Token uses. A codec only accepts tokens carrying its own use.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	AccountID uuid.UUID
	Handle    string
	Role      string
}

// Claims is the JWT payload: registered claims plus identity and use.
type Claims struct {
	jwt.RegisteredClaims
	Handle string `json:"handle"`
	Role   string `json:"role"`
	Use    string `json:"use"`
}

// Codec issues and verifies tokens of one use with one key. Access and
// refresh codecs must be built with different secrets.
type Codec struct {
	use    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(use string, secret []byte, ttl time.Duration) *Codec {
	return &Codec{use: use, secret: secret, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for id. Every token gets a fresh jti, so two tokens
// for the same identity issued within one second still differ.
func (c *Codec) Issue(id Identity) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   id.AccountID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Handle: id.Handle,
		Role:   id.Role,
		Use:    c.use,
	})

	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", c.use, err)
	}

	return tokenString, expiresAt, nil
}

// Verify checks signature, algorithm, issuer, expiry and use. It returns
// common.ErrTokenExpired for an otherwise valid expired token and
// common.ErrMalformedToken for everything else.
func (c *Codec) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		// signature is checked before claims, so an expired token here
		// was signed with our key
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrMalformedToken
	}

	if claims.Use != c.use {
		return nil, common.ErrMalformedToken
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, common.ErrMalformedToken
	}

	return &Identity{AccountID: accountID, Handle: claims.Handle, Role: claims.Role}, nil
}
