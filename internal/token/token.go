// Package token mints the signed, time-scoped credential a client
// presents to the media transport to join, publish and subscribe in a
// single room.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredentials = errors.New("api key or secret not configured")
	ErrEmptyRoom          = errors.New("room name empty")
	ErrEmptyIdentity      = errors.New("identity empty")
)

// VideoGrant scopes the credential to one room. Field names follow the
// transport's claim schema.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type Claims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name"`
	Video VideoGrant `json:"video"`
}

type Issuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// Mint signs a join credential for identity in room. Pure function of
// its inputs plus the clock; no state is kept.
func (i *Issuer) Mint(room, identity string) (string, error) {
	if i.apiKey == "" || i.apiSecret == "" {
		return "", ErrMissingCredentials
	}
	if room == "" {
		return "", ErrEmptyRoom
	}
	if identity == "" {
		return "", ErrEmptyIdentity
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: identity,
		Video: VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(i.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a credential minted by this issuer.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if i.apiSecret == "" {
		return nil, ErrMissingCredentials
	}
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.apiSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}
