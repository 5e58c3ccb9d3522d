// internal/auth/token.go
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/dyad/internal/models"
)

var (
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrUnknownParticipant = errors.New("auth: unknown participant")
)

// Verifier resolves a caller-supplied token to a participant.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Participant, error)
}

// Directory looks up participant records by email.
type Directory interface {
	Participant(ctx context.Context, email string) (models.Participant, error)
}

// JWTVerifier accepts EdDSA tokens whose "email" (or "sub") claim names the
// participant. Without a Directory the participant is built from the claims.
type JWTVerifier struct {
	key ed25519.PublicKey
	dir Directory
}

func NewJWTVerifier(key ed25519.PublicKey, dir Directory) *JWTVerifier {
	return &JWTVerifier{key: key, dir: dir}
}

// LoadPublicKey reads a raw ed25519 public key from path.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %s: want %d bytes, got %d", path, ed25519.PublicKeySize, len(data))
	}
	return ed25519.PublicKey(data), nil
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (models.Participant, error) {
	if tokenString == "" {
		return models.Participant{}, ErrInvalidToken
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return models.Participant{}, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	if email == "" {
		email, _ = claims["sub"].(string)
	}
	if email == "" {
		return models.Participant{}, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}

	if v.dir == nil {
		name, _ := claims["name"].(string)
		return models.Participant{Email: email, Name: name}, nil
	}
	p, err := v.dir.Participant(ctx, email)
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %s: %v", ErrUnknownParticipant, email, err)
	}
	return p, nil
}

// Issuer signs participant tokens. It backs development setups and tests where no
// external identity provider is running.
type Issuer struct {
	key ed25519.PrivateKey
	ttl time.Duration
}

// NewIssuer generates a fresh key pair. A zero ttl issues tokens without expiry.
func NewIssuer(ttl time.Duration) (*Issuer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{key: priv, ttl: ttl}, pub, nil
}

// Sign returns a token naming p.
func (i *Issuer) Sign(p models.Participant) (string, error) {
	claims := jwt.MapClaims{
		"sub":   p.Email,
		"email": p.Email,
		"iat":   time.Now().Unix(),
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if i.ttl > 0 {
		claims["exp"] = time.Now().Add(i.ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
}
