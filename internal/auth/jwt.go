package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTValidator checks session tokens issued by the marketplace login.
type JWTValidator struct {
	alg       string
	publicKey *rsa.PublicKey
	secret    []byte
}

// NewJWTValidatorRS256 loads an RSA public key in PEM form from pubPath.
func NewJWTValidatorRS256(pubPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{alg: jwt.SigningMethodRS256.Alg(), publicKey: pub}, nil
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &JWTValidator{alg: jwt.SigningMethodHS256.Alg(), secret: []byte(secret)}, nil
}

// New picks the validator for alg ("RS256" or "HS256").
func New(alg, publicKeyPath, secret string) (*JWTValidator, error) {
	switch strings.ToUpper(alg) {
	case "RS256":
		return NewJWTValidatorRS256(publicKeyPath)
	case "HS256":
		return NewJWTValidatorHS256(secret)
	default:
		return nil, fmt.Errorf("unsupported jwt alg %q", alg)
	}
}

// Validate returns the username carried by the token.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrMissingToken
	}
	token, err := jwt.Parse(tokenStr, j.key, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if u, ok := claims["username"].(string); ok && strings.TrimSpace(u) != "" {
		return strings.TrimSpace(u), nil
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: username claim missing", ErrInvalidToken)
	}
	return strings.TrimSpace(sub), nil
}

func (j *JWTValidator) key(*jwt.Token) (interface{}, error) {
	if j.publicKey != nil {
		return j.publicKey, nil
	}
	return j.secret, nil
}
