package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks a token's signature and returns its raw claims. Time based
// claims are not evaluated here; the Validator owns the clock.
type Verifier interface {
	Verify(token string) (jwt.MapClaims, error)
}

// JWTVerifier verifies tokens signed with a single configured algorithm.
type JWTVerifier struct {
	method jwt.SigningMethod
	key    any
	parser *jwt.Parser
}

// NewVerifier picks the key type from the signing method: HS* uses the shared
// secret, RS* uses the PEM encoded public key.
func NewVerifier(method, secret, publicKeyPEM string) (*JWTVerifier, error) {
	if method == "" {
		method = jwt.SigningMethodHS256.Alg()
	}

	switch {
	case strings.HasPrefix(method, "HS"):
		return NewHMACVerifier(method, secret)
	case strings.HasPrefix(method, "RS"):
		return NewRSAVerifier(method, publicKeyPEM)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", method)
	}
}

func NewHMACVerifier(method, secret string) (*JWTVerifier, error) {
	sm, ok := jwt.GetSigningMethod(method).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("not an HMAC signing method: %s", method)
	}
	if secret == "" {
		return nil, fmt.Errorf("HMAC signing requires a secret")
	}
	return newJWTVerifier(sm, []byte(secret)), nil
}

func NewRSAVerifier(method, publicKeyPEM string) (*JWTVerifier, error) {
	sm, ok := jwt.GetSigningMethod(method).(*jwt.SigningMethodRSA)
	if !ok {
		return nil, fmt.Errorf("not an RSA signing method: %s", method)
	}
	if publicKeyPEM == "" {
		return nil, fmt.Errorf("RSA signing requires a public key")
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return newJWTVerifier(sm, key), nil
}

func newJWTVerifier(method jwt.SigningMethod, key any) *JWTVerifier {
	return &JWTVerifier{
		method: method,
		key:    key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (v *JWTVerifier) Verify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
