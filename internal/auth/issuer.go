package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config is the signing configuration shared by the validator and the issuer.
// The key material is loaded once at startup and never reloaded.
type Config struct {
	SigningMethod string        `yaml:"signing_method"`
	Secret        string        `yaml:"secret"`
	PublicKey     string        `yaml:"public_key"`
	PrivateKey    string        `yaml:"private_key"`
	Issuer        string        `yaml:"issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// NewValidatorFromConfig builds the verifier for cfg and wraps it in a Validator.
func NewValidatorFromConfig(cfg Config) (*Validator, error) {
	verifier, err := NewVerifier(cfg.SigningMethod, cfg.Secret, cfg.PublicKey)
	if err != nil {
		return nil, err
	}

	skew := cfg.ClockSkew
	if skew == 0 {
		skew = DefaultClockSkew
	}

	var opts []ValidatorOption
	if cfg.Issuer != "" {
		opts = append(opts, WithIssuer(cfg.Issuer))
	}
	return NewValidator(verifier, skew, opts...), nil
}

// Issuer mints tokens for authenticated users.
type Issuer struct {
	method jwt.SigningMethod
	key    any
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	method := cfg.SigningMethod
	if method == "" {
		method = jwt.SigningMethodHS256.Alg()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	sm := jwt.GetSigningMethod(method)
	if sm == nil {
		return nil, fmt.Errorf("unsupported signing method: %s", method)
	}

	var key any
	switch {
	case strings.HasPrefix(method, "HS"):
		if cfg.Secret == "" {
			return nil, fmt.Errorf("HMAC signing requires a secret")
		}
		key = []byte(cfg.Secret)
	case strings.HasPrefix(method, "RS"):
		if cfg.PrivateKey == "" {
			return nil, fmt.Errorf("RSA token issuing requires a private key")
		}
		pk, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
		}
		key = pk
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", method)
	}

	return &Issuer{
		method: sm,
		key:    key,
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject. Extra claims never override the
// registered ones.
func (i *Issuer) Issue(subject string, extra map[string]string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = now.Unix()
	claims["exp"] = expiresAt.Unix()
	claims["jti"] = uuid.NewString()
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}

	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, time.Unix(expiresAt.Unix(), 0), nil
}
