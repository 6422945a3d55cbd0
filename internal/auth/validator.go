package auth

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultClockSkew = 30 * time.Second

var (
	errMissingCredential = errors.New("missing bearer credential")
	errMissingSubject    = errors.New("token has no subject")
	errMissingExpiry     = errors.New("token has no expiry")
	errExpired           = errors.New("token is expired")
	errNotYetValid       = errors.New("token is not valid yet")
	errWrongIssuer       = errors.New("token issuer mismatch")
)

// Identity is the authenticated caller extracted from a validated token. It
// lives for a single request.
type Identity struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]string
}

// Validator turns bearer credentials into identities. It holds no state
// besides its verifier, so it is safe for concurrent use.
type Validator struct {
	verifier Verifier
	skew     time.Duration
	issuer   string
	now      func() time.Time
}

type ValidatorOption func(*Validator)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) ValidatorOption {
	return func(v *Validator) { v.issuer = issuer }
}

func NewValidator(verifier Verifier, skew time.Duration, opts ...ValidatorOption) *Validator {
	if skew < 0 {
		skew = 0
	}
	v := &Validator{
		verifier: verifier,
		skew:     skew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateHeader validates the credential carried by an Authorization header.
func (v *Validator) ValidateHeader(header string) (*Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, gwerror.Unauthorized("bearer credential required", errMissingCredential)
	}
	return v.Validate(token)
}

// Validate checks the credential against the current time.
func (v *Validator) Validate(credential string) (*Identity, error) {
	return v.ValidateAt(credential, v.now())
}

// ValidateAt checks the credential as of now. A token is accepted strictly
// before exp+skew and rejected from that instant on.
func (v *Validator) ValidateAt(credential string, now time.Time) (*Identity, error) {
	if credential == "" {
		return nil, gwerror.Unauthorized("bearer credential required", errMissingCredential)
	}

	claims, err := v.verifier.Verify(credential)
	if err != nil {
		return nil, gwerror.Unauthorized("invalid token", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, gwerror.Unauthorized("invalid token", errMissingSubject)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, gwerror.Unauthorized("invalid token", errMissingExpiry)
	}
	if !now.Before(exp.Add(v.skew)) {
		return nil, gwerror.Unauthorized("token expired", errExpired)
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, gwerror.Unauthorized("invalid token", err)
	}
	if nbf != nil && now.Add(v.skew).Before(nbf.Time) {
		return nil, gwerror.Unauthorized("token not valid yet", errNotYetValid)
	}

	if v.issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != v.issuer {
			return nil, gwerror.Unauthorized("invalid token", errWrongIssuer)
		}
	}

	identity := &Identity{
		Subject:   subject,
		ExpiresAt: exp.Time,
		Claims:    flattenClaims(claims),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}

	return identity, nil
}

// flattenClaims renders scalar claims as strings. Arrays of strings (aud,
// roles) are space separated; nested objects are dropped.
func flattenClaims(claims jwt.MapClaims) map[string]string {
	out := make(map[string]string, len(claims))
	for key, value := range claims {
		if s, ok := claimString(value); ok {
			out[key] = s
		}
	}
	return out
}

func claimString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), true
	default:
		return "", false
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
