package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chantier-intranet/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures. Verify always returns exactly one of these (possibly wrapped)
// and never returns claims alongside an error.
var (
	ErrMalformed         = errors.New("auth: malformed token")
	ErrInvalidSignature  = errors.New("auth: invalid token signature")
	ErrAlgorithmMismatch = errors.New("auth: unexpected token algorithm")
	ErrExpired           = errors.New("auth: token expired")
	ErrNotYetValid       = errors.New("auth: token used before issued")
)

var signingMethod = jwt.SigningMethodHS256

type Manager struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	shortTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("token ttl must be > 0")
	}
	shortTTL := cfg.ShortTokenTTL
	if shortTTL <= 0 || shortTTL > cfg.TokenTTL {
		shortTTL = cfg.TokenTTL
	}

	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		ttl:      cfg.TokenTTL,
		shortTTL: shortTTL,
	}, nil
}

// Token is a signed token string with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TTL returns the lifetime for a session, depending on "remember me".
func (m *Manager) TTL(remember bool) time.Duration {
	if remember {
		return m.ttl
	}
	return m.shortTTL
}

/* ===================== ISSUE ===================== */

// Issue signs a token for id with the default lifetime.
func (m *Manager) Issue(now time.Time, id Identity) (Token, error) {
	return m.IssueWithTTL(now, id, m.ttl)
}

func (m *Manager) IssueWithTTL(now time.Time, id Identity, ttl time.Duration) (Token, error) {
	if id.UserID <= 0 {
		return Token{}, errors.New("auth: subject id required")
	}
	if id.Role == "" {
		return Token{}, errors.New("auth: role required")
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		Name:   id.Name,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(m.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

/* ===================== VERIFY ===================== */

// Verify checks algorithm, signature and the [iat, exp) window, in that order. A token is
// expired from its exp second on.
func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Claims{}, ErrMalformed
	}

	alg, err := headerAlg(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if alg != signingMethod.Alg() {
		return Claims{}, fmt.Errorf("%w: %q", ErrAlgorithmMismatch, alg)
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	if err := signingMethod.Verify(parts[0]+"."+parts[1], sig, m.secret); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithStrictDecoding(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, fmt.Errorf("%w: %w", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return Claims{}, fmt.Errorf("%w: %w", ErrNotYetValid, err)
		default:
			return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	if claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: iat missing", ErrMalformed)
	}

	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return Claims{}, fmt.Errorf("%w: subject mismatch", ErrMalformed)
	}
	if claims.Role == "" {
		return Claims{}, fmt.Errorf("%w: role missing", ErrMalformed)
	}

	return claims, nil
}

// FailureReason maps a Verify error to the reason code written to the audit trail.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlgorithmMismatch):
		return "token_algorithm_mismatch"
	case errors.Is(err, ErrInvalidSignature):
		return "token_invalid_signature"
	case errors.Is(err, ErrExpired):
		return "token_expired"
	case errors.Is(err, ErrNotYetValid):
		return "token_not_yet_valid"
	default:
		return "token_malformed"
	}
}

func headerAlg(segment string) (string, error) {
	raw, err := base64.RawURLEncoding.Strict().DecodeString(segment)
	if err != nil {
		return "", err
	}
	var h struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", err
	}
	return h.Alg, nil
}
