package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
)

// Token kinds minted by the issuer. A session token carries a full
// principal; a registration token is the half-authenticated state handed
// out when the identity provider verifies an email the service has never
// seen; a state token rides through the OIDC redirect.
const (
	TokenKindSession      = "session"
	TokenKindRegistration = "registration"
	TokenKindState        = "state"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("unexpected token kind")
)

// SessionClaims is the payload of session and registration tokens.
type SessionClaims struct {
	Kind      string `json:"kind"`
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// StateClaims is the payload of the OIDC state token. The nonce is also
// stored server side and consumed exactly once on callback.
type StateClaims struct {
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the service's HMAC-signed tokens.
type TokenIssuer struct {
	key             []byte
	sessionTTL      time.Duration
	registrationTTL time.Duration
	stateTTL        time.Duration
}

func NewTokenIssuer(cfg *config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		key:             []byte(cfg.SigningKey),
		sessionTTL:      time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		registrationTTL: time.Duration(cfg.RegistrationTTLMinutes) * time.Minute,
		stateTTL:        time.Duration(cfg.StateTTLMinutes) * time.Minute,
	}
}

func (i *TokenIssuer) SessionTTL() time.Duration { return i.sessionTTL }

// IssueSession mints a full session token for a known user. The embedded
// session ID is what logout revokes.
func (i *TokenIssuer) IssueSession(user *models.User) (string, string, error) {
	sessionID := uuid.New().String()
	now := time.Now().UTC()
	claims := SessionClaims{
		Kind:      TokenKindSession,
		TenantID:  user.TenantID.String(),
		Email:     user.Email,
		FullName:  user.FullName,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.sessionTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, sessionID, nil
}

// IssueRegistration mints the short-lived token that allows exactly one
// call: POST /auth/register.
func (i *TokenIssuer) IssueRegistration(tenantID uuid.UUID, email, fullName string) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		Kind:     TokenKindRegistration,
		TenantID: tenantID.String(),
		Email:    email,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.registrationTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign registration token: %w", err)
	}
	return signed, nil
}

// VerifyPrincipal validates a session or registration token and rebuilds
// the principal it names.
func (i *TokenIssuer) VerifyPrincipal(tokenString string) (*models.Principal, error) {
	var claims SessionClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return nil, err
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad tenant id", ErrInvalidToken)
	}

	principal := &models.Principal{
		TenantID:  tenantID,
		Email:     claims.Email,
		FullName:  claims.FullName,
		SessionID: claims.SessionID,
	}
	switch claims.Kind {
	case TokenKindSession:
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
		}
		principal.Kind = models.PrincipalKindUser
		principal.UserID = userID
	case TokenKindRegistration:
		principal.Kind = models.PrincipalKindPending
	default:
		return nil, ErrWrongKind
	}
	return principal, nil
}

// IssueState mints the OIDC round-trip state token and returns the nonce
// the callback must find unconsumed server side.
func (i *TokenIssuer) IssueState(tenantID uuid.UUID) (string, string, error) {
	nonce := uuid.New().String()
	now := time.Now().UTC()
	claims := StateClaims{
		Kind:     TokenKindState,
		TenantID: tenantID.String(),
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.stateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state token: %w", err)
	}
	return signed, nonce, nil
}

// VerifyState validates the returned state parameter and extracts the
// tenant and nonce.
func (i *TokenIssuer) VerifyState(tokenString string) (uuid.UUID, string, error) {
	var claims StateClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return uuid.Nil, "", err
	}
	if claims.Kind != TokenKindState {
		return uuid.Nil, "", ErrWrongKind
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: bad tenant id", ErrInvalidToken)
	}
	return tenantID, claims.Nonce, nil
}

func (i *TokenIssuer) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
