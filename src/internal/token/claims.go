package token

import (
	"errors"
	"fmt"
	"time"

	"sso-session-svc/src/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenType = "access"

// AccessClaims are carried by every access token. They are self-contained so
// any instance can verify a request without a store round trip.
type AccessClaims struct {
	UserID      string   `json:"userId"`
	SessionID   string   `json:"sessionId"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"tokenType"`
	jwt.RegisteredClaims
}

type signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func (s *signer) sign(family *models.TokenFamily, now time.Time) (string, error) {
	claims := AccessClaims{
		UserID:      family.UserID,
		SessionID:   family.SessionID,
		Email:       family.Email,
		Role:        family.Role,
		Permissions: family.Permissions,
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   family.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *signer) verify(tokenString string, now time.Time) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", models.ErrAccessTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrAccessTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, models.ErrAccessTokenInvalid
	}

	// Refresh tokens are opaque, but reject any other JWT minted with this key.
	if claims.TokenType != accessTokenType {
		return nil, fmt.Errorf("%w: invalid token type", models.ErrAccessTokenInvalid)
	}

	return claims, nil
}
