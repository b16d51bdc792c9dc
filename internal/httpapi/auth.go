package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"tokopos/backend/internal/domain"
)

// AuthManager signs and verifies the short-lived access tokens. Credential
// checks and refresh-token rotation live in the service layer; this type
// only deals with JWTs.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
}

type posClaims struct {
	jwtlib.RegisteredClaims
	TenantID    string   `json:"tid"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// IssueAccessToken mints an HS256 token carrying the actor's tenant, role,
// and permission set so request handling never needs a role lookup.
func (a *AuthManager) IssueAccessToken(user *domain.User, role *domain.Role) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tokopos",
		},
		TenantID:    user.TenantID,
		Username:    user.Username,
		Role:        role.Name,
		Permissions: role.Permissions,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		UserID:      sub,
		TenantID:    claims.TenantID,
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
