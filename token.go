package rbac

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller handed to the decision engine.
type Identity struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"fullName"`
	GlobalRole GlobalRole `json:"globalRole"`
}

// Claims is the bearer token payload.
type Claims struct {
	UserID     string     `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"fullName"`
	GlobalRole GlobalRole `json:"globalRole"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secretKey []byte
	issuer    string
}

func NewTokenVerifier(secretKey, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

// Issue signs a token for the identity. Production tokens come from the
// account service; this exists for tooling and tests.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     id.ID,
		Email:      id.Email,
		FullName:   id.FullName,
		GlobalRole: id.GlobalRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   id.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}

// Verify checks signature and expiry. Failures wrap ErrUnauthorized and
// keep the parser's message for the client.
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject id", ErrUnauthorized)
	}
	if claims.GlobalRole != GlobalRoleAdmin && claims.GlobalRole != GlobalRoleUser {
		return nil, fmt.Errorf("%w: unknown global role %q", ErrUnauthorized, claims.GlobalRole)
	}

	return &Identity{
		ID:         claims.UserID,
		Email:      claims.Email,
		FullName:   claims.FullName,
		GlobalRole: claims.GlobalRole,
	}, nil
}
