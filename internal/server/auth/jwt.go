// Package auth mints and validates the short-lived JWT access tokens.
// Access tokens are stateless: possession plus a valid signature plus an
// unexpired exp claim authorizes a request without any server-side lookup.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/akarpov87/schoolauth/internal/common"
)

// Claims are the identity claims embedded in every access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"name"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// Issuer signs and decodes access tokens with a symmetric HS256 key.
// The clock is injectable for deterministic expiry tests.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	validity time.Duration
	now      func() time.Time
}

// NewIssuer constructs an Issuer. validity is the access-token lifetime.
func NewIssuer(secret []byte, issuer, audience string, validity time.Duration) *Issuer {
	return &Issuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		validity: validity,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Test seam.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Validity returns the configured access-token lifetime.
func (i *Issuer) Validity() time.Duration { return i.validity }

// Issue mints a signed token for the given identity and returns it together
// with the fresh jti that correlates it to its refresh token.
func (i *Issuer) Issue(userID, username, email string, roles []string) (token string, jti string, err error) {
	now := i.now()
	jti = uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
		Username: username,
		Email:    email,
		Roles:    roles,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// Decode fully validates a token, expiry included. Used by the request
// middleware to authorize ordinary calls.
func (i *Issuer) Decode(tokenString string) (*Claims, error) {
	return i.parse(tokenString, true)
}

// DecodeExpired validates signature, issuer and audience while ignoring
// expiry. It exists solely so the rotation engine can read identity out of a
// just-expired access token; it must never authorize a request.
func (i *Issuer) DecodeExpired(tokenString string) (*Claims, error) {
	return i.parse(tokenString, false)
}

func (i *Issuer) parse(tokenString string, withExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		// Pinning the method defends against algorithm substitution.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	}
	if !withExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, common.Unauthorizedf("invalid access token").WithCause(err)
	}
	if !token.Valid {
		return nil, common.Unauthorizedf("invalid access token")
	}
	if !withExpiry {
		// WithoutClaimsValidation skips iss/aud checks too, so redo them.
		if claims.Issuer != i.issuer || !containsAudience(claims.Audience, i.audience) {
			return nil, common.Unauthorizedf("invalid access token")
		}
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, common.Unauthorizedf("invalid token claims")
	}
	return claims, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
