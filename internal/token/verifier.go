package token

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/atelierhub/identity-core/internal/models"
)

// Verifier checks bearer token signatures and expiry against the issuer's
// key set and extracts the claims the identity core consumes. It never
// touches the store: the subject claim is handed to the resolver as-is.
type Verifier struct {
	jwksManager *JWKSManager
	jwksURL     string
	issuer      string
}

// NewVerifier creates a verifier bound to one issuer and its JWKS endpoint
func NewVerifier(jwksManager *JWKSManager, jwksURL, issuer string) *Verifier {
	return &Verifier{
		jwksManager: jwksManager,
		jwksURL:     jwksURL,
		issuer:      issuer,
	}
}

// Verify validates the token and returns its claims. Signature, expiry and
// issuer are all enforced; any failure is terminal for the bearer strategy.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	keys, err := v.jwksManager.GetJWKS(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get key set: %w", err)
	}

	parsed, err := jwt.Parse([]byte(tokenString),
		jwt.WithKeySet(keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse/verify token: %w", err)
	}

	subject := parsed.Subject()
	if subject == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}

	claims := &models.JWTClaims{
		Sub:   subject,
		Iss:   parsed.Issuer(),
		Email: stringClaim(parsed, "email"),
		Name:  stringClaim(parsed, "name"),
	}
	if !parsed.Expiration().IsZero() {
		claims.Exp = parsed.Expiration().Unix()
	}
	if !parsed.IssuedAt().IsZero() {
		claims.Iat = parsed.IssuedAt().Unix()
	}
	if aud := parsed.Audience(); len(aud) > 0 {
		claims.Aud = aud[0]
	}

	return claims, nil
}

func stringClaim(parsed jwt.Token, name string) string {
	value, ok := parsed.Get(name)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}
