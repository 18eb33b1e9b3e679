package service

import (
	"context"
	"errors"

	"google.golang.org/api/idtoken"
)

// GoogleTokenClaims son los claims extraidos de un ID token ya verificado.
type GoogleTokenClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleTokenVerifier valida criptograficamente un ID token de google
// (firma contra las claves publicas del provider, audience y expiración)
// antes de exponer cualquier claim.
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleTokenClaims, error)
}

type googleTokenVerifier struct {
	audience string
}

// NewGoogleTokenVerifier crea el verificador real contra los JWK de google.
// El audience es el client id de la aplicación.
func NewGoogleTokenVerifier(audience string) GoogleTokenVerifier {
	return &googleTokenVerifier{audience: audience}
}

func (v *googleTokenVerifier) Verify(ctx context.Context, rawToken string) (GoogleTokenClaims, error) {
	if v.audience == "" {
		return GoogleTokenClaims{}, errors.New("google client id not configured")
	}
	payload, err := idtoken.Validate(ctx, rawToken, v.audience)
	if err != nil {
		return GoogleTokenClaims{}, err
	}

	claims := GoogleTokenClaims{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := payload.Claims["name"].(string); ok {
		claims.Name = name
	}
	if picture, ok := payload.Claims["picture"].(string); ok {
		claims.Picture = picture
	}
	return claims, nil
}
