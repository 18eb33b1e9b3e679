package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService emite y verifica bearer tokens firmados. El token es
// autocontenido: validez = firma + expiración, sin revocación del lado
// del servidor.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
)

const defaultTokenTTL = 7 * 24 * time.Hour

// tokenClaims lleva el identificador de usuario bajo el claim canonico
// "uid". "userId" es el nombre legado que otra ruta de emisión usó
// historicamente: se acepta al verificar y se normaliza a un solo id.
type tokenClaims struct {
	UserID       string `json:"uid,omitempty"`
	LegacyUserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "taskboard",
	}
}

// TTL devuelve la ventana de validez con la que se emiten los tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue firma un token para el usuario con la expiración configurada.
func (s *TokenService) Issue(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokenInvalid
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrTokenInvalid
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify valida firma y expiración y devuelve el id de usuario,
// aceptando tanto el claim canonico como el legado.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokenInvalid
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrTokenMalformed
	}

	var claims tokenClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", ErrTokenMalformed
		default:
			return "", ErrTokenInvalid
		}
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.LegacyUserID)
	}
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", ErrTokenInvalid
	}
	return userID, nil
}
