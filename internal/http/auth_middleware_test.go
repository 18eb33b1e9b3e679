package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"taskboard/internal/service"
)

func setupMiddlewareRouter(tokens *service.TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", AuthMiddleware(tokens), func(c *gin.Context) {
		userID, ok := GetAuthUserID(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no user in context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return r
}

func middlewareRequest(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tokens := service.NewTokenService("secret", time.Hour)
	r := setupMiddlewareRouter(tokens)

	token, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := middlewareRequest(r, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["user_id"] != "user-1" {
		t.Fatalf("expected user-1 in context, got %v", body["user_id"])
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tokens := service.NewTokenService("secret", time.Hour)
	r := setupMiddlewareRouter(tokens)

	valid, _ := tokens.Issue("user-1")
	other := service.NewTokenService("other-secret", time.Hour)
	foreign, _ := other.Issue("user-1")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	expiredToken, err := expired.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	cases := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Token " + valid},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong signature", "Bearer " + foreign},
		{"expired", "Bearer " + expiredToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := middlewareRequest(r, tc.authorization)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
