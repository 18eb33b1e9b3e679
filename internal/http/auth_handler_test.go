package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/repository"
	"taskboard/internal/service"
)

type mockUserRepo struct {
	usersByID map[string]domain.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{usersByID: make(map[string]domain.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	for _, existing := range m.usersByID {
		if existing.Email == user.Email {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	m.usersByID[user.ID] = user
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	for _, user := range m.usersByID {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) GetByProvider(_ context.Context, provider, providerID string) (domain.User, error) {
	for _, user := range m.usersByID {
		if user.ProviderID(provider) == providerID {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) LinkProvider(_ context.Context, id, provider, providerID string) error {
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	switch provider {
	case domain.ProviderGoogle:
		user.GoogleID = providerID
	case domain.ProviderGitHub:
		user.GitHubID = providerID
	}
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) ExistAll(_ context.Context, ids []string) (bool, error) {
	for _, id := range ids {
		if _, ok := m.usersByID[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

type mockTaskRepo struct {
	tasksByID map[string]domain.Task
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasksByID: make(map[string]domain.Task)}
}

func (m *mockTaskRepo) Create(_ context.Context, task domain.Task) error {
	m.tasksByID[task.ID] = task
	return nil
}

func (m *mockTaskRepo) GetByID(_ context.Context, id string) (domain.Task, error) {
	task, ok := m.tasksByID[id]
	if !ok {
		return domain.Task{}, pgx.ErrNoRows
	}
	return task, nil
}

func (m *mockTaskRepo) List(_ context.Context, userID string, filter repository.TaskFilter) ([]domain.Task, int, error) {
	readable := make([]domain.Task, 0)
	for _, task := range m.tasksByID {
		if !task.CanRead(userID) {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		if filter.Search != "" && !strings.Contains(task.Title, filter.Search) {
			continue
		}
		readable = append(readable, task)
	}
	sort.Slice(readable, func(i, j int) bool { return readable[i].ID < readable[j].ID })
	return readable, len(readable), nil
}

func (m *mockTaskRepo) UpdateFields(_ context.Context, id, creatorID string, update repository.TaskUpdate) (domain.Task, error) {
	task, ok := m.tasksByID[id]
	if !ok || task.CreatorID != creatorID {
		return domain.Task{}, pgx.ErrNoRows
	}
	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.DueDate != nil {
		task.DueDate = update.DueDate
	}
	if update.Priority != nil {
		task.Priority = *update.Priority
	}
	if update.Status != nil {
		task.Status = *update.Status
	}
	task.UpdatedAt = time.Now().UTC()
	m.tasksByID[id] = task
	return task, nil
}

func (m *mockTaskRepo) Delete(_ context.Context, id, creatorID string) error {
	task, ok := m.tasksByID[id]
	if !ok || task.CreatorID != creatorID {
		return pgx.ErrNoRows
	}
	delete(m.tasksByID, id)
	return nil
}

func (m *mockTaskRepo) AddShares(_ context.Context, taskID string, userIDs []string) error {
	task, ok := m.tasksByID[taskID]
	if !ok {
		return pgx.ErrNoRows
	}
	existing := make(map[string]struct{}, len(task.SharedWith))
	for _, id := range task.SharedWith {
		existing[id] = struct{}{}
	}
	for _, id := range userIDs {
		if _, dup := existing[id]; !dup {
			task.SharedWith = append(task.SharedWith, id)
			existing[id] = struct{}{}
		}
	}
	m.tasksByID[taskID] = task
	return nil
}

type mockGoogleVerifier struct {
	claims service.GoogleTokenClaims
	err    error
}

func (m *mockGoogleVerifier) Verify(_ context.Context, _ string) (service.GoogleTokenClaims, error) {
	return m.claims, m.err
}

func performRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func setupAuthRouter(userRepo *mockUserRepo, google service.GoogleTokenVerifier) (*gin.Engine, *service.TokenService) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	tokens := service.NewTokenService("test-secret", time.Hour)
	identity := service.NewIdentityService(logger, userRepo, google, nil, service.NewAuthRateLimiter(time.Minute, 1000))
	h := NewAuthHandler(logger, identity, tokens)

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/oauth", h.OAuth)
	r.GET("/auth/me", AuthMiddleware(tokens), h.Me)
	return r, tokens
}

func TestAuthHandlerRegister_Success(t *testing.T) {
	r, tokens := setupAuthRouter(newMockUserRepo(), nil)

	rec := performRequest(r, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "a@x.com",
		"password": "Aa123456",
		"name":     "A",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected a token in the response")
	}
	user, _ := body["user"].(map[string]any)
	userID, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("returned token must verify: %v", err)
	}
	if userID != user["id"] {
		t.Fatalf("token subject %q != user id %v", userID, user["id"])
	}
}

func TestAuthHandlerRegister_DuplicateEmail(t *testing.T) {
	r, _ := setupAuthRouter(newMockUserRepo(), nil)

	payload := map[string]string{"email": "a@x.com", "password": "Aa123456", "name": "A"}
	if rec := performRequest(r, http.MethodPost, "/auth/register", "", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first register: %d", rec.Code)
	}
	payload["email"] = "A@X.com"
	if rec := performRequest(r, http.MethodPost, "/auth/register", "", payload); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
}

func TestAuthHandlerRegister_Validation(t *testing.T) {
	r, _ := setupAuthRouter(newMockUserRepo(), nil)

	cases := []map[string]string{
		{"password": "Aa123456", "name": "A"},
		{"email": "not-an-email", "password": "Aa123456", "name": "A"},
		{"email": "a@x.com", "password": "short", "name": "A"},
		{"email": "a@x.com", "password": "Aa123456"},
	}
	for _, payload := range cases {
		if rec := performRequest(r, http.MethodPost, "/auth/register", "", payload); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", payload, rec.Code)
		}
	}
}

func TestAuthHandlerLogin(t *testing.T) {
	r, tokens := setupAuthRouter(newMockUserRepo(), nil)

	register := performRequest(r, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@x.com", "password": "Aa123456", "name": "A",
	})
	registeredID := decodeBody(t, register)["user"].(map[string]any)["id"]

	rec := performRequest(r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "Aa123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	userID, err := tokens.Verify(token)
	if err != nil || userID != registeredID {
		t.Fatalf("login token must resolve the registered user: %v / %v", userID, err)
	}

	rec = performRequest(r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "wrong-pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
	}
}

func TestAuthHandlerOAuth_GoogleSuccess(t *testing.T) {
	google := &mockGoogleVerifier{claims: service.GoogleTokenClaims{Subject: "g1", Email: "a@x.com", Name: "A"}}
	r, _ := setupAuthRouter(newMockUserRepo(), google)

	rec := performRequest(r, http.MethodPost, "/auth/oauth", "", map[string]string{
		"provider": "google", "credential": "id-token",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if token, _ := decodeBody(t, rec)["token"].(string); token == "" {
		t.Fatalf("expected a token")
	}
}

func TestAuthHandlerOAuth_VerificationFailureIs401(t *testing.T) {
	google := &mockGoogleVerifier{err: errors.New("audience mismatch: detailed provider internals")}
	r, _ := setupAuthRouter(newMockUserRepo(), google)

	rec := performRequest(r, http.MethodPost, "/auth/oauth", "", map[string]string{
		"provider": "google", "credential": "bad-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "audience mismatch") {
		t.Fatalf("provider internals must not leak to the caller: %s", rec.Body.String())
	}
}

func TestAuthHandlerMe(t *testing.T) {
	r, _ := setupAuthRouter(newMockUserRepo(), nil)

	register := performRequest(r, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@x.com", "password": "Aa123456", "name": "A",
	})
	token, _ := decodeBody(t, register)["token"].(string)

	rec := performRequest(r, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	user, _ := decodeBody(t, rec)["user"].(map[string]any)
	if user["email"] != "a@x.com" {
		t.Fatalf("unexpected user: %v", user)
	}

	if rec := performRequest(r, http.MethodGet, "/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}
