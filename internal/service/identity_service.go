package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain"
	"taskboard/internal/repository"
)

// IdentityService resuelve los tres flujos de credenciales (password,
// google, github) hacia exactamente una cuenta canonica por email.
type IdentityService struct {
	logger  *zap.Logger
	users   repository.UserRepository
	google  GoogleTokenVerifier
	github  GitHubExchanger
	limiter AuthRateLimiter
}

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOAuthInvalid       = errors.New("oauth data invalid")
	ErrOAuthVerification  = errors.New("oauth verification failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUserNotFound       = errors.New("user not found")
)

func NewIdentityService(logger *zap.Logger, users repository.UserRepository, google GoogleTokenVerifier, github GitHubExchanger, limiter AuthRateLimiter) *IdentityService {
	if limiter == nil {
		limiter = NewAuthRateLimiter(time.Minute, 10)
	}
	return &IdentityService{
		logger:  logger,
		users:   users,
		google:  google,
		github:  github,
		limiter: limiter,
	}
}

// Register crea una cuenta con password. El email duplicado se detecta
// por el constraint UNIQUE, no por un lookup previo.
func (s *IdentityService) Register(ctx context.Context, emailAddr, password, displayName string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	if password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if s.limiter != nil && !s.limiter.Allow("register:"+emailAddr) {
		return domain.User{}, ErrRateLimited
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hashBytes),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

// Login autentica email + password. Un email desconocido y un password
// incorrecto devuelven el mismo error.
func (s *IdentityService) Login(ctx context.Context, emailAddr, password string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if s.limiter != nil && !s.limiter.Allow("login:"+emailAddr) {
		return domain.User{}, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// OAuthInput es la credencial entregada por el cliente: un ID token para
// google, un authorization code para github.
type OAuthInput struct {
	Provider   string
	Credential string
}

// ResolveOAuth verifica la credencial contra el provider y resuelve la
// identidad a una cuenta canonica. La verificación criptografica del ID
// token corre antes de confiar en cualquier claim.
func (s *IdentityService) ResolveOAuth(ctx context.Context, input OAuthInput) (domain.User, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	credential := strings.TrimSpace(input.Credential)
	if credential == "" {
		return domain.User{}, ErrOAuthInvalid
	}
	if s.limiter != nil && !s.limiter.Allow("oauth:"+provider) {
		return domain.User{}, ErrRateLimited
	}

	switch provider {
	case domain.ProviderGoogle:
		return s.resolveGoogle(ctx, credential)
	case domain.ProviderGitHub:
		return s.resolveGitHub(ctx, credential)
	}
	return domain.User{}, ErrOAuthInvalid
}

func (s *IdentityService) resolveGoogle(ctx context.Context, idToken string) (domain.User, error) {
	if s.google == nil {
		return domain.User{}, ErrOAuthVerification
	}
	claims, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.logger.Warn("google id token verification failed", zap.Error(err))
		return domain.User{}, ErrOAuthVerification
	}
	if claims.Subject == "" {
		s.logger.Warn("google id token without subject")
		return domain.User{}, ErrOAuthVerification
	}
	return s.resolveIdentity(ctx, domain.ProviderGoogle, claims.Subject, claims.Email, claims.Name, claims.Picture)
}

func (s *IdentityService) resolveGitHub(ctx context.Context, code string) (domain.User, error) {
	if s.github == nil {
		return domain.User{}, ErrOAuthVerification
	}
	// El exchange del code ya validó la credencial contra github; el
	// perfil que vuelve es confiable.
	profile, err := s.github.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("github code exchange failed", zap.Error(err))
		return domain.User{}, ErrOAuthVerification
	}
	if profile.ID == "" {
		s.logger.Warn("github profile without id", zap.String("login", profile.Login))
		return domain.User{}, ErrOAuthVerification
	}

	emailAddr := profile.Email
	if emailAddr == "" {
		// Github puede no liberar ningún email. Se sintetiza uno estable
		// a partir del login para que logins repetidos resuelvan a la
		// misma cuenta.
		emailAddr = strings.ToLower(profile.Login) + "@users.noreply.github.com"
		s.logger.Warn("github released no email, using synthetic address",
			zap.String("github_id", profile.ID),
			zap.String("login", profile.Login),
		)
	}

	displayName := profile.Name
	if displayName == "" {
		displayName = profile.Login
	}
	return s.resolveIdentity(ctx, domain.ProviderGitHub, profile.ID, emailAddr, displayName, profile.AvatarURL)
}

// resolveIdentity busca por (provider, subject), despues por email
// (vinculando el provider a la cuenta existente), y recien entonces crea.
// Un insert que pierde la carrera del constraint de email re-busca en vez
// de fallar.
func (s *IdentityService) resolveIdentity(ctx context.Context, provider, subject, emailAddr, displayName, avatarURL string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		s.logger.Warn("oauth identity without email",
			zap.String("provider", provider),
			zap.String("subject", subject),
		)
		return domain.User{}, ErrOAuthInvalid
	}

	user, err := s.users.GetByProvider(ctx, provider, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	existing, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		if linkErr := s.users.LinkProvider(ctx, existing.ID, provider, subject); linkErr != nil {
			if errors.Is(linkErr, pgx.ErrNoRows) {
				// Otro login concurrente ya vinculó el provider.
				return s.users.GetByProvider(ctx, provider, subject)
			}
			return domain.User{}, linkErr
		}
		switch provider {
		case domain.ProviderGoogle:
			existing.GoogleID = subject
		case domain.ProviderGitHub:
			existing.GitHubID = subject
		}
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	user = domain.User{
		ID:          uuid.NewString(),
		Email:       emailAddr,
		DisplayName: strings.TrimSpace(displayName),
		AvatarURL:   strings.TrimSpace(avatarURL),
		CreatedAt:   time.Now().UTC(),
	}
	switch provider {
	case domain.ProviderGoogle:
		user.GoogleID = subject
	case domain.ProviderGitHub:
		user.GitHubID = subject
	}

	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			// Dos resoluciones concurrentes para un email nuevo: la que
			// pierde el insert encuentra la cuenta que ganó.
			if winner, getErr := s.users.GetByProvider(ctx, provider, subject); getErr == nil {
				return winner, nil
			}
			if winner, getErr := s.users.GetByEmail(ctx, emailAddr); getErr == nil {
				if linkErr := s.users.LinkProvider(ctx, winner.ID, provider, subject); linkErr != nil && !errors.Is(linkErr, pgx.ErrNoRows) {
					return domain.User{}, linkErr
				}
				return s.users.GetByEmail(ctx, emailAddr)
			}
			return domain.User{}, err
		}
		return domain.User{}, err
	}
	return user, nil
}

// GetUser devuelve el usuario por id.
func (s *IdentityService) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
