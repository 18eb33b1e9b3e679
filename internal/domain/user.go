package domain

import "time"

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// User es el agregado canonico de identidad: una cuenta por email,
// con credenciales opcionales por tipo (password, google, github).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	PasswordHash string    `json:"-"`
	GoogleID     string    `json:"-"`
	GitHubID     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasCredential indica si el usuario tiene al menos una credencial.
// Invariante: nunca se persiste un usuario sin ninguna.
func (u User) HasCredential() bool {
	return u.PasswordHash != "" || u.GoogleID != "" || u.GitHubID != ""
}

// ProviderID devuelve el identificador externo registrado para un provider.
func (u User) ProviderID(provider string) string {
	switch provider {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	}
	return ""
}
