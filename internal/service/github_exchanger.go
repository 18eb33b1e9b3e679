package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubProfile es el perfil devuelto tras un exchange exitoso.
type GitHubProfile struct {
	ID        string
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// GitHubExchanger canjea un authorization code por el perfil del usuario.
type GitHubExchanger interface {
	Exchange(ctx context.Context, code string) (GitHubProfile, error)
}

type githubExchanger struct {
	config *oauth2.Config
	apiURL string
}

// NewGitHubExchanger crea el exchanger real contra la API de github.
func NewGitHubExchanger(clientID, clientSecret, redirectURL string) GitHubExchanger {
	return &githubExchanger{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
			RedirectURL:  redirectURL,
		},
		apiURL: "https://api.github.com",
	}
}

func (e *githubExchanger) Exchange(ctx context.Context, code string) (GitHubProfile, error) {
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return GitHubProfile{}, fmt.Errorf("github token exchange: %w", err)
	}

	client := e.config.Client(ctx, token)

	var info struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := e.getJSON(ctx, client, e.apiURL+"/user", &info); err != nil {
		return GitHubProfile{}, fmt.Errorf("fetch github user: %w", err)
	}

	profile := GitHubProfile{
		ID:        strconv.FormatInt(info.ID, 10),
		Login:     info.Login,
		Name:      info.Name,
		Email:     info.Email,
		AvatarURL: info.AvatarURL,
	}

	if profile.Email == "" {
		// El email del perfil puede ser privado; el endpoint de emails
		// devuelve los verificados del usuario autenticado.
		var emails []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		}
		if err := e.getJSON(ctx, client, e.apiURL+"/user/emails", &emails); err == nil {
			for _, em := range emails {
				if em.Primary {
					profile.Email = em.Email
					break
				}
			}
			if profile.Email == "" && len(emails) > 0 {
				profile.Email = emails[0].Email
			}
		}
	}

	return profile, nil
}

func (e *githubExchanger) getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github api returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
