package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProviderConfig points at the OAuth identity provider's token and
// userinfo endpoints. The provider is an external collaborator; only the
// authorization-code exchange lives here.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserinfoURL  string
}

type Profile struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

type ProviderClient struct {
	cfg    ProviderConfig
	client *http.Client
}

func NewProviderClient(cfg ProviderConfig) *ProviderClient {
	return &ProviderClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ProviderClient) Exchange(ctx context.Context, code, redirectURI string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, ErrInvalidInput
	}
	if c.cfg.TokenURL == "" || c.cfg.UserinfoURL == "" {
		return Profile{}, fmt.Errorf("oauth provider is not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Profile{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: token exchange: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: token endpoint returned status %d", ErrProvider, resp.StatusCode)
	}

	var tokenPayload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenPayload); err != nil {
		return Profile{}, fmt.Errorf("%w: decode token response: %v", ErrProvider, err)
	}
	if tokenPayload.AccessToken == "" {
		return Profile{}, fmt.Errorf("%w: empty access token", ErrProvider)
	}

	return c.fetchProfile(ctx, tokenPayload.AccessToken)
}

func (c *ProviderClient) fetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserinfoURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: fetch userinfo: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: userinfo endpoint returned status %d", ErrProvider, resp.StatusCode)
	}

	var info struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("%w: decode userinfo response: %v", ErrProvider, err)
	}
	if info.Sub == "" {
		return Profile{}, fmt.Errorf("%w: userinfo missing subject", ErrProvider)
	}

	return Profile{
		Subject:   info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}
