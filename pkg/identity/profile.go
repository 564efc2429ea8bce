package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ProfileClientConfig configures the provider's user API. When TokenURL is
// set the client authenticates with OAuth2 client credentials instead of
// the static secret key.
type ProfileClientConfig struct {
	BaseURL      string
	SecretKey    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// ProfileClient fetches user profiles from the identity provider
type ProfileClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewProfileClient builds a client. ctx scopes the OAuth2 token source.
func NewProfileClient(ctx context.Context, cfg ProfileClientConfig) *ProfileClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &ProfileClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: timeout},
	}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		c.http = cc.Client(ctx)
		c.http.Timeout = timeout
		c.secretKey = ""
	}
	return c
}

// GetUserProfile loads the provider user with the given subject id
func (c *ProfileClient) GetUserProfile(ctx context.Context, subjectID string) (*Profile, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(subjectID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrProfileNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	return ParseProfile(body)
}

type providerUser struct {
	ID             string `json:"id"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string  `json:"primary_email_address_id"`
	FirstName             *string `json:"first_name"`
	LastName              *string `json:"last_name"`
	ImageURL              string  `json:"image_url"`
	PublicMetadata        struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
	UpdatedAt int64 `json:"updated_at"`
}

// ParseProfile decodes a provider user object. The primary email wins,
// falling back to the first listed address. updated_at is epoch millis.
func ParseProfile(data []byte) (*Profile, error) {
	var u providerUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid profile payload: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("invalid profile payload: missing id")
	}

	p := &Profile{
		ID:       u.ID,
		ImageURL: u.ImageURL,
		Role:     u.PublicMetadata.Role,
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			p.Email = e.EmailAddress
			break
		}
	}
	if p.Email == "" && len(u.EmailAddresses) > 0 {
		p.Email = u.EmailAddresses[0].EmailAddress
	}
	if u.UpdatedAt > 0 {
		p.UpdatedAt = time.UnixMilli(u.UpdatedAt).UTC()
	}
	return p, nil
}
