package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clerkUser = `{
	"id": "user_123",
	"email_addresses": [
		{"id": "idn_1", "email_address": "old@example.com"},
		{"id": "idn_2", "email_address": "primary@example.com"}
	],
	"primary_email_address_id": "idn_2",
	"first_name": "Ada",
	"last_name": null,
	"image_url": "https://img.example.com/a.png",
	"public_metadata": {"role": "professional"},
	"updated_at": 1700000000000
}`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(clerkUser))
	require.NoError(t, err)

	assert.Equal(t, "user_123", p.ID)
	assert.Equal(t, "primary@example.com", p.Email)
	assert.Equal(t, "Ada", p.DisplayName())
	assert.Equal(t, "professional", p.Role)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), p.UpdatedAt)
}

func TestParseProfile_FallbackEmail(t *testing.T) {
	p, err := ParseProfile([]byte(`{"id":"u","email_addresses":[{"id":"x","email_address":"first@example.com"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", p.Email)
	assert.Empty(t, p.Role)
	assert.True(t, p.UpdatedAt.IsZero())

	_, err = ParseProfile([]byte(`{"email_addresses":[]}`))
	assert.Error(t, err)

	_, err = ParseProfile([]byte(`{`))
	assert.Error(t, err)
}

func TestProfileClient_GetUserProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/users/user_123":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(clerkUser))
		case "/v1/users/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewProfileClient(context.Background(), ProfileClientConfig{BaseURL: srv.URL + "/v1/", SecretKey: "sk_test"})

	p, err := c.GetUserProfile(context.Background(), "user_123")
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", p.Email)

	_, err = c.GetUserProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = c.GetUserProfile(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = c.GetUserProfile(context.Background(), "")
	assert.Error(t, err)
}

func TestProfileClient_ClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/users/user_123", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(clerkUser))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewProfileClient(context.Background(), ProfileClientConfig{
		BaseURL:      srv.URL,
		SecretKey:    "ignored",
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "id",
		ClientSecret: "secret",
	})

	p, err := c.GetUserProfile(context.Background(), "user_123")
	require.NoError(t, err)
	assert.Equal(t, "user_123", p.ID)
}
