package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foundline/chat/internal/chat/domain"
)

func TestUserProfile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/users/user-1" {
			t.Errorf("path = %q, want /users/user-1", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Alice","photo_url":"https://img.example/a.png","email":"alice@example.com"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	profile, err := client.UserProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("UserProfile() error = %v", err)
	}
	if profile.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", profile.DisplayName)
	}
	if profile.Email != "alice@example.com" {
		t.Fatalf("Email = %q", profile.Email)
	}
}

func TestUserProfileNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	if _, err := client.UserProfile(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UserProfile() error = %v, want domain.ErrNotFound", err)
	}
}

func TestUserProfileServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	if _, err := client.UserProfile(context.Background(), "user-1"); err == nil {
		t.Fatal("UserProfile() expected error for 500 response")
	}
}
