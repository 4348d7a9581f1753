package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaycc/cloudcode-gateway/internal/config"
)

func withOAuthEndpoints(t *testing.T, tokenURL, userInfoURL string) {
	t.Helper()
	original := config.OAuthConfig
	if tokenURL != "" {
		config.OAuthConfig.TokenURL = tokenURL
	}
	if userInfoURL != "" {
		config.OAuthConfig.UserInfoURL = userInfoURL
	}
	t.Cleanup(func() { config.OAuthConfig = original })
}

func withOnboardEndpoints(t *testing.T, endpoints []string) {
	t.Helper()
	original := config.OnboardEndpoints
	config.OnboardEndpoints = endpoints
	t.Cleanup(func() { config.OnboardEndpoints = original })
}

func TestRefreshAccessToken_EmptyTokenErrors(t *testing.T) {
	_, err := RefreshAccessToken(context.Background(), "")
	if err == nil {
		t.Fatal("expected an error for an empty refresh token")
	}
}

func TestRefreshAccessToken_ParsesSuccessfulResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	}))
	defer server.Close()
	withOAuthEndpoints(t, server.URL, "")

	result, err := RefreshAccessToken(context.Background(), "refresh-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AccessToken != "fresh-token" || result.ExpiresIn != 3600 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRefreshAccessToken_NonOKStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()
	withOAuthEndpoints(t, server.URL, "")

	_, err := RefreshAccessToken(context.Background(), "refresh-abc")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestGetUserEmail_ParsesSuccessfulResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("expected bearer token to be forwarded, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"email":"user@example.com"}`))
	}))
	defer server.Close()
	withOAuthEndpoints(t, "", server.URL)

	email, err := GetUserEmail(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "user@example.com" {
		t.Errorf("expected user@example.com, got %s", email)
	}
}

func TestGetUserEmail_NonOKStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	withOAuthEndpoints(t, "", server.URL)

	_, err := GetUserEmail(context.Background(), "bad-token")
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}

func TestGetDefaultTierID_PrefersIsDefaultTier(t *testing.T) {
	data := map[string]interface{}{
		"allowedTiers": []interface{}{
			map[string]interface{}{"id": "free-tier", "isDefault": false},
			map[string]interface{}{"id": "standard-tier", "isDefault": true},
		},
	}

	if got := getDefaultTierID(data); got != "standard-tier" {
		t.Errorf("expected standard-tier, got %s", got)
	}
}

func TestGetDefaultTierID_FallsBackToFirstTier(t *testing.T) {
	data := map[string]interface{}{
		"allowedTiers": []interface{}{
			map[string]interface{}{"id": "free-tier"},
			map[string]interface{}{"id": "standard-tier"},
		},
	}

	if got := getDefaultTierID(data); got != "free-tier" {
		t.Errorf("expected free-tier fallback, got %s", got)
	}
}

func TestGetDefaultTierID_EmptyWhenNoTiers(t *testing.T) {
	if got := getDefaultTierID(map[string]interface{}{}); got != "" {
		t.Errorf("expected empty string when no tiers present, got %s", got)
	}
}

func TestDiscoverProjectID_ReturnsProjectFromLoadCodeAssist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cloudaicompanionProject":"proj-99"}`))
	}))
	defer server.Close()
	withOnboardEndpoints(t, []string{server.URL})

	projectID, err := DiscoverProjectID(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if projectID != "proj-99" {
		t.Errorf("expected proj-99, got %s", projectID)
	}
}

func TestDiscoverProjectID_OnboardsWhenNoProjectPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case stringsHasSuffix(r.URL.Path, "loadCodeAssist"):
			w.Write([]byte(`{"allowedTiers":[{"id":"free-tier","isDefault":true}]}`))
		case stringsHasSuffix(r.URL.Path, "onboardUser"):
			w.Write([]byte(`{"response":{"cloudaicompanionProject":"proj-onboarded"}}`))
		}
	}))
	defer server.Close()
	withOnboardEndpoints(t, []string{server.URL})

	projectID, err := DiscoverProjectID(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if projectID != "proj-onboarded" {
		t.Errorf("expected proj-onboarded, got %s", projectID)
	}
}

func stringsHasSuffix(s, suffix string) bool {
	if len(suffix) > len(s) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}
