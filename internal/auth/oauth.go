// Package auth resolves OAuth access tokens and project ids for
// oauth-sourced accounts against the upstream's token endpoint. Interactive
// browser consent is out of scope here; accounts arrive already holding a
// refresh token (minted once, out of band, by whatever flow an operator
// uses) and this package's job is purely the machine-to-machine half:
// refresh-token exchange, user-info lookup, and project discovery.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// clientCredentials reads the OAuth client id/secret from the environment.
// These are operator secrets, never hardcoded and never persisted.
func clientCredentials() (string, string) {
	return os.Getenv("OAUTH_CLIENT_ID"), os.Getenv("OAUTH_CLIENT_SECRET")
}

// RefreshResult represents the result of refreshing an access token.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RefreshAccessToken exchanges a refresh token for a fresh access token.
func RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}

	clientID, clientSecret := clientCredentials()
	data := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", config.OAuthConfig.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &RefreshResult{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	}, nil
}

// GetUserEmail resolves the account email behind an access token.
func GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", config.OAuthConfig.UserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		utils.Error("[auth] getUserEmail failed: %d %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("failed to get user info: %d", resp.StatusCode)
	}

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return "", fmt.Errorf("failed to parse user info: %w", err)
	}

	return userInfo.Email, nil
}

// DiscoverProjectID discovers the cloud project id associated with an
// account, onboarding a fresh project if the account has none yet.
func DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	var loadCodeAssistData map[string]interface{}

	for _, endpoint := range config.OnboardEndpoints {
		projectID, data, err := tryDiscoverProject(ctx, accessToken, endpoint)
		if err != nil {
			utils.Warn("[auth] project discovery failed at %s: %v", endpoint, err)
			continue
		}

		if projectID != "" {
			return projectID, nil
		}

		loadCodeAssistData = data
		utils.Info("[auth] no project in loadCodeAssist response, attempting onboardUser...")
		break
	}

	if loadCodeAssistData != nil {
		tierID := getDefaultTierID(loadCodeAssistData)
		if tierID == "" {
			tierID = "FREE"
		}
		utils.Info("[auth] onboarding account with tier: %s", tierID)

		onboardedProject, err := OnboardUser(ctx, accessToken, tierID)
		if err == nil && onboardedProject != "" {
			utils.Success("[auth] onboarded, project: %s", onboardedProject)
			return onboardedProject, nil
		}
	}

	return "", nil
}

// tryDiscoverProject attempts to discover a project at a single endpoint.
func tryDiscoverProject(ctx context.Context, accessToken, endpoint string) (string, map[string]interface{}, error) {
	reqBody := map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", nil, err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, err
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, data, nil
	}

	if projectObj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if projectID, ok := projectObj["id"].(string); ok && projectID != "" {
			return projectID, data, nil
		}
	}

	return "", data, nil
}

// getDefaultTierID extracts the default tier id from a loadCodeAssist response.
func getDefaultTierID(data map[string]interface{}) string {
	allowedTiers, ok := data["allowedTiers"].([]interface{})
	if !ok || len(allowedTiers) == 0 {
		return ""
	}

	for _, tier := range allowedTiers {
		tierMap, ok := tier.(map[string]interface{})
		if !ok {
			continue
		}
		if isDefault, ok := tierMap["isDefault"].(bool); ok && isDefault {
			if id, ok := tierMap["id"].(string); ok {
				return id
			}
		}
	}

	if firstTier, ok := allowedTiers[0].(map[string]interface{}); ok {
		if id, ok := firstTier["id"].(string); ok {
			return id
		}
	}

	return ""
}

// OnboardUser provisions a cloud project for an account that has none,
// using the given tier id.
func OnboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	reqBody := map[string]interface{}{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, endpoint := range config.OnboardEndpoints {
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1internal:onboardUser", strings.NewReader(string(jsonBody)))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range config.Headers() {
			req.Header.Set(k, v)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("onboardUser failed with status %d: %s", resp.StatusCode, string(body))
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			lastErr = err
			continue
		}

		response, ok := data["response"].(map[string]interface{})
		if !ok {
			lastErr = fmt.Errorf("onboardUser response missing cloudaicompanionProject")
			continue
		}
		if projectID, ok := response["cloudaicompanionProject"].(string); ok && projectID != "" {
			return projectID, nil
		}
		if projectObj, ok := response["cloudaicompanionProject"].(map[string]interface{}); ok {
			if projectID, ok := projectObj["id"].(string); ok && projectID != "" {
				return projectID, nil
			}
		}
		lastErr = fmt.Errorf("onboardUser response did not contain a project id")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no onboarding endpoints configured")
	}
	return "", lastErr
}
