// Package vendorapi is a thin HTTPS client for the vendor's REST API:
// fetching the authenticated user's installations and full install
// snapshots, and driving the OAuth2 token endpoint.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the vendor's REST endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
}

// New builds a Client. baseURL is the REST API host
// (e.g. "https://api.rehau.com"); tokenURL is the OAuth2 token endpoint.
func New(baseURL, tokenURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokenURL:   tokenURL,
	}
}

// StatusError is returned when the vendor responds with a non-2xx
// status, carrying the status code and response body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vendorapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

// UserData is the decoded response of GetUserData: the authenticated
// user plus their installations.
type UserData struct {
	Email         string          `json:"email"`
	ClientID      string          `json:"client_id"`
	Installations []InstallationRef `json:"installations"`
}

// InstallationRef identifies an installation as returned by
// getUserData; full detail comes from GetDataOfInstall.
type InstallationRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// GetUserData calls GET /v2/users/<email>/getUserData. The vendor
// expects the raw bearer token in the Authorization header with no
// "Bearer " prefix.
func (c *Client) GetUserData(ctx context.Context, email, accessToken string) (*UserData, error) {
	path := fmt.Sprintf("%s/v2/users/%s/getUserData", c.baseURL, url.PathEscape(email))
	var out UserData
	if err := c.getJSON(ctx, path, accessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InstallSnapshot is the full installation detail payload returned by
// GetDataOfInstall, shaped for internal/model.Installation assembly.
type InstallSnapshot struct {
	ID               string          `json:"_id"`
	Name             string          `json:"name"`
	OutsideTempRaw   *int            `json:"outside_temp,omitempty"`
	CoolingSupported bool            `json:"cooling_supported"`
	Groups           json.RawMessage `json:"groups"`
}

// GetDataOfInstall calls GET /v2/users/<email>/getDataofInstall with
// the demand and installsList query parameters.
func (c *Client) GetDataOfInstall(ctx context.Context, email, accessToken, demandID string, installIDs []string) ([]InstallSnapshot, error) {
	q := url.Values{}
	q.Set("demand", demandID)
	q.Set("installsList", strings.Join(installIDs, ","))
	path := fmt.Sprintf("%s/v2/users/%s/getDataofInstall?%s", c.baseURL, url.PathEscape(email), q.Encode())

	var out []InstallSnapshot
	if err := c.getJSON(ctx, path, accessToken, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vendorapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vendorapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("vendorapi: decode response: %w", err)
	}
	return nil
}

// TokenResponse is the OAuth2 token endpoint's JSON body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode performs the authorization_code grant.
func (c *Client) ExchangeCode(ctx context.Context, clientID, redirectURI, code, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"code":          {code},
		"code_verifier": {codeVerifier},
	}
	return c.postToken(ctx, form)
}

// RefreshToken performs the refresh_token grant.
func (c *Client) RefreshToken(ctx context.Context, clientID, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
	}
	return c.postToken(ctx, form)
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("vendorapi: decode token response: %w", err)
	}
	return &out, nil
}
