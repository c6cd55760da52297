// Package gcpauth mints short-lived OAuth2 bearer tokens for GCP Vertex AI
// providers from a service-account credential, using the standard
// JWT-bearer assertion flow (RFC 7523): a self-signed JWT, built with
// github.com/golang-jwt/jwt/v5, is exchanged at Google's token endpoint for
// an access token. Nothing in the retrieved pack talks to GCP directly;
// this is grounded on the teacher's credential.Secret redaction discipline
// (the private key and minted token are both handled as opaque strings,
// never logged) and named as an ecosystem dependency in DESIGN.md.
package gcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenURL    = "https://oauth2.googleapis.com/token"
	grantType   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenScope  = "https://www.googleapis.com/auth/cloud-platform"
	assertionTTL = 55 * time.Minute
)

// ServiceAccount is the subset of a GCP service-account JSON key file this
// package needs to mint bearer tokens.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccount decodes a service-account JSON key file's contents.
func ParseServiceAccount(raw []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("gcpauth: parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return ServiceAccount{}, fmt.Errorf("gcpauth: service account missing client_email/private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = tokenURL
	}
	return sa, nil
}

// TokenSource mints and caches an access token for a single service account,
// refreshing it shortly before expiry. Safe for concurrent use.
type TokenSource struct {
	sa         ServiceAccount
	httpClient *http.Client

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewTokenSource constructs a TokenSource for sa.
func NewTokenSource(sa ServiceAccount, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenSource{sa: sa, httpClient: httpClient}
}

// Token returns a valid bearer token, minting and exchanging a fresh one if
// the cached token has expired or is within 60s of expiring.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.cached, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}

	token, expiresIn, err := ts.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	ts.cached = token
	ts.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return token, nil
}

func (ts *TokenSource) signAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("gcpauth: parse private key: %w", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.sa.ClientEmail,
		"scope": tokenScope,
		"aud":   ts.sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("gcpauth: sign assertion: %w", err)
	}
	return signed, nil
}

func (ts *TokenSource) exchange(ctx context.Context, assertion string) (string, int, error) {
	form := url.Values{"grant_type": {grantType}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("gcpauth: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("gcpauth: token exchange returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("gcpauth: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("gcpauth: token response missing access_token")
	}
	return body.AccessToken, body.ExpiresIn, nil
}
