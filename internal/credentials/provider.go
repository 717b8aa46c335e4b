// Package credentials obtains and caches the OAuth2 client-credentials
// token for the RMM provider. The token value never leaves this package:
// callers hand over an *http.Request and the Authorization header is set
// for them. Nothing here logs or returns secret material.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/singleflight"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	// A token is treated as expired this long before the provider says so,
	// so one can't go stale between header write and provider read.
	expiryMargin = 60 * time.Second

	exchangeTimeout  = 30 * time.Second
	maxTokenResponse = 64 * 1024

	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Provider exchanges client credentials for bearer tokens and caches the
// result until shortly before expiry. Safe for concurrent use; concurrent
// refreshes collapse into a single exchange.
type Provider struct {
	httpClient   *http.Client
	clock        clock.Clock
	tokenURL     string
	clientID     string
	clientSecret string

	flight singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New builds a Provider against the provider's token endpoint.
func New(baseURL, clientID, clientSecret string, clk clock.Clock) *Provider {
	return &Provider{
		httpClient:   &http.Client{Timeout: exchangeTimeout},
		clock:        clk,
		tokenURL:     strings.TrimRight(baseURL, "/") + "/ws/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Authorize sets the Authorization header on req, refreshing the cached
// token first if it is absent or inside the expiry margin.
func (p *Provider) Authorize(ctx context.Context, req *http.Request) error {
	token, err := p.current(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Invalidate drops the cached token so the next Authorize exchanges a fresh
// one. Called when the provider rejects a supposedly valid token.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiresAt = time.Time{}
}

func (p *Provider) current(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}

	// Concurrent dispatches share one exchange instead of stampeding the
	// token endpoint.
	result, err, _ := p.flight.Do("token", func() (any, error) {
		// An earlier flight may have refreshed while this caller waited.
		if token, ok := p.cached(); ok {
			return token, nil
		}
		return p.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	token, ok := result.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("empty token from exchange: %w", clubos.ErrCredential)
	}
	return token, nil
}

func (p *Provider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", false
	}
	if !p.clock.Now().Before(p.expiresAt.Add(-expiryMargin)) {
		return "", false
	}
	return p.token, true
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *Provider) exchange(ctx context.Context) (string, error) {
	start := time.Now()
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}

	var body []byte
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("token endpoint unreachable: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				log.Printf("[WARN] Error closing token response body: %v", err)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
		if err != nil {
			return fmt.Errorf("failed to read token response: %w", err)
		}
		return nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		// Detail goes to the log; callers see only the sentinel. A cached
		// token, if any, is left untouched.
		log.Printf("[ERROR] Token exchange failed after %d attempts: %v", maxRetries, err)
		return "", clubos.ErrCredential
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		log.Printf("[ERROR] Token response malformed: %v", err)
		return "", clubos.ErrCredential
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", fmt.Errorf("token response missing access_token or expires_in: %w", clubos.ErrCredential)
	}

	p.mu.Lock()
	p.token = tr.AccessToken
	p.expiresAt = p.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	p.mu.Unlock()

	// Security: log expiry only, never the token value.
	log.Printf("[INFO] RMM token refreshed in %v, expires in %ds", time.Since(start), tr.ExpiresIn)
	return tr.AccessToken, nil
}
