package datahub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"supplier-core/internal/observability/metrics"
)

// TokenSafetyMargin is subtracted from the declared expiry.
const TokenSafetyMargin = 5 * time.Minute

// TokenSource caches a client-credentials access token. Concurrent callers
// share one in-flight token request.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	client       *http.Client
	now          func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource constructs a token source.
func NewTokenSource(cfg EndpointConfig, client *http.Client) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TokenSource{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
		client:       client,
		now:          time.Now,
	}
}

// Token returns a cached token or fetches a new one.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}
	ch := s.group.DoChan("token", func() (any, error) {
		if token, ok := s.cached(); ok {
			return token, nil
		}
		// The fetch is shared by every waiter and outlives a cancelled caller.
		timeout := s.client.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		token, expires, err := s.fetch(fetchCtx)
		if err != nil {
			metrics.IncTokenFetch(metrics.ResultError)
			return "", err
		}
		metrics.IncTokenFetch(metrics.ResultSuccess)
		s.mu.Lock()
		s.token = token
		s.expires = expires
		s.mu.Unlock()
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expires.Add(-TokenSafetyMargin)) {
		return "", false
	}
	return s.token, true
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	if s.scope != "" {
		form.Set("scope", s.scope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("datahub: token endpoint http %d", resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, err
	}
	if body.AccessToken == "" {
		return "", time.Time{}, errors.New("datahub: empty access token")
	}
	issued := s.now()
	if body.ExpiresIn > 0 {
		return body.AccessToken, issued.Add(time.Duration(body.ExpiresIn) * time.Second), nil
	}
	return body.AccessToken, expiryFromJWT(body.AccessToken, issued), nil
}

// expiryFromJWT reads the exp claim without verifying the signature; the
// token is opaque to us and only the hub validates it.
func expiryFromJWT(token string, issued time.Time) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return issued.Add(TokenSafetyMargin + time.Minute)
	}
	return claims.ExpiresAt.Time
}
