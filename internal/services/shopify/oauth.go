package shopify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/logger"
)

const oauthScopes = "read_products,write_products," +
	"read_inventory,write_inventory,read_locations," +
	"read_files,write_files," +
	"read_product_listings"

const stateTTL = 10 * time.Minute

var (
	ErrInvalidState    = errors.New("oauth state is unknown or expired")
	ErrInvalidHMAC     = errors.New("oauth callback signature is invalid")
	ErrInvalidShop     = errors.New("shop domain is invalid")
	ErrMissingAppCreds = errors.New("shopify client id and secret are not configured")
)

type pendingInstall struct {
	ownerID string
	shop    string
	expires time.Time
}

type OAuthService struct {
	config     *config.Config
	logger     *logger.Logger
	httpClient *http.Client

	// tokenURL builds the access token endpoint for a shop.
	tokenURL func(shop string) string
	now      func() time.Time

	mu     sync.Mutex
	states map[string]pendingInstall
}

func NewOAuthService(cfg *config.Config, logger *logger.Logger) *OAuthService {
	return &OAuthService{
		config:     cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokenURL: func(shop string) string {
			return fmt.Sprintf("https://%s/admin/oauth/access_token", shop)
		},
		now:    time.Now,
		states: make(map[string]pendingInstall),
	}
}

// WithTokenURL points token exchange at another endpoint. Used in tests.
func (s *OAuthService) WithTokenURL(fn func(shop string) string) *OAuthService {
	s.tokenURL = fn
	return s
}

// GenerateAuthURL creates the Shopify OAuth authorization URL and remembers
// which owner started the install.
func (s *OAuthService) GenerateAuthURL(shopDomain, ownerID string) (string, string, error) {
	if s.config.ShopifyClientID == "" {
		return "", "", ErrMissingAppCreds
	}
	shop := NormalizeShopDomain(shopDomain)
	if !ValidShopDomain(shop) {
		return "", "", ErrInvalidShop
	}

	state, err := s.generateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked()
	s.states[state] = pendingInstall{ownerID: ownerID, shop: shop, expires: s.now().Add(stateTTL)}
	s.mu.Unlock()

	q := url.Values{}
	q.Set("client_id", s.config.ShopifyClientID)
	q.Set("scope", oauthScopes)
	q.Set("redirect_uri", s.config.ShopifyRedirectURI)
	q.Set("state", state)

	authURL := fmt.Sprintf("https://%s/admin/oauth/authorize?%s", shop, q.Encode())
	return authURL, state, nil
}

// ValidateCallback checks the redirect's signature, shop and state and
// returns the owner that started the install. A state can be used once.
func (s *OAuthService) ValidateCallback(query url.Values) (ownerID, shop string, err error) {
	if !VerifyQueryHMAC(query, s.config.ShopifyClientSecret) {
		return "", "", ErrInvalidHMAC
	}
	shop = NormalizeShopDomain(query.Get("shop"))
	if !ValidShopDomain(shop) {
		return "", "", ErrInvalidShop
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.states[query.Get("state")]
	delete(s.states, query.Get("state"))
	if !ok || s.now().After(pending.expires) || pending.shop != shop {
		return "", "", ErrInvalidState
	}
	return pending.ownerID, shop, nil
}

// ExchangeCodeForToken exchanges the authorization code for an access token
func (s *OAuthService) ExchangeCodeForToken(ctx context.Context, shopDomain, code string) (*TokenResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     s.config.ShopifyClientID,
		"client_secret": s.config.ShopifyClientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL(NormalizeShopDomain(shopDomain)), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response had no access token")
	}
	return &tokenResp, nil
}

// ValidShopDomain accepts only *.myshopify.com hosts.
func ValidShopDomain(shop string) bool {
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return false
	}
	if strings.ContainsAny(shop, "/ ?#@") {
		return false
	}
	return len(shop) > len(".myshopify.com")
}

// generateState generates a cryptographically secure random state
func (s *OAuthService) generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *OAuthService) pruneLocked() {
	now := s.now()
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}
