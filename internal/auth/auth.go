// Package auth fronts the hosted auth provider. The service never manages
// credentials itself; it verifies bearer tokens and rejects unauthenticated
// writes before any store call is made.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Dengwilliam/cashiq/internal/errors"
)

// Identity is the resolved caller.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	Admin       bool
}

// Provider resolves a bearer token into an identity.
type Provider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// HTTPProvider verifies tokens against the hosted provider's verify
// endpoint.
type HTTPProvider struct {
	base   string
	key    string
	client *http.Client
}

func NewHTTPProvider(c Config) *HTTPProvider {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPProvider{
		base:   strings.TrimRight(c.BaseURL, "/"),
		key:    c.APIKey,
		client: hc,
	}
}

type verifyResult struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Admin       bool   `json:"admin"`
}

func (p *HTTPProvider) Verify(ctx context.Context, token string) (Identity, error) {
	body, _ := json.Marshal(map[string]string{"token": token})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return Identity{}, errors.Internal(fmt.Errorf("auth: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("auth provider unavailable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Identity{}, errors.New(errors.CodeUnauthenticated)
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("auth provider failed: status=%d", resp.StatusCode))
	}

	var res verifyResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Identity{}, errors.Internal(fmt.Errorf("auth: decode response: %w", err))
	}
	if res.UserID == "" {
		return Identity{}, errors.New(errors.CodeUnauthenticated)
	}

	return Identity{
		UserID:      res.UserID,
		DisplayName: res.DisplayName,
		Email:       res.Email,
		Admin:       res.Admin,
	}, nil
}

const identityKey = "cashiq.identity"

// Middleware verifies the Authorization header and stores the identity on
// the request context. Requests without a valid token are rejected before
// any handler runs.
func Middleware(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			abort(c, errors.New(errors.CodeUnauthenticated))
			return
		}

		id, err := p.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin gates administrator-only routes. It must run after
// Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok || !id.Admin {
			abort(c, errors.New(errors.CodePermissionDenied))
			return
		}
		c.Next()
	}
}

// FromContext returns the identity stored by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
