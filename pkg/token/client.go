// Package token fetches short-lived room access credentials from the token
// service. The service is an opaque HTTP collaborator; this client only
// knows its endpoint contract and the shape of the JWT it issues.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sicoc404/translated/pkg/core"
)

// Credential is the issued room credential plus the server to connect to.
type Credential struct {
	Token     string
	Room      string
	Identity  string
	ServerURL string
}

// Client talks to the token service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a token-service client for the given base URL
// (for example "http://localhost:8000").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	return c
}

// newDefaultHTTPClient configures transport-level timeouts while leaving
// overall request lifetime to context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	Room       string `json:"room"`
	Identity   string `json:"identity"`
	LiveKitURL string `json:"livekit_url"`
	Error      string `json:"error"`
}

// DefaultIdentity generates a participant identity in the same form the
// token service would assign one ("user-" plus 8 hex characters).
func DefaultIdentity() string {
	return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Fetch obtains a credential for the room. An empty identity is replaced by
// a generated one. Fetch never retries: credential failures are surfaced to
// the caller, who decides whether to try again.
func (c *Client) Fetch(ctx context.Context, room, identity string) (*Credential, error) {
	if c == nil {
		return nil, core.NewCredentialError("token client is not initialized")
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, core.NewCredentialError("room must not be empty")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = DefaultIdentity()
	}

	endpoint := c.baseURL + "/api/token"
	body, err := json.Marshal(tokenRequest{Room: room, Identity: identity})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &core.TransportError{Op: "POST", URL: endpoint, Err: err}
	}

	var decoded tokenResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, core.NewCredentialError(fmt.Sprintf("token service returned status %d", resp.StatusCode))
		}
		return nil, core.NewCredentialError("token service returned an unreadable response")
	}
	if decoded.Error != "" {
		return nil, core.NewCredentialError(decoded.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewCredentialError(fmt.Sprintf("token service returned status %d", resp.StatusCode))
	}
	if strings.TrimSpace(decoded.Token) == "" || strings.TrimSpace(decoded.LiveKitURL) == "" {
		return nil, core.NewCredentialError("token service response missing token or server address")
	}

	cred := &Credential{
		Token:     decoded.Token,
		Room:      decoded.Room,
		Identity:  decoded.Identity,
		ServerURL: decoded.LiveKitURL,
	}
	if cred.Room == "" {
		cred.Room = room
	}
	if cred.Identity == "" {
		cred.Identity = identity
	}

	// The issuer signs a room grant into the token; a mismatch means the
	// credential cannot open the room we asked for.
	if grants, err := ParseGrants(cred.Token); err != nil {
		c.logger.Debug("token grants not inspectable", "error", err)
	} else if grants.Room != "" && grants.Room != room {
		return nil, core.NewCredentialError(fmt.Sprintf("token grants room %q, requested %q", grants.Room, room))
	}

	return cred, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health checks the token service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return core.NewAPIError("token client is not initialized")
	}
	endpoint := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.TransportError{Op: "GET", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.NewAPIError(fmt.Sprintf("token service health returned status %d", resp.StatusCode))
	}
	var decoded healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return core.NewAPIError("token service health response unreadable")
	}
	if decoded.Status != "ok" {
		return core.NewAPIError(fmt.Sprintf("token service unhealthy: %q", decoded.Status))
	}
	return nil
}
