package tidal

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Config holds client configuration.
type Config struct {
	ClientID     string       // Required: Tidal application client id
	ClientSecret string       // Required: Tidal application client secret
	HTTPClient   *http.Client // Optional: HTTP client (defaults to http.DefaultClient)
	BaseURL      string       // Optional: API base URL (defaults to the Tidal API, used for testing)
	AuthURL      string       // Optional: OAuth token endpoint (used for testing)
	Logger       Logger       // Optional: Logger interface for debug logging
}

// Logger is an optional interface for logging.
type Logger interface {
	// Debugf logs a debug message with format and arguments.
	Debugf(format string, args ...interface{})
}

// Client is the main entry point for Tidal API operations.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	baseURL      string
	authURL      string
	logger       Logger
	breaker      *gobreaker.CircuitBreaker[[]byte]

	catalog *CatalogService
	search  *SearchService
	users   *UsersService
	auth    *AuthService
}

const (
	// DefaultBaseURL is the default Tidal API endpoint.
	DefaultBaseURL = "https://openapi.tidal.com/v2"

	// DefaultAuthURL is the default Tidal OAuth token endpoint.
	DefaultAuthURL = "https://auth.tidal.com/v1/oauth2/token"
)

// NewClient creates a new Tidal API client.
//
// Returns an error if required configuration (ClientID, ClientSecret) is
// missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("tidal: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tidal: ClientSecret is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		baseURL:      baseURL,
		authURL:      authURL,
		logger:       cfg.Logger,
		breaker:      newBreaker(),
	}

	c.catalog = &CatalogService{client: c}
	c.search = &SearchService{client: c}
	c.users = &UsersService{client: c}
	c.auth = &AuthService{client: c}

	return c, nil
}

// newBreaker builds the circuit breaker guarding the HTTP round-trip. Five
// consecutive failures open the circuit for thirty seconds.
func newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "tidal-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 or 400 means the service answered; only transport failures
		// and temporary statuses count against the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *Error
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return false
		},
	})
}

// Catalog returns the catalogue lookup service.
func (c *Client) Catalog() *CatalogService {
	return c.catalog
}

// Search returns the search service.
func (c *Client) Search() *SearchService {
	return c.search
}

// Users returns the user history service.
func (c *Client) Users() *UsersService {
	return c.users
}

// Auth returns the authentication service.
func (c *Client) Auth() *AuthService {
	return c.auth
}

// logDebugf logs a debug message if a logger is configured.
func (c *Client) logDebugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}
