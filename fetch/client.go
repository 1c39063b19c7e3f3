package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
	"github.com/chenyanchen/lazypkg/jsmod"
)

type clientConfig struct {
	httpClient *http.Client
	logger     *log.Logger
	cache      jsmod.ProgramCache
	ctx        context.Context
}

// Option configures a Client.
type Option func(*clientConfig)

// WithHTTPClient sets the client used for package requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithProgramCache shares compiled module programs between fetches.
func WithProgramCache(cache jsmod.ProgramCache) Option {
	return func(cfg *clientConfig) {
		cfg.cache = cache
	}
}

// WithContext bounds every request issued by the client.
func WithContext(ctx context.Context) Option {
	return func(cfg *clientConfig) {
		cfg.ctx = ctx
	}
}

// Client fetches package payloads from a package server.
type Client struct {
	base   string
	cfg    clientConfig
	logger *log.Logger
	sf     singleflight.Group
}

// New returns a client for the server rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("new fetch client: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("new fetch client: unsupported scheme %q", u.Scheme)
	}

	cfg := clientConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}
	if cfg.logger == nil {
		cfg.logger = log.New(io.Discard)
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	return &Client{
		base:   strings.TrimSuffix(u.String(), "/"),
		cfg:    cfg,
		logger: cfg.logger,
	}, nil
}

// URL returns the request URL for a batch.
func (c *Client) URL(names []string, stamp int64) string {
	return c.base + "/packages/" + bundle.Key(names, stamp)
}

// Get downloads the payload at u. Concurrent calls for the same URL share one
// request.
func (c *Client) Get(u string) (bundle.Payload, error) {
	v, err, shared := c.sf.Do(u, func() (any, error) {
		return c.download(u)
	})
	if err != nil {
		return bundle.Payload{}, err
	}
	if shared {
		c.logger.Debug("shared in-flight package request", "url", u)
	}
	return v.(bundle.Payload), nil
}

func (c *Client) download(u string) (bundle.Payload, error) {
	req, err := http.NewRequestWithContext(c.cfg.ctx, http.MethodGet, u, nil)
	if err != nil {
		return bundle.Payload{}, fmt.Errorf("fetch %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return bundle.Payload{}, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bundle.Payload{}, fmt.Errorf("fetch %s: status %d: %s", u, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload bundle.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return bundle.Payload{}, fmt.Errorf("decode payload from %s: %w", u, err)
	}
	return payload, nil
}

// Resources compiles a bundle into runtime resources.
func (c *Client) Resources(b bundle.Bundle) (*lazypkg.Resources, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	res := &lazypkg.Resources{
		Stylesheets: append([]lazypkg.Stylesheet(nil), b.Stylesheets...),
	}
	if len(b.Modules) > 0 {
		res.Modules = make(map[string]lazypkg.Factory, len(b.Modules))
	}
	for _, id := range b.ModuleIDs() {
		factory, err := jsmod.Compile(b.Name+"/"+id, b.Modules[id], jsmod.WithProgramCache(c.cfg.cache), jsmod.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		res.Modules[id] = factory
	}
	return res, nil
}

// Backend returns a loader backend sharing this client. Bind it to its runtime
// before the first flush.
func (c *Client) Backend() *Backend {
	return &Backend{
		client: c,
		doc:    &Document{},
	}
}
