package factory

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/config"
	"piesta-gateway/internal/provider"
	"piesta-gateway/internal/provider/fal"
	"piesta-gateway/internal/provider/huggingface"
	"piesta-gateway/internal/provider/openrouter"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewRegistry constructs one adapter per provider family from configuration.
func NewRegistry(cfg config.ProvidersConfig, cat *catalog.Catalog) (*provider.Registry, error) {
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	chatProvider, err := openrouter.New(openrouter.Config{
		BaseURL: cfg.Chat.BaseURL,
		Referer: cfg.Chat.Referer,
		Title:   cfg.Chat.Title,
	}, newHTTPClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("initialise openrouter provider: %w", err)
	}

	falProvider, err := fal.New(cfg.Fal.BaseURL, cat, newHTTPClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("initialise fal provider: %w", err)
	}

	hfProvider, err := huggingface.New(cfg.HuggingFace.BaseURL, cat, newHTTPClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("initialise huggingface provider: %w", err)
	}

	registry, err := provider.NewRegistry(chatProvider, falProvider, hfProvider)
	if err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	return registry, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
