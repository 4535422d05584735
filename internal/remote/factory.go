package remote

import (
	"fmt"
	"net/url"

	"histsync/internal/config"
)

// NewRemoteFromConfig creates a Client from the remote config block.
func NewRemoteFromConfig(cfg config.RemoteConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url required for remote")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base_url scheme: %q", u.Scheme)
	}
	return New(cfg.BaseURL, cfg.APIKey, cfg.Timeout.Duration), nil
}
