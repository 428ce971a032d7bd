package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"spot-ladder-bot/config"
)

// ErrNotFound is returned when the secret does not exist or lacks a key
var ErrNotFound = errors.New("vault secret not found")

// Credentials are the exchange API keys stored in Vault
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("vault is disabled")
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// secretPath is the KV v2 data path of the exchange secret
func (c *Client) secretPath() string {
	mount := strings.Trim(c.config.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return fmt.Sprintf("%s/data/%s", mount, strings.Trim(c.config.Path, "/"))
}

// BinanceCredentials reads the exchange keys, caching them after the first read
func (c *Client) BinanceCredentials(ctx context.Context) (*Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		creds := *c.cached
		c.mu.RUnlock()
		return &creds, nil
	}
	c.mu.RUnlock()

	path := c.secretPath()
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("%w: api_key or secret_key missing at %s", ErrNotFound, path)
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()

	out := *creds
	return &out, nil
}

// StoreBinanceCredentials writes the exchange keys and refreshes the cache
func (c *Client) StoreBinanceCredentials(ctx context.Context, creds Credentials) error {
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
