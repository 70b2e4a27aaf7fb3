package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/models"
)

// Client submits messages to a relay the way a producer would.
type Client struct {
	cfg        *Config
	key        []byte
	httpClient *http.Client
}

// NewClient validates cfg. A pre-shared key is required unless cfg.Open is set.
func NewClient(cfg *Config) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	if !cfg.Open {
		key, err := crypto.ParseKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("pre-shared key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

// Send posts one JSON message. In encrypted mode the payload is sealed
// with the pre-shared key and the IV and tag travel as headers.
func (c *Client) Send(ctx context.Context, payload []byte, topic string) error {
	msg, err := crypto.ParseMessage(payload)
	if err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}

	var body string
	headers := http.Header{}
	if c.cfg.Open {
		body = string(msg)
		headers.Set("Content-Type", "application/json")
	} else {
		env, err := crypto.Encrypt(msg, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		var iv, tag string
		body, iv, tag = env.Encode()
		headers.Set("Content-Type", "text/plain")
		headers.Set("Encryption-IV", iv)
		headers.Set("Encryption-Auth-Tag", tag)
	}
	if topic != "" {
		headers.Set("X-Topic", topic)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	if !c.cfg.Open {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// RequestToken asks the relay for a subscriber token.
func (c *Client) RequestToken(ctx context.Context, subscriber string) (models.TokenResponse, error) {
	b, err := json.Marshal(models.TokenRequest{Subscriber: subscriber})
	if err != nil {
		return models.TokenResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/tokens", bytes.NewReader(b))
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return models.TokenResponse{}, statusError(resp)
	}

	var tr models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return models.TokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return tr, nil
}

func statusError(resp *http.Response) error {
	var e models.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Errorf("relay answered %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("relay answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
