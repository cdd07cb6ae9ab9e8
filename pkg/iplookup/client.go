// Package iplookup 封装了外部公网 IP 查询服务的客户端。
package iplookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// Client 通过 HTTP 查询客户端的公网 IP，带有限次数的重试。
// 查询失败由调用方降级处理（生成伪 IP），这里只负责"尽力而为"。
type Client struct {
	url         string
	maxAttempts int
	httpClient  *http.Client
}

// NewClient 创建一个 IP 查询客户端。
func NewClient(cfg config.IPLookupConfig) *Client {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:         cfg.URL,
		maxAttempts: attempts,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type lookupResponse struct {
	IP string `json:"ip"`
}

// Lookup 查询公网 IP，最多重试 maxAttempts 次，每次失败后固定延迟。
func (c *Client) Lookup(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ip, err := c.lookupOnce(ctx)
		if err == nil {
			return ip, nil
		}
		lastErr = err
		log.Warnf("[IPLookup] 第 %d/%d 次查询失败: %v", attempt, c.maxAttempts, err)

		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return "", fmt.Errorf("IP 查询在 %d 次尝试后仍然失败: %w", c.maxAttempts, lastErr)
}

func (c *Client) lookupOnce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.IP == "" {
		return "", fmt.Errorf("empty ip in response")
	}
	return body.IP, nil
}
