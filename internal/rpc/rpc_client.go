package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"deploy-keeper/internal/logger"
)

// httpClient HTTP客户端实现
type httpClient struct {
	config    *HTTPConfig
	client    *http.Client
	transport *http.Transport
	mu        sync.Mutex
}

/**
 * Create new HTTP client for the deploy-keeper server
 * @param {HTTPConfig} config - HTTP client configuration, nil builds one from config.Get()
 * @returns {HTTPClient} HTTP client interface
 * @description
 * - Dials the unix socket or TCP address named by config, whatever URL host is requested
 * - Timeout 0 leaves requests unbounded, forwarded deployments can run for many minutes
 * @example
 * client := NewHTTPClient(ConfigFromServer(config.Get().Server))
 * defer client.Close()
 * resp, err := client.Get("/healthz", nil)
 */
func NewHTTPClient(config *HTTPConfig) HTTPClient {
	if config == nil {
		config = defaultConfig()
	}

	c := &httpClient{config: config}
	dialer := &net.Dialer{}
	c.transport = &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, config.Network, config.Address)
		},
	}
	c.client = &http.Client{
		Transport: c.transport,
		Timeout:   config.Timeout,
	}
	return c
}

// do 发送请求并解析响应
func (c *httpClient) do(method, path string, params map[string]interface{}, data interface{}) (*HTTPResponse, error) {
	url, err := buildURL(c.config.BaseURL, path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	var body io.Reader
	if data != nil {
		if body, err = serializeData(data); err != nil {
			return nil, err
		}
	}

	logger.Debugf("Sending %s request to %s via %s:%s", method, url, c.config.Network, c.config.Address)

	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	httpResp, err := deserializeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return httpResp, nil
}

// Get 发送GET请求
func (c *httpClient) Get(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do(http.MethodGet, path, params, nil)
}

// Post 发送POST请求
func (c *httpClient) Post(path string, data interface{}) (*HTTPResponse, error) {
	return c.do(http.MethodPost, path, nil, data)
}

// Delete 发送DELETE请求
func (c *httpClient) Delete(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do(http.MethodDelete, path, params, nil)
}

// Close 关闭客户端连接
func (c *httpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	logger.Debugf("HTTP client connection closed")
	return nil
}
