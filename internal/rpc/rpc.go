package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
)

// HTTPClient 定义HTTP客户端接口
type HTTPClient interface {
	Get(path string, params map[string]interface{}) (*HTTPResponse, error)
	Post(path string, data interface{}) (*HTTPResponse, error)
	Delete(path string, params map[string]interface{}) (*HTTPResponse, error)
	Close() error
}

// HTTPConfig 定义HTTP客户端配置
type HTTPConfig struct {
	Address string        // deploy-keeper服务侦听地址
	Network string        // unix,tcp
	Timeout time.Duration // 请求超时，0表示不限制(部署可能持续很久)
	BaseURL string        // 基础URL
}

/**
 * Build client configuration from the server section of the keeper configuration
 * @param {config.ServerConfig} cfg - Server section
 * @returns {*HTTPConfig} Unix socket when the socket file exists, TCP address otherwise
 */
func ConfigFromServer(cfg config.ServerConfig) *HTTPConfig {
	c := &HTTPConfig{
		Address: cfg.Socket,
		Network: "unix",
		Timeout: 0,
		BaseURL: "http://localhost",
	}
	// 检查socket文件是否存在
	if _, err := os.Stat(c.Address); c.Address == "" || os.IsNotExist(err) {
		c.Address = cfg.Address
		c.Network = "tcp"
	}
	if c.Address == "" {
		c.Address = "127.0.0.1:8620"
		c.Network = "tcp"
	}
	return c
}

func defaultConfig() *HTTPConfig {
	return ConfigFromServer(config.Get().Server)
}

// HTTPResponse 定义HTTP响应结构
type HTTPResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Error      string              `json:"error"`
	Code       string              `json:"code"`
}

// OK 状态码为2xx
func (r *HTTPResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode 把响应体解析到v
func (r *HTTPResponse) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// buildURL 拼接baseURL和path，params按fmt默认格式编码为查询参数
func buildURL(baseURL, path string, params map[string]interface{}) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	if len(params) > 0 {
		q := u.Query()
		for key, value := range params {
			q.Set(key, fmt.Sprint(value))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func serializeData(data interface{}) (io.Reader, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}
	return bytes.NewReader(jsonData), nil
}

// deserializeResponse 反序列化响应数据
func deserializeResponse(resp *http.Response) (*HTTPResponse, error) {
	httpResp := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	defer resp.Body.Close()
	httpResp.Body = body
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return httpResp, nil
	}
	// 服务器的错误响应是ErrorResponse，其他来源(如gin的404)可能是纯文本
	var errBody models.ErrorResponse
	if len(body) > 0 && json.Unmarshal(body, &errBody) == nil {
		httpResp.Error = errBody.Error
		httpResp.Code = errBody.Code
	} else if len(body) > 0 {
		httpResp.Error = strings.TrimSpace(string(body))
	}
	if httpResp.Error == "" {
		httpResp.Error = resp.Status
	}
	return httpResp, nil
}
