package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Config struct {
	// APIEndpoint 为后端 API 网关地址，例如 https://xxx.execute-api.amazonaws.com/prod
	APIEndpoint string        `mapstructure:"api_endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:    15 * time.Second,
		RetryCount: 1,
	}
}

// 后端返回的固定文案，用于判断核验是否通过。
const (
	accountExistsMarker = "already exists"
	idVerifiedMarker    = "has been verified"
	faceVerifiedMarker  = "Face match verified"
)

// Client 通过 HTTP 调用开户后端。后端每个接口都返回 {statusCode, body} 信封，
// 外层 HTTP 状态与信封内 statusCode 任一非 200 都视为不可用。
type Client struct {
	client *resty.Client
}

var _ Backend = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIEndpoint == "" {
		return nil, errors.New("onboarding.api_endpoint is required")
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIEndpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &Client{client: c}, nil
}

type envelope struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func (c *Client) LookupAccount(ctx context.Context, email string) (AccountStatus, error) {
	body, err := c.call(c.client.R().
		SetContext(ctx).
		SetQueryParam("email", strings.ToLower(email)), http.MethodGet, "/account")
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		Exists: strings.Contains(body, accountExistsMarker),
		Status: body,
	}, nil
}

func (c *Client) VerifyID(ctx context.Context, fileName string, required map[string]string) (Verdict, error) {
	payload := map[string]any{
		"file_name":             fileName,
		"required_field_values": required,
	}
	body, err := c.call(c.client.R().SetContext(ctx).SetBody(payload), http.MethodPost, "/verifyId")
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Passed: strings.Contains(body, idVerifiedMarker), Detail: body}, nil
}

func (c *Client) VerifyFace(ctx context.Context, idFileName, selfieFileName string) (Verdict, error) {
	payload := map[string]string{
		"id_file_name":     idFileName,
		"selfie_file_name": selfieFileName,
	}
	body, err := c.call(c.client.R().SetContext(ctx).SetBody(payload), http.MethodPost, "/verifyFace")
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Passed: strings.Contains(body, faceVerifiedMarker), Detail: body}, nil
}

func (c *Client) CreateAccount(ctx context.Context, acct Account) (string, error) {
	return c.call(c.client.R().SetContext(ctx).SetBody(acct), http.MethodPost, "/account")
}

func (c *Client) call(req *resty.Request, method, path string) (string, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: %s %s: http %d", ErrUnavailable, method, path, resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", fmt.Errorf("%w: %s %s: decode response: %v", ErrUnavailable, method, path, err)
	}
	if env.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, env.StatusCode, env.Body)
	}
	return env.Body, nil
}
