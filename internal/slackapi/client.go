// Пакет slackapi — HTTP-клиент Slack Web API.
// Авторизация — bot token через oauth2.StaticTokenSource.
// Операции: files.list, files.info, скачивание файла, conversations.list/info,
// users.list/info.
package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL — базовый URL Slack Web API.
const DefaultBaseURL = "https://slack.com/api"

// maxErrorBody — сколько байт тела ответа попадает в текст ошибки.
const maxErrorBody = 512

// Config — параметры клиента.
type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	// Timeout — таймаут запросов к API (не скачивания файлов)
	Timeout time.Duration
}

// Client — клиент Slack Web API.
type Client struct {
	baseURL  string
	pageSize int
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

// New создаёт клиент. base — транспорт для запросов (nil — http.DefaultClient).
func New(cfg Config, base *http.Client, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))

	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		timeout:  timeout,
		http:     httpClient,
		logger:   logger.With(slog.String("component", "slack_client")),
	}
}

// BaseURL возвращает базовый URL API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope — общие поля ответа Web API.
type envelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// call выполняет GET-запрос к методу API и декодирует ответ в out.
// Возвращает курсор следующей страницы, если он есть.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/" + method
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("создание запроса %s: %w", method, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос %s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(method, resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("чтение ответа %s: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("декодирование ответа %s: %w", method, err)
	}
	if !env.OK {
		return "", &APIError{Method: method, Code: env.Error}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return "", fmt.Errorf("декодирование ответа %s: %w", method, err)
		}
	}
	return env.ResponseMetadata.NextCursor, nil
}

// checkStatus превращает HTTP-статус, отличный от 200, в ошибку.
func checkStatus(method string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &RateLimitError{Method: method, RetryAfter: retryAfter}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s вернул статус %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// APIError — ответ Web API с ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// RateLimitError — HTTP 429 от Web API.
type RateLimitError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("slack %s: превышен лимит запросов, повтор через %s", e.Method, e.RetryAfter)
}

// IsRetryable сообщает, имеет ли смысл повторить запрос позже.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
