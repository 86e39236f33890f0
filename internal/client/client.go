// Package client is a Go client for the consulta gateway HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/iago/consulta-async/internal/domain"
)

const (
	DefaultBaseURL      = "http://localhost:8000"
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 1500 * time.Millisecond
)

type Options struct {
	BaseURL string
	Timeout time.Duration
}

type SubmitResponse struct {
	ID      int64           `json:"consulta_id"`
	Status  domain.JobState `json:"status"`
	Message string          `json:"message"`
}

type StatusResponse struct {
	ID          int64            `json:"consulta_id"`
	Kind        domain.QueryKind `json:"tipo_consulta"`
	SearchKey   *string          `json:"codigo_buscado"`
	Status      domain.JobState  `json:"status"`
	Result      *domain.Result   `json:"resultado"`
	CreatedAt   string           `json:"created_at"`
	ProcessedAt *string          `json:"processed_at"`
}

type HealthResponse struct {
	API           string `json:"api"`
	Database      string `json:"database"`
	MessageBroker string `json:"message_broker"`
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	timeout time.Duration
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
	}, nil
}

func (c *Client) Submit(ctx context.Context, kind domain.QueryKind, code string) (*SubmitResponse, error) {
	body := map[string]any{"tipo_consulta": kind, "codigo": nil}
	if code != "" {
		body["codigo"] = code
	}
	var response SubmitResponse
	if err := c.execute(ctx, http.MethodPost, "/consultar", body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) Status(ctx context.Context, id int64) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.execute(ctx, http.MethodGet, "/consultar/"+strconv.FormatInt(id, 10), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	if err := c.execute(ctx, http.MethodGet, "/health", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Wait polls Status every interval until the job leaves pending or ctx ends.
func (c *Client) Wait(ctx context.Context, id int64, interval time.Duration) (*StatusResponse, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *StatusResponse
	for {
		status, err := c.Status(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && last != nil {
				return last, fmt.Errorf("consulta %d still %s: %w", id, last.Status, ctxErr)
			}
			return nil, err
		}
		if status.Status.Terminal() {
			return status, nil
		}
		last = status

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("consulta %d still %s: %w", id, status.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) execute(ctx context.Context, method, endpoint string, body, response any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	statusCode, payload, errs := agent.Bytes()
	if len(errs) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("error sending request: %w", ctxErr)
		}
		return fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode < 200 || statusCode >= 300 {
		return decodeAPIError(statusCode, payload)
	}
	if response != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, response); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) createAgent(ctx context.Context, method, endpoint string, body any) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Accept", "application/json")
	if body != nil {
		agent.JSON(body)
	}
	return agent, nil
}

func decodeAPIError(statusCode int, payload []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(payload))}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.RequestID
	}
	return apiErr
}
