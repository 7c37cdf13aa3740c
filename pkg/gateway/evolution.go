package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const sendDelayMillis = 1000

// EvolutionConfig locates one Evolution API instance.
type EvolutionConfig struct {
	BaseURL  string        `validate:"required,url"`
	Instance string        `validate:"required"`
	APIKey   string        `validate:"required"`
	Timeout  time.Duration `validate:"gte=0"`
}

// EvolutionClient implements Gateway over the Evolution HTTP API.
type EvolutionClient struct {
	config EvolutionConfig
	client *http.Client
	logger *slog.Logger
}

func NewEvolutionClient(config EvolutionConfig, logger *slog.Logger) *EvolutionClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &EvolutionClient{
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "evolution_gateway", "instance", config.Instance),
	}
}

func (c *EvolutionClient) endpoint(path string) string {
	return c.config.BaseURL + strings.Replace(path, "{instance}", url.PathEscape(c.config.Instance), 1)
}

func (c *EvolutionClient) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	body := map[string]any{"number": req.Phone, "delay": sendDelayMillis}
	path := "/message/sendText/{instance}"

	switch req.Type {
	case MessageText, "":
		body["text"] = req.Content
	case MessageAudio:
		path = "/message/sendWhatsAppAudio/{instance}"
		body["audio"] = req.Content
		body["encoding"] = true
	case MessageImage, MessageVideo, MessageDocument:
		path = "/message/sendMedia/{instance}"
		body["media"] = req.Content
		body["mediatype"] = string(req.Type)
		body["caption"] = req.Caption
	default:
		return SendResult{}, fmt.Errorf("unsupported message type %q", req.Type)
	}

	if req.Quoted != nil {
		body["quoted"] = map[string]any{
			"key":     map[string]any{"id": req.Quoted.ID, "fromMe": req.Quoted.FromMe},
			"message": map[string]any{"conversation": req.Quoted.Text},
		}
	}

	status, data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return SendResult{Status: status}, err
	}

	result := SendResult{
		OK:      status >= 200 && status < 300,
		Status:  status,
		Details: data,
	}

	if result.OK {
		result.ExternalMessageID = externalID(data)
	} else {
		c.logger.WarnContext(ctx, "Send rejected by gateway", "status", status, "type", req.Type)
	}

	return result, nil
}

// externalID reads key.id, falling back to id.
func externalID(data json.RawMessage) string {
	var response struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		ID string `json:"id"`
	}

	if json.Unmarshal(data, &response) != nil {
		return ""
	}

	if response.Key.ID != "" {
		return response.Key.ID
	}

	return response.ID
}

func (c *EvolutionClient) SetPresence(ctx context.Context, phone string, presence Presence, duration time.Duration) error {
	body := map[string]any{
		"number":   phone,
		"presence": string(presence),
		"delay":    duration.Milliseconds(),
	}

	status, data, err := c.do(ctx, http.MethodPost, "/chat/sendPresence/{instance}", body)
	if err != nil {
		return err
	}

	if status >= 300 {
		return &StatusError{Op: "sendPresence", Status: status, Body: string(data)}
	}

	return nil
}

func (c *EvolutionClient) Retract(ctx context.Context, externalMessageID string) error {
	if strings.TrimSpace(externalMessageID) == "" {
		return errors.New("external message id is required")
	}

	status, data, err := c.do(ctx, http.MethodDelete, "/message/deleteMessageForEveryone/{instance}",
		map[string]any{"messageId": externalMessageID})
	if err != nil {
		return err
	}

	if status >= 300 {
		return &StatusError{Op: "deleteMessageForEveryone", Status: status, Body: string(data)}
	}

	return nil
}

func (c *EvolutionClient) do(ctx context.Context, method, path string, body any) (int, json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !json.Valid(respBody) {
		respBody, _ = json.Marshal(string(respBody))
	}

	return resp.StatusCode, respBody, nil
}
