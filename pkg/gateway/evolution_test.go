package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*gateway.EvolutionClient, *[]capturedRequest) {
	t.Helper()

	var requests []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		requests = append(requests, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			APIKey: r.Header.Get("apikey"),
			Body:   body,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	client := gateway.NewEvolutionClient(gateway.EvolutionConfig{
		BaseURL:  server.URL + "/",
		Instance: "clinic main",
		APIKey:   "secret",
		Timeout:  time.Second,
	}, slog.Default())

	return client, &requests
}

func TestEvolutionClient_Send(t *testing.T) {
	tests := []struct {
		name     string
		req      gateway.SendRequest
		response string
		wantPath string
		wantBody map[string]any
		wantID   string
	}{
		{
			name:     "text",
			req:      gateway.SendRequest{Phone: "5511999990000", Type: gateway.MessageText, Content: "hello"},
			response: `{"key":{"id":"wamid.text"}}`,
			wantPath: "/message/sendText/clinic main",
			wantBody: map[string]any{"number": "5511999990000", "delay": float64(1000), "text": "hello"},
			wantID:   "wamid.text",
		},
		{
			name:     "audio",
			req:      gateway.SendRequest{Phone: "5511", Type: gateway.MessageAudio, Content: "https://cdn/a.ogg"},
			response: `{"id":"plain-id"}`,
			wantPath: "/message/sendWhatsAppAudio/clinic main",
			wantBody: map[string]any{"number": "5511", "delay": float64(1000), "audio": "https://cdn/a.ogg", "encoding": true},
			wantID:   "plain-id",
		},
		{
			name:     "image",
			req:      gateway.SendRequest{Phone: "5511", Type: gateway.MessageImage, Content: "https://cdn/a.png", Caption: "menu"},
			response: `{}`,
			wantPath: "/message/sendMedia/clinic main",
			wantBody: map[string]any{"number": "5511", "delay": float64(1000), "media": "https://cdn/a.png", "mediatype": "image", "caption": "menu"},
			wantID:   "",
		},
		{
			name: "text quoting an earlier message",
			req: gateway.SendRequest{
				Phone: "5511", Type: gateway.MessageText, Content: "sim",
				Quoted: &gateway.Quoted{ID: "wamid.prev", Text: "Confirma?"},
			},
			response: `{"key":{"id":"wamid.reply"}}`,
			wantPath: "/message/sendText/clinic main",
			wantBody: map[string]any{
				"number": "5511", "delay": float64(1000), "text": "sim",
				"quoted": map[string]any{
					"key":     map[string]any{"id": "wamid.prev", "fromMe": false},
					"message": map[string]any{"conversation": "Confirma?"},
				},
			},
			wantID: "wamid.reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, requests := newServer(t, http.StatusCreated, tt.response)

			result, err := client.Send(context.Background(), tt.req)
			require.NoError(t, err)
			assert.True(t, result.OK)
			assert.Equal(t, http.StatusCreated, result.Status)
			assert.Equal(t, tt.wantID, result.ExternalMessageID)

			require.Len(t, *requests, 1)
			got := (*requests)[0]
			assert.Equal(t, http.MethodPost, got.Method)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, "secret", got.APIKey)
			assert.Equal(t, tt.wantBody, got.Body)
		})
	}
}

func TestEvolutionClient_SendRejected(t *testing.T) {
	client, _ := newServer(t, http.StatusServiceUnavailable, `{"error":"busy"}`)

	result, err := client.Send(context.Background(), gateway.SendRequest{Phone: "5511", Type: gateway.MessageText, Content: "x"})
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, http.StatusServiceUnavailable, result.Status)
	assert.Empty(t, result.ExternalMessageID)
}

func TestEvolutionClient_SendUnsupportedType(t *testing.T) {
	client, requests := newServer(t, http.StatusOK, `{}`)

	_, err := client.Send(context.Background(), gateway.SendRequest{Phone: "5511", Type: "sticker"})
	require.Error(t, err)
	assert.Empty(t, *requests)
}

func TestEvolutionClient_SetPresence(t *testing.T) {
	client, requests := newServer(t, http.StatusOK, `{}`)

	err := client.SetPresence(context.Background(), "5511", gateway.PresenceRecording, 3*time.Second)
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Equal(t, "/chat/sendPresence/clinic main", (*requests)[0].Path)
	assert.Equal(t, map[string]any{"number": "5511", "presence": "recording", "delay": float64(3000)}, (*requests)[0].Body)
}

func TestEvolutionClient_Retract(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, requests := newServer(t, http.StatusOK, `{}`)

		require.NoError(t, client.Retract(context.Background(), "wamid.1"))
		require.Len(t, *requests, 1)
		assert.Equal(t, http.MethodDelete, (*requests)[0].Method)
		assert.Equal(t, "/message/deleteMessageForEveryone/clinic main", (*requests)[0].Path)
		assert.Equal(t, map[string]any{"messageId": "wamid.1"}, (*requests)[0].Body)
	})

	t.Run("gateway error", func(t *testing.T) {
		client, _ := newServer(t, http.StatusBadRequest, `{"error":"not found"}`)

		err := client.Retract(context.Background(), "wamid.1")

		var statusErr *gateway.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	})

	t.Run("blank id", func(t *testing.T) {
		client, requests := newServer(t, http.StatusOK, `{}`)

		assert.Error(t, client.Retract(context.Background(), "  "))
		assert.Empty(t, *requests)
	})
}

func TestTransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: 0, want: true},
		{status: 400, want: false},
		{status: 404, want: false},
		{status: 429, want: true},
		{status: 500, want: true},
		{status: 503, want: true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gateway.Transient(tt.status), "status %d", tt.status)
	}

	assert.Equal(t, "evolution_send_failed_503", gateway.FailureCode(503))
}
