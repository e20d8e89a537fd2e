package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Bridge is the HTTP client for the wa-automate bridge.
type Bridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// BridgeOpts holds parameters for creating a Bridge.
type BridgeOpts struct {
	URL     string
	APIKey  string
	Timeout time.Duration // defaults to 30s
}

// NewBridge creates a Bridge client.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("transport: bridge url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Bridge{
		baseURL: strings.TrimRight(opts.URL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// bridgeResponse is the envelope every bridge method returns.
type bridgeResponse struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response"`
	Error    struct {
		Message string `json:"message"`
	} `json:"error"`
}

// call POSTs args to /{method} and decodes the response payload into out.
// A response of literal false means WhatsApp rejected the delivery.
func (b *Bridge) call(ctx context.Context, method string, args map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"args": args})
	if err != nil {
		return fmt.Errorf("transport: marshal %s args: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("api_key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: %s: bridge returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope bridgeResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("transport: decode %s response: %w", method, err)
	}
	if !envelope.Success {
		reason := envelope.Error.Message
		if reason == "" {
			reason = "bridge reported failure"
		}
		return &DeliveryError{Method: method, To: fmt.Sprint(args["to"]), Reason: reason}
	}
	if string(envelope.Response) == "false" {
		return &DeliveryError{Method: method, To: fmt.Sprint(args["to"]), Reason: "delivery rejected"}
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("transport: decode %s payload: %w", method, err)
		}
	}
	return nil
}

// SendText delivers a text message.
func (b *Bridge) SendText(ctx context.Context, to, body string) error {
	return b.call(ctx, "sendText", map[string]interface{}{"to": to, "content": body}, nil)
}

// SendFile delivers a base64 data-url file.
func (b *Bridge) SendFile(ctx context.Context, to, dataURL, filename, caption string) error {
	return b.call(ctx, "sendFile", map[string]interface{}{
		"to":       to,
		"file":     dataURL,
		"filename": filename,
		"caption":  caption,
	}, nil)
}

// MarkSeen marks the chat as read.
func (b *Bridge) MarkSeen(ctx context.Context, chatID string) error {
	return b.call(ctx, "sendSeen", map[string]interface{}{"to": chatID}, nil)
}

// SetTyping toggles the typing indicator.
func (b *Bridge) SetTyping(ctx context.Context, chatID string, on bool) error {
	return b.call(ctx, "simulateTyping", map[string]interface{}{"to": chatID, "on": on}, nil)
}

// Contact resolves a chat id to its profile.
func (b *Bridge) Contact(ctx context.Context, chatID string) (*Contact, error) {
	var c Contact
	if err := b.call(ctx, "getContact", map[string]interface{}{"contactId": chatID}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ Client = (*Bridge)(nil)
