// Package backend talks to the fleet-telematics chat service: it resolves
// the bot's agent id, fetches conversational replies and report files, and
// fans a question out over every account token matched to the sender.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const fetchTimeout = 300 * time.Second

// ChatMessage is one turn of conversation context sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Client calls the chat service.
type Client struct {
	endpoint string
	botPhone string
	client   *http.Client
}

// Opts holds parameters for creating a Client.
type Opts struct {
	Endpoint string // chat service base URL
	BotPhone string // the bot's own number, used to pick its agent id
}

// NewClient creates a Client.
func NewClient(opts Opts) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("backend: endpoint is required")
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		botPhone: opts.BotPhone,
		client:   &http.Client{Timeout: fetchTimeout},
	}, nil
}

// AgentID looks up the chat agent registered for the bot's number.
func (c *Client) AgentID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/whatsapp/number", nil)
	if err != nil {
		return "", fmt.Errorf("backend: build agent id request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: agent id: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend: agent id returned %d", resp.StatusCode)
	}

	var numbers []struct {
		PhoneNumber string `json:"phone_number"`
		AgentID     string `json:"agent_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&numbers); err != nil {
		return "", fmt.Errorf("backend: decode agent id response: %w", err)
	}
	for _, n := range numbers {
		if n.PhoneNumber == c.botPhone {
			log.Printf("backend: using agent id %s", n.AgentID)
			return n.AgentID, nil
		}
	}
	return "", fmt.Errorf("backend: no agent registered for %s", c.botPhone)
}

// post sends an authorized JSON request and decodes the body into out.
func (c *Client) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend: %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	return nil
}

// FetchReply asks the chat agent for a conversational answer under one
// account token. An empty reply means the backend had nothing to say.
func (c *Client) FetchReply(ctx context.Context, token string, msgs []ChatMessage, agentID string) (string, error) {
	var result struct {
		Data struct {
			Success  bool   `json:"success"`
			Response string `json:"response"`
		} `json:"data"`
	}
	err := c.post(ctx, "/chat_api", token, map[string]interface{}{
		"messages":                    msgs,
		"agent_id":                    agentID,
		"include_suggested_questions": false,
	}, &result)
	if err != nil {
		return "", err
	}
	if !result.Data.Success {
		return "", nil
	}
	return result.Data.Response, nil
}

// FetchReport asks the report agent for an export. The returned string is
// a base64 data url of an xlsx file, or empty when no report was produced.
func (c *Client) FetchReport(ctx context.Context, token string, msgs []ChatMessage) (string, error) {
	var result struct {
		Data string `json:"data"`
	}
	err := c.post(ctx, "/report_agent", token, map[string]interface{}{
		"messages": msgs,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Data, nil
}

// AccountStatus fetches the account status summary for one token.
func (c *Client) AccountStatus(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/user/account_status", nil)
	if err != nil {
		return "", fmt.Errorf("backend: build account status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: account status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend: account status returned %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("backend: decode account status: %w", err)
	}
	return string(raw), nil
}

// FetchOpts controls a FetchAll fan-out.
type FetchOpts struct {
	Tokens       []string
	Messages     []ChatMessage
	AgentID      string
	WantReport   bool // the filter flagged a report request
	SingleOutput bool // produce a report or a reply per token, never both
}

// FetchAll fans the question out over every token. In single-output mode a
// report request skips the conversational reply and vice versa; otherwise
// both run concurrently per token. Per-token failures are logged and the
// token's results dropped.
func (c *Client) FetchAll(ctx context.Context, opts FetchOpts) (replies, reports []string) {
	type result struct {
		reply  string
		report string
	}
	results := make([]result, len(opts.Tokens))

	var wg sync.WaitGroup
	for i, token := range opts.Tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			if opts.SingleOutput {
				if opts.WantReport {
					report, err := c.FetchReport(ctx, token, opts.Messages)
					if err != nil {
						log.Printf("backend: report fetch: %v", err)
						return
					}
					results[i].report = report
					return
				}
				reply, err := c.FetchReply(ctx, token, opts.Messages, opts.AgentID)
				if err != nil {
					log.Printf("backend: reply fetch: %v", err)
					return
				}
				results[i].reply = reply
				return
			}

			var inner sync.WaitGroup
			inner.Add(1)
			go func() {
				defer inner.Done()
				reply, err := c.FetchReply(ctx, token, opts.Messages, opts.AgentID)
				if err != nil {
					log.Printf("backend: reply fetch: %v", err)
					return
				}
				results[i].reply = reply
			}()
			if opts.WantReport {
				report, err := c.FetchReport(ctx, token, opts.Messages)
				if err != nil {
					log.Printf("backend: report fetch: %v", err)
				} else {
					results[i].report = report
				}
			}
			inner.Wait()
		}(i, token)
	}
	wg.Wait()

	for _, r := range results {
		if r.reply != "" {
			replies = append(replies, r.reply)
		}
		if r.report != "" {
			reports = append(reports, r.report)
		}
	}
	return replies, reports
}
