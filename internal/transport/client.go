// Package transport talks to the WhatsApp bridge process. The bridge
// exposes one HTTP endpoint per method; everything here is a thin JSON
// wrapper over those calls.
package transport

import (
	"context"
	"fmt"
)

// Client is the outbound WhatsApp surface the rest of the bot uses.
type Client interface {
	// SendText delivers a text message to a chat id.
	SendText(ctx context.Context, to, body string) error
	// SendFile delivers a base64-encoded file with a filename and caption.
	SendFile(ctx context.Context, to, dataURL, filename, caption string) error
	// MarkSeen marks the chat as read.
	MarkSeen(ctx context.Context, chatID string) error
	// SetTyping turns the typing indicator on or off for a chat.
	SetTyping(ctx context.Context, chatID string, on bool) error
	// Contact resolves a chat id to its profile.
	Contact(ctx context.Context, chatID string) (*Contact, error)
}

// Contact is a WhatsApp profile as the bridge reports it.
type Contact struct {
	ID         string `json:"id"`
	Pushname   string `json:"pushname"`
	Name       string `json:"name"`
	ShortName  string `json:"shortName"`
	IsBusiness bool   `json:"isBusiness"`
}

// DisplayName picks the best human-readable name for the contact.
func (c *Contact) DisplayName() string {
	switch {
	case c == nil:
		return ""
	case c.Name != "":
		return c.Name
	case c.Pushname != "":
		return c.Pushname
	default:
		return c.ShortName
	}
}

// InboundMessage is one message event pushed by the bridge webhook.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`    // chat id, e.g. "628111@c.us" or "...@lid"
	Sender    string `json:"sender"`  // sender id inside group chats
	Body      string `json:"body"`
	Type      string `json:"type"`    // "chat" for plain text
	IsGroup   bool   `json:"isGroupMsg"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"t"` // unix seconds
	Pushname  string `json:"notifyName"`
}

// DeliveryError is returned when the bridge accepted the call but WhatsApp
// rejected the delivery, typically because the chat id form is wrong for
// this account. Callers retry these on the fallback id.
type DeliveryError struct {
	Method string
	To     string
	Reason string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transport: %s to %s failed: %s", e.Method, e.To, e.Reason)
}
