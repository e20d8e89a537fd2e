// Package delivery wraps the transport client with the retry and pacing
// behavior outbound messages need: a single fallback attempt when WhatsApp
// rejects the primary chat id, and a short random delay between
// consecutive sends so multi-part replies read naturally.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetyard/waybot/internal/transport"
)

const (
	paceMin = 1 * time.Second
	paceMax = 2 * time.Second
)

// Sender delivers outbound messages with fallback and pacing.
type Sender struct {
	client transport.Client
	sleep  func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	fallbacks map[string]string // chat id -> fallback id
}

// Opts holds parameters for creating a Sender.
type Opts struct {
	Client transport.Client
	// Overrides maps a chat id to the fallback id to retry on, for
	// accounts whose linked-device id is known up front.
	Overrides map[string]string
}

// New creates a Sender.
func New(opts Opts) (*Sender, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("delivery: client is required")
	}
	fallbacks := make(map[string]string, len(opts.Overrides))
	for k, v := range opts.Overrides {
		fallbacks[k] = v
	}
	return &Sender{
		client:    opts.Client,
		fallbacks: fallbacks,
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Register records the fallback id for a chat. Linked-device accounts
// carry a separate "@lid" identity on their inbound messages; a delivery
// rejected on the primary id often succeeds on it. An empty fallback, or
// one equal to the chat id, clears the mapping.
func (s *Sender) Register(chatID, fallbackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fallbackID == "" || fallbackID == chatID {
		delete(s.fallbacks, chatID)
		return
	}
	s.fallbacks[chatID] = fallbackID
}

// fallbackID returns the registered fallback for chatID, or "".
func (s *Sender) fallbackID(chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbacks[chatID]
}

// withFallback runs send on the primary id and retries the fallback id
// once if WhatsApp rejected the delivery.
func (s *Sender) withFallback(chatID string, send func(to string) error) error {
	err := send(chatID)
	var derr *transport.DeliveryError
	if !errors.As(err, &derr) {
		return err
	}
	alt := s.fallbackID(chatID)
	if alt == "" {
		return err
	}
	log.Printf("delivery: %s rejected for %s, retrying %s", derr.Method, chatID, alt)
	return send(alt)
}

// Text delivers a text message, retrying once on the fallback id.
func (s *Sender) Text(ctx context.Context, chatID, body string) error {
	return s.withFallback(chatID, func(to string) error {
		return s.client.SendText(ctx, to, body)
	})
}

// File delivers a file, retrying once on the fallback id.
func (s *Sender) File(ctx context.Context, chatID, dataURL, filename, caption string) error {
	return s.withFallback(chatID, func(to string) error {
		return s.client.SendFile(ctx, to, dataURL, filename, caption)
	})
}

// TextParts delivers each part in order with a 1-2s pause between sends.
// Delivery stops at the first failed part.
func (s *Sender) TextParts(ctx context.Context, chatID string, parts []string) error {
	for i, part := range parts {
		if i > 0 {
			s.Pace(ctx)
		}
		if err := s.Text(ctx, chatID, part); err != nil {
			return fmt.Errorf("delivery: part %d of %d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

// Pace sleeps for a random interval between sends.
func (s *Sender) Pace(ctx context.Context) {
	d := paceMin + time.Duration(rand.Int63n(int64(paceMax-paceMin)))
	s.sleep(ctx, d)
}
