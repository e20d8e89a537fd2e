package conversation

import (
	"context"
	"log"

	"github.com/fleetyard/waybot/internal/config"
)

// LifecycleNotifier delivers session lifecycle texts, honoring the message
// toggles. It satisfies the session manager's Notifier.
type LifecycleNotifier struct {
	sender   outbound
	messages config.MessagesConfig
}

// NewLifecycleNotifier creates a LifecycleNotifier.
func NewLifecycleNotifier(sender outbound, messages config.MessagesConfig) *LifecycleNotifier {
	return &LifecycleNotifier{sender: sender, messages: messages}
}

// InactivityWarning warns the user the session is about to idle out.
func (n *LifecycleNotifier) InactivityWarning(ctx context.Context, chatID string) {
	if !n.messages.UseWarning {
		return
	}
	if err := n.sender.Text(ctx, chatID, n.messages.InactivityWarning); err != nil {
		log.Printf("conversation: send inactivity warning: %v", err)
	}
}

// ForcedWarning warns the user the session is about to hit its time limit.
func (n *LifecycleNotifier) ForcedWarning(ctx context.Context, chatID string) {
	if !n.messages.UseWarning {
		return
	}
	if err := n.sender.Text(ctx, chatID, n.messages.ForcedWarning); err != nil {
		log.Printf("conversation: send forced warning: %v", err)
	}
}

// SessionEnded tells the user the session is over.
func (n *LifecycleNotifier) SessionEnded(ctx context.Context, chatID, status string) {
	if !n.messages.UseEnd {
		return
	}
	if err := n.sender.Text(ctx, chatID, n.messages.End); err != nil {
		log.Printf("conversation: send end message: %v", err)
	}
}
