package notify

import (
	"context"
	"fmt"
	"log"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Operator pings the support channel when a customer asks for a human.
type Operator struct {
	client  slackClient
	channel string
}

// OperatorOpts holds parameters for creating an Operator.
type OperatorOpts struct {
	Token   string
	Channel string
}

// NewOperator creates an Operator.
func NewOperator(opts OperatorOpts) (*Operator, error) {
	if opts.Token == "" || opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack token and channel are required")
	}
	return &Operator{
		client:  slackapi.New(opts.Token),
		channel: opts.Channel,
	}, nil
}

// HandoverRequested posts the customer's number and last message to the
// support channel. Failures are logged; handover proceeds regardless.
func (o *Operator) HandoverRequested(ctx context.Context, phone, lastMessage string) {
	text := fmt.Sprintf(":raising_hand: Customer *%s* asked for a human agent.\n> %s", phone, lastMessage)
	_, _, err := o.client.PostMessageContext(ctx, o.channel,
		slackapi.MsgOptionText(text, false))
	if err != nil {
		log.Printf("notify: post handover to slack: %v", err)
	}
}
