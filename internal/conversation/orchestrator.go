// Package conversation runs the message pipeline: every inbound WhatsApp
// message flows through filtering, classification, backend fan-out and
// reply composition before anything is sent back.
package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fleetyard/waybot/internal/backend"
	"github.com/fleetyard/waybot/internal/config"
	"github.com/fleetyard/waybot/internal/llm"
	"github.com/fleetyard/waybot/internal/models"
	"github.com/fleetyard/waybot/internal/session"
	"github.com/fleetyard/waybot/internal/store"
	"github.com/fleetyard/waybot/internal/transport"
)

const (
	contextLimit = 20 // messages loaded from the session
	historyLimit = 10 // messages actually sent as context

	typingDelay  = 1 * time.Second
	waitingDelay = 10 * time.Second
)

// reportZone is the timezone report filenames are stamped in.
var reportZone = time.FixedZone("WIB", 7*60*60)

// analyst is the structured-LLM surface the pipeline needs.
type analyst interface {
	Filter(ctx context.Context, history []string) (*llm.FilterResult, error)
	Classify(ctx context.Context, history []string) (path []string, tool string, err error)
	Split(ctx context.Context, replies []string, withReport bool, reportPlaceholder string) ([]string, error)
}

// fetcher is the chat-backend surface the pipeline needs.
type fetcher interface {
	AgentID(ctx context.Context) (string, error)
	FetchAll(ctx context.Context, opts backend.FetchOpts) (replies, reports []string)
	AccountStatus(ctx context.Context, token string) (string, error)
}

// outbound is the delivery surface the pipeline needs.
type outbound interface {
	Text(ctx context.Context, chatID, body string) error
	File(ctx context.Context, chatID, dataURL, filename, caption string) error
	TextParts(ctx context.Context, chatID string, parts []string) error
	Pace(ctx context.Context)
	Register(chatID, fallbackID string)
}

// OperatorNotifier tells a human operator that a customer asked for one.
type OperatorNotifier interface {
	HandoverRequested(ctx context.Context, phone, lastMessage string)
}

// Orchestrator wires the pipeline together.
type Orchestrator struct {
	store     *store.Store
	sessions  *session.Manager
	analyst   analyst
	backend   fetcher
	directory backend.Directory
	sender    outbound
	client    transport.Client
	operator  OperatorNotifier // may be nil
	messages  config.MessagesConfig

	typingDelay  time.Duration
	waitingDelay time.Duration
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Store     *store.Store
	Sessions  *session.Manager
	Analyst   analyst
	Backend   fetcher
	Directory backend.Directory
	Sender    outbound
	Client    transport.Client
	Operator  OperatorNotifier
	Messages  config.MessagesConfig
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil || opts.Sessions == nil {
		return nil, fmt.Errorf("conversation: store and sessions are required")
	}
	if opts.Analyst == nil || opts.Backend == nil || opts.Directory == nil {
		return nil, fmt.Errorf("conversation: analyst, backend and directory are required")
	}
	if opts.Sender == nil || opts.Client == nil {
		return nil, fmt.Errorf("conversation: sender and client are required")
	}
	return &Orchestrator{
		store:        opts.Store,
		sessions:     opts.Sessions,
		analyst:      opts.Analyst,
		backend:      opts.Backend,
		directory:    opts.Directory,
		sender:       opts.Sender,
		client:       opts.Client,
		operator:     opts.Operator,
		messages:     opts.Messages,
		typingDelay:  typingDelay,
		waitingDelay: waitingDelay,
	}, nil
}

// phonePart strips the server suffix from a chat id.
func phonePart(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}

// HandleInbound processes one inbound message end to end. Messages the bot
// cannot or should not answer are dropped without a reply.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg transport.InboundMessage) error {
	if msg.IsGroup || msg.FromMe {
		return nil
	}
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		return nil
	}

	chatID := msg.From
	phone := phonePart(chatID)
	lid := phonePart(msg.Sender)

	// Remember the sender's linked-device id so rejected deliveries can
	// be retried on it.
	o.sender.Register(chatID, msg.Sender)

	// Unverified numbers are dropped before any session is opened.
	tokens, err := o.directory.Tokens(ctx, phone, lid)
	if err != nil {
		return fmt.Errorf("conversation: resolve tokens for %s: %w", phone, err)
	}
	if len(tokens) == 0 {
		log.Printf("conversation: %s messaged but has no registered account", phone)
		return nil
	}

	disabled, err := o.store.AgentDisabled(phone)
	if err != nil {
		return err
	}
	if disabled {
		log.Printf("conversation: agent disabled for %s, staying quiet", phone)
		return nil
	}

	displayName := msg.Pushname
	if displayName == "" {
		if contact, err := o.client.Contact(ctx, chatID); err == nil {
			displayName = contact.DisplayName()
		}
	}
	entry, _, err := o.sessions.Ensure(ctx, phone, chatID, displayName)
	if err != nil {
		return err
	}

	if err := o.client.MarkSeen(ctx, chatID); err != nil {
		log.Printf("conversation: mark seen %s: %v", chatID, err)
	}
	if _, err := o.store.AddMessage(entry.SessionID, models.SenderUser, text, "", time.Now()); err != nil {
		log.Printf("conversation: store inbound message: %v", err)
	}

	// A turn already in flight for this phone: acknowledge and bail.
	if !entry.TryAcquire() {
		if o.messages.UseWaiting {
			if err := o.sender.Text(ctx, chatID, o.messages.Waiting); err != nil {
				log.Printf("conversation: send waiting message: %v", err)
			} else {
				o.storeBotMessage(entry.SessionID, o.messages.Waiting)
			}
		}
		return o.sessions.Touch(ctx, entry)
	}
	defer entry.Release()

	if err := o.sessions.Touch(ctx, entry); err != nil {
		log.Printf("conversation: touch session: %v", err)
	}

	history, llmHistory, err := o.buildContext(entry.SessionID)
	if err != nil {
		return err
	}

	verdict, err := o.analyst.Filter(ctx, history)
	if err != nil {
		log.Printf("conversation: filter for %s: %v", phone, err)
		return o.errorTurn(ctx, chatID, entry.SessionID)
	}
	log.Printf("conversation: %s filter is_processed=%t is_report=%t is_handover=%t confidence=%.2f",
		phone, verdict.Processed, verdict.Report, verdict.Handover, verdict.Confidence)

	if verdict.Handover {
		return o.handover(ctx, phone, chatID, entry, text)
	}
	if !verdict.Processed {
		log.Printf("conversation: message from %s filtered out", phone)
		return nil
	}

	// Typing indicator comes on after a short delay so instant turns
	// don't flash it.
	typingCtx, stopTyping := context.WithCancel(ctx)
	go func() {
		t := time.NewTimer(o.typingDelay)
		defer t.Stop()
		select {
		case <-typingCtx.Done():
			return
		case <-t.C:
		}
		if err := o.client.SetTyping(typingCtx, chatID, true); err != nil {
			log.Printf("conversation: start typing: %v", err)
		}
	}()
	defer func() {
		stopTyping()
		if err := o.client.SetTyping(context.WithoutCancel(ctx), chatID, false); err != nil {
			log.Printf("conversation: stop typing: %v", err)
		}
	}()

	path, tool, err := o.analyst.Classify(ctx, history)
	if err != nil {
		log.Printf("conversation: classify for %s: %v", phone, err)
		return o.errorTurn(ctx, chatID, entry.SessionID)
	}
	log.Printf("conversation: %s classified as %s", phone, strings.Join(path, "/"))

	if tool == llm.ToolEndSession {
		return o.sessions.End(ctx, phone, models.StatusEndedManual)
	}

	// A slow backend earns the user one progress note.
	var waitingDone atomic.Bool
	go func() {
		t := time.NewTimer(o.waitingDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if waitingDone.Swap(true) {
			return
		}
		if o.messages.UseWaiting {
			if err := o.sender.Text(ctx, chatID, o.messages.Waiting); err != nil {
				log.Printf("conversation: send waiting message: %v", err)
				return
			}
			o.storeBotMessage(entry.SessionID, o.messages.Waiting)
		}
	}()

	var replies, reports []string
	if tool == llm.ToolAccountStatus {
		// Account status comes straight from the user service, not the
		// chat backend.
		replies = o.accountStatuses(ctx, tokens)
	} else {
		replies, reports = o.fetch(ctx, tokens, llmHistory, verdict.Report)
	}
	waitingDone.Store(true)

	parts, failed := o.compose(ctx, replies, reports, verdict.Report)
	if failed {
		return o.errorTurn(ctx, chatID, entry.SessionID)
	}

	if err := o.deliver(ctx, chatID, entry.SessionID, parts, reports); err != nil {
		return err
	}
	// Activity anchors on the reply, so the inactivity clock starts once
	// the user has something to respond to.
	if err := o.sessions.Touch(ctx, entry); err != nil {
		log.Printf("conversation: touch session: %v", err)
	}
	return nil
}

// errorTurn sends the generic error reply in place of a failed turn.
// Pipeline failures never escape the webhook handler.
func (o *Orchestrator) errorTurn(ctx context.Context, chatID, sessionID string) error {
	if !o.messages.UseError {
		return nil
	}
	if err := o.sender.Text(ctx, chatID, o.messages.Error); err != nil {
		log.Printf("conversation: send error message: %v", err)
		return nil
	}
	o.storeBotMessage(sessionID, o.messages.Error)
	return nil
}

// accountStatuses fetches the account status for each token. Failures are
// logged and skipped, matching the backend fan-out.
func (o *Orchestrator) accountStatuses(ctx context.Context, tokens []string) []string {
	var statuses []string
	for _, token := range tokens {
		status, err := o.backend.AccountStatus(ctx, token)
		if err != nil {
			log.Printf("conversation: account status: %v", err)
			continue
		}
		if status != "" {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// buildContext loads recent session messages and renders them both as
// plain strings for the structured calls and as role-tagged messages for
// the backend. Both run oldest-first.
func (o *Orchestrator) buildContext(sessionID string) ([]string, []backend.ChatMessage, error) {
	msgs, err := o.store.MessagesForSession(sessionID, contextLimit)
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) > historyLimit {
		msgs = msgs[:historyLimit]
	}

	history := make([]string, 0, len(msgs))
	llmHistory := make([]backend.ChatMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		role := "user"
		if m.Sender == models.SenderBot {
			role = "assistant"
		}
		history = append(history, fmt.Sprintf("%s: %s", role, m.Body))
		llmHistory = append(llmHistory, backend.ChatMessage{Role: role, Content: m.Body})
	}
	return history, llmHistory, nil
}

// handover hands the conversation to a human: the agent goes quiet for the
// cooldown, the user gets the handover note and the operator channel is
// pinged.
func (o *Orchestrator) handover(ctx context.Context, phone, chatID string, entry *session.Entry, lastMessage string) error {
	if err := o.sessions.Handover(phone); err != nil {
		return err
	}
	if err := o.sender.Text(ctx, chatID, o.messages.Handover); err != nil {
		log.Printf("conversation: send handover message: %v", err)
	} else {
		o.storeBotMessage(entry.SessionID, o.messages.Handover)
	}
	if o.operator != nil {
		o.operator.HandoverRequested(ctx, phone, lastMessage)
	}
	return nil
}

// fetch fans the question out to the backend over every account token.
func (o *Orchestrator) fetch(ctx context.Context, tokens []string, msgs []backend.ChatMessage, wantReport bool) (replies, reports []string) {
	agentID, err := o.backend.AgentID(ctx)
	if err != nil {
		log.Printf("conversation: agent id: %v", err)
		return nil, nil
	}
	return o.backend.FetchAll(ctx, backend.FetchOpts{
		Tokens:       tokens,
		Messages:     msgs,
		AgentID:      agentID,
		WantReport:   wantReport,
		SingleOutput: o.messages.SingleOutput,
	})
}

// compose turns raw backend output into WhatsApp-ready message parts.
// failed is true when the backend produced nothing usable.
func (o *Orchestrator) compose(ctx context.Context, replies, reports []string, wantReport bool) (parts []string, failed bool) {
	withReport := wantReport && len(reports) > 0
	var err error
	switch {
	case len(replies) > 0:
		parts, err = o.analyst.Split(ctx, replies, withReport, o.messages.ReportPlaceholder)
	case len(reports) > 0:
		parts, err = o.analyst.Split(ctx, []string{o.messages.ReportPlaceholder}, withReport, o.messages.ReportPlaceholder)
	default:
		return nil, true
	}
	if err != nil {
		log.Printf("conversation: split replies: %v", err)
		return nil, true
	}
	if len(parts) == 0 {
		return nil, true
	}
	for i, p := range parts {
		parts[i] = markdownToWhatsApp(p)
	}
	return parts, false
}

// deliver sends report files first, then the text parts, pacing between
// sends. Delivered bot parts are recorded in the session history.
func (o *Orchestrator) deliver(ctx context.Context, chatID, sessionID string, parts, reports []string) error {
	for i, report := range reports {
		filename := reportFilename(i, time.Now())
		log.Printf("conversation: sending report %s to %s", filename, chatID)
		if err := o.sender.File(ctx, chatID, report, filename, ""); err != nil {
			log.Printf("conversation: send report: %v", err)
			continue
		}
		o.sender.Pace(ctx)
	}
	if err := o.sender.TextParts(ctx, chatID, parts); err != nil {
		return err
	}
	for _, p := range parts {
		o.storeBotMessage(sessionID, p)
	}
	return nil
}

// reportFilename stamps the export name with the local (UTC+7) time.
func reportFilename(index int, now time.Time) string {
	return fmt.Sprintf("%d_fleet_report_%s.xlsx", index+1, now.In(reportZone).Format("02012006_150405"))
}

func (o *Orchestrator) storeBotMessage(sessionID, body string) {
	if _, err := o.store.AddMessage(sessionID, models.SenderBot, body, "", time.Now()); err != nil {
		log.Printf("conversation: store bot message: %v", err)
	}
}
