// Package notify pushes proactive messages out of the bot: scheduled
// alert fan-out to subscribed numbers and operator pings on handover.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Alert is one undelivered device notification joined with its recipient.
type Alert struct {
	ID         int64  `json:"id"`
	DeviceName string `json:"device_name"`
	AlertType  string `json:"alert_type"`
	Message    string `json:"message"`
	WANumber   string `json:"wa_number"`
}

// Text renders the alert as a WhatsApp message.
func (a Alert) Text() string {
	return fmt.Sprintf("*%s*\n%s", a.DeviceName, a.Message)
}

// AlertSource lists undelivered alerts and marks them delivered.
type AlertSource interface {
	PendingAlerts(ctx context.Context) ([]Alert, error)
	MarkDelivered(ctx context.Context, ids []int64) error
}

// textSender is the one delivery method the fan-out needs.
type textSender interface {
	Text(ctx context.Context, chatID, body string) error
}

// Alerter periodically drains pending alerts to their subscribers.
type Alerter struct {
	source      AlertSource
	sender      textSender
	subscribers []string // extra numbers that get every alert
	schedule    cron.Schedule
	runner      *cron.Cron
}

// AlerterOpts holds parameters for creating an Alerter.
type AlerterOpts struct {
	Source      AlertSource
	Sender      textSender
	Subscribers []string
	Cron        string // 5-field expression
}

// NewAlerter creates an Alerter.
func NewAlerter(opts AlerterOpts) (*Alerter, error) {
	if opts.Source == nil || opts.Sender == nil {
		return nil, fmt.Errorf("notify: source and sender are required")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("notify: parse cron %q: %w", opts.Cron, err)
	}
	return &Alerter{
		source:      opts.Source,
		sender:      opts.Sender,
		subscribers: opts.Subscribers,
		schedule:    sched,
	}, nil
}

// Start begins the scheduled runs. Stop with Stop.
func (a *Alerter) Start(ctx context.Context) {
	a.runner = cron.New(cron.WithParser(cronParser))
	a.runner.Schedule(a.schedule, cron.FuncJob(func() {
		if err := a.RunOnce(ctx); err != nil {
			log.Printf("notify: alert run: %v", err)
		}
	}))
	a.runner.Start()
}

// Stop halts the schedule and waits for a running fan-out to finish.
func (a *Alerter) Stop() {
	if a.runner != nil {
		<-a.runner.Stop().Done()
	}
}

// RunOnce drains pending alerts: each alert goes to its own subscriber
// plus every configured extra number, then the batch is marked delivered.
// Alerts whose delivery failed stay pending for the next run.
func (a *Alerter) RunOnce(ctx context.Context) error {
	alerts, err := a.source.PendingAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	log.Printf("notify: delivering %d pending alerts", len(alerts))

	var delivered []int64
	for _, alert := range alerts {
		recipients := make([]string, 0, 1+len(a.subscribers))
		if alert.WANumber != "" {
			recipients = append(recipients, alert.WANumber)
		}
		recipients = append(recipients, a.subscribers...)

		ok := true
		for _, r := range recipients {
			chatID := r
			if !strings.ContainsRune(r, '@') {
				chatID = r + "@c.us"
			}
			if err := a.sender.Text(ctx, chatID, alert.Text()); err != nil {
				log.Printf("notify: send alert %d to %s: %v", alert.ID, chatID, err)
				ok = false
			}
		}
		if ok {
			delivered = append(delivered, alert.ID)
		}
	}
	if len(delivered) == 0 {
		return nil
	}
	return a.source.MarkDelivered(ctx, delivered)
}

// HTTPAlertSource reads alerts through the SQL-over-HTTP query proxy.
type HTTPAlertSource struct {
	queryURL string
	client   *http.Client
}

// NewHTTPAlertSource creates an HTTPAlertSource.
func NewHTTPAlertSource(queryURL string) (*HTTPAlertSource, error) {
	if queryURL == "" {
		return nil, fmt.Errorf("notify: alert query url is required")
	}
	return &HTTPAlertSource{
		queryURL: queryURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

const pendingAlertsQuery = `
SELECT
    an.id,
    d.device_name,
    an.alert_type,
    an.message,
    u.wa_number
FROM alert_notifications an
JOIN users u ON u.id = an.user_id
JOIN devices d ON d.id = an.device_id
WHERE
    an.delivered_at IS NULL
    AND u.wa_notif = 1
    AND u.wa_verified = 1
    AND u.deleted_at IS NULL
ORDER BY an.id
LIMIT 100;
`

func (s *HTTPAlertSource) query(ctx context.Context, query string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"query": query, "params": params})
	if err != nil {
		return fmt.Errorf("notify: marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.queryURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: query returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("notify: decode query response: %w", err)
		}
	}
	return nil
}

// PendingAlerts lists undelivered alerts for verified subscribers.
func (s *HTTPAlertSource) PendingAlerts(ctx context.Context) ([]Alert, error) {
	var result struct {
		Rows []Alert `json:"rows"`
	}
	if err := s.query(ctx, pendingAlertsQuery, nil, &result); err != nil {
		return nil, err
	}
	return result.Rows, nil
}

// MarkDelivered stamps the alerts as delivered.
func (s *HTTPAlertSource) MarkDelivered(ctx context.Context, ids []int64) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	query := fmt.Sprintf(
		"UPDATE alert_notifications SET delivered_at = NOW() WHERE id IN (%s); COMMIT;",
		strings.Join(parts, ", "))
	return s.query(ctx, query, nil, nil)
}
