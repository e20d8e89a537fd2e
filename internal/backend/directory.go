package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// maxTokenAccounts caps how many matched accounts are consulted per
// question.
const maxTokenAccounts = 3

// Directory resolves an inbound WhatsApp identity to the API tokens of the
// telematics accounts registered under it. A phone can map to several
// accounts; all of them get asked.
type Directory interface {
	Tokens(ctx context.Context, phone, lid string) ([]string, error)
}

// userQuery matches accounts on any known form of the number: the bare
// international form, the linked-device id, a "+" prefix or the local "0"
// prefix.
const userQuery = `
SELECT api_token
FROM users
WHERE
    (
        wa_number = :wa_number
        OR wa_lid = :wa_lid
        OR phone_number = :phone_number
        OR phone_number = :wplus_phone_number
        OR phone_number = :local_phone_number
    )
    AND deleted_at IS NULL
ORDER BY updated_at DESC
LIMIT %d;
`

// phoneVariants returns the parameter set for userQuery.
func phoneVariants(phone, lid string) map[string]string {
	local := phone
	if len(phone) > 2 {
		local = "0" + phone[2:]
	}
	return map[string]string{
		"wa_number":          phone,
		"wa_lid":             lid,
		"phone_number":       phone,
		"wplus_phone_number": "+" + phone,
		"local_phone_number": local,
	}
}

// HTTPDirectory resolves tokens through the SQL-over-HTTP query proxy in
// front of the telematics user database.
type HTTPDirectory struct {
	queryURL string
	max      int
	client   *http.Client
}

// NewHTTPDirectory creates an HTTPDirectory.
func NewHTTPDirectory(queryURL string, max int) (*HTTPDirectory, error) {
	if queryURL == "" {
		return nil, fmt.Errorf("backend: directory query url is required")
	}
	if max <= 0 {
		max = maxTokenAccounts
	}
	return &HTTPDirectory{
		queryURL: queryURL,
		max:      max,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Tokens runs the user query through the proxy.
func (d *HTTPDirectory) Tokens(ctx context.Context, phone, lid string) ([]string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":  fmt.Sprintf(userQuery, d.max),
		"params": phoneVariants(phone, lid),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal directory query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.queryURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: build directory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: directory query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: directory query returned %d", resp.StatusCode)
	}

	var result struct {
		Rows []struct {
			APIToken string `json:"api_token"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("backend: decode directory response: %w", err)
	}
	var tokens []string
	for _, row := range result.Rows {
		if row.APIToken != "" {
			tokens = append(tokens, row.APIToken)
		}
	}
	return tokens, nil
}

// MySQLDirectory resolves tokens over a direct database connection,
// for deployments with network access to the user database.
type MySQLDirectory struct {
	db  *gorm.DB
	max int
}

// NewMySQLDirectory creates a MySQLDirectory.
func NewMySQLDirectory(db *gorm.DB, max int) (*MySQLDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("backend: directory db is required")
	}
	if max <= 0 {
		max = maxTokenAccounts
	}
	return &MySQLDirectory{db: db, max: max}, nil
}

// Tokens runs the user query directly.
func (d *MySQLDirectory) Tokens(ctx context.Context, phone, lid string) ([]string, error) {
	params := phoneVariants(phone, lid)
	var tokens []string
	err := d.db.WithContext(ctx).Raw(
		`SELECT api_token FROM users
		 WHERE (wa_number = ? OR wa_lid = ? OR phone_number IN (?, ?, ?))
		   AND deleted_at IS NULL
		 ORDER BY updated_at DESC LIMIT ?`,
		params["wa_number"], params["wa_lid"],
		params["phone_number"], params["wplus_phone_number"], params["local_phone_number"],
		d.max,
	).Scan(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("backend: directory query: %w", err)
	}
	return tokens, nil
}
