package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Opts{Endpoint: srv.URL, BotPhone: "628999"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestAgentID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/whatsapp/number" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"phone_number":"628000","agent_id":"a0"},{"phone_number":"628999","agent_id":"a7"}]`))
	}))

	id, err := c.AgentID(context.Background())
	if err != nil {
		t.Fatalf("AgentID: %v", err)
	}
	if id != "a7" {
		t.Errorf("agent id = %q, want a7", id)
	}
}

func TestAgentIDUnknownNumber(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	if _, err := c.AgentID(context.Background()); err == nil {
		t.Fatal("expected error for unregistered number")
	}
}

func TestFetchReply(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat_api" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"data":{"success":true,"response":"Jarak tempuh minggu ini 420 km."}}`))
	}))

	msgs := []ChatMessage{{Role: "user", Content: "berapa jarak tempuh?"}}
	reply, err := c.FetchReply(context.Background(), "tok1", msgs, "a7")
	if err != nil {
		t.Fatalf("FetchReply: %v", err)
	}
	if reply != "Jarak tempuh minggu ini 420 km." {
		t.Errorf("reply = %q", reply)
	}
	if gotAuth != "Bearer tok1" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["agent_id"] != "a7" {
		t.Errorf("agent_id = %v", gotBody["agent_id"])
	}
	if gotBody["include_suggested_questions"] != false {
		t.Errorf("include_suggested_questions = %v", gotBody["include_suggested_questions"])
	}
}

func TestFetchReplyBackendFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"success":false}}`))
	}))
	reply, err := c.FetchReply(context.Background(), "tok1", nil, "a7")
	if err != nil {
		t.Fatalf("FetchReply: %v", err)
	}
	if reply != "" {
		t.Errorf("reply = %q, want empty on unsuccessful response", reply)
	}
}

func TestFetchReport(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report_agent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":"data:application/xlsx;base64,AAAA"}`))
	}))
	report, err := c.FetchReport(context.Background(), "tok1", nil)
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if report != "data:application/xlsx;base64,AAAA" {
		t.Errorf("report = %q", report)
	}
}

// pathCounter counts requests per path.
type pathCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *pathCounter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.counts[r.URL.Path]++
	p.mu.Unlock()
	switch r.URL.Path {
	case "/chat_api":
		w.Write([]byte(`{"data":{"success":true,"response":"ok"}}`))
	case "/report_agent":
		w.Write([]byte(`{"data":"xlsxdata"}`))
	}
}

func (p *pathCounter) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[path]
}

func TestFetchAllSingleOutputReport(t *testing.T) {
	pc := &pathCounter{counts: make(map[string]int)}
	c := newTestClient(t, pc)

	replies, reports := c.FetchAll(context.Background(), FetchOpts{
		Tokens:       []string{"t1", "t2"},
		AgentID:      "a7",
		WantReport:   true,
		SingleOutput: true,
	})
	if len(replies) != 0 {
		t.Errorf("replies = %v, want none in single-output report mode", replies)
	}
	if len(reports) != 2 {
		t.Errorf("reports = %v, want one per token", reports)
	}
	if pc.count("/chat_api") != 0 {
		t.Error("chat_api called in single-output report mode")
	}
}

func TestFetchAllSingleOutputReply(t *testing.T) {
	pc := &pathCounter{counts: make(map[string]int)}
	c := newTestClient(t, pc)

	replies, reports := c.FetchAll(context.Background(), FetchOpts{
		Tokens:       []string{"t1"},
		AgentID:      "a7",
		WantReport:   false,
		SingleOutput: true,
	})
	if len(replies) != 1 || len(reports) != 0 {
		t.Errorf("replies = %v, reports = %v", replies, reports)
	}
	if pc.count("/report_agent") != 0 {
		t.Error("report_agent called without a report request")
	}
}

func TestFetchAllDualOutput(t *testing.T) {
	pc := &pathCounter{counts: make(map[string]int)}
	c := newTestClient(t, pc)

	replies, reports := c.FetchAll(context.Background(), FetchOpts{
		Tokens:     []string{"t1", "t2"},
		AgentID:    "a7",
		WantReport: true,
	})
	if len(replies) != 2 || len(reports) != 2 {
		t.Errorf("replies = %v, reports = %v, want both per token", replies, reports)
	}
	if pc.count("/chat_api") != 2 || pc.count("/report_agent") != 2 {
		t.Errorf("calls = %v", pc.counts)
	}
}
