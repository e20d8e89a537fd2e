package llm

import (
	"context"
	"strings"
	"testing"
)

// mockCompleter returns canned responses keyed by schema name, in order.
type mockCompleter struct {
	responses map[string][]string
	calls     []string // schema names, in call order
	systems   []string
	users     []string
}

func (m *mockCompleter) complete(ctx context.Context, model, system, user, schemaName string, schema map[string]interface{}) (string, error) {
	m.calls = append(m.calls, schemaName)
	m.systems = append(m.systems, system)
	m.users = append(m.users, user)
	queue := m.responses[schemaName]
	if len(queue) == 0 {
		return "", nil
	}
	resp := queue[0]
	m.responses[schemaName] = queue[1:]
	return resp, nil
}

func newTestLLM(mc *mockCompleter, cats []Category) *LLM {
	if cats == nil {
		cats = DefaultCategoryTree()
	}
	return &LLM{
		completer:  mc,
		models:     Models{Classify: "m1", Filter: "m2", Split: "m3"},
		categories: cats,
	}
}

func TestFilter(t *testing.T) {
	mc := &mockCompleter{responses: map[string][]string{
		"chat_filter": {`{"is_processed":true,"is_report":true,"is_handover":false,"confidence":0.93}`},
	}}
	l := newTestLLM(mc, nil)

	result, err := l.Filter(context.Background(), []string{"user: laporan minggu ini dong"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !result.Processed || !result.Report || result.Handover {
		t.Errorf("result = %+v", result)
	}
	if result.Confidence != 0.93 {
		t.Errorf("confidence = %v", result.Confidence)
	}
	if !strings.Contains(mc.users[0], "laporan minggu ini dong") {
		t.Errorf("user prompt missing history: %q", mc.users[0])
	}
}

func TestClassifyFlat(t *testing.T) {
	mc := &mockCompleter{responses: map[string][]string{
		"question_class": {`{"question_class":"end_session"}`},
	}}
	l := newTestLLM(mc, nil)

	path, tool, err := l.Classify(context.Background(), []string{"udah cukup, makasih"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(path) != 1 || path[0] != "end_session" {
		t.Errorf("path = %v", path)
	}
	if tool != ToolEndSession {
		t.Errorf("tool = %q", tool)
	}
	if !strings.Contains(mc.systems[0], "reset_password_question") {
		t.Error("system prompt missing class list")
	}
}

func TestClassifyDescendsSubclasses(t *testing.T) {
	cats := []Category{
		{
			Name:        "report_question",
			Description: "Report requests.",
			Subclasses: []Category{
				{Name: "trip_report", Description: "Trip history report.", Tool: "trip_report"},
				{Name: "fuel_report", Description: "Fuel usage report.", Tool: "fuel_report"},
			},
		},
		{Name: "end_session", Description: "End.", Tool: ToolEndSession},
	}
	mc := &mockCompleter{responses: map[string][]string{
		"question_class": {
			`{"question_class":"report_question"}`,
			`{"question_class":"fuel_report"}`,
		},
	}}
	l := newTestLLM(mc, cats)

	path, tool, err := l.Classify(context.Background(), []string{"laporan bbm"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(path) != 2 || path[0] != "report_question" || path[1] != "fuel_report" {
		t.Errorf("path = %v", path)
	}
	if tool != "fuel_report" {
		t.Errorf("tool = %q", tool)
	}
	if len(mc.calls) != 2 {
		t.Errorf("calls = %v, want two classification passes", mc.calls)
	}
}

func TestClassifyUnknownClass(t *testing.T) {
	mc := &mockCompleter{responses: map[string][]string{
		"question_class": {`{"question_class":"made_up"}`},
	}}
	l := newTestLLM(mc, nil)

	if _, _, err := l.Classify(context.Background(), []string{"halo"}); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestSplit(t *testing.T) {
	mc := &mockCompleter{responses: map[string][]string{
		"split_messages": {`{"split_messages_result":["Halo!","Ini datanya."]}`},
	}}
	l := newTestLLM(mc, nil)

	parts, err := l.Split(context.Background(), []string{"reply one", "reply two"}, false, "[Excel File Sent]")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 2 || parts[0] != "Halo!" {
		t.Errorf("parts = %v", parts)
	}
	if strings.Contains(mc.users[0], "[Excel File Sent]") {
		t.Error("placeholder appended without a report")
	}
}

func TestSplitWithReport(t *testing.T) {
	mc := &mockCompleter{responses: map[string][]string{
		"split_messages": {`{"split_messages_result":["Cek file excel ya."]}`},
	}}
	l := newTestLLM(mc, nil)

	if _, err := l.Split(context.Background(), []string{"report ready"}, true, "[Excel File Sent]"); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !strings.Contains(mc.users[0], "[Excel File Sent]") {
		t.Error("placeholder missing from split input")
	}
	if !strings.Contains(mc.systems[0], "excel") {
		t.Error("report instruction missing from system prompt")
	}
}
