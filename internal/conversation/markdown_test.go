package conversation

import "testing"

func TestMarkdownToWhatsApp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"**bold**", "*bold*"},
		{"*italic*", "_italic_"},
		{"~~gone~~", "~gone~"},
		{"`code`", "```code```"},
		{"# Header\nbody", "Header\nbody"},
		{"### Deep header", "Deep header"},
		{"**bold** and *italic*", "*bold* and _italic_"},
		{"plain text", "plain text"},
		{"Laporan **minggu ini**:\n- jarak `420 km`", "Laporan *minggu ini*:\n- jarak ```420 km```"},
	}
	for _, c := range cases {
		if got := markdownToWhatsApp(c.in); got != c.want {
			t.Errorf("markdownToWhatsApp(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReportFilename(t *testing.T) {
	// 2026-03-01 02:30:00 UTC is 09:30:00 in UTC+7.
	now := timeDate(2026, 3, 1, 2, 30, 0)
	got := reportFilename(0, now)
	want := "1_fleet_report_01032026_093000.xlsx"
	if got != want {
		t.Errorf("reportFilename = %q, want %q", got, want)
	}
	if got := reportFilename(2, now); got[:2] != "3_" {
		t.Errorf("index not 1-based: %q", got)
	}
}
