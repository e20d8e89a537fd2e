package conversation

import (
	"regexp"
	"strings"
)

var (
	mdBold   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdItalic = regexp.MustCompile(`\*([^*]+)\*`)
	mdStrike = regexp.MustCompile(`~~(.*?)~~`)
	mdCode   = regexp.MustCompile("`([^`]+)`")
	mdHeader = regexp.MustCompile(`(?m)^#+\s*`)
)

// markdownToWhatsApp remaps common Markdown emphasis to WhatsApp's own
// markup: **bold** becomes *bold*, *italic* becomes _italic_, ~~strike~~
// becomes ~strike~, `code` becomes ```code``` and headers are stripped.
func markdownToWhatsApp(text string) string {
	// Park bold spans first so the italic pass cannot eat their
	// asterisks.
	text = mdBold.ReplaceAllString(text, "\x00$1\x00")
	text = mdItalic.ReplaceAllString(text, "_$1_")
	text = strings.ReplaceAll(text, "\x00", "*")

	text = mdStrike.ReplaceAllString(text, "~$1~")
	text = mdCode.ReplaceAllString(text, "```$1```")
	text = mdHeader.ReplaceAllString(text, "")
	return text
}
