package generation

import (
	"regexp"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?m)^\\s*(```|~~~)"),                  // fenced code
	regexp.MustCompile(`(?m)^#{1,6}\s+\S`),                    // ATX header
	regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`),         // strong
	regexp.MustCompile(`(^|[^\w*])\*[^*\s][^*\n]*\*`),         // emphasis
	regexp.MustCompile(`(?m)^\s*[-*+]\s+\S`),                  // bullet list
	regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`),                // numbered list
	regexp.MustCompile(`\[[^\]\n]+\]\([^)\s]+\)`),             // link
	regexp.MustCompile(`(?m)^\s*>\s?\S`),                      // block quote
	regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`),                  // table row
	regexp.MustCompile(`(?m)^\s*([-*_])(\s*([-*_])){2,}\s*$`), // horizontal rule
	regexp.MustCompile(`~~[^~\n]+~~`),                         // strikethrough
	regexp.MustCompile("`[^`\n]+`"),                           // inline code
}

// DetectFormat classifies text as markdown when it carries any common
// markdown construct, plain otherwise.
func DetectFormat(text string) string {
	for _, re := range markdownPatterns {
		if re.MatchString(text) {
			return models.FormatMarkdown
		}
	}
	return models.FormatPlain
}
