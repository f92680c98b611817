package notify

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage cuts content into chunks of at most maxLen bytes, preferring
// paragraph, line and word boundaries. Joining the chunks yields content.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > maxLen {
		cut := cutPoint(content, maxLen)
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

func cutPoint(content string, maxLen int) int {
	head := content[:maxLen]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(head, sep); idx > 0 {
			return idx + len(sep)
		}
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(content)
		return size
	}
	return cut
}
