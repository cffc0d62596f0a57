package engine

import (
	"regexp"
	"strings"
)

// Chat responses use a structured envelope: a short <discussion> block and
// an optional <updated_doc> block carrying the full replacement document.
// The legacy <updated_prd> tag is still accepted.

var (
	discussionRe = regexp.MustCompile(`(?s)<discussion>(.*?)</discussion>`)
	updatedDocRe = regexp.MustCompile(`(?s)<updated_(?:doc|prd)>(.*?)</updated_(?:doc|prd)>`)
)

// Bounds for untagged replies: keep the chat log conversational instead of
// dumping a whole document into it.
const (
	discussionMaxSentences = 3
	discussionMaxChars     = 300
)

// ParseRefineResponse splits a chat reply into its discussion text and the
// replacement document, if any. When no tags are present the whole reply
// is treated as discussion and truncated.
func ParseRefineResponse(raw string) (discussion, updatedDoc string) {
	if m := updatedDocRe.FindStringSubmatch(raw); m != nil {
		updatedDoc = strings.TrimSpace(m[1])
	}
	if m := discussionRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), updatedDoc
	}
	// No discussion tag: strip any doc blocks, summarize the rest.
	rest := updatedDocRe.ReplaceAllString(raw, "")
	return truncateDiscussion(strings.TrimSpace(rest)), updatedDoc
}

// RenderRefineResponse produces the envelope ParseRefineResponse reads.
// Parse(Render(d, doc)) == (d, doc) for trimmed inputs.
func RenderRefineResponse(discussion, updatedDoc string) string {
	var b strings.Builder
	b.WriteString("<discussion>")
	b.WriteString(discussion)
	b.WriteString("</discussion>")
	if updatedDoc != "" {
		b.WriteString("<updated_doc>")
		b.WriteString(updatedDoc)
		b.WriteString("</updated_doc>")
	}
	return b.String()
}

// truncateDiscussion keeps the first few sentences, capped by characters.
func truncateDiscussion(text string) string {
	if text == "" {
		return ""
	}
	sentences := splitSentences(text)
	if len(sentences) > discussionMaxSentences {
		text = strings.Join(sentences[:discussionMaxSentences], "")
	}
	if len(text) > discussionMaxChars {
		text = text[:discussionMaxChars]
	}
	return strings.TrimSpace(text)
}

// splitSentences cuts text after sentence-ending punctuation, keeping the
// punctuation with the preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			sentences = append(sentences, text[start:i+len(string(r))])
			start = i + len(string(r))
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}
