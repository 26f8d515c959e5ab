package pipeline

import "strings"

const fence = "```"

// ExtractCodeBlock returns the body of a leading fenced code block.
//
// When raw (ignoring leading whitespace) opens with a fence, with or without
// an info string, the text between the end of the opener line and the next
// fence is returned trimmed; with no closing fence everything after the opener
// line is used. A single-line block ("```python x = 1```") yields the text
// between the fences minus a known language tag. Input that does not open with
// a fence, or whose block is empty, is returned unchanged.
func ExtractCodeBlock(raw string) string {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(trimmed, fence) {
		return raw
	}

	var body string
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		body = trimmed[nl+1:]
	} else {
		body = dropInfoString(trimmed[len(fence):])
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}

	if code := strings.TrimSpace(body); code != "" {
		return code
	}
	return raw
}

//nolint:gochecknoglobals // fixed tag set
var infoStrings = map[string]bool{
	"python": true, "py": true, "go": true, "golang": true,
	"javascript": true, "js": true, "typescript": true, "ts": true,
	"java": true, "kotlin": true, "rust": true, "ruby": true,
	"csharp": true, "cs": true, "php": true, "swift": true,
	"bash": true, "sh": true, "text": true,
}

// dropInfoString removes a language tag glued to the opening fence of a
// single-line block. Unknown words are kept as code.
func dropInfoString(s string) string {
	word := s
	if i := strings.IndexAny(s, " \t`"); i >= 0 {
		word = s[:i]
	}
	if infoStrings[strings.ToLower(word)] {
		return s[len(word):]
	}
	return s
}
