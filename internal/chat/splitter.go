package chat

import "strings"

// Split breaks text into chunks of at most limit runes, preferring paragraph
// boundaries, then line boundaries, and hard-splitting only when a single
// line exceeds the limit. Slack rejects messages past ~4000 characters, so
// callers post each chunk separately.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		pieces := []string{para}
		if len([]rune(para)) > limit {
			pieces = splitLines(para, limit)
		}
		for _, piece := range pieces {
			need := len([]rune(piece))
			if current.Len() > 0 {
				need += 2
			}
			if len([]rune(current.String()))+need > limit {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// splitLines breaks an oversized paragraph at line boundaries, hard-cutting
// any single line longer than the limit.
func splitLines(para string, limit int) []string {
	var out []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(para, "\n") {
		for len([]rune(line)) > limit {
			r := []rune(line)
			flush()
			out = append(out, string(r[:limit]))
			line = string(r[limit:])
		}
		need := len([]rune(line))
		if current.Len() > 0 {
			need++
		}
		if len([]rune(current.String()))+need > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	return out
}
