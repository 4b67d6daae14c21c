// Package normalize cleans inbound email bodies before they enter a
// conversation thread: HTML entities are decoded, markup is stripped,
// and whitespace is collapsed. Blocks of text extracted from image
// attachments are passed through untouched so the model sees exactly
// what the OCR service produced.
package normalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// OCRMarker prefixes text extracted from an image attachment.
const OCRMarker = "EXTRACTED IMAGE CONTENT"

var (
	stripPolicy = bluemonday.StrictPolicy()
	spaceRuns   = regexp.MustCompile(` +`)
)

// Body returns the cleaned form of an email body. Markup and entities
// are removed, runs of spaces collapse to one, lines are trimmed and
// blank lines dropped. Any block starting with OCRMarker and running to
// the next blank line (or end of input) is carved out first and
// re-appended verbatim after the cleaned text.
func Body(text string) string {
	if text == "" {
		return ""
	}

	rest, blocks := splitOCRBlocks(text)

	cleaned := html.UnescapeString(stripPolicy.Sanitize(rest))
	cleaned = spaceRuns.ReplaceAllString(cleaned, " ")

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	out := strings.Join(lines, "\n")

	for _, b := range blocks {
		if out != "" {
			out += "\n\n"
		}
		out += b
	}
	return out
}

// splitOCRBlocks removes every OCR block from text and returns the
// remainder plus the blocks in order. A block runs from a line
// containing OCRMarker to the next blank line or end of input.
func splitOCRBlocks(text string) (string, []string) {
	if !strings.Contains(text, OCRMarker) {
		return text, nil
	}

	var (
		restLines []string
		blocks    []string
		current   []string
		inBlock   bool
	)
	for _, line := range strings.Split(text, "\n") {
		if inBlock {
			if strings.TrimSpace(line) == "" {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
				inBlock = false
				continue
			}
			current = append(current, line)
			continue
		}
		if strings.Contains(line, OCRMarker) {
			inBlock = true
			current = append(current, line)
			continue
		}
		restLines = append(restLines, line)
	}
	if inBlock {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return strings.Join(restLines, "\n"), blocks
}

// Address lowercases and trims an email address, unwrapping a
// "Name <addr>" display form if present. Returns "" when no address
// can be recovered.
func Address(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// DisplayName extracts the display-name part of a "Name <addr>" header
// value, falling back to the mailbox local part.
func DisplayName(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "<"); i > 0 {
		name := strings.Trim(strings.TrimSpace(s[:i]), `"`)
		if name != "" {
			return name
		}
	}
	addr := Address(raw)
	if addr == "" {
		return s
	}
	if i := strings.Index(addr, "@"); i > 0 {
		return addr[:i]
	}
	return addr
}
