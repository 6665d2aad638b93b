package extract

import "strings"

const (
	noContent = "no content"

	selOpen      = "<selectedText>\n"
	selClose     = "\n</selectedText>"
	contentOpen  = "<content>\n"
	contentClose = "\n</content>"
)

// Wrap builds the final content field: an optional <selectedText> block
// followed by the <content> block, separated by a blank line.
func Wrap(selected, content string) string {
	if content == "" {
		content = noContent
	}
	body := contentOpen + content + contentClose

	selected = strings.TrimSpace(selected)
	if selected == "" {
		return body
	}
	return selOpen + selected + selClose + "\n\n" + body
}

// Unwrap splits a wrapped document back into its selection and content.
// ok is false when no <content> block is present.
func Unwrap(doc string) (selected, content string, ok bool) {
	rest := doc
	if strings.HasPrefix(rest, selOpen) {
		end := strings.Index(rest, selClose+"\n\n"+contentOpen)
		if end < 0 {
			return "", "", false
		}
		selected = rest[len(selOpen):end]
		rest = rest[end+len(selClose)+2:]
	}

	if !strings.HasPrefix(rest, contentOpen) || !strings.HasSuffix(rest, contentClose) {
		return "", "", false
	}
	if len(rest) < len(contentOpen)+len(contentClose) {
		return "", "", false
	}
	return selected, rest[len(contentOpen) : len(rest)-len(contentClose)], true
}
