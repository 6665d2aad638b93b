package youtube

import "strings"

// Video is what the watch-page script scrapes. Empty fields fall back to
// placeholders when formatted.
type Video struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channel"`
	Captions    string `json:"captions"`
}

func (v Video) Format() string {
	title := strings.TrimSpace(v.Title)
	if title == "" {
		title = "no title"
	}
	desc := NormalizeDescription(v.Description)
	if desc == "" {
		desc = "no description"
	}
	channel := strings.TrimSpace(v.Channel)
	if channel == "" {
		channel = "unknown channel"
	}
	captions := v.Captions
	if strings.TrimSpace(captions) == "" {
		captions = "no captions"
	}

	return strings.Join([]string{
		"Video title: " + title,
		"Description: " + desc,
		"Channel: " + channel,
		"Captions:\n" + captions,
	}, "\n\n")
}

// NormalizeDescription trims every line and drops blank ones.
func NormalizeDescription(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
