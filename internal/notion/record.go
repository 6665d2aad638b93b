package notion

import (
	"encoding/json"
	"strings"
)

// RecordMap is the subset of Notion's recordMap the renderer reads.
type RecordMap struct {
	Block map[string]*Block `json:"block"`
}

// Block is one recordMap entry. Some API versions nest the value one level
// deeper ({"value":{"value":{...}}}); both shapes decode to the same Block.
type Block struct {
	Role  string      `json:"role,omitempty"`
	Value *BlockValue `json:"value"`
}

type mediaSource struct {
	External *struct {
		URL string `json:"url"`
	} `json:"external,omitempty"`
	File *struct {
		URL string `json:"url"`
	} `json:"file,omitempty"`
	Name string `json:"name,omitempty"`
}

func (m *mediaSource) url() string {
	if m == nil {
		return ""
	}
	if m.External != nil && m.External.URL != "" {
		return m.External.URL
	}
	if m.File != nil {
		return m.File.URL
	}
	return ""
}

type BlockValue struct {
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	ParentID   string                     `json:"parent_id,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Format     map[string]any             `json:"format,omitempty"`
	Content    []string                   `json:"content,omitempty"`

	Image    *mediaSource `json:"image,omitempty"`
	Video    *mediaSource `json:"video,omitempty"`
	File     *mediaSource `json:"file,omitempty"`
	PDF      *mediaSource `json:"pdf,omitempty"`
	Bookmark *struct {
		URL string `json:"url"`
	} `json:"bookmark,omitempty"`
	LinkToPage *struct {
		PageID string `json:"page_id"`
	} `json:"link_to_page,omitempty"`
	Embed *struct {
		URL string `json:"url"`
	} `json:"embed,omitempty"`
	Icon *struct {
		Emoji string `json:"emoji"`
	} `json:"icon,omitempty"`
	Expression string          `json:"expression,omitempty"`
	SyncedFrom json.RawMessage `json:"synced_from,omitempty"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role  string          `json:"role"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Role = aux.Role
	if len(aux.Value) == 0 || string(aux.Value) == "null" {
		b.Value = nil
		return nil
	}

	var probe struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
		Role  string          `json:"role"`
	}
	if err := json.Unmarshal(aux.Value, &probe); err != nil {
		return err
	}
	raw := aux.Value
	if probe.Type == "" && len(probe.Value) > 0 && string(probe.Value) != "null" {
		raw = probe.Value
		if b.Role == "" {
			b.Role = probe.Role
		}
	}

	var v BlockValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	b.Value = &v
	return nil
}

func (v *BlockValue) formatString(key string) string {
	if v.Format == nil {
		return ""
	}
	s, _ := v.Format[key].(string)
	return s
}

func (v *BlockValue) formatStrings(key string) []string {
	if v.Format == nil {
		return nil
	}
	items, _ := v.Format[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// firstText returns property[0][0], used for flags like checked or language.
func (v *BlockValue) firstText(prop string) string {
	raw, ok := v.Properties[prop]
	if !ok {
		return ""
	}
	var runs [][]any
	if err := json.Unmarshal(raw, &runs); err != nil || len(runs) == 0 || len(runs[0]) == 0 {
		return ""
	}
	s, _ := runs[0][0].(string)
	return s
}

// RichText resolves Notion's [text, [[code, param], ...]] runs to markdown.
func RichText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var runs []any
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}

	var sb strings.Builder
	for _, run := range runs {
		switch r := run.(type) {
		case string:
			sb.WriteString(r)
		case []any:
			if len(r) == 0 {
				continue
			}
			text, _ := r[0].(string)
			if len(r) > 1 {
				if marks, ok := r[1].([]any); ok {
					text = annotate(text, marks)
				}
			}
			sb.WriteString(text)
		}
	}
	return sb.String()
}

func annotate(text string, marks []any) string {
	for _, m := range marks {
		mark, ok := m.([]any)
		if !ok || len(mark) == 0 {
			continue
		}
		code, _ := mark[0].(string)
		var param string
		if len(mark) > 1 {
			param, _ = mark[1].(string)
		}
		switch code {
		case "b":
			text = "**" + text + "**"
		case "i":
			text = "*" + text + "*"
		case "c":
			text = "`" + text + "`"
		case "s":
			text = "~~" + text + "~~"
		case "_":
			text = "<u>" + text + "</u>"
		case "a":
			text = "[" + text + "](" + param + ")"
		case "h":
			if param == "yellow" {
				text = "==" + text + "=="
			}
		}
	}
	return text
}

// plainTitle joins the text of every run without annotations.
func plainTitle(raw json.RawMessage) string {
	var runs []any
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, run := range runs {
		switch r := run.(type) {
		case string:
			sb.WriteString(r)
		case []any:
			if len(r) > 0 {
				s, _ := r[0].(string)
				sb.WriteString(s)
			}
		}
	}
	return sb.String()
}
