// Package paster prepares collected tabs as file attachments and holds the
// script that pastes them into an LLM chat page.
package paster

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/tabtalk/internal/types"
)

const markdownType = "text/markdown"

// File is one attachment as the paste script builds it. Binary local files
// travel base64 encoded.
type File struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
}

// SelectedTabsData answers get-selected-tabs-data.
type SelectedTabsData struct {
	Tabs          []*types.CollectedTabInfo `json:"tabs"`
	PromptContent string                    `json:"prompt_content,omitempty"`
	Files         []File                    `json:"files"`
}

var unsafeName = regexp.MustCompile(`(?i)[^a-z0-9\-_]+`)

// FileName derives the attachment name for the i-th tab.
func FileName(title string, i int) string {
	if title == "" {
		title = fmt.Sprintf("tab-%d", i+1)
	}
	return unsafeName.ReplaceAllString(title, "_") + ".md"
}

// FileContent prefixes a tab's content with the reading instructions.
func FileContent(tab *types.CollectedTabInfo, i int) string {
	title := tab.Title
	if title == "" {
		title = fmt.Sprintf("Tab %d", i+1)
	}
	content := tab.Content
	if content == "" {
		content = "<no content>"
	}
	preamble := fmt.Sprintf("Please treat this as the content of a web page titled \"%s\" (URL: %s). "+
		"If a <selectedText> section is present, please pay special attention to it and consider it higher priority than the rest of the content.",
		title, tab.URL)
	return strings.Join([]string{preamble, "---", content}, "\n\n")
}

// Prepare builds the response for a paste. Tabs with no content get no file;
// local files are appended after the tabs. Unreadable local files are
// reported in skipped rather than failing the paste.
func Prepare(tabs []*types.CollectedTabInfo, prompt string, localFiles []string) (SelectedTabsData, []error) {
	data := SelectedTabsData{
		Tabs:          tabs,
		PromptContent: strings.TrimSpace(prompt),
		Files:         make([]File, 0, len(tabs)+len(localFiles)),
	}
	for i, tab := range tabs {
		if tab == nil || tab.Content == "" {
			continue
		}
		data.Files = append(data.Files, File{
			Name:    FileName(tab.Title, i),
			Content: FileContent(tab, i),
			Type:    markdownType,
		})
	}

	var skipped []error
	for _, path := range localFiles {
		f, err := LocalFile(path)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		data.Files = append(data.Files, f)
	}
	return data, skipped
}

// LocalFile reads a file from disk as an attachment. The MIME type comes
// from the extension; text is sent as is and anything else as base64.
func LocalFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("paster: local file: %w", err)
	}
	name := filepath.Base(path)
	typ := detectType(name)

	if isText(typ) && utf8.Valid(raw) {
		return File{Name: name, Content: string(raw), Type: typ}, nil
	}
	return File{
		Name:     name,
		Content:  base64.StdEncoding.EncodeToString(raw),
		Type:     typ,
		Encoding: "base64",
	}, nil
}

func detectType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return markdownType
	case "":
		return "application/octet-stream"
	}
	typ := mime.TypeByExtension(ext)
	if typ == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	return typ
}

func isText(typ string) bool {
	if strings.HasPrefix(typ, "text/") {
		return true
	}
	switch typ {
	case "application/json", "application/xml", "application/javascript", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}
