package notion

import (
	"log/slog"
	"sort"
	"strings"
)

const pageURLBase = "https://www.notion.so/"

// Render converts the page rooted at pageID to markdown, prefixed with an H1
// of the page title. It returns false when the root block is missing.
func Render(rm *RecordMap, pageID string) (string, bool) {
	if rm == nil || rm.Block == nil {
		return "", false
	}
	root := rm.Block[pageID]
	if root == nil || root.Value == nil {
		return "", false
	}

	title := plainTitle(root.Value.Properties["title"])
	if title == "" {
		title = "Untitled"
	}

	r := &renderer{blocks: rm.Block, pageID: pageID, visited: make(map[string]bool)}
	body := r.render(root)
	return strings.TrimSpace("# " + title + "\n\n" + body), true
}

type renderer struct {
	blocks  map[string]*Block
	pageID  string
	visited map[string]bool
}

func (r *renderer) children(v *BlockValue) string {
	if len(v.Content) == 0 {
		return ""
	}
	out := make([]string, 0, len(v.Content))
	for _, id := range v.Content {
		if md := r.render(r.blocks[id]); md != "" {
			out = append(out, md)
		}
	}
	return strings.Join(out, "\n")
}

func (r *renderer) render(b *Block) string {
	if b == nil || b.Value == nil {
		return ""
	}
	v := b.Value
	if v.ID != "" {
		if r.visited[v.ID] {
			return ""
		}
		r.visited[v.ID] = true
	}

	title := RichText(v.Properties["title"])
	caption := RichText(v.Properties["caption"])
	children := r.children(v)

	switch v.Type {
	case "page":
		if v.ID == r.pageID {
			return children
		}
		return "[" + title + "](" + pageURLBase + undashed(v.ID) + ")"

	case "paragraph", "text":
		if title == "" {
			return children
		}
		return title + "\n\n" + children

	case "heading_1", "header":
		return "# " + title + "\n\n" + children
	case "heading_2", "sub_header":
		return "## " + title + "\n\n" + children
	case "heading_3", "sub_sub_header":
		return "### " + title + "\n\n" + children

	case "bulleted_list_item", "bulleted_list":
		return withIndented("- "+title, children)
	case "numbered_list_item", "numbered_list":
		return withIndented("1. "+title, children)
	case "to_do":
		box := "[ ]"
		if v.firstText("checked") == "Yes" {
			box = "[x]"
		}
		return withIndented("- "+box+" "+title, children)

	case "quote":
		lines := strings.Split(title, "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n") + "\n\n" + children

	case "code":
		lang := v.formatString("code_language")
		if lang == "" {
			lang = v.firstText("language")
		}
		code := v.Properties["code"]
		if code == nil {
			code = v.Properties["title"]
		}
		return "```" + lang + "\n" + RichText(code) + "\n```\n\n" + children

	case "callout":
		icon := v.formatString("page_icon")
		if icon == "" && v.Icon != nil {
			icon = v.Icon.Emoji
		}
		if icon == "" {
			icon = "💡"
		}
		prefix := "> " + icon + " "
		if color := v.formatString("block_color"); color != "" && color != "default" {
			prefix = "> **" + icon + " " + title + "**\n> "
		}
		return prefix + title + "\n\n" + children

	case "toggle":
		return "<details>\n<summary>" + title + "</summary>\n\n" + children + "\n</details>\n\n"

	case "divider":
		return "---\n\n"

	case "image":
		label := firstNonEmpty(caption, title, "Image")
		return "![" + label + "](" + firstNonEmpty(v.formatString("display_source"), v.Image.url()) + ")\n\n" + children
	case "video":
		return "[📹 Video: " + firstNonEmpty(title, "Video") + "](" + firstNonEmpty(v.formatString("display_source"), v.Video.url()) + ")\n\n" + children
	case "file":
		name := title
		if name == "" && v.File != nil {
			name = v.File.Name
		}
		return "[📁 " + firstNonEmpty(name, "File") + "](" + firstNonEmpty(v.formatString("display_source"), v.File.url()) + ")\n\n" + children
	case "pdf":
		return "[📄 PDF: " + firstNonEmpty(title, "PDF") + "](" + firstNonEmpty(v.formatString("display_source"), v.PDF.url()) + ")\n\n" + children

	case "bookmark":
		u := v.formatString("bookmark_url")
		if u == "" && v.Bookmark != nil {
			u = v.Bookmark.URL
		}
		return "[🔖 " + firstNonEmpty(title, u) + "](" + u + ")\n\n" + children
	case "link_to_page":
		var linked string
		if v.LinkToPage != nil {
			linked = v.LinkToPage.PageID
		}
		return "[📄 " + firstNonEmpty(title, "Linked Page") + "](" + pageURLBase + undashed(linked) + ")\n\n" + children
	case "embed":
		var u string
		if v.Embed != nil {
			u = v.Embed.URL
		}
		u = firstNonEmpty(u, v.formatString("display_source"))
		return "[🔗 " + firstNonEmpty(title, u) + "](" + u + ")\n\n" + children

	case "column_list":
		return children + "\n\n"
	case "column":
		return children

	case "table":
		return r.table(v, children)
	case "table_row":
		keys := make([]string, 0, len(v.Properties))
		for k := range v.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cells := make([]string, 0, len(keys))
		for _, k := range keys {
			cells = append(cells, firstNonEmpty(RichText(v.Properties[k]), " "))
		}
		return "| " + strings.Join(cells, " | ") + " |"

	case "equation":
		expr := firstNonEmpty(v.Expression, v.firstText("title"))
		return "$$" + expr + "$$\n\n" + children
	case "table_of_contents":
		return "**Table of Contents**\n\n" + children
	case "breadcrumb":
		return "🏠 Breadcrumb\n\n" + children
	case "synced_block":
		if len(v.SyncedFrom) > 0 && string(v.SyncedFrom) != "null" {
			return "*[Synced from another block]*\n\n" + children
		}
		return children
	case "template":
		return "**Template:** " + title + "\n\n" + children

	default:
		slog.Warn("notion unknown block type", "type", v.Type, "block_id", v.ID)
		if title == "" {
			return children
		}
		return title + "\n\n" + children
	}
}

// table rebuilds rows from table_row children in the stored column order and
// inserts a separator after the first row.
func (r *renderer) table(v *BlockValue, children string) string {
	if children == "" {
		return ""
	}
	order := v.formatStrings("table_block_column_order")

	var rows []string
	for _, id := range v.Content {
		child := r.blocks[id]
		if child == nil || child.Value == nil || child.Value.Type != "table_row" {
			continue
		}
		cells := make([]string, 0, len(order))
		for _, col := range order {
			cells = append(cells, firstNonEmpty(RichText(child.Value.Properties[col]), " "))
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
	}
	if len(rows) == 0 {
		return children
	}

	cols := len(strings.Split(rows[0], "|")) - 2
	if cols < 0 {
		cols = 0
	}
	seps := make([]string, cols)
	for i := range seps {
		seps[i] = "---"
	}
	sep := "| " + strings.Join(seps, " | ") + " |"

	out := make([]string, 0, len(rows)+1)
	out = append(out, rows[0], sep)
	out = append(out, rows[1:]...)
	return strings.Join(out, "\n") + "\n\n"
}

func withIndented(head, children string) string {
	if children == "" {
		return head
	}
	var lines []string
	for _, l := range strings.Split(children, "\n") {
		if l != "" {
			lines = append(lines, "  "+l)
		}
	}
	if len(lines) == 0 {
		return head
	}
	return head + "\n" + strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
