// Package wiki renders the wiki's markdown dialect to HTML.
//
// The dialect is line oriented: headings (#, ##, ###), list items (- ), blank
// spacer lines and paragraphs. Inline markup covers [[Target]] and
// [[Target|Label]] links, **bold** and [^N] footnote references; [^N]: text
// lines define footnotes and are collected into a trailing References block.
package wiki

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// EmptyPage is rendered for empty input.
const EmptyPage = `<p class="wiki-empty"><em>This page does not exist yet.</em></p>`

var (
	inlinePattern     = regexp.MustCompile(`\[\[.*?\]\]|\*\*.*?\*\*|\[\^[\w-]+\]`)
	definitionPattern = regexp.MustCompile(`^\[\^([\w-]+)\]:\s*(.*)$`)
	shortcodePattern  = regexp.MustCompile(`\{\{(\w+):([^}]+)\}\}`)
)

// PageSet is the set of existing page names links are resolved against.
type PageSet map[string]struct{}

func NewPageSet(names ...string) PageSet {
	set := make(PageSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (p PageSet) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// ShortcodeFunc returns the markdown that replaces {{kind:id}}.
type ShortcodeFunc func(id string) string

// Options control link resolution and shortcode expansion.
type Options struct {
	Pages      PageSet
	Shortcodes map[string]ShortcodeFunc
}

type footnote struct {
	key  string
	text string
}

// Render converts markdown to HTML.
func Render(markdown string, opts Options) string {
	if strings.TrimSpace(markdown) == "" {
		return EmptyPage
	}

	content := expandShortcodes(markdown, opts.Shortcodes)
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var notes []footnote
	index := map[string]int{}
	body := make([]string, 0, len(lines))
	for _, line := range lines {
		m := definitionPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			body = append(body, line)
			continue
		}
		if i, ok := index[m[1]]; ok {
			notes[i].text = m[2]
			continue
		}
		index[m[1]] = len(notes)
		notes = append(notes, footnote{key: m[1], text: m[2]})
	}

	var out strings.Builder
	for i, line := range body {
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(renderBlock(line, opts.Pages))
	}

	if len(notes) > 0 {
		out.WriteString("\n<section class=\"wiki-references\"><h2>References</h2><ol>")
		for _, n := range notes {
			fmt.Fprintf(&out, `<li id="ref-%s">%s</li>`, html.EscapeString(n.key), renderInline(n.text, opts.Pages))
		}
		out.WriteString("</ol></section>")
	}
	return out.String()
}

func expandShortcodes(content string, registry map[string]ShortcodeFunc) string {
	if len(registry) == 0 {
		return content
	}
	return shortcodePattern.ReplaceAllStringFunc(content, func(match string) string {
		m := shortcodePattern.FindStringSubmatch(match)
		fn, ok := registry[m[1]]
		if !ok {
			return match
		}
		return fn(strings.TrimSpace(m[2]))
	})
}

func renderBlock(line string, pages PageSet) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return `<div class="wiki-spacer"></div>`
	case strings.HasPrefix(trimmed, "### "):
		return "<h3>" + renderInline(trimmed[4:], pages) + "</h3>"
	case strings.HasPrefix(trimmed, "## "):
		return "<h2>" + renderInline(trimmed[3:], pages) + "</h2>"
	case strings.HasPrefix(trimmed, "# "):
		return "<h1>" + renderInline(trimmed[2:], pages) + "</h1>"
	case strings.HasPrefix(trimmed, "- "):
		return "<li>" + renderInline(trimmed[2:], pages) + "</li>"
	default:
		return "<p>" + renderInline(trimmed, pages) + "</p>"
	}
}

// renderInline escapes literal text and renders each inline token in a single
// left to right pass. Unbalanced markers stay literal.
func renderInline(text string, pages PageSet) string {
	var out strings.Builder
	last := 0
	for _, loc := range inlinePattern.FindAllStringIndex(text, -1) {
		out.WriteString(html.EscapeString(text[last:loc[0]]))
		out.WriteString(renderToken(text[loc[0]:loc[1]], pages))
		last = loc[1]
	}
	out.WriteString(html.EscapeString(text[last:]))
	return out.String()
}

func renderToken(token string, pages PageSet) string {
	switch {
	case strings.HasPrefix(token, "[["):
		return renderLink(token[2:len(token)-2], token, pages)
	case strings.HasPrefix(token, "**"):
		return "<strong>" + html.EscapeString(token[2:len(token)-2]) + "</strong>"
	default:
		key := html.EscapeString(token[2 : len(token)-1])
		return fmt.Sprintf(`<sup class="footnote-ref"><a href="#ref-%s">[%s]</a></sup>`, key, key)
	}
}

func renderLink(inner, raw string, pages PageSet) string {
	target, label, hasLabel := strings.Cut(inner, "|")
	target = strings.TrimSpace(target)
	if target == "" {
		return html.EscapeString(raw)
	}
	label = strings.TrimSpace(label)
	if !hasLabel || label == "" {
		label = target
	}
	state := "missing"
	if pages.Has(target) {
		state = "exists"
	}
	return fmt.Sprintf(`<a class="wiki-link %s" href="/wiki/%s" data-page="%s">%s</a>`,
		state, html.EscapeString(url.PathEscape(target)), html.EscapeString(target), html.EscapeString(label))
}

// Links returns the distinct link targets of a page in order of appearance.
func Links(markdown string) []string {
	var targets []string
	seen := map[string]struct{}{}
	for _, token := range inlinePattern.FindAllString(markdown, -1) {
		if !strings.HasPrefix(token, "[[") {
			continue
		}
		target, _, _ := strings.Cut(token[2:len(token)-2], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	return targets
}

var linkPattern = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Markdown rewrites wiki links as standard markdown links and expands
// shortcodes, so the page can be handed to a CommonMark renderer.
func Markdown(markdown string, opts Options) string {
	content := expandShortcodes(markdown, opts.Shortcodes)
	return linkPattern.ReplaceAllStringFunc(content, func(match string) string {
		inner := match[2 : len(match)-2]
		target, label, hasLabel := strings.Cut(inner, "|")
		target = strings.TrimSpace(target)
		if target == "" {
			return match
		}
		label = strings.TrimSpace(label)
		if !hasLabel || label == "" {
			label = target
		}
		return "[" + label + "](/wiki/" + url.PathEscape(target) + ")"
	})
}
