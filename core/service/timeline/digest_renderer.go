package timeline

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"digest_server/core/domain"
)

// Renderer writes a digest as plain text or HTML. Both renderings share
// the same section walk so counts and numbering always agree.
type Renderer struct {
	displayNames map[domain.EmailType]string

	// PlainTextFallback embeds the text rendering at the end of the HTML
	// document for mail clients that strip markup.
	PlainTextFallback bool
}

// NewRenderer builds a renderer over the seeded category catalog.
// Types missing from the catalog fall back to their identifier.
func NewRenderer(categories []domain.Category) *Renderer {
	names := make(map[domain.EmailType]string, len(categories))
	for _, c := range categories {
		names[c.Type] = c.DisplayName
	}
	return &Renderer{displayNames: names}
}

// RenderText renders the digest for terminals and plain-text mail.
// Items are numbered continuously across sections so a reference like
// "item 3" stays stable however the sections fill up.
func (r *Renderer) RenderText(d *domain.Digest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "INBOX DIGEST - %s\n", d.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "%d emails processed\n", d.TotalEmails)
	if d.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Summary)
	}

	n := 0
	for _, section := range domain.LabeledSections {
		items := d.ItemsIn(section)
		fmt.Fprintf(&b, "\n%s (%d)\n", section, d.SectionCounts[section])
		if len(items) == 0 {
			b.WriteString("  (nothing)\n")
			continue
		}
		for _, item := range items {
			n++
			fmt.Fprintf(&b, "  %d. %s\n", n, item.Title)
			if item.Snippet != "" {
				fmt.Fprintf(&b, "     %s\n", item.Snippet)
			}
			if item.ThreadLink != "" {
				fmt.Fprintf(&b, "     %s\n", item.ThreadLink)
			}
		}
	}

	fmt.Fprintf(&b, "\n%s (%d)\n", domain.SectionEverythingElse,
		d.SectionCounts[domain.SectionEverythingElse])
	for _, line := range r.noiseLines(d) {
		fmt.Fprintf(&b, "  - %s\n", line)
	}

	return b.String()
}

// RenderHTML renders the digest for HTML mail clients.
func (r *Renderer) RenderHTML(d *domain.Digest) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html><body>\n")
	fmt.Fprintf(&b, "<h1>Inbox Digest</h1>\n<p>%s &middot; %d emails processed</p>\n",
		d.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"), d.TotalEmails)
	if d.Summary != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(d.Summary))
	}

	for _, section := range domain.LabeledSections {
		items := d.ItemsIn(section)
		fmt.Fprintf(&b, "<h2>%s (%d)</h2>\n", html.EscapeString(string(section)), d.SectionCounts[section])
		if len(items) == 0 {
			b.WriteString("<p><em>(nothing)</em></p>\n")
			continue
		}
		b.WriteString("<ol>\n")
		for _, item := range items {
			b.WriteString("<li>")
			if item.ThreadLink != "" {
				fmt.Fprintf(&b, `<a href="%s">%s</a>`, item.ThreadLink, html.EscapeString(item.Title))
			} else {
				b.WriteString(html.EscapeString(item.Title))
			}
			if item.Snippet != "" {
				fmt.Fprintf(&b, "<br/><small>%s</small>", html.EscapeString(item.Snippet))
			}
			b.WriteString("</li>\n")
		}
		b.WriteString("</ol>\n")
	}

	fmt.Fprintf(&b, "<h2>%s (%d)</h2>\n", domain.SectionEverythingElse,
		d.SectionCounts[domain.SectionEverythingElse])
	if lines := r.noiseLines(d); len(lines) > 0 {
		b.WriteString("<ul>\n")
		for _, line := range lines {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(line))
		}
		b.WriteString("</ul>\n")
	}
	if r.PlainTextFallback {
		fmt.Fprintf(&b, "<hr/>\n<pre>\n%s</pre>\n", html.EscapeString(r.RenderText(d)))
	}
	b.WriteString("</body></html>\n")

	return b.String()
}

// noiseLines renders the noise breakdown, largest type first, ties by
// name so output never depends on map order.
func (r *Renderer) noiseLines(d *domain.Digest) []string {
	types := make([]domain.EmailType, 0, len(d.NoiseBreakdown))
	for t := range d.NoiseBreakdown {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if d.NoiseBreakdown[types[i]] != d.NoiseBreakdown[types[j]] {
			return d.NoiseBreakdown[types[i]] > d.NoiseBreakdown[types[j]]
		}
		return types[i] < types[j]
	})

	lines := make([]string, 0, len(types))
	for _, t := range types {
		count := d.NoiseBreakdown[t]
		noun := "threads"
		if count == 1 {
			noun = "thread"
		}
		lines = append(lines, fmt.Sprintf("%s: %d %s", r.displayName(t), count, noun))
	}
	return lines
}

func (r *Renderer) displayName(t domain.EmailType) string {
	if name, ok := r.displayNames[t]; ok && name != "" {
		return name
	}
	return string(t)
}
