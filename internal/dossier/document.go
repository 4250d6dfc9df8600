// Package dossier maintains the per-user long-term memory document: a
// markdown file with YAML front matter and seven append-only sections.
package dossier

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Section names a fixed part of the dossier.
type Section string

const (
	SectionRelationships Section = "relationships"
	SectionPreferences   Section = "preferences"
	SectionContext       Section = "context"
	SectionInsights      Section = "insights"
	SectionSummaries     Section = "summaries"
	SectionInterests     Section = "interests"
	SectionGoals         Section = "goals"
)

type sectionInfo struct {
	header  string
	comment string
}

var sectionOrder = []Section{
	SectionRelationships,
	SectionPreferences,
	SectionContext,
	SectionInsights,
	SectionSummaries,
	SectionInterests,
	SectionGoals,
}

var sections = map[Section]sectionInfo{
	SectionRelationships: {"## Relationships", "<!-- Format: **Name** (relationship type): Description -->"},
	SectionPreferences:   {"## Preferences", "<!-- Format: [category] insight (confidence: level) -->"},
	SectionContext:       {"## Context & Background", "<!-- Format: timeframe: reflection -->"},
	SectionInsights:      {"## Personality Insights", "<!-- Format: Freeform text with bullet points if needed -->"},
	SectionSummaries:     {"## Conversation Summaries", "<!-- Format: Bullet points summarizing key discussion topics -->"},
	SectionInterests:     {"## Interests & Hobbies", "<!-- Format: Bullet points or a list of topics/activities -->"},
	SectionGoals:         {"## Goals & Aspirations", "<!-- Format: Bullet points outlining personal or professional objectives -->"},
}

// Header returns the markdown heading line of s, e.g. "## Relationships".
func (s Section) Header() string {
	return sections[s].header
}

func (s Section) Valid() bool {
	_, ok := sections[s]
	return ok
}

// FrontMatter is the YAML block at the top of every dossier.
type FrontMatter struct {
	UserID string `yaml:"userId"`
	Name   string `yaml:"name"`
}

const fence = "---"

// NewDocument renders an empty dossier with every section header in place.
func NewDocument(userID, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = "Unknown"
	}
	fm, err := yaml.Marshal(FrontMatter{UserID: userID, Name: name})
	if err != nil {
		return "", fmt.Errorf("dossier: marshal front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString(fence + "\n")
	b.Write(fm)
	b.WriteString(fence + "\n")
	for _, s := range sectionOrder {
		info := sections[s]
		b.WriteString("\n" + info.header + "\n" + info.comment + "\n")
	}
	return b.String(), nil
}

// AppendEntry adds entry as the last line of section. Existing entries are
// kept; blank lines and format comments inside the section are normalised.
// A missing section is created at the end of the document.
func AppendEntry(doc string, section Section, entry string) (string, error) {
	info, ok := sections[section]
	if !ok {
		return "", fmt.Errorf("dossier: unknown section %q", section)
	}
	entry = singleLine(entry)
	if entry == "" {
		return "", errors.New("dossier: entry is empty")
	}

	lines := strings.Split(strings.TrimRight(doc, "\n"), "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == info.header {
			start = i
			break
		}
	}

	if start == -1 {
		block := []string{"", info.header, info.comment, entry}
		return strings.Join(append(lines, block...), "\n") + "\n", nil
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "## ") || trimmed == fence {
			end = i
			break
		}
	}

	updated := []string{info.header, info.comment}
	for _, line := range lines[start+1 : end] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "<!--") || strings.HasPrefix(trimmed, "-->") {
			continue
		}
		updated = append(updated, line)
	}
	updated = append(updated, entry)
	if end < len(lines) {
		updated = append(updated, "")
	}

	out := make([]string, 0, len(lines)+2)
	out = append(out, lines[:start]...)
	out = append(out, updated...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n") + "\n", nil
}

// singleLine folds model output onto one line so it cannot open a new
// heading or close the front matter.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitFrontMatter separates the YAML block from the markdown body.
func splitFrontMatter(doc string) (string, string, error) {
	if !strings.HasPrefix(doc, fence+"\n") {
		return "", "", errors.New("dossier: missing front matter")
	}
	rest := doc[len(fence)+1:]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return "", "", errors.New("dossier: unterminated front matter")
	}
	body := rest[idx+len(fence)+1:]
	return rest[:idx], strings.TrimLeft(body, "\r\n"), nil
}

// ParseFrontMatter decodes the YAML block of doc.
func ParseFrontMatter(doc string) (FrontMatter, error) {
	raw, _, err := splitFrontMatter(doc)
	if err != nil {
		return FrontMatter{}, err
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return FrontMatter{}, fmt.Errorf("dossier: parse front matter: %w", err)
	}
	return fm, nil
}

// Validate checks that doc is a well-formed dossier: parseable front matter
// naming a user, and no section heading repeated in the body.
func Validate(doc string) error {
	fm, err := ParseFrontMatter(doc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(fm.UserID) == "" {
		return errors.New("dossier: front matter has no userId")
	}
	_, body, err := splitFrontMatter(doc)
	if err != nil {
		return err
	}

	seen := make(map[string]int)
	for _, h := range headings([]byte(body)) {
		seen[h]++
	}
	for _, s := range sectionOrder {
		title := strings.TrimPrefix(sections[s].header, "## ")
		if seen[title] > 1 {
			return fmt.Errorf("dossier: section %q appears %d times", title, seen[title])
		}
	}
	return nil
}

// headings returns the text of every level-2 heading in src.
func headings(src []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))
	var out []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 2 {
			out = append(out, string(bytes.TrimSpace(h.Text(src))))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

// Entries returns the bullet lines currently stored under section.
func Entries(doc string, section Section) []string {
	info, ok := sections[section]
	if !ok {
		return nil
	}
	var out []string
	in := false
	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == info.header:
			in = true
		case strings.HasPrefix(trimmed, "## ") || trimmed == fence:
			in = false
		case in && trimmed != "" && !strings.HasPrefix(trimmed, "<!--"):
			out = append(out, trimmed)
		}
	}
	return out
}
