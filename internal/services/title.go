package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
)

// TitleService derives chat titles from prompts and versions branch titles.
type TitleService struct {
	// TitleLocale controls title casing. English when unset.
	TitleLocale language.Tag

	// TitleMaxLen caps generated titles in runes. 60 when unset.
	TitleMaxLen int
}

// ShouldAutoTitle reports whether the current title is a placeholder that
// the first prompt should replace.
func (s *TitleService) ShouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// FromPrompt derives a concise title from the first user prompt.
func (s *TitleService) FromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.localeOrDefault())
	out := make([]string, 0, 8)

	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return s.clip(strings.Join(out, " "))
}

// VersionTitle produces the title of a regenerate branch. A title already
// carrying a "[N] " version marker increments N; any other title becomes
// its second version.
func (s *TitleService) VersionTitle(title string) string {
	if m := versionTitleRE.FindStringSubmatch(title); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return fmt.Sprintf("[%d] %s", n+1, m[2])
		}
	}
	return fmt.Sprintf("[2] %s", title)
}

func (s *TitleService) clip(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

func (s *TitleService) localeOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// versionTitleRE matches a leading "[N] " version marker.
var versionTitleRE = regexp.MustCompile(`^\[(\d+)\]\s(.*)$`)

// titleWordRE extracts Unicode letters with optional trailing numbers.
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// titleStopWords is a minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"what": {}, "how": {}, "why": {}, "please": {}, "me": {}, "my": {}, "can": {},
	"you": {}, "i": {}, "we": {}, "it": {}, "this": {}, "that": {}, "about": {},
}
