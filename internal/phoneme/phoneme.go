// Package phoneme applies ordered lexicon substitutions and IPA tags to a
// text fragment before it is handed to the SSML builder.
package phoneme

import (
	"strings"
	"unicode/utf8"
)

// Rule is one entry of a phoneme table. Exactly one of IPA or Substitute
// should be set; IPA wraps Match in the vendor's phoneme markup, Substitute
// replaces Match literally.
type Rule struct {
	Match      string `json:"match"`
	IPA        string `json:"ipa,omitempty"`
	Substitute string `json:"substitute,omitempty"`
}

// Table is an ordered phoneme lexicon. Rules are tried left-to-right at
// each position; the first matching rule wins when two rules share a
// prefix.
type Table []Rule

// Transform strips bracketed asides and the given illegal control
// characters, then replaces table matches left-to-right, non-overlapping.
// It is a pure function: equal inputs always yield equal output.
func Transform(text string, table Table, illegal []rune) string {
	text = stripBrackets(text)
	text = stripIllegal(text, illegal)
	return substitute(text, table)
}

func stripBrackets(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func stripIllegal(text string, illegal []rune) string {
	if len(illegal) == 0 {
		return text
	}
	bad := make(map[rune]struct{}, len(illegal))
	for _, r := range illegal {
		bad[r] = struct{}{}
	}
	var b strings.Builder
	for _, r := range text {
		if _, ok := bad[r]; ok {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// substitute scans text left-to-right. At each position it tries every
// table rule in order and applies the first one whose Match is a prefix of
// the remaining text, advancing past the match; otherwise it copies one
// rune and advances by one.
func substitute(text string, table Table) string {
	var b strings.Builder
	remaining := text
	for len(remaining) > 0 {
		rule, ok := firstMatch(remaining, table)
		if ok {
			if rule.IPA != "" {
				b.WriteString(`<phoneme alphabet="ipa" ph="` + rule.IPA + `">` + rule.Match + `</phoneme>`)
			} else {
				b.WriteString(rule.Substitute)
			}
			remaining = remaining[len(rule.Match):]
			continue
		}
		r, size := utf8.DecodeRuneInString(remaining)
		b.WriteRune(r)
		remaining = remaining[size:]
	}
	return b.String()
}

func firstMatch(remaining string, table Table) (Rule, bool) {
	for _, rule := range table {
		if rule.Match == "" {
			continue
		}
		if strings.HasPrefix(remaining, rule.Match) {
			return rule, true
		}
	}
	return Rule{}, false
}
