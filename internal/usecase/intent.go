package usecase

import (
	"strings"
	"unicode"
)

// Intent is what a reply at the video-or-edit decision asks for.
type Intent int

const (
	IntentNone Intent = iota
	IntentProceed
	IntentEdit
)

var (
	DefaultProceedTokens = []string{"video", "animate", "animation", "yes", "yeah", "yep", "proceed", "proceed to video"}
	DefaultEditTokens    = []string{"edit", "change", "modify", "make another edit"}
)

// vocabulary holds single-word tokens and multi-word phrases.
type vocabulary struct {
	words   map[string]struct{}
	phrases []string
}

func newVocabulary(tokens []string) vocabulary {
	v := vocabulary{words: make(map[string]struct{})}
	for _, t := range tokens {
		n := normalizeText(t)
		switch {
		case n == "":
		case strings.Contains(n, " "):
			v.phrases = append(v.phrases, n)
		default:
			v.words[n] = struct{}{}
		}
	}
	return v
}

func (v vocabulary) matches(normalized string, words []string) bool {
	for _, w := range words {
		if _, ok := v.words[w]; ok {
			return true
		}
	}
	for _, p := range v.phrases {
		if normalized == p || strings.HasPrefix(normalized, p+" ") {
			return true
		}
	}
	return false
}

// IntentMatcher classifies replies against closed token lists. A token
// matches a whole word anywhere in the reply; a phrase matches the start of
// the reply. Substrings of longer words never match.
type IntentMatcher struct {
	proceed vocabulary
	edit    vocabulary
}

func NewIntentMatcher(proceed, edit []string) IntentMatcher {
	if len(proceed) == 0 {
		proceed = DefaultProceedTokens
	}
	if len(edit) == 0 {
		edit = DefaultEditTokens
	}
	return IntentMatcher{proceed: newVocabulary(proceed), edit: newVocabulary(edit)}
}

// Classify returns IntentNone when nothing matches or both intents do.
func (m IntentMatcher) Classify(body string) Intent {
	normalized := normalizeText(body)
	if normalized == "" {
		return IntentNone
	}
	words := strings.Fields(normalized)
	proceed := m.proceed.matches(normalized, words)
	edit := m.edit.matches(normalized, words)
	switch {
	case proceed && !edit:
		return IntentProceed
	case edit && !proceed:
		return IntentEdit
	default:
		return IntentNone
	}
}

// normalizeText lower-cases s, turns punctuation into spaces and collapses
// runs of whitespace.
func normalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if r == '\'' || r == '’' {
			return -1
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
