package email

import (
	"errors"
	"strings"
)

// Reserved keywords.
const (
	KeywordDraft     = "$draft"
	KeywordSeen      = "$seen"
	KeywordAnswered  = "$answered"
	KeywordForwarded = "$forwarded"
	KeywordFlagged   = "$flagged"
)

// Keyword validation errors.
var (
	ErrKeywordEmpty         = errors.New("keyword must not be empty")
	ErrKeywordTooLong       = errors.New("keyword must not exceed 255 characters")
	ErrKeywordInvalidChar   = errors.New("keyword contains invalid character")
	ErrKeywordForbiddenChar = errors.New("keyword contains forbidden character")
)

// Characters RFC 8621 forbids in keywords.
var forbiddenChars = map[rune]bool{
	'(':  true,
	')':  true,
	'{':  true,
	']':  true,
	'%':  true,
	'*':  true,
	'"':  true,
	'\\': true,
}

// ValidateKeyword validates a keyword per RFC 8621 rules.
// Keywords must be 1-255 characters, ASCII 0x21-0x7E only,
// and must not contain ( ) { ] % * " \.
func ValidateKeyword(keyword string) error {
	if keyword == "" {
		return ErrKeywordEmpty
	}

	if len(keyword) > 255 {
		return ErrKeywordTooLong
	}

	for _, r := range keyword {
		if r < 0x21 || r > 0x7E {
			return ErrKeywordInvalidChar
		}
		if forbiddenChars[r] {
			return ErrKeywordForbiddenChar
		}
	}

	return nil
}

// NormalizeKeyword converts a keyword to lowercase.
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(keyword)
}

// KeywordMode selects how a keyword set is applied to an email.
type KeywordMode int

const (
	// KeywordsReplace makes the given set the email's complete keyword set.
	KeywordsReplace KeywordMode = iota
	// KeywordsAdd adds the given keywords to the existing set.
	KeywordsAdd
	// KeywordsRemove removes the given keywords from the existing set.
	KeywordsRemove
)

// ApplyKeywords returns the keyword set that results from applying keywords
// to current with the given mode. current is not modified.
func ApplyKeywords(current, keywords map[string]bool, mode KeywordMode) map[string]bool {
	out := make(map[string]bool, len(current)+len(keywords))
	if mode != KeywordsReplace {
		for k, v := range current {
			if v {
				out[k] = true
			}
		}
	}
	for k, v := range keywords {
		if !v {
			continue
		}
		k = NormalizeKeyword(k)
		switch mode {
		case KeywordsReplace, KeywordsAdd:
			out[k] = true
		case KeywordsRemove:
			delete(out, k)
		}
	}
	return out
}
