package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Right is a single IMAP ACL right (RFC 4314).
type Right rune

const (
	RightAdminister     Right = 'a'
	RightExpunge        Right = 'e'
	RightInsert         Right = 'i'
	RightLookup         Right = 'l'
	RightRead           Right = 'r'
	RightWriteSeen      Right = 's'
	RightDeleteMessages Right = 't'
	RightWrite          Right = 'w'
)

var knownRights = map[Right]bool{
	RightAdminister:     true,
	RightExpunge:        true,
	RightInsert:         true,
	RightLookup:         true,
	RightRead:           true,
	RightWriteSeen:      true,
	RightDeleteMessages: true,
	RightWrite:          true,
}

// Rights parsing errors.
var (
	ErrRightNotSingleChar = errors.New("rights should be represented as single value characters")
	ErrUnknownRight       = errors.New("unknown right")
	ErrInvalidSharee      = errors.New("invalid sharee")
)

// ParseRight parses a right given as a one-character string.
func ParseRight(s string) (Right, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, ErrRightNotSingleChar
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !knownRights[Right(r)] {
		return 0, &RightError{Value: s}
	}
	return Right(r), nil
}

// RightError names a right outside the allowed set. It matches
// ErrUnknownRight.
type RightError struct {
	Value string
}

func (e *RightError) Error() string {
	return fmt.Sprintf("No matching right for '%s'", e.Value)
}

// Is reports whether target is ErrUnknownRight.
func (e *RightError) Is(target error) bool {
	return target == ErrUnknownRight
}

// ACL maps a sharee (user@domain) to the rights granted.
type ACL map[string][]Right

// ParseACL parses the sharedWith object of a mailbox patch.
func ParseACL(raw map[string]any) (ACL, error) {
	acl := make(ACL, len(raw))
	for user, v := range raw {
		if _, _, ok := strings.Cut(user, "@"); !ok {
			return nil, fmt.Errorf("%w: '%s' is not a user@domain address", ErrInvalidSharee, user)
		}
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: rights of '%s' must be an array", ErrRightNotSingleChar, user)
		}
		rights := make([]Right, 0, len(list))
		seen := make(map[Right]bool, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, ErrRightNotSingleChar
			}
			right, err := ParseRight(s)
			if err != nil {
				return nil, err
			}
			if !seen[right] {
				seen[right] = true
				rights = append(rights, right)
			}
		}
		sort.Slice(rights, func(i, j int) bool { return rights[i] < rights[j] })
		acl[user] = rights
	}
	return acl, nil
}

// Domains returns the set of sharee domains.
func (a ACL) Domains() map[string]bool {
	out := make(map[string]bool, len(a))
	for user := range a {
		if _, domain, ok := strings.Cut(user, "@"); ok {
			out[strings.ToLower(domain)] = true
		}
	}
	return out
}

// RightsString renders the rights of one sharee, e.g. "lr".
func RightsString(rights []Right) string {
	var b strings.Builder
	for _, r := range rights {
		b.WriteRune(rune(r))
	}
	return b.String()
}

// ToMap renders the ACL for a response.
func (a ACL) ToMap() map[string]any {
	out := make(map[string]any, len(a))
	for user, rights := range a {
		list := make([]string, len(rights))
		for i, r := range rights {
			list[i] = string(rune(r))
		}
		out[user] = list
	}
	return out
}
