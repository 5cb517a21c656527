package types

import (
	"fmt"
	"regexp"
	"strings"
)

// SepChars are the separator characters permitted between a document
// prefix and an item number or name.
const SepChars = "-_."

// Prefix is a document's unique identifying prefix. Prefixes compare
// case-insensitively.
type Prefix string

// NewPrefix normalizes a raw value into a prefix, keeping only the
// first whitespace-delimited token.
func NewPrefix(value string) Prefix {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return Prefix(fields[0])
}

// Equal reports case-insensitive equality.
func (p Prefix) Equal(other Prefix) bool {
	return strings.EqualFold(string(p), string(other))
}

// Short returns the lowercased form used for case-insensitive keying.
func (p Prefix) Short() string { return strings.ToLower(string(p)) }

func (p Prefix) String() string { return string(p) }

// uidPattern splits a numbered UID into its prefix and number parts.
var uidPattern = regexp.MustCompile(`^([\w.-]*\D)(\d+)$`)

// UID identifies an item across the whole tree: a document prefix, an
// optional separator, and a number or free-form name. UIDs are
// immutable and compare by their normalized, case-insensitive string
// form.
type UID struct {
	value  string
	prefix Prefix
	number int
	name   string
}

// ParseUID parses an item UID such as REQ001, SYS-042, or TST-startup.
func ParseUID(value string) (UID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return UID{}, fmt.Errorf("empty UID")
	}
	if m := uidPattern.FindStringSubmatch(value); m != nil {
		prefix := strings.TrimRight(m[1], SepChars)
		number := 0
		fmt.Sscanf(m[2], "%d", &number)
		return UID{value: value, prefix: Prefix(prefix), number: number}, nil
	}
	// Named UIDs require an explicit separator between prefix and name.
	if i := strings.LastIndexAny(value, SepChars); i > 0 && i < len(value)-1 {
		return UID{
			value:  value,
			prefix: Prefix(value[:i]),
			name:   value[i+1:],
		}, nil
	}
	return UID{}, fmt.Errorf("invalid UID: %s", value)
}

// JoinUID builds a UID from its parts, zero-padding the number to the
// given digit width.
func JoinUID(prefix Prefix, sep string, number int, digits int) UID {
	value := fmt.Sprintf("%s%s%0*d", prefix, sep, digits, number)
	uid, _ := ParseUID(value)
	return uid
}

// NameUID builds a named (non-numbered) UID from its parts.
func NameUID(prefix Prefix, sep string, name string) (UID, error) {
	if sep == "" {
		return UID{}, fmt.Errorf("named UID requires a separator")
	}
	return ParseUID(string(prefix) + sep + name)
}

// IsZero reports whether the UID is the zero value.
func (u UID) IsZero() bool { return u.value == "" }

// Prefix returns the document prefix portion.
func (u UID) Prefix() Prefix { return u.prefix }

// Number returns the numeric portion, or 0 for named UIDs.
func (u UID) Number() int { return u.number }

// Name returns the name portion, or "" for numbered UIDs.
func (u UID) Name() string { return u.name }

// IsNamed reports whether the UID carries a name instead of a number.
func (u UID) IsNamed() bool { return u.name != "" }

func (u UID) String() string { return u.value }

// Short returns the normalized lowercase form used as a lookup key.
func (u UID) Short() string { return strings.ToLower(u.value) }

// Equal reports case-insensitive equality of the string forms.
func (u UID) Equal(other UID) bool {
	return strings.EqualFold(u.value, other.value)
}

// Less orders UIDs by prefix, then number, then name.
func (u UID) Less(other UID) bool {
	if !u.prefix.Equal(other.prefix) {
		return u.prefix.Short() < other.prefix.Short()
	}
	if u.number != other.number {
		return u.number < other.number
	}
	return strings.ToLower(u.name) < strings.ToLower(other.name)
}

// ValidSep reports whether a separator is empty or one of SepChars.
func ValidSep(sep string) bool {
	return sep == "" || (len(sep) == 1 && strings.ContainsAny(sep, SepChars))
}
