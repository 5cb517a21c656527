// Package types provides the primitive value types shared across the
// reqtrace core: document prefixes, item UIDs, outline levels, content
// stamps, and multi-line text.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level is a variable-length dotted-decimal outline position, e.g. 1,
// 1.2, or 2.0. Components are non-negative integers. A trailing zero is
// the conventional marker for a heading slot; whether an item actually
// renders as a heading is an attribute of the item, not of its level.
type Level struct {
	parts []int
}

// NewLevel builds a level from explicit components.
func NewLevel(parts ...int) Level {
	return Level{parts: normalizeParts(parts)}
}

// ParseLevel parses a dotted-decimal string such as "1", "1.2", or
// "2.1.0" into a level.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return Level{}, fmt.Errorf("empty level")
	}
	fields := strings.Split(s, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return Level{}, fmt.Errorf("invalid level component %q in %q", f, s)
		}
		parts = append(parts, n)
	}
	return Level{parts: normalizeParts(parts)}, nil
}

// normalizeParts collapses runs of trailing zeros to a single zero, so
// 1.0.0 and 1.0 denote the same heading slot.
func normalizeParts(parts []int) []int {
	out := append([]int(nil), parts...)
	for len(out) >= 2 && out[len(out)-1] == 0 && out[len(out)-2] == 0 {
		out = out[:len(out)-1]
	}
	return out
}

// IsZero reports whether the level is the zero value (no components).
func (l Level) IsZero() bool { return len(l.parts) == 0 }

// Depth returns the number of components.
func (l Level) Depth() int { return len(l.parts) }

// Parts returns a copy of the level's components.
func (l Level) Parts() []int { return append([]int(nil), l.parts...) }

// Last returns the final component, or 0 for the zero value.
func (l Level) Last() int {
	if len(l.parts) == 0 {
		return 0
	}
	return l.parts[len(l.parts)-1]
}

// EndsInZero reports whether the final component is zero, the heading
// slot convention.
func (l Level) EndsInZero() bool {
	return len(l.parts) > 0 && l.parts[len(l.parts)-1] == 0
}

func (l Level) String() string {
	if len(l.parts) == 0 {
		return ""
	}
	fields := make([]string, len(l.parts))
	for i, n := range l.parts {
		fields[i] = strconv.Itoa(n)
	}
	return strings.Join(fields, ".")
}

// Compare orders levels component-wise. A level sorts before any of its
// own extensions: 1.1 < 1.1.0 < 1.1.1 < 1.2.
func (l Level) Compare(other Level) int {
	a, b := l.parts, other.parts
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports component-wise equality.
func (l Level) Equal(other Level) bool { return l.Compare(other) == 0 }

// Less reports whether l orders before other.
func (l Level) Less(other Level) bool { return l.Compare(other) < 0 }

// Indent returns the level one depth lower, entered at the heading
// slot: 2.1 becomes 2.1.0.
func (l Level) Indent() Level {
	return Level{parts: append(l.Parts(), 0)}
}

// Dedent returns the level one depth higher by dropping the final
// component. Dedenting a depth-1 level is invalid.
func (l Level) Dedent() (Level, error) {
	if len(l.parts) <= 1 {
		return Level{}, fmt.Errorf("cannot dedent level %s: already at depth 1", l)
	}
	return Level{parts: l.parts[:len(l.parts)-1]}, nil
}

// Increment returns the level with its final component bumped by one.
func (l Level) Increment() Level {
	if len(l.parts) == 0 {
		return NewLevel(1)
	}
	parts := l.Parts()
	parts[len(parts)-1]++
	return Level{parts: parts}
}

// MarshalYAML emits the cleanest scalar form: a bare integer for depth
// 1, a float for depth 2 (unless the fraction would be ambiguous, e.g.
// 1.10), and a quoted dotted string otherwise.
func (l Level) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: l.String()}
	switch {
	case len(l.parts) == 1:
		node.Tag = "!!int"
	case len(l.parts) == 2 && !floatAmbiguous(l.parts[1]):
		node.Tag = "!!float"
	default:
		node.Tag = "!!str"
		node.Style = yaml.SingleQuotedStyle
	}
	return node, nil
}

// floatAmbiguous reports whether a second component would not survive a
// float round trip (a non-zero value ending in zero, like 1.10).
func floatAmbiguous(n int) bool {
	return n != 0 && n%10 == 0
}

// UnmarshalYAML accepts int, float, or string scalar forms. The literal
// scalar text is parsed so that 4.10 keeps its second component.
func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("level must be a scalar, got %s", node.Tag)
	}
	parsed, err := ParseLevel(node.Value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
