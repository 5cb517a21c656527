package types

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadText normalizes multi-line text read from a record: leading and
// trailing blank lines are dropped and trailing whitespace is stripped
// from every line.
func LoadText(value string) string {
	if value == "" {
		return ""
	}
	value = strings.Trim(value, "\n")
	lines := strings.Split(value, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// TextNode returns the YAML node for dumping text: literal block style
// with a trailing newline for non-empty text, an empty scalar
// otherwise.
func TextNode(text string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
	if text == "" {
		return node
	}
	node.Value = text + "\n"
	node.Style = yaml.LiteralStyle
	return node
}
