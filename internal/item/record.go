package item

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"reqtrace/internal/diag"
	"reqtrace/internal/types"
)

// reservedKeys are the recognized top-level record keys; every other
// key is a free-form extended attribute.
var reservedKeys = map[string]bool{
	"active":     true,
	"derived":    true,
	"header":     true,
	"level":      true,
	"links":      true,
	"normative":  true,
	"ref":        true,
	"references": true,
	"reviewed":   true,
	"text":       true,
}

// decode parses an item record. Malformed structure in a recognized key
// is a StructuralError; unrecognized keys become extended attributes.
func (it *Item) decode(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return diag.Structuralf(it.path, "invalid YAML: %v", err)
	}
	if len(root.Content) == 0 {
		return diag.Structuralf(it.path, "empty item record")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return diag.Structuralf(it.path, "item record must be a mapping")
	}

	it.hasHeader = false
	it.extraKeys = nil
	it.extras = map[string]interface{}{}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		value := mapping.Content[i+1]
		var err error
		switch key {
		case "active":
			it.active, err = parseBool(value)
		case "derived":
			it.derived, err = parseBool(value)
		case "normative":
			it.normative, err = parseBool(value)
		case "level":
			err = value.Decode(&it.level)
		case "links":
			it.links, err = parseLinks(value)
		case "ref":
			var s string
			if err = value.Decode(&s); err == nil {
				it.legacyRef = strings.TrimSpace(s)
			}
		case "references":
			it.refs, err = parseReferences(value)
		case "reviewed":
			err = value.Decode(&it.reviewed)
		case "text":
			var s string
			if err = value.Decode(&s); err == nil {
				it.text = types.LoadText(s)
			}
		case "header":
			var s string
			if err = value.Decode(&s); err == nil {
				it.header = types.LoadText(s)
				it.hasHeader = true
			}
		default:
			var v interface{}
			if err = value.Decode(&v); err == nil {
				it.extraKeys = append(it.extraKeys, key)
				it.extras[key] = v
			}
		}
		if err != nil {
			return diag.Structuralf(it.path, "invalid %q: %v", key, err)
		}
	}
	return nil
}

func parseBool(node *yaml.Node) (bool, error) {
	var b bool
	if err := node.Decode(&b); err == nil {
		return b, nil
	}
	var s string
	if err := node.Decode(&s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "true", "enabled", "1":
			return true, nil
		case "no", "false", "disabled", "0", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %s", node.Value)
}

// parseLinks reads the links sequence: each entry is either a bare UID
// string or a single-key mapping of UID to stamp-or-null. Duplicate
// targets collapse to the first occurrence.
func parseLinks(node *yaml.Node) ([]Link, error) {
	if node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("links must be a list")
	}
	var links []Link
	seen := map[string]bool{}
	for _, entry := range node.Content {
		var link Link
		switch entry.Kind {
		case yaml.ScalarNode:
			uid, err := types.ParseUID(entry.Value)
			if err != nil {
				return nil, err
			}
			link = Link{Target: uid}
		case yaml.MappingNode:
			if len(entry.Content) != 2 {
				return nil, fmt.Errorf("link entry must have exactly one key")
			}
			uid, err := types.ParseUID(entry.Content[0].Value)
			if err != nil {
				return nil, err
			}
			var stamp types.Stamp
			if err := entry.Content[1].Decode(&stamp); err != nil {
				return nil, err
			}
			link = Link{Target: uid, Stamp: stamp}
		default:
			return nil, fmt.Errorf("link entry must be a UID or a UID-to-stamp mapping")
		}
		if seen[link.Target.Short()] {
			continue
		}
		seen[link.Target.Short()] = true
		links = append(links, link)
	}
	return links, nil
}

// parseReferences reads the modern references list: each member must be
// a mapping with type "file" and a path, plus optional keyword and sha.
func parseReferences(node *yaml.Node) ([]Reference, error) {
	if node.Tag == "!!null" {
		return nil, fmt.Errorf("references must be an array with at least one reference element")
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("references must be an array")
	}
	var refs []Reference
	for _, entry := range node.Content {
		if entry.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("references member must be a mapping")
		}
		var raw struct {
			Type    string      `yaml:"type"`
			Path    *string     `yaml:"path"`
			Keyword string      `yaml:"keyword"`
			Sha     types.Stamp `yaml:"sha"`
		}
		if err := entry.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.Type == "" {
			return nil, fmt.Errorf("references member must have a type")
		}
		if raw.Type != "file" {
			return nil, fmt.Errorf("references member type must be file, got %q", raw.Type)
		}
		if raw.Path == nil {
			return nil, fmt.Errorf("references member must have a path")
		}
		refs = append(refs, Reference{Path: *raw.Path, Keyword: raw.Keyword, Stamp: raw.Sha})
	}
	return refs, nil
}

// encode renders the record with keys in alphabetical order, the way
// records are kept on disk.
func (it *Item) encode() ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}

	add := func(key string, value *yaml.Node) {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			value,
		)
	}
	addValue := func(key string, v interface{}) error {
		node := &yaml.Node{}
		if err := node.Encode(v); err != nil {
			return fmt.Errorf("encoding %q: %w", key, err)
		}
		if node.Kind == yaml.ScalarNode && node.Tag == "!!str" && strings.Contains(node.Value, "\n") {
			node.Style = yaml.LiteralStyle
			node.Value += "\n"
		}
		add(key, node)
		return nil
	}

	type field struct {
		key  string
		emit func() error
	}
	fields := []field{
		{"active", func() error { return addValue("active", it.active) }},
		{"derived", func() error { return addValue("derived", it.derived) }},
		{"level", func() error { return addValue("level", it.level) }},
		{"links", func() error { add("links", encodeLinks(it.links)); return nil }},
		{"normative", func() error { return addValue("normative", it.normative) }},
		{"reviewed", func() error { return addValue("reviewed", it.reviewed) }},
		{"text", func() error { add("text", types.TextNode(it.text)); return nil }},
	}
	if it.hasHeader {
		fields = append(fields, field{"header", func() error { add("header", types.TextNode(it.header)); return nil }})
	}
	if it.legacyRef != "" || len(it.refs) == 0 {
		fields = append(fields, field{"ref", func() error { return addValue("ref", it.legacyRef) }})
	}
	if len(it.refs) > 0 {
		fields = append(fields, field{"references", func() error {
			node, err := encodeReferences(it.refs)
			if err != nil {
				return err
			}
			add("references", node)
			return nil
		}})
	}
	for _, key := range it.extraKeys {
		k := key
		fields = append(fields, field{k, func() error { return addValue(k, it.extras[k]) }})
	}

	sort.SliceStable(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
	for _, f := range fields {
		if err := f.emit(); err != nil {
			return nil, err
		}
	}

	return yaml.Marshal(mapping)
}

func encodeLinks(links []Link) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	sorted := append([]Link(nil), links...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Target.Less(sorted[j].Target) })
	for _, l := range sorted {
		stamp := &yaml.Node{}
		if err := stamp.Encode(l.Stamp); err != nil {
			stamp = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		}
		entry := &yaml.Node{Kind: yaml.MappingNode}
		entry.Content = append(entry.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: l.Target.String()},
			stamp,
		)
		seq.Content = append(seq.Content, entry)
	}
	return seq
}

func encodeReferences(refs []Reference) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range refs {
		entry := map[string]interface{}{
			"path": r.Path,
			"type": "file",
		}
		if r.Keyword != "" {
			entry["keyword"] = r.Keyword
		}
		if r.Stamp.IsSet() {
			entry["sha"] = r.Stamp.String()
		}
		node := &yaml.Node{}
		if err := node.Encode(entry); err != nil {
			return nil, fmt.Errorf("encoding reference %s: %w", r.Path, err)
		}
		seq.Content = append(seq.Content, node)
	}
	return seq, nil
}
