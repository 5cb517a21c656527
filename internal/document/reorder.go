package document

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"reqtrace/internal/diag"
	"reqtrace/internal/item"
	"reqtrace/internal/types"
)

// Reorder renumbers every item so levels are consecutive and gap-free
// while the relative order is preserved. A non-zero start overrides the
// level of the first item; keep orders the named item first among items
// sharing its current level, which lets a caller pin a just-moved item
// into a crowded slot before renumbering.
func (d *Document) Reorder(start types.Level, keep types.UID) error {
	items := d.itemsForReorder(keep)
	if len(items) == 0 {
		return nil
	}
	levels := planLevels(items, start)
	for i, it := range items {
		if it.Level().Equal(levels[i]) {
			continue
		}
		if err := it.SetLevel(levels[i]); err != nil {
			return err
		}
		d.notify(it.UID())
	}
	return nil
}

// itemsForReorder returns the items in level order, except that the
// kept item sorts before other items at its exact level.
func (d *Document) itemsForReorder(keep types.UID) []*item.Item {
	items := d.Items()
	if keep.IsZero() {
		return items
	}
	var kept *item.Item
	for _, it := range items {
		if it.UID().Equal(keep) {
			kept = it
			break
		}
	}
	if kept == nil {
		return items
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].Level().Compare(items[j].Level()); c != 0 {
			return c < 0
		}
		if items[i] == kept {
			return items[j] != kept
		}
		return false
	})
	return items
}

// planLevels computes the renumbered level for each item. Numbering is
// driven by a stack of counters, one per depth: consecutive items at
// one depth increment the innermost counter, a depth increase pushes
// fresh counters, and a depth decrease pops back while keeping the
// outer values. Heading items occupy a slot one depth shallower than
// their stored level and carry the trailing zero marker.
func planLevels(items []*item.Item, start types.Level) []types.Level {
	first := items[0].Level()
	if !start.IsZero() {
		first = start
	}
	// Align the seed level's shape with the first item's kind.
	if items[0].Heading() && !first.EndsInZero() {
		first = first.Indent()
	} else if !items[0].Heading() && first.EndsInZero() {
		if dedented, err := first.Dedent(); err == nil {
			first = dedented
		}
	}

	stack := append([]int(nil), first.Parts()...)
	if items[0].Heading() {
		stack = stack[:len(stack)-1]
	}
	levels := []types.Level{levelFor(stack, items[0].Heading())}

	for _, it := range items[1:] {
		depth := it.Level().Depth()
		slot := depth
		if it.Heading() {
			slot = depth - 1
		}
		if slot < 1 {
			slot = 1
		}
		if slot <= len(stack) {
			stack = stack[:slot]
		} else {
			for len(stack) < slot {
				stack = append(stack, 0)
			}
		}
		stack[len(stack)-1]++
		levels = append(levels, levelFor(stack, it.Heading()))
	}
	return levels
}

func levelFor(stack []int, heading bool) types.Level {
	parts := append([]int(nil), stack...)
	if heading {
		parts = append(parts, 0)
	}
	return types.NewLevel(parts...)
}

// OutlineEntry is one node of a document outline. Entries for UIDs that
// do not exist yet may carry attribute values applied at creation.
type OutlineEntry struct {
	UID        string
	Attributes map[string]interface{}
	Children   []OutlineEntry
}

// Outline is a document's item hierarchy expressed as nested UIDs.
type Outline struct {
	Entries []OutlineEntry
}

// ParseOutline reads an outline from YAML. Each entry is a bare UID, a
// single-key mapping of UID to child entries, or a single-key mapping
// of UID to an attribute mapping whose optional "children" key nests
// further entries.
func ParseOutline(data []byte) (*Outline, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid outline YAML: %w", err)
	}
	if len(root.Content) == 0 {
		return &Outline{}, nil
	}
	entries, err := parseOutlineEntries(root.Content[0])
	if err != nil {
		return nil, err
	}
	return &Outline{Entries: entries}, nil
}

func parseOutlineEntries(node *yaml.Node) ([]OutlineEntry, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("outline entries must form a sequence, got %s", node.Tag)
	}
	var entries []OutlineEntry
	for _, child := range node.Content {
		entry, err := parseOutlineEntry(child)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseOutlineEntry(node *yaml.Node) (OutlineEntry, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return OutlineEntry{UID: strings.TrimSpace(node.Value)}, nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return OutlineEntry{}, fmt.Errorf("outline entry must have a single UID key")
		}
		entry := OutlineEntry{UID: strings.TrimSpace(node.Content[0].Value)}
		value := node.Content[1]
		switch value.Kind {
		case yaml.SequenceNode:
			children, err := parseOutlineEntries(value)
			if err != nil {
				return OutlineEntry{}, err
			}
			entry.Children = children
		case yaml.MappingNode:
			for i := 0; i+1 < len(value.Content); i += 2 {
				key := value.Content[i].Value
				if key == "children" {
					children, err := parseOutlineEntries(value.Content[i+1])
					if err != nil {
						return OutlineEntry{}, err
					}
					entry.Children = children
					continue
				}
				var v interface{}
				if err := value.Content[i+1].Decode(&v); err != nil {
					return OutlineEntry{}, fmt.Errorf("outline attribute %s: %w", key, err)
				}
				if entry.Attributes == nil {
					entry.Attributes = map[string]interface{}{}
				}
				entry.Attributes[key] = v
			}
		case yaml.ScalarNode:
			if value.Tag != "!!null" {
				return OutlineEntry{}, fmt.Errorf("outline entry %s: unexpected value %q", entry.UID, value.Value)
			}
		default:
			return OutlineEntry{}, fmt.Errorf("outline entry %s: unexpected value", entry.UID)
		}
		return entry, nil
	default:
		return OutlineEntry{}, fmt.Errorf("outline entry must be a UID or a mapping")
	}
}

// ReorderFromIndex rebuilds the document to match an outline: listed
// items are relocated to the outline's order and nesting, UIDs absent
// from the document are created with any attribute overrides the entry
// carries, and items absent from the outline are deleted.
func (d *Document) ReorderFromIndex(outline *Outline) error {
	seen := map[string]bool{}
	var stack []int
	if err := d.applyOutline(outline.Entries, &stack, seen); err != nil {
		return err
	}
	for _, it := range d.Items() {
		if seen[it.UID().Short()] {
			continue
		}
		if _, err := d.Remove(it.UID()); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) applyOutline(entries []OutlineEntry, stack *[]int, seen map[string]bool) error {
	depth := len(*stack) + 1
	*stack = append(*stack, 0)
	defer func() { *stack = (*stack)[:depth-1] }()

	for _, entry := range entries {
		uid, err := types.ParseUID(entry.UID)
		if err != nil {
			return diag.Structuralf(d.path, "outline: invalid UID %q: %v", entry.UID, err)
		}
		if !uid.Prefix().Equal(d.prefix) {
			return diag.Structuralf(d.path, "outline: UID %s does not match prefix %s", uid, d.prefix)
		}
		if seen[uid.Short()] {
			return diag.Structuralf(d.path, "outline: duplicate UID %s", uid)
		}
		seen[uid.Short()] = true

		(*stack)[depth-1]++
		level := types.NewLevel(append([]int(nil), *stack...)...)

		if it, err := d.FindItem(uid); err != nil {
			if _, err := d.createFromOutline(uid, level, entry.Attributes); err != nil {
				return err
			}
		} else if !it.Level().Equal(level) {
			if err := it.SetLevel(level); err != nil {
				return err
			}
			d.notify(uid)
		}

		if len(entry.Children) > 0 {
			if err := d.applyOutline(entry.Children, stack, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) createFromOutline(uid types.UID, level types.Level, attrs map[string]interface{}) (*item.Item, error) {
	it, err := d.addUID(uid, level)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := attrs[k]
		if k == "text" {
			if s, ok := v.(string); ok {
				if err := it.SetText(s); err != nil {
					return nil, err
				}
				continue
			}
		}
		if err := it.SetAttribute(k, v); err != nil {
			return nil, err
		}
	}
	return it, nil
}
