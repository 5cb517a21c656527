package tree

import (
	"sort"
	"strings"

	"reqtrace/internal/document"
	"reqtrace/internal/item"
	"reqtrace/internal/types"
)

// TraceRow is one edge of the traceability matrix. Parent is nil for
// an item with no resolvable parent links; Child is nil for a normative
// item that nothing links down to.
type TraceRow struct {
	Parent *item.Item
	Child  *item.Item
}

// GetTraceability returns the link edges across the whole tree: one
// row per resolvable child-to-parent link, a parentless row for each
// linkless item in a child document, and a childless row for each
// normative item that no item links to.
func (t *Tree) GetTraceability() []TraceRow {
	var rows []TraceRow
	linkedTo := map[string]bool{}

	for _, d := range t.documents {
		for _, it := range d.Items() {
			links := it.Links()
			resolved := 0
			for _, link := range links {
				parent, err := t.FindItem(link.Target)
				if err != nil {
					continue
				}
				resolved++
				linkedTo[parent.UID().Short()] = true
				rows = append(rows, TraceRow{Parent: parent, Child: it})
			}
			if resolved == 0 && d.Parent() != "" {
				rows = append(rows, TraceRow{Child: it})
			}
		}
	}
	for _, d := range t.documents {
		if len(t.children[d.Prefix().Short()]) == 0 {
			continue
		}
		for _, it := range d.Items() {
			if it.Normative() && !linkedTo[it.UID().Short()] {
				rows = append(rows, TraceRow{Parent: it})
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return traceKey(rows[i]) < traceKey(rows[j])
	})
	return rows
}

func traceKey(r TraceRow) string {
	parent, child := "", ""
	if r.Parent != nil {
		parent = r.Parent.UID().Short()
	}
	if r.Child != nil {
		child = r.Child.UID().Short()
	}
	return parent + "\x00" + child
}

// Cycle is a closed chain of link targets, first UID repeated last.
type Cycle []types.UID

func (c Cycle) String() string {
	parts := make([]string, len(c))
	for i, uid := range c {
		parts[i] = uid.String()
	}
	return strings.Join(parts, " -> ")
}

// FindCycles enumerates every cycle in the item link graph. The search
// runs a depth-first walk from each item and reports a cycle whenever
// a link lands on an item already on the recursion stack; duplicates
// reached from different start points are collapsed.
func (t *Tree) FindCycles() []Cycle {
	var cycles []Cycle
	seen := map[string]bool{}

	var walk func(it *item.Item, stack []*item.Item, onStack map[string]int)
	walk = func(it *item.Item, stack []*item.Item, onStack map[string]int) {
		key := it.UID().Short()
		if pos, ok := onStack[key]; ok {
			cycle := make(Cycle, 0, len(stack)-pos+1)
			for _, entry := range stack[pos:] {
				cycle = append(cycle, entry.UID())
			}
			cycle = append(cycle, it.UID())
			canon := canonicalCycle(cycle)
			if !seen[canon] {
				seen[canon] = true
				cycles = append(cycles, cycle)
			}
			return
		}
		onStack[key] = len(stack)
		stack = append(stack, it)
		for _, link := range it.Links() {
			parent, err := t.FindItem(link.Target)
			if err != nil {
				continue
			}
			walk(parent, stack, onStack)
		}
		delete(onStack, key)
	}

	for _, it := range t.Items() {
		walk(it, nil, map[string]int{})
	}
	sort.Slice(cycles, func(i, j int) bool {
		return canonicalCycle(cycles[i]) < canonicalCycle(cycles[j])
	})
	return cycles
}

// canonicalCycle keys a cycle independent of its starting point.
func canonicalCycle(c Cycle) string {
	body := c[:len(c)-1]
	best := ""
	for offset := range body {
		parts := make([]string, 0, len(body))
		for i := range body {
			parts = append(parts, body[(offset+i)%len(body)].Short())
		}
		key := strings.Join(parts, ">")
		if best == "" || key < best {
			best = key
		}
	}
	return best
}

// Draw renders the document hierarchy as a text outline.
func (t *Tree) Draw() string {
	if t.rootDoc == nil {
		return "(empty tree)"
	}
	var b strings.Builder
	b.WriteString(t.rootDoc.Prefix().String())
	b.WriteByte('\n')
	t.drawChildren(&b, t.rootDoc, "")
	return strings.TrimRight(b.String(), "\n")
}

func (t *Tree) drawChildren(b *strings.Builder, d *document.Document, indent string) {
	kids := append([]*document.Document(nil), t.children[d.Prefix().Short()]...)
	sort.Slice(kids, func(i, j int) bool {
		return kids[i].Prefix().Short() < kids[j].Prefix().Short()
	})
	for i, kid := range kids {
		connector, next := "├── ", "│   "
		if i == len(kids)-1 {
			connector, next = "└── ", "    "
		}
		b.WriteString(indent + connector + kid.Prefix().String())
		b.WriteByte('\n')
		t.drawChildren(b, kid, indent+next)
	}
}
