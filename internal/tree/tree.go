// Package tree assembles documents into a project hierarchy and is the
// top-level entry point for lookups, mutations, and analysis.
package tree

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"reqtrace/internal/diag"
	"reqtrace/internal/document"
	"reqtrace/internal/item"
	"reqtrace/internal/refs"
	"reqtrace/internal/storage"
	"reqtrace/internal/types"
	"reqtrace/internal/vcs"
)

// Tree is the hierarchy of documents under one project root. It owns
// the item cache, the working copy, and the reference finder; all
// mutation flows through it so the cache stays coherent.
type Tree struct {
	root  string
	store storage.Storage
	wc    vcs.WorkingCopy

	documents []*document.Document
	byPrefix  map[string]*document.Document
	children  map[string][]*document.Document
	rootDoc   *document.Document

	cache  *cache
	finder *refs.Finder
}

// Build discovers the project root from cwd and loads the tree. The
// working copy backend is detected once; its root is the tree root.
func Build(cwd string, store storage.Storage) (*Tree, error) {
	root, err := vcs.FindRoot(cwd)
	if err != nil {
		root = cwd
	}
	return Load(root, store)
}

// Load reads every document below root and validates placement:
// exactly one document has no parent, every declared parent resolves,
// and the parent relation is acyclic.
func Load(root string, store storage.Storage) (*Tree, error) {
	wc, err := vcs.Load(root)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		root:     root,
		store:    store,
		wc:       wc,
		byPrefix: map[string]*document.Document{},
		children: map[string][]*document.Document{},
		cache:    newCache(),
	}
	t.finder = refs.NewFinder(root, store, wc.Ignores())
	hooks := item.Hooks{Edit: wc.Edit, Add: wc.Add, Delete: wc.Delete}

	var docs []*document.Document
	if err := t.scan(root, hooks, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := t.place(d); err != nil {
			return nil, err
		}
	}
	if len(docs) > 0 && t.rootDoc == nil {
		return nil, diag.Structuralf(root, "no root document: every document declares a parent")
	}
	if err := t.checkParentCycles(); err != nil {
		return nil, err
	}
	t.order()
	return t, nil
}

// scan walks directories below dir collecting documents. Ignored and
// skip-marked directories are not descended into.
func (t *Tree) scan(dir string, hooks item.Hooks, docs *[]*document.Document) error {
	if document.Skipped(dir, t.store) {
		return nil
	}
	if t.store.Exists(filepath.Join(dir, document.ConfigName)) {
		d, err := document.Load(dir, t.store, hooks)
		if err != nil {
			return err
		}
		*docs = append(*docs, d)
	}
	names, err := t.store.ListDir(dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}
	for _, name := range names {
		child := filepath.Join(dir, name)
		if !t.store.IsDir(child) {
			continue
		}
		if t.ignoredDir(child, name) {
			continue
		}
		if err := t.scan(child, hooks, docs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) ignoredDir(path, name string) bool {
	for _, marker := range vcs.Markers() {
		if name == marker {
			return true
		}
	}
	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return false
	}
	return refs.Ignored(t.wc.Ignores(), filepath.ToSlash(rel))
}

// place registers one document in the hierarchy maps.
func (t *Tree) place(d *document.Document) error {
	key := d.Prefix().Short()
	if other, ok := t.byPrefix[key]; ok {
		return diag.Structuralf(d.Path(), "duplicate document prefix %s (also %s)", d.Prefix(), other.Path())
	}
	t.byPrefix[key] = d
	d.SetObserver(t.cache.invalidate)
	if d.Parent() == "" {
		if t.rootDoc != nil {
			return diag.Structuralf(d.Path(), "multiple root documents: %s and %s", t.rootDoc.Prefix(), d.Prefix())
		}
		t.rootDoc = d
		return nil
	}
	t.children[d.Parent().Short()] = append(t.children[d.Parent().Short()], d)
	return nil
}

// checkParentCycles verifies every parent chain terminates at the root
// document.
func (t *Tree) checkParentCycles() error {
	for _, d := range t.byPrefix {
		seen := map[string]bool{d.Prefix().Short(): true}
		cur := d
		for cur.Parent() != "" {
			next, ok := t.byPrefix[cur.Parent().Short()]
			if !ok {
				return diag.Structuralf(cur.Path(), "unknown parent document %s for %s", cur.Parent(), cur.Prefix())
			}
			if seen[next.Prefix().Short()] {
				return diag.Structuralf(cur.Path(), "document hierarchy cycle through %s", next.Prefix())
			}
			seen[next.Prefix().Short()] = true
			cur = next
		}
	}
	return nil
}

// order arranges documents root first, then breadth first with
// children sorted by prefix.
func (t *Tree) order() {
	t.documents = nil
	if t.rootDoc == nil {
		return
	}
	queue := []*document.Document{t.rootDoc}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		t.documents = append(t.documents, d)
		kids := append([]*document.Document(nil), t.children[d.Prefix().Short()]...)
		sort.Slice(kids, func(i, j int) bool {
			return kids[i].Prefix().Short() < kids[j].Prefix().Short()
		})
		queue = append(queue, kids...)
	}
}

// Root returns the project root directory.
func (t *Tree) Root() string { return t.root }

// WorkingCopy returns the detected version control backend.
func (t *Tree) WorkingCopy() vcs.WorkingCopy { return t.wc }

// Finder returns the reference finder rooted at the project root.
func (t *Tree) Finder() *refs.Finder { return t.finder }

// StampReference fingerprints a referenced file, named by its
// slash-relative path under the project root.
func (t *Tree) StampReference(relPath string) (types.Stamp, error) {
	return refs.StampFile(t.store, filepath.Join(t.root, filepath.FromSlash(relPath)))
}

// Documents returns the documents in hierarchy order, root first.
func (t *Tree) Documents() []*document.Document {
	return append([]*document.Document(nil), t.documents...)
}

// RootDocument returns the document without a parent, or nil for an
// empty tree.
func (t *Tree) RootDocument() *document.Document { return t.rootDoc }

// ChildDocuments returns the documents whose parent is prefix.
func (t *Tree) ChildDocuments(prefix types.Prefix) []*document.Document {
	return append([]*document.Document(nil), t.children[prefix.Short()]...)
}

// FindDocument returns the document with the given prefix.
func (t *Tree) FindDocument(prefix types.Prefix) (*document.Document, error) {
	if d, ok := t.byPrefix[prefix.Short()]; ok {
		return d, nil
	}
	return nil, diag.Reff(prefix.String(), "no matching document prefix: %s", prefix)
}

// FindItem resolves a UID to its item anywhere in the tree.
func (t *Tree) FindItem(uid types.UID) (*item.Item, error) {
	if it, ok := t.cache.get(uid); ok {
		return it, nil
	}
	if d, ok := t.byPrefix[uid.Prefix().Short()]; ok {
		if it, err := d.FindItem(uid); err == nil {
			t.cache.put(it)
			return it, nil
		}
	}
	return nil, diag.Reff(uid.String(), "no matching UID: %s", uid)
}

// FindItemString resolves user input to an item. A full UID resolves
// directly; a bare number matches across documents and fails when the
// number exists under more than one prefix.
func (t *Tree) FindItemString(value string) (*item.Item, error) {
	value = strings.TrimSpace(value)
	if number, err := strconv.Atoi(value); err == nil {
		var matches []*item.Item
		for _, d := range t.documents {
			for _, it := range d.Items() {
				if !it.UID().IsNamed() && it.UID().Number() == number {
					matches = append(matches, it)
				}
			}
		}
		switch len(matches) {
		case 0:
			return nil, diag.Reff(value, "no matching UID number: %s", value)
		case 1:
			return matches[0], nil
		default:
			var uids []string
			for _, it := range matches {
				uids = append(uids, it.UID().String())
			}
			return nil, diag.Reff(value, "ambiguous number %s: %s", value, strings.Join(uids, ", "))
		}
	}
	uid, err := types.ParseUID(value)
	if err != nil {
		return nil, diag.Reff(value, "invalid UID %q: %v", value, err)
	}
	return t.FindItem(uid)
}

// LinkFingerprint returns the stamp a fresh link to uid would carry,
// or false when the target does not resolve.
func (t *Tree) LinkFingerprint(uid types.UID) (types.Stamp, bool) {
	it, err := t.FindItem(uid)
	if err != nil {
		return types.Stamp{}, false
	}
	var keys []string
	if d, err := t.FindDocument(uid.Prefix()); err == nil {
		keys = d.ExtendedReviewed()
	}
	return it.Fingerprint(keys, false), true
}

// Items returns every item in the tree, documents in hierarchy order.
func (t *Tree) Items() []*item.Item {
	var items []*item.Item
	for _, d := range t.documents {
		items = append(items, d.Items()...)
	}
	return items
}
