package tree

import (
	"context"

	"reqtrace/internal/alloc"
	"reqtrace/internal/diag"
	"reqtrace/internal/document"
	"reqtrace/internal/item"
	"reqtrace/internal/types"
)

// AddItem creates a new item in the document with the given prefix,
// drawing its number from the allocator. A zero level places the item
// after the document's last one.
func (t *Tree) AddItem(ctx context.Context, allocator alloc.Allocator, prefix types.Prefix, level types.Level) (*item.Item, error) {
	d, err := t.FindDocument(prefix)
	if err != nil {
		return nil, err
	}
	number, err := allocator.Next(ctx, d.Prefix(), d.NextNumber()-1)
	if err != nil {
		return nil, err
	}
	return d.Add(number, level)
}

// RemoveItem deletes the item with the given UID.
func (t *Tree) RemoveItem(uid types.UID) (*item.Item, error) {
	d, err := t.FindDocument(uid.Prefix())
	if err != nil {
		return nil, err
	}
	return d.Remove(uid)
}

// LinkItems records a link from child to parent. Both UIDs must
// resolve; linking to a missing item is refused rather than recorded.
func (t *Tree) LinkItems(child, parent types.UID) error {
	childItem, err := t.FindItem(child)
	if err != nil {
		return err
	}
	if _, err := t.FindItem(parent); err != nil {
		return err
	}
	return childItem.AddLink(parent)
}

// UnlinkItems removes the link from child to parent.
func (t *Tree) UnlinkItems(child, parent types.UID) error {
	childItem, err := t.FindItem(child)
	if err != nil {
		return err
	}
	return childItem.RemoveLink(parent)
}

// NewDocument creates a document at path and places it in the
// hierarchy. When placement fails the document is removed again, so a
// failed call leaves the tree and the filesystem unchanged.
func (t *Tree) NewDocument(path string, cfg document.Config) (*document.Document, error) {
	if cfg.Parent == "" && t.rootDoc != nil {
		return nil, diag.Structuralf(path, "tree already has a root document: %s", t.rootDoc.Prefix())
	}
	if cfg.Parent != "" {
		if _, err := t.FindDocument(cfg.Parent); err != nil {
			return nil, err
		}
	}
	hooks := item.Hooks{Edit: t.wc.Edit, Add: t.wc.Add, Delete: t.wc.Delete}
	d, err := document.New(path, cfg, t.store, hooks)
	if err != nil {
		return nil, err
	}
	if err := t.place(d); err != nil {
		_ = d.Delete()
		return nil, err
	}
	if err := t.checkParentCycles(); err != nil {
		t.unplace(d)
		_ = d.Delete()
		return nil, err
	}
	t.order()
	return d, nil
}

// RemoveDocument deletes a document and its items. Documents with
// child documents cannot be removed.
func (t *Tree) RemoveDocument(prefix types.Prefix) error {
	d, err := t.FindDocument(prefix)
	if err != nil {
		return err
	}
	if len(t.children[prefix.Short()]) > 0 {
		return diag.Structuralf(d.Path(), "document %s has child documents", prefix)
	}
	if err := d.Delete(); err != nil {
		return err
	}
	t.unplace(d)
	t.cache.invalidatePrefix(prefix)
	t.order()
	return nil
}

// unplace reverses place for one document.
func (t *Tree) unplace(d *document.Document) {
	delete(t.byPrefix, d.Prefix().Short())
	if t.rootDoc == d {
		t.rootDoc = nil
		return
	}
	kids := t.children[d.Parent().Short()]
	for i, kid := range kids {
		if kid == d {
			t.children[d.Parent().Short()] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
}
