// Package item implements the single traceable unit of a reqtrace
// project: its YAML record, its links and external references, and its
// review fingerprint.
package item

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"reqtrace/internal/diag"
	"reqtrace/internal/storage"
	"reqtrace/internal/types"
)

// Extension is the file extension of item records.
const Extension = ".yml"

// Link is a directed edge from the owning item to an item elsewhere in
// the tree, with the target's fingerprint as recorded when the link was
// last confirmed.
type Link struct {
	Target types.UID
	Stamp  types.Stamp
}

// Reference points at an externally tracked file, optionally at a
// keyword-located line, with a fingerprint of the file content as
// recorded when the reference was last reviewed.
type Reference struct {
	Path    string
	Keyword string
	Stamp   types.Stamp
}

// Hooks are the version-control callbacks the owning document installs
// around item persistence. Nil hooks are skipped.
type Hooks struct {
	Edit   func(path string) error
	Add    func(path string) error
	Delete func(path string) error
}

// Item is one traceable unit. Items are owned by their document:
// creation, removal, and lookup go through the document, while setters
// on the item itself persist immediately.
type Item struct {
	uid       types.UID
	path      string
	store     storage.Storage
	hooks     Hooks
	docPrefix types.Prefix

	level     types.Level
	active    bool
	normative bool
	derived   bool
	heading   bool
	text      string
	header    string
	hasHeader bool
	reviewed  types.Stamp
	links     []Link
	refs      []Reference
	legacyRef string

	extraKeys []string
	extras    map[string]interface{}
}

// New creates a new item record on storage with default attributes and
// returns the loaded item.
func New(dir string, uid types.UID, level types.Level, store storage.Storage, docPrefix types.Prefix, hooks Hooks) (*Item, error) {
	path := filepath.Join(dir, uid.String()+Extension)
	if store.Exists(path) {
		return nil, diag.Structuralf(path, "item already exists")
	}
	it := &Item{
		uid:       uid,
		path:      path,
		store:     store,
		hooks:     hooks,
		docPrefix: docPrefix,
		level:     level,
		active:    true,
		normative: true,
		extras:    map[string]interface{}{},
	}
	if it.level.IsZero() {
		it.level = types.NewLevel(1)
	}
	if err := it.save(); err != nil {
		return nil, err
	}
	if hooks.Add != nil {
		if err := hooks.Add(path); err != nil {
			return nil, fmt.Errorf("tracking %s: %w", path, err)
		}
	}
	return it, nil
}

// Load reads an existing item record. The filename stem must be a valid
// UID.
func Load(path string, store storage.Storage, docPrefix types.Prefix, hooks Hooks) (*Item, error) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, Extension) && !strings.HasSuffix(name, ".yaml") {
		return nil, diag.Structuralf(path, "not an item file")
	}
	stem := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), Extension)
	uid, err := types.ParseUID(stem)
	if err != nil {
		return nil, diag.Structuralf(path, "invalid item filename: %s", name)
	}
	data, err := store.Read(path)
	if err != nil {
		return nil, diag.Structuralf(path, "missing item file: %v", err)
	}
	it := &Item{
		uid:       uid,
		path:      path,
		store:     store,
		hooks:     hooks,
		docPrefix: docPrefix,
		active:    true,
		normative: true,
		level:     types.NewLevel(1),
		extras:    map[string]interface{}{},
	}
	if err := it.decode(data); err != nil {
		return nil, err
	}
	// Heading-ness is inferred once from the stored form and kept as an
	// item attribute from then on.
	it.heading = it.level.EndsInZero() && !it.normative
	return it, nil
}

// save persists the record and invokes the edit hook.
func (it *Item) save() error {
	data, err := it.encode()
	if err != nil {
		return err
	}
	if it.hooks.Edit != nil && it.store.Exists(it.path) {
		if err := it.hooks.Edit(it.path); err != nil {
			return fmt.Errorf("marking %s for edit: %w", it.path, err)
		}
	}
	return it.store.Write(it.path, data)
}

// Delete removes the item's record from storage. Cache invalidation and
// dangling-link reporting are the owning document's and validator's
// concern.
func (it *Item) Delete() error {
	if it.hooks.Delete != nil {
		if err := it.hooks.Delete(it.path); err != nil {
			return fmt.Errorf("untracking %s: %w", it.path, err)
		}
	}
	return it.store.Remove(it.path)
}

// UID returns the item's identifier.
func (it *Item) UID() types.UID { return it.uid }

// Path returns the record's storage path.
func (it *Item) Path() string { return it.path }

// DocumentPrefix returns the prefix of the owning document. Items hold
// the document's identity, never a pointer back to it.
func (it *Item) DocumentPrefix() types.Prefix { return it.docPrefix }

// Level returns the item's outline level.
func (it *Item) Level() types.Level { return it.level }

// SetLevel sets the outline level and persists.
func (it *Item) SetLevel(level types.Level) error {
	it.level = level
	return it.save()
}

// Active reports whether the item participates in validation.
func (it *Item) Active() bool { return it.active }

// SetActive sets the active flag and persists.
func (it *Item) SetActive(v bool) error {
	it.active = v
	return it.save()
}

// Normative reports whether the item carries requirement force.
func (it *Item) Normative() bool { return it.normative }

// SetNormative sets the normative flag and persists.
func (it *Item) SetNormative(v bool) error {
	it.normative = v
	return it.save()
}

// Derived reports whether the item intentionally has no upward links.
func (it *Item) Derived() bool { return it.derived }

// SetDerived sets the derived flag and persists.
func (it *Item) SetDerived(v bool) error {
	it.derived = v
	return it.save()
}

// Heading reports whether the item renders as a section heading.
func (it *Item) Heading() bool { return it.heading }

// SetHeading sets the heading flag. A heading is non-normative and its
// level carries the trailing zero marker; turning heading off restores
// normative force and drops the marker, so the stored record reloads
// with the same heading state.
func (it *Item) SetHeading(v bool) error {
	it.heading = v
	it.normative = !v
	if v && !it.level.EndsInZero() {
		it.level = it.level.Indent()
	} else if !v && it.level.EndsInZero() {
		if lvl, err := it.level.Dedent(); err == nil {
			it.level = lvl
		}
	}
	return it.save()
}

// Text returns the item's long-form text.
func (it *Item) Text() string { return it.text }

// SetText sets the text and persists.
func (it *Item) SetText(text string) error {
	it.text = types.LoadText(text)
	return it.save()
}

// Header returns the optional short header text.
func (it *Item) Header() string { return it.header }

// SetHeader sets the header and persists.
func (it *Item) SetHeader(header string) error {
	it.header = types.LoadText(header)
	it.hasHeader = true
	return it.save()
}

// Reviewed returns the stored review stamp.
func (it *Item) Reviewed() types.Stamp { return it.reviewed }

// SetReviewed stores a review stamp directly and persists.
func (it *Item) SetReviewed(stamp types.Stamp) error {
	it.reviewed = stamp
	return it.save()
}

// Links returns the item's outgoing links in stored order.
func (it *Item) Links() []Link { return append([]Link(nil), it.links...) }

// HasLink reports whether a link to the target exists.
func (it *Item) HasLink(target types.UID) bool {
	return it.findLink(target) >= 0
}

func (it *Item) findLink(target types.UID) int {
	for i, l := range it.links {
		if l.Target.Equal(target) {
			return i
		}
	}
	return -1
}

// AddLink adds a link to the target UID with an unset stamp. Adding an
// existing target is a no-op. The target is not resolved here; direct
// operations resolve through the tree first.
func (it *Item) AddLink(target types.UID) error {
	if it.findLink(target) >= 0 {
		return nil
	}
	it.links = append(it.links, Link{Target: target})
	return it.save()
}

// RemoveLink removes the link to the target UID.
func (it *Item) RemoveLink(target types.UID) error {
	i := it.findLink(target)
	if i < 0 {
		return diag.Reff(target.String(), "link to %s does not exist", target)
	}
	it.links = append(it.links[:i], it.links[i+1:]...)
	return it.save()
}

// SetLinkStamp records the target's fingerprint on an existing link.
func (it *Item) SetLinkStamp(target types.UID, stamp types.Stamp) error {
	i := it.findLink(target)
	if i < 0 {
		return diag.Reff(target.String(), "link to %s does not exist", target)
	}
	it.links[i].Stamp = stamp
	return it.save()
}

// References returns the item's external references in stored order.
// Both the modern references list and the legacy single ref are
// surfaced here; a legacy ref appears as a keyword-only reference.
func (it *Item) References() []Reference {
	refs := append([]Reference(nil), it.refs...)
	if it.legacyRef != "" {
		refs = append(refs, Reference{Keyword: it.legacyRef})
	}
	return refs
}

// SetReferences replaces the modern references list and persists.
func (it *Item) SetReferences(refs []Reference) error {
	it.refs = append([]Reference(nil), refs...)
	return it.save()
}

// LegacyRef returns the legacy single external reference keyword.
func (it *Item) LegacyRef() string { return it.legacyRef }

// SetLegacyRef sets the legacy reference and persists.
func (it *Item) SetLegacyRef(ref string) error {
	it.legacyRef = strings.TrimSpace(ref)
	return it.save()
}

// AttributeKeys returns the extended attribute keys in record order.
func (it *Item) AttributeKeys() []string {
	return append([]string(nil), it.extraKeys...)
}

// Attribute returns an extended attribute value.
func (it *Item) Attribute(key string) (interface{}, bool) {
	v, ok := it.extras[key]
	return v, ok
}

// SetAttribute sets an extended attribute and persists. Reserved record
// keys cannot be shadowed.
func (it *Item) SetAttribute(key string, value interface{}) error {
	if reservedKeys[key] {
		return diag.Structuralf(it.path, "attribute key %q is reserved", key)
	}
	if _, ok := it.extras[key]; !ok {
		it.extraKeys = append(it.extraKeys, key)
	}
	it.extras[key] = value
	return it.save()
}

// Fingerprint hashes the item's reviewable content: uid, text, external
// references, and the values of the given extended attributes. When
// includeLinks is set, link targets participate as well, so that
// relinking invalidates a review.
func (it *Item) Fingerprint(extendedKeys []string, includeLinks bool) types.Stamp {
	values := []string{it.uid.String(), it.text, it.legacyRef}
	for _, r := range it.refs {
		values = append(values, r.Path, r.Keyword)
	}
	keys := append([]string(nil), extendedKeys...)
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := it.extras[k]; ok {
			values = append(values, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if includeLinks {
		targets := make([]string, 0, len(it.links))
		for _, l := range it.links {
			targets = append(targets, l.Target.Short())
		}
		sort.Strings(targets)
		values = append(values, targets...)
	}
	return types.NewStamp(values...)
}

// Review stamps the item as reviewed at its current content.
func (it *Item) Review(extendedKeys []string) error {
	it.reviewed = it.Fingerprint(extendedKeys, true)
	return it.save()
}

// Clear confirms the item's links at their targets' current
// fingerprints, resolving each target through the supplied lookup.
// Unresolvable targets are left untouched.
func (it *Item) Clear(fingerprint func(types.UID) (types.Stamp, bool)) error {
	changed := false
	for i, l := range it.links {
		if stamp, ok := fingerprint(l.Target); ok {
			it.links[i].Stamp = stamp
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return it.save()
}

// IsCleared reports whether no link is suspect, given a lookup of live
// target fingerprints. Unresolvable targets do not count as suspect
// here; the validator reports them separately.
func (it *Item) IsCleared(fingerprint func(types.UID) (types.Stamp, bool)) bool {
	for _, l := range it.links {
		if stamp, ok := fingerprint(l.Target); ok {
			if !l.Stamp.Equal(stamp) {
				return false
			}
		}
	}
	return true
}
