// Package document implements an ordered collection of items sharing a
// UID prefix: its on-disk configuration, item lifecycle, and the two
// reorder modes.
package document

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"reqtrace/internal/diag"
	"reqtrace/internal/item"
	"reqtrace/internal/storage"
	"reqtrace/internal/types"
)

const (
	// ConfigName is the filename of a document's configuration.
	ConfigName = ".reqtrace.yml"
	// SkipName marks a document directory to be excluded from scans.
	SkipName = ".reqtrace.skip"

	// DefaultDigits is the number digit width for new documents.
	DefaultDigits = 3
)

// Config are the creation-time settings of a document.
type Config struct {
	Prefix types.Prefix
	Sep    string
	Digits int
	Parent types.Prefix
}

// Document is an ordered collection of items sharing a prefix and a
// place in the project hierarchy. A document is owned by a tree once
// placed; standalone use is valid for direct manipulation and tests.
type Document struct {
	path  string
	store storage.Storage
	hooks item.Hooks

	prefix     types.Prefix
	sep        string
	digits     int
	parent     types.Prefix
	itemFormat string

	defaults         map[string]interface{}
	publish          []string
	extendedReviewed []string

	items []*item.Item

	// observer is notified of every structural mutation so the owning
	// tree can invalidate its caches. Nil outside a tree.
	observer func(uid types.UID)
}

// New creates a document directory with a fresh configuration.
func New(path string, cfg Config, store storage.Storage, hooks item.Hooks) (*Document, error) {
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Digits < 1 {
		return nil, diag.Structuralf(path, "digits must be >= 1, got %d", cfg.Digits)
	}
	if !types.ValidSep(cfg.Sep) {
		return nil, diag.Structuralf(path, "invalid separator %q", cfg.Sep)
	}
	if cfg.Prefix == "" {
		return nil, diag.Structuralf(path, "document prefix is required")
	}
	config := filepath.Join(path, ConfigName)
	if store.Exists(config) {
		return nil, diag.Structuralf(path, "document already exists")
	}
	d := &Document{
		path:       path,
		store:      store,
		hooks:      hooks,
		prefix:     cfg.Prefix,
		sep:        cfg.Sep,
		digits:     cfg.Digits,
		parent:     cfg.Parent,
		itemFormat: "yaml",
		defaults:   map[string]interface{}{},
	}
	if err := d.saveConfig(); err != nil {
		return nil, err
	}
	if hooks.Add != nil {
		if err := hooks.Add(config); err != nil {
			return nil, fmt.Errorf("tracking %s: %w", config, err)
		}
	}
	return d, nil
}

// Load reads a document and its items from a directory. A directory
// without a config file is not a document.
func Load(path string, store storage.Storage, hooks item.Hooks) (*Document, error) {
	config := filepath.Join(path, ConfigName)
	if !store.Exists(config) {
		return nil, diag.Structuralf(path, "no %s in %s", ConfigName, path)
	}
	d := &Document{
		path:       path,
		store:      store,
		hooks:      hooks,
		digits:     DefaultDigits,
		itemFormat: "yaml",
		defaults:   map[string]interface{}{},
	}
	data, err := store.Read(config)
	if err != nil {
		return nil, diag.Structuralf(config, "reading config: %v", err)
	}
	if err := d.decodeConfig(data); err != nil {
		return nil, err
	}
	if err := d.loadItems(); err != nil {
		return nil, err
	}
	return d, nil
}

// Skipped reports whether a directory carries the skip marker.
func Skipped(path string, store storage.Storage) bool {
	return store.Exists(filepath.Join(path, SkipName))
}

// loadItems reads every item record in the document directory.
func (d *Document) loadItems() error {
	names, err := d.store.ListDir(d.path)
	if err != nil {
		return diag.Structuralf(d.path, "listing items: %v", err)
	}
	d.items = nil
	for _, name := range names {
		if !strings.HasSuffix(name, item.Extension) && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(d.path, name)
		it, err := item.Load(path, d.store, d.prefix, d.hooks)
		if err != nil {
			if _, ok := err.(*diag.StructuralError); ok {
				// Not an item record; other YAML files may live here.
				continue
			}
			return err
		}
		d.items = append(d.items, it)
	}
	d.checkUniqueUIDs()
	return nil
}

func (d *Document) checkUniqueUIDs() {
	// Duplicate UIDs within one directory cannot happen with one file
	// per item; the invariant is kept for alternative storages.
	seen := map[string]bool{}
	kept := d.items[:0]
	for _, it := range d.items {
		if seen[it.UID().Short()] {
			continue
		}
		seen[it.UID().Short()] = true
		kept = append(kept, it)
	}
	d.items = kept
}

// Path returns the document's directory.
func (d *Document) Path() string { return d.path }

// ConfigPath returns the path of the document's configuration file.
func (d *Document) ConfigPath() string { return filepath.Join(d.path, ConfigName) }

// Prefix returns the document's UID prefix.
func (d *Document) Prefix() types.Prefix { return d.prefix }

// Sep returns the separator between prefix and number for new items.
func (d *Document) Sep() string { return d.sep }

// Digits returns the digit width for new item numbers.
func (d *Document) Digits() int { return d.digits }

// Parent returns the parent document's prefix, or "" for the root.
func (d *Document) Parent() types.Prefix { return d.parent }

// Publish returns the extended-attribute allow-list for renderers.
func (d *Document) Publish() []string { return append([]string(nil), d.publish...) }

// ExtendedReviewed returns the extended-attribute names that gate
// review status.
func (d *Document) ExtendedReviewed() []string {
	return append([]string(nil), d.extendedReviewed...)
}

// Defaults returns the attribute defaults applied to new items.
func (d *Document) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(d.defaults))
	for k, v := range d.defaults {
		out[k] = v
	}
	return out
}

// SetObserver installs the mutation observer used by the owning tree
// for cache invalidation.
func (d *Document) SetObserver(fn func(uid types.UID)) { d.observer = fn }

func (d *Document) notify(uid types.UID) {
	if d.observer != nil {
		d.observer(uid)
	}
}

// Items returns the document's items ordered by level, then UID.
func (d *Document) Items() []*item.Item {
	items := append([]*item.Item(nil), d.items...)
	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].Level().Compare(items[j].Level()); c != 0 {
			return c < 0
		}
		return items[i].UID().Less(items[j].UID())
	})
	return items
}

// Len returns the number of items.
func (d *Document) Len() int { return len(d.items) }

// Depth returns the maximum item depth, or 0 for an empty document.
func (d *Document) Depth() int {
	depth := 0
	for _, it := range d.items {
		if dd := it.Level().Depth(); dd > depth {
			depth = dd
		}
	}
	return depth
}

// FindItem returns the item with the given UID.
func (d *Document) FindItem(uid types.UID) (*item.Item, error) {
	for _, it := range d.items {
		if it.UID().Equal(uid) {
			return it, nil
		}
	}
	return nil, diag.Reff(uid.String(), "no matching UID: %s", uid)
}

// NextNumber returns one more than the highest item number currently
// visible in the document. This is the local allocation policy; it is
// not race-safe against concurrent clients.
func (d *Document) NextNumber() int {
	max := 0
	for _, it := range d.items {
		if n := it.UID().Number(); n > max {
			max = n
		}
	}
	return max + 1
}

// Add creates a new item with the given number. A zero level places the
// item after the last one.
func (d *Document) Add(number int, level types.Level) (*item.Item, error) {
	uid := types.JoinUID(d.prefix, d.sep, number, d.digits)
	return d.addUID(uid, level)
}

// AddNamed creates a new item with a named (non-numbered) UID.
func (d *Document) AddNamed(name string, level types.Level) (*item.Item, error) {
	uid, err := types.NameUID(d.prefix, d.sep, name)
	if err != nil {
		return nil, diag.Structuralf(d.path, "invalid item name %q: %v", name, err)
	}
	return d.addUID(uid, level)
}

func (d *Document) addUID(uid types.UID, level types.Level) (*item.Item, error) {
	if _, err := d.FindItem(uid); err == nil {
		return nil, diag.Structuralf(d.path, "item already exists: %s", uid)
	}
	if level.IsZero() {
		if last := d.lastItem(); last != nil {
			level = lastSiblingLevel(last)
		} else {
			level = types.NewLevel(1)
		}
	}
	it, err := item.New(d.path, uid, level, d.store, d.prefix, d.hooks)
	if err != nil {
		return nil, err
	}
	if err := d.applyDefaults(it); err != nil {
		// Creation must be all-or-nothing: undo the record on failure.
		_ = it.Delete()
		return nil, err
	}
	d.items = append(d.items, it)
	d.notify(uid)
	return it, nil
}

func (d *Document) lastItem() *item.Item {
	items := d.Items()
	if len(items) == 0 {
		return nil
	}
	return items[len(items)-1]
}

// lastSiblingLevel returns the natural level for an item appended after
// last: the next slot at last's depth.
func lastSiblingLevel(last *item.Item) types.Level {
	return last.Level().Increment()
}

// applyDefaults copies the document's attribute defaults onto a newly
// created item. The reserved "text" default is honored; everything else
// lands in the extended-attribute map.
func (d *Document) applyDefaults(it *item.Item) error {
	keys := make([]string, 0, len(d.defaults))
	for k := range d.defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := d.defaults[k]
		if k == "text" {
			if s, ok := v.(string); ok {
				if err := it.SetText(s); err != nil {
					return err
				}
				continue
			}
		}
		if err := it.SetAttribute(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes an item by UID. Links from other items to the removed
// one are left in place; validation reports them as unresolved.
func (d *Document) Remove(uid types.UID) (*item.Item, error) {
	for i, it := range d.items {
		if it.UID().Equal(uid) {
			if err := it.Delete(); err != nil {
				return nil, err
			}
			d.items = append(d.items[:i], d.items[i+1:]...)
			d.notify(uid)
			return it, nil
		}
	}
	return nil, diag.Reff(uid.String(), "no matching UID: %s", uid)
}

// Delete removes the document and all of its items.
func (d *Document) Delete() error {
	for _, it := range append([]*item.Item(nil), d.items...) {
		if err := it.Delete(); err != nil {
			return err
		}
		d.notify(it.UID())
	}
	d.items = nil
	config := d.ConfigPath()
	if d.hooks.Delete != nil {
		if err := d.hooks.Delete(config); err != nil {
			return fmt.Errorf("untracking %s: %w", config, err)
		}
	}
	if err := d.store.Remove(config); err != nil {
		return err
	}
	return d.store.RemoveDir(d.path)
}

// decodeConfig parses the document configuration. Unknown keys at any
// recognized mapping level are rejected, never ignored.
func (d *Document) decodeConfig(data []byte) error {
	config := d.ConfigPath()
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return diag.Structuralf(config, "invalid YAML: %v", err)
	}
	if len(root.Content) == 0 {
		return diag.Structuralf(config, "empty document config")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return diag.Structuralf(config, "document config must be a mapping")
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		value := mapping.Content[i+1]
		switch key {
		case "settings":
			if err := d.decodeSettings(value); err != nil {
				return err
			}
		case "attributes":
			if err := d.decodeAttributes(value); err != nil {
				return err
			}
		default:
			return diag.Structuralf(config, "unknown config key: %s", key)
		}
	}
	return nil
}

func (d *Document) decodeSettings(node *yaml.Node) error {
	config := d.ConfigPath()
	if node.Kind != yaml.MappingNode {
		return diag.Structuralf(config, "settings must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		var err error
		switch key {
		case "prefix":
			var s string
			if err = value.Decode(&s); err == nil {
				d.prefix = types.NewPrefix(s)
			}
		case "sep":
			var s string
			if err = value.Decode(&s); err == nil {
				s = strings.TrimSpace(s)
				if !types.ValidSep(s) {
					return diag.Structuralf(config, "invalid separator %q", s)
				}
				d.sep = s
			}
		case "digits":
			if err = value.Decode(&d.digits); err == nil && d.digits < 1 {
				return diag.Structuralf(config, "digits must be >= 1, got %d", d.digits)
			}
		case "parent":
			var s string
			if err = value.Decode(&s); err == nil {
				d.parent = types.NewPrefix(strings.TrimSpace(s))
			}
		case "itemformat":
			if err = value.Decode(&d.itemFormat); err == nil && d.itemFormat != "yaml" {
				return diag.Structuralf(config, "unsupported itemformat: %s", d.itemFormat)
			}
		default:
			return diag.Structuralf(config, "unknown settings key: %s", key)
		}
		if err != nil {
			return diag.Structuralf(config, "invalid settings.%s: %v", key, err)
		}
	}
	if d.prefix == "" {
		return diag.Structuralf(config, "settings.prefix is required")
	}
	return nil
}

func (d *Document) decodeAttributes(node *yaml.Node) error {
	config := d.ConfigPath()
	if node.Kind != yaml.MappingNode {
		return diag.Structuralf(config, "attributes must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		var err error
		switch key {
		case "defaults":
			if err = d.resolveIncludes(value); err == nil {
				err = value.Decode(&d.defaults)
			}
		case "publish":
			err = value.Decode(&d.publish)
		case "reviewed":
			err = value.Decode(&d.extendedReviewed)
		default:
			return diag.Structuralf(config, "unknown attributes key: %s", key)
		}
		if err != nil {
			return diag.Structuralf(config, "invalid attributes.%s: %v", key, err)
		}
	}
	return nil
}

// resolveIncludes replaces !include tags with the parsed contents of
// the named fragment file, resolved against the document directory.
// Shared fragments let several documents carry the same defaults.
func (d *Document) resolveIncludes(node *yaml.Node) error {
	if node.Tag == "!include" {
		path := filepath.Join(d.path, strings.TrimSpace(node.Value))
		data, err := d.store.Read(path)
		if err != nil {
			return fmt.Errorf("include %s: %w", node.Value, err)
		}
		var included yaml.Node
		if err := yaml.Unmarshal(data, &included); err != nil {
			return fmt.Errorf("include %s: %w", node.Value, err)
		}
		if len(included.Content) == 0 {
			return fmt.Errorf("include %s: empty fragment", node.Value)
		}
		*node = *included.Content[0]
		return nil
	}
	for _, child := range node.Content {
		if err := d.resolveIncludes(child); err != nil {
			return err
		}
	}
	return nil
}

// saveConfig writes the document configuration.
func (d *Document) saveConfig() error {
	settings := map[string]interface{}{
		"prefix": d.prefix.String(),
		"sep":    d.sep,
		"digits": d.digits,
	}
	if d.parent != "" {
		settings["parent"] = d.parent.String()
	}
	if d.itemFormat != "" {
		settings["itemformat"] = d.itemFormat
	}
	doc := map[string]interface{}{"settings": settings}
	attributes := map[string]interface{}{}
	if len(d.defaults) > 0 {
		attributes["defaults"] = d.defaults
	}
	if len(d.publish) > 0 {
		attributes["publish"] = d.publish
	}
	if len(d.extendedReviewed) > 0 {
		attributes["reviewed"] = d.extendedReviewed
	}
	if len(attributes) > 0 {
		doc["attributes"] = attributes
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if d.hooks.Edit != nil && d.store.Exists(d.ConfigPath()) {
		if err := d.hooks.Edit(d.ConfigPath()); err != nil {
			return fmt.Errorf("marking %s for edit: %w", d.ConfigPath(), err)
		}
	}
	return d.store.Write(d.ConfigPath(), data)
}
