package item

import (
	"path/filepath"
	"strings"
	"testing"

	"reqtrace/internal/storage"
	"reqtrace/internal/types"
)

func mustUID(t *testing.T, s string) types.UID {
	t.Helper()
	uid, err := types.ParseUID(s)
	if err != nil {
		t.Fatalf("parsing UID %q: %v", s, err)
	}
	return uid
}

func newTestItem(t *testing.T, uid string) (*Item, string) {
	t.Helper()
	dir := t.TempDir()
	it, err := New(dir, mustUID(t, uid), types.NewLevel(1), storage.NewDisk(), "REQ", Hooks{})
	if err != nil {
		t.Fatalf("creating item: %v", err)
	}
	return it, dir
}

func reload(t *testing.T, it *Item) *Item {
	t.Helper()
	loaded, err := Load(it.Path(), storage.NewDisk(), it.DocumentPrefix(), Hooks{})
	if err != nil {
		t.Fatalf("loading %s: %v", it.Path(), err)
	}
	return loaded
}

func TestNewAndLoadRoundTrip(t *testing.T) {
	it, _ := newTestItem(t, "REQ001")
	if err := it.SetText("The item shall round trip.\nWith two lines."); err != nil {
		t.Fatalf("setting text: %v", err)
	}
	if err := it.SetLevel(types.NewLevel(1, 2)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	if err := it.AddLink(mustUID(t, "SYS001")); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	if err := it.SetReferences([]Reference{{Path: "src/main.c", Keyword: "init"}}); err != nil {
		t.Fatalf("setting references: %v", err)
	}
	if err := it.SetAttribute("rationale", "traceability demo"); err != nil {
		t.Fatalf("setting attribute: %v", err)
	}

	loaded := reload(t, it)
	if loaded.Text() != it.Text() {
		t.Errorf("expected text %q, got %q", it.Text(), loaded.Text())
	}
	if !loaded.Level().Equal(types.NewLevel(1, 2)) {
		t.Errorf("expected level 1.2, got %s", loaded.Level())
	}
	if !loaded.HasLink(mustUID(t, "SYS001")) {
		t.Error("expected link to SYS001 after reload")
	}
	refs := loaded.References()
	if len(refs) != 1 || refs[0].Path != "src/main.c" || refs[0].Keyword != "init" {
		t.Errorf("unexpected references after reload: %+v", refs)
	}
	if v, ok := loaded.Attribute("rationale"); !ok || v != "traceability demo" {
		t.Errorf("expected rationale attribute, got %v (%v)", v, ok)
	}
	if !loaded.Active() || !loaded.Normative() || loaded.Derived() {
		t.Error("expected default flags after reload")
	}
}

func TestHeadingInference(t *testing.T) {
	it, _ := newTestItem(t, "REQ002")
	if err := it.SetLevel(types.NewLevel(2, 0)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	if err := it.SetHeading(true); err != nil {
		t.Fatalf("setting heading: %v", err)
	}
	loaded := reload(t, it)
	if !loaded.Heading() {
		t.Error("expected heading after reload")
	}
	if loaded.Normative() {
		t.Error("expected heading item to be non-normative")
	}

	// A normative item at a zero-ended level is not a heading.
	other, _ := newTestItem(t, "REQ003")
	if err := other.SetLevel(types.NewLevel(3, 0)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	if reload(t, other).Heading() {
		t.Error("expected normative item not to be a heading")
	}
}

func TestSetHeadingNormalizesLevel(t *testing.T) {
	it, _ := newTestItem(t, "REQ005")
	if err := it.SetLevel(types.NewLevel(2, 1)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	if err := it.SetHeading(true); err != nil {
		t.Fatalf("setting heading: %v", err)
	}
	if got := it.Level().String(); got != "2.1.0" {
		t.Errorf("expected level 2.1.0, got %s", got)
	}
	loaded := reload(t, it)
	if !loaded.Heading() {
		t.Error("expected heading to survive reload")
	}

	if err := loaded.SetHeading(false); err != nil {
		t.Fatalf("clearing heading: %v", err)
	}
	if got := loaded.Level().String(); got != "2.1" {
		t.Errorf("expected level 2.1, got %s", got)
	}
	again := reload(t, loaded)
	if again.Heading() {
		t.Error("expected heading to stay off after reload")
	}
	if !again.Normative() {
		t.Error("expected normative force to be restored")
	}
}

func TestLinkOperations(t *testing.T) {
	it, _ := newTestItem(t, "REQ004")
	target := mustUID(t, "SYS010")
	if err := it.AddLink(target); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	if err := it.AddLink(target); err != nil {
		t.Fatalf("re-adding link: %v", err)
	}
	if got := len(it.Links()); got != 1 {
		t.Errorf("expected 1 link after duplicate add, got %d", got)
	}
	stamp := types.NewStamp("content")
	if err := it.SetLinkStamp(target, stamp); err != nil {
		t.Fatalf("stamping link: %v", err)
	}
	loaded := reload(t, it)
	if links := loaded.Links(); !links[0].Stamp.Equal(stamp) {
		t.Errorf("expected stamp to survive reload, got %s", links[0].Stamp)
	}
	if err := it.RemoveLink(target); err != nil {
		t.Fatalf("removing link: %v", err)
	}
	if err := it.RemoveLink(target); err == nil {
		t.Error("expected error removing a missing link")
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	it, _ := newTestItem(t, "REQ005")
	if err := it.SetText("The pump shall start."); err != nil {
		t.Fatalf("setting text: %v", err)
	}
	before := it.Fingerprint(nil, false)
	if !before.Equal(reload(t, it).Fingerprint(nil, false)) {
		t.Error("expected fingerprint to be stable across reload")
	}
	// A single-character edit must change the fingerprint.
	if err := it.SetText("The pump shall start!"); err != nil {
		t.Fatalf("editing text: %v", err)
	}
	if before.Equal(it.Fingerprint(nil, false)) {
		t.Error("expected fingerprint to change with content")
	}
}

func TestFingerprintIncludesLinksAndAttributes(t *testing.T) {
	it, _ := newTestItem(t, "REQ006")
	base := it.Fingerprint(nil, true)
	if err := it.AddLink(mustUID(t, "SYS001")); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	if base.Equal(it.Fingerprint(nil, true)) {
		t.Error("expected relinking to change the link-inclusive fingerprint")
	}
	if !it.Fingerprint(nil, false).Equal(it.Fingerprint(nil, false)) {
		t.Error("expected link-exclusive fingerprint to be deterministic")
	}

	if err := it.SetAttribute("verification", "test"); err != nil {
		t.Fatalf("setting attribute: %v", err)
	}
	plain := it.Fingerprint(nil, false)
	extended := it.Fingerprint([]string{"verification"}, false)
	if plain.Equal(extended) {
		t.Error("expected extended attribute to participate when listed")
	}
}

func TestReviewAndClear(t *testing.T) {
	it, _ := newTestItem(t, "REQ007")
	if err := it.SetText("Reviewed content."); err != nil {
		t.Fatalf("setting text: %v", err)
	}
	if err := it.Review(nil); err != nil {
		t.Fatalf("reviewing: %v", err)
	}
	if !it.Reviewed().Equal(it.Fingerprint(nil, true)) {
		t.Error("expected review stamp to match the current fingerprint")
	}

	target := mustUID(t, "SYS001")
	if err := it.AddLink(target); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	live := types.NewStamp("target content")
	lookup := func(uid types.UID) (types.Stamp, bool) {
		if uid.Equal(target) {
			return live, true
		}
		return types.Stamp{}, false
	}
	if it.IsCleared(lookup) {
		t.Error("expected unstamped link to be suspect")
	}
	if err := it.Clear(lookup); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if !it.IsCleared(lookup) {
		t.Error("expected cleared item after Clear")
	}
}

func TestSetAttributeReservedKey(t *testing.T) {
	it, _ := newTestItem(t, "REQ008")
	for _, key := range []string{"text", "links", "level", "reviewed"} {
		if err := it.SetAttribute(key, "x"); err == nil {
			t.Errorf("expected error setting reserved key %q", key)
		}
	}
}

func TestUnknownKeysSurviveRewrite(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewDisk()
	path := filepath.Join(dir, "REQ009.yml")
	record := "" +
		"active: true\n" +
		"custom_field: kept around\n" +
		"derived: false\n" +
		"level: 1\n" +
		"links: []\n" +
		"normative: true\n" +
		"reviewed:\n" +
		"text: |\n" +
		"  Original text.\n"
	if err := store.Write(path, []byte(record)); err != nil {
		t.Fatalf("writing record: %v", err)
	}
	it, err := Load(path, store, "REQ", Hooks{})
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if v, ok := it.Attribute("custom_field"); !ok || v != "kept around" {
		t.Fatalf("expected custom_field to load, got %v (%v)", v, ok)
	}
	if err := it.SetText("Rewritten text."); err != nil {
		t.Fatalf("rewriting: %v", err)
	}
	data, err := store.Read(path)
	if err != nil {
		t.Fatalf("re-reading: %v", err)
	}
	if !strings.Contains(string(data), "custom_field: kept around") {
		t.Errorf("expected unknown key to survive a rewrite, got:\n%s", data)
	}
}

func TestLegacyRefSurfacesAsReference(t *testing.T) {
	it, _ := newTestItem(t, "REQ010")
	if err := it.SetLegacyRef("startup_marker"); err != nil {
		t.Fatalf("setting legacy ref: %v", err)
	}
	refs := it.References()
	if len(refs) != 1 || refs[0].Keyword != "startup_marker" || refs[0].Path != "" {
		t.Errorf("expected legacy ref as keyword-only reference, got %+v", refs)
	}
	loaded := reload(t, it)
	if loaded.LegacyRef() != "startup_marker" {
		t.Errorf("expected legacy ref to survive reload, got %q", loaded.LegacyRef())
	}
}

func TestLoadRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewDisk()
	path := filepath.Join(dir, "notauid.yml")
	if err := store.Write(path, []byte("text: |\n  x\n")); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if _, err := Load(path, store, "REQ", Hooks{}); err == nil {
		t.Error("expected error for a filename that is not a UID")
	}
}
