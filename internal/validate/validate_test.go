package validate

import (
	"path/filepath"
	"strings"
	"testing"

	"reqtrace/internal/diag"
	"reqtrace/internal/document"
	"reqtrace/internal/item"
	"reqtrace/internal/storage"
	"reqtrace/internal/tree"
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

// scaffold builds a REQ root document with a TST child document.
func scaffold(t *testing.T) (*tree.Tree, string) {
	t.Helper()
	root := t.TempDir()
	store := storage.NewDisk()
	req, err := document.New(filepath.Join(root, "reqs"), document.Config{Prefix: "REQ"}, store, item.Hooks{})
	if err != nil {
		t.Fatalf("creating REQ: %v", err)
	}
	tst, err := document.New(filepath.Join(root, "tests"), document.Config{Prefix: "TST", Parent: "REQ"}, store, item.Hooks{})
	if err != nil {
		t.Fatalf("creating TST: %v", err)
	}
	for i := 1; i <= 2; i++ {
		if _, err := req.Add(i, types.Level{}); err != nil {
			t.Fatalf("adding REQ item: %v", err)
		}
		if _, err := tst.Add(i, types.Level{}); err != nil {
			t.Fatalf("adding TST item: %v", err)
		}
	}
	tr, err := tree.Load(root, store)
	if err != nil {
		t.Fatalf("loading tree: %v", err)
	}
	return tr, root
}

func findDiag(found []diag.Diagnostic, scope, fragment string) bool {
	for _, d := range found {
		if d.Scope == scope && strings.Contains(d.Message, fragment) {
			return true
		}
	}
	return false
}

func run(t *testing.T, tr *tree.Tree, policy Policy) []diag.Diagnostic {
	t.Helper()
	found, err := New(tr, policy).Validate()
	if err != nil {
		t.Fatalf("validating: %v", err)
	}
	return found
}

func TestDuplicateLevelWarning(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "REQ002"))
	if err != nil {
		t.Fatalf("finding REQ002: %v", err)
	}
	if err := it.SetLevel(types.NewLevel(1)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	found := run(t, tr, Policy{CheckLevels: true})
	if !findDiag(found, "REQ002", "duplicate level") {
		t.Errorf("expected duplicate level warning naming REQ002, got %v", found)
	}
	if !findDiag(found, "REQ002", "REQ001") {
		t.Errorf("expected the warning to name both items, got %v", found)
	}
}

func TestSkippedLevelWarning(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "REQ002"))
	if err != nil {
		t.Fatalf("finding REQ002: %v", err)
	}
	if err := it.SetLevel(types.NewLevel(4)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	found := run(t, tr, Policy{CheckLevels: true})
	if !findDiag(found, "REQ002", "skipped level") {
		t.Errorf("expected skipped level warning, got %v", found)
	}
}

func TestSkippedLevelAcrossDedent(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "REQ002"))
	if err != nil {
		t.Fatalf("finding REQ002: %v", err)
	}
	if err := it.SetLevel(types.NewLevel(1, 1)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	d, err := tr.FindDocument("REQ")
	if err != nil {
		t.Fatalf("finding REQ: %v", err)
	}
	// 1, 1.1, 2.2: the sibling advance is fine but the re-entered
	// depth-2 counter skips 2.1.
	third, err := d.Add(3, types.NewLevel(2, 2))
	if err != nil {
		t.Fatalf("adding item: %v", err)
	}
	found := run(t, tr, Policy{CheckLevels: true})
	if !findDiag(found, "REQ003", "skipped level") {
		t.Errorf("expected skipped level warning for 1.1 -> 2.2, got %v", found)
	}

	if err := third.SetLevel(types.NewLevel(2, 1)); err != nil {
		t.Fatalf("setting level: %v", err)
	}
	found = run(t, tr, Policy{CheckLevels: true})
	if findDiag(found, "REQ003", "skipped level") {
		t.Errorf("expected 1.1 -> 2.1 to pass, got %v", found)
	}
}

func TestUnresolvedLinkIsError(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "TST001"))
	if err != nil {
		t.Fatalf("finding TST001: %v", err)
	}
	if err := it.AddLink(mustUID(t, "REQ999")); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	found := run(t, tr, Policy{CheckLinks: true})
	if !findDiag(found, "TST001", "unresolved link target: REQ999") {
		t.Errorf("expected unresolved link error, got %v", found)
	}
	if !diag.HasErrors(found) {
		t.Error("expected unresolved link to be error severity")
	}
}

func TestUnlinkedChildItemWarning(t *testing.T) {
	tr, _ := scaffold(t)
	found := run(t, tr, Policy{CheckLinks: true})
	if !findDiag(found, "TST001", "no links to parent document") {
		t.Errorf("expected missing parent link warning, got %v", found)
	}

	// Derived items are exempt.
	it, err := tr.FindItem(mustUID(t, "TST001"))
	if err != nil {
		t.Fatalf("finding TST001: %v", err)
	}
	if err := it.SetDerived(true); err != nil {
		t.Fatalf("marking derived: %v", err)
	}
	found = run(t, tr, Policy{CheckLinks: true})
	if findDiag(found, "TST001", "no links to parent document") {
		t.Errorf("expected derived item to be exempt, got %v", found)
	}
}

func TestSuspectLinkAfterParentEdit(t *testing.T) {
	tr, _ := scaffold(t)
	if err := tr.LinkItems(mustUID(t, "TST001"), mustUID(t, "REQ001")); err != nil {
		t.Fatalf("linking: %v", err)
	}
	policy := Policy{CheckLinks: true, CheckSuspectLinks: true, StampNewLinks: true}
	if found := run(t, tr, policy); findDiag(found, "TST001", "suspect") {
		t.Errorf("expected freshly stamped link not to be suspect, got %v", found)
	}

	// A one-character edit of the parent makes the link suspect.
	parent, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := parent.SetText("changed"); err != nil {
		t.Fatalf("editing parent: %v", err)
	}
	found := run(t, tr, Policy{CheckLinks: true, CheckSuspectLinks: true})
	if !findDiag(found, "TST001", "suspect link: REQ001") {
		t.Errorf("expected suspect link warning, got %v", found)
	}

	// Clearing the link at the new content absolves it.
	child, _ := tr.FindItem(mustUID(t, "TST001"))
	if err := child.Clear(tr.LinkFingerprint); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	found = run(t, tr, Policy{CheckLinks: true, CheckSuspectLinks: true})
	if findDiag(found, "TST001", "suspect link") {
		t.Errorf("expected cleared link not to be suspect, got %v", found)
	}
}

func TestUnreviewedLinkWithoutStamping(t *testing.T) {
	tr, _ := scaffold(t)
	if err := tr.LinkItems(mustUID(t, "TST001"), mustUID(t, "REQ001")); err != nil {
		t.Fatalf("linking: %v", err)
	}
	found := run(t, tr, Policy{CheckLinks: true, CheckSuspectLinks: true})
	if !findDiag(found, "TST001", "unreviewed link: REQ001") {
		t.Errorf("expected unreviewed link warning, got %v", found)
	}
}

func TestReviewStatus(t *testing.T) {
	tr, _ := scaffold(t)
	found := run(t, tr, Policy{CheckReviewStatus: true})
	if !findDiag(found, "REQ001", "needs initial review") {
		t.Errorf("expected initial review warning, got %v", found)
	}

	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := it.Review(nil); err != nil {
		t.Fatalf("reviewing: %v", err)
	}
	found = run(t, tr, Policy{CheckReviewStatus: true})
	if findDiag(found, "REQ001", "needs initial review") {
		t.Errorf("expected no review warning after review, got %v", found)
	}

	if err := it.SetText("edited after review"); err != nil {
		t.Fatalf("editing: %v", err)
	}
	found = run(t, tr, Policy{CheckReviewStatus: true})
	if !findDiag(found, "REQ001", "unreviewed changes") {
		t.Errorf("expected unreviewed changes warning, got %v", found)
	}
}

func TestReviewNewItemsStampsInsteadOfFlagging(t *testing.T) {
	tr, _ := scaffold(t)
	found := run(t, tr, Policy{CheckReviewStatus: true, ReviewNewItems: true})
	if findDiag(found, "REQ001", "review") {
		t.Errorf("expected auto-review to silence the warning, got %v", found)
	}
	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if !it.Reviewed().IsSet() {
		t.Error("expected item to carry a review stamp afterwards")
	}
}

func TestPendingReviewFlagged(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := it.SetReviewed(types.PendingStamp()); err != nil {
		t.Fatalf("marking pending: %v", err)
	}
	found := run(t, tr, Policy{CheckReviewStatus: true})
	if !findDiag(found, "REQ001", "needs review") {
		t.Errorf("expected pending review warning, got %v", found)
	}
}

func TestChildLinkCompleteness(t *testing.T) {
	tr, _ := scaffold(t)
	if err := tr.LinkItems(mustUID(t, "TST001"), mustUID(t, "REQ001")); err != nil {
		t.Fatalf("linking: %v", err)
	}
	found := run(t, tr, Policy{CheckChildLinks: true})
	if !findDiag(found, "REQ002", "no child item links") {
		t.Errorf("expected child-link warning for REQ002, got %v", found)
	}
	if findDiag(found, "REQ001", "no child item links") {
		t.Errorf("expected REQ001 to be covered, got %v", found)
	}
	if diag.HasErrors(found) {
		t.Error("expected warnings only without strict mode")
	}

	strict := run(t, tr, Policy{CheckChildLinks: true, CheckChildLinksStrict: true})
	if !diag.HasErrors(strict) {
		t.Error("expected strict mode to grade missing child links as errors")
	}
}

func TestStrictChildLinksNameEachMissingDocument(t *testing.T) {
	root := t.TempDir()
	store := storage.NewDisk()
	req, err := document.New(filepath.Join(root, "reqs"), document.Config{Prefix: "REQ"}, store, item.Hooks{})
	if err != nil {
		t.Fatalf("creating REQ: %v", err)
	}
	tst, err := document.New(filepath.Join(root, "tests"), document.Config{Prefix: "TST", Parent: "REQ"}, store, item.Hooks{})
	if err != nil {
		t.Fatalf("creating TST: %v", err)
	}
	hlt, err := document.New(filepath.Join(root, "health"), document.Config{Prefix: "HLT", Parent: "REQ"}, store, item.Hooks{})
	if err != nil {
		t.Fatalf("creating HLT: %v", err)
	}
	if _, err := req.Add(1, types.Level{}); err != nil {
		t.Fatalf("adding REQ item: %v", err)
	}
	if _, err := tst.Add(1, types.Level{}); err != nil {
		t.Fatalf("adding TST item: %v", err)
	}
	if _, err := hlt.Add(1, types.Level{}); err != nil {
		t.Fatalf("adding HLT item: %v", err)
	}
	tr, err := tree.Load(root, store)
	if err != nil {
		t.Fatalf("loading tree: %v", err)
	}
	if err := tr.LinkItems(mustUID(t, "TST001"), mustUID(t, "REQ001")); err != nil {
		t.Fatalf("linking: %v", err)
	}

	// One child document covers REQ001, the other does not.
	found := run(t, tr, Policy{CheckChildLinks: true, CheckChildLinksStrict: true})
	if !findDiag(found, "REQ001", "no links from child document: HLT") {
		t.Errorf("expected the uncovered child document to be named, got %v", found)
	}
	if findDiag(found, "REQ001", "no links from child document: TST") {
		t.Errorf("expected the covering child document not to be flagged, got %v", found)
	}
	if !diag.HasErrors(found) {
		t.Error("expected strict mode to grade the miss as an error")
	}

	// Without strict mode partial coverage is enough.
	found = run(t, tr, Policy{CheckChildLinks: true})
	if findDiag(found, "REQ001", "no child item links") {
		t.Errorf("expected partial coverage to pass without strict mode, got %v", found)
	}
}

func TestLinkTargetHygieneSeverities(t *testing.T) {
	tr, _ := scaffold(t)
	if err := tr.LinkItems(mustUID(t, "TST001"), mustUID(t, "REQ001")); err != nil {
		t.Fatalf("linking: %v", err)
	}
	parent, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := parent.SetActive(false); err != nil {
		t.Fatalf("deactivating: %v", err)
	}
	if err := parent.SetNormative(false); err != nil {
		t.Fatalf("marking non-normative: %v", err)
	}

	found := run(t, tr, Policy{CheckLinks: true})
	for _, d := range found {
		if d.Scope != "TST001" {
			continue
		}
		if strings.Contains(d.Message, "linked to inactive item") && d.Severity != diag.Info {
			t.Errorf("expected inactive link finding to be info, got %s", d.Severity)
		}
		if strings.Contains(d.Message, "linked to non-normative item") && d.Severity != diag.Warning {
			t.Errorf("expected non-normative link finding to be warning, got %s", d.Severity)
		}
	}
	if !findDiag(found, "TST001", "linked to inactive item: REQ001") {
		t.Errorf("expected inactive link finding, got %v", found)
	}
	if !findDiag(found, "TST001", "linked to non-normative item: REQ001") {
		t.Errorf("expected non-normative link finding, got %v", found)
	}
}

func TestUnresolvedReferenceIsError(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := it.SetReferences([]item.Reference{{Path: "src/missing.c"}}); err != nil {
		t.Fatalf("setting references: %v", err)
	}
	found := run(t, tr, Policy{CheckRefs: true})
	if !findDiag(found, "REQ001", "unresolved reference") {
		t.Errorf("expected unresolved reference error, got %v", found)
	}
	if !diag.HasErrors(found) {
		t.Error("expected reference failure to be error severity")
	}
}

func TestResolvedReferenceAndStaleStamp(t *testing.T) {
	tr, root := scaffold(t)
	store := storage.NewDisk()
	src := filepath.Join(root, "src", "main.c")
	if err := store.Write(src, []byte("int main(void) { return 0; }\n")); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	stamp, err := tr.StampReference("src/main.c")
	if err != nil {
		t.Fatalf("stamping: %v", err)
	}
	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := it.SetReferences([]item.Reference{{Path: "src/main.c", Stamp: stamp}}); err != nil {
		t.Fatalf("setting references: %v", err)
	}
	if found := run(t, tr, Policy{CheckRefs: true}); findDiag(found, "REQ001", "reference") {
		t.Errorf("expected clean reference, got %v", found)
	}

	// A one-byte change to the referenced file makes the stamp stale.
	if err := store.Write(src, []byte("int main(void) { return 1; }\n")); err != nil {
		t.Fatalf("rewriting source: %v", err)
	}
	found := run(t, tr, Policy{CheckRefs: true})
	if !findDiag(found, "REQ001", "suspect reference") {
		t.Errorf("expected suspect reference warning, got %v", found)
	}
}

func TestEmptyNormativeItemWarning(t *testing.T) {
	tr, _ := scaffold(t)
	found := run(t, tr, Policy{})
	if !findDiag(found, "REQ001", "no text") {
		t.Errorf("expected no-text warning, got %v", found)
	}

	it, err := tr.FindItem(mustUID(t, "REQ001"))
	if err != nil {
		t.Fatalf("finding REQ001: %v", err)
	}
	if err := it.SetText("The system shall start."); err != nil {
		t.Fatalf("setting text: %v", err)
	}
	found = run(t, tr, Policy{})
	if findDiag(found, "REQ001", "no text") {
		t.Errorf("expected warning to clear once text is set, got %v", found)
	}
}

func TestNonNormativeWithLinksWarning(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "TST001"))
	if err != nil {
		t.Fatalf("finding TST001: %v", err)
	}
	if err := it.AddLink(mustUID(t, "REQ001")); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	if err := it.SetNormative(false); err != nil {
		t.Fatalf("marking non-normative: %v", err)
	}
	found := run(t, tr, Policy{CheckLinks: true})
	if !findDiag(found, "TST001", "non-normative, but has links") {
		t.Errorf("expected non-normative link warning, got %v", found)
	}
}

func TestLinkBypassingParentDocument(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "TST001"))
	if err != nil {
		t.Fatalf("finding TST001: %v", err)
	}
	// TST's declared parent is REQ, so a sibling link is suspicious.
	if err := it.AddLink(mustUID(t, "TST002")); err != nil {
		t.Fatalf("adding link: %v", err)
	}
	found := run(t, tr, Policy{CheckLinks: true})
	if !findDiag(found, "TST001", "linked to item in wrong document: TST002") {
		t.Errorf("expected wrong-document info, got %v", found)
	}
}

func TestForeignPrefixItemFlagged(t *testing.T) {
	tr, root := scaffold(t)
	store := storage.NewDisk()
	record := []byte("level: 9\ntext: 'Stray requirement.'\n")
	if err := store.Write(filepath.Join(root, "tests", "REQ010.yml"), record); err != nil {
		t.Fatalf("writing stray item: %v", err)
	}
	tr, err := tree.Load(root, store)
	if err != nil {
		t.Fatalf("reloading tree: %v", err)
	}
	found := run(t, tr, Policy{})
	if !findDiag(found, "REQ010", "prefix differs from document (TST)") {
		t.Errorf("expected prefix mismatch info, got %v", found)
	}
}

func TestInactiveItemsSkipChecks(t *testing.T) {
	tr, _ := scaffold(t)
	it, err := tr.FindItem(mustUID(t, "TST001"))
	if err != nil {
		t.Fatalf("finding TST001: %v", err)
	}
	if err := it.SetActive(false); err != nil {
		t.Fatalf("deactivating: %v", err)
	}
	found := run(t, tr, DefaultPolicy())
	if findDiag(found, "TST001", "no links to parent document") {
		t.Errorf("expected inactive item to skip link checks, got %v", found)
	}
	if !findDiag(found, "TST001", "inactive item") {
		t.Errorf("expected inactive info diagnostic, got %v", found)
	}
}
