// Package validate checks a tree against the consistency rules:
// level numbering, reference resolution, link integrity, review
// status, and child-link completeness.
package validate

import (
	"fmt"
	"strings"

	"reqtrace/internal/diag"
	"reqtrace/internal/document"
	"reqtrace/internal/item"
	"reqtrace/internal/tree"
	"reqtrace/internal/types"
)

// Policy selects which rule families run and how their findings are
// graded. Severities only ever escalate upward; a policy cannot turn
// an error into a warning.
type Policy struct {
	// CheckLevels flags duplicate and skipped item levels.
	CheckLevels bool
	// CheckRefs resolves external file references.
	CheckRefs bool
	// CheckLinks resolves link targets and flags links into inactive
	// or non-normative items.
	CheckLinks bool
	// CheckSuspectLinks compares link stamps against the current
	// fingerprint of the target.
	CheckSuspectLinks bool
	// StampNewLinks writes the target's fingerprint onto links that
	// have no stamp yet instead of flagging them.
	StampNewLinks bool
	// ReviewNewItems marks items without a review stamp as reviewed
	// instead of flagging them.
	ReviewNewItems bool
	// CheckReviewStatus compares the review stamp against the item's
	// current fingerprint.
	CheckReviewStatus bool
	// CheckChildLinks flags normative items in parent documents that
	// no child item links to.
	CheckChildLinks bool
	// CheckChildLinksStrict requires an inbound link from every child
	// document, naming each missing one, and grades misses as errors.
	CheckChildLinksStrict bool
}

// DefaultPolicy enables every check without the mutating or strict
// behaviors.
func DefaultPolicy() Policy {
	return Policy{
		CheckLevels:       true,
		CheckRefs:         true,
		CheckLinks:        true,
		CheckSuspectLinks: true,
		CheckReviewStatus: true,
		CheckChildLinks:   true,
	}
}

// Validator runs a policy against one tree.
type Validator struct {
	tree   *tree.Tree
	policy Policy
}

// New returns a validator for the tree.
func New(t *tree.Tree, policy Policy) *Validator {
	return &Validator{tree: t, policy: policy}
}

// Validate runs every enabled rule family over the tree, documents in
// hierarchy order and items in level order. The returned diagnostics
// keep that order; the error reports failures of the validator itself,
// not findings.
func (v *Validator) Validate() ([]diag.Diagnostic, error) {
	var out []diag.Diagnostic
	for _, d := range v.tree.Documents() {
		items := d.Items()
		if v.policy.CheckLevels {
			out = append(out, v.checkLevels(d, items)...)
		}
		for _, it := range items {
			found, err := v.checkItem(d, it)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
		if v.policy.CheckChildLinks {
			out = append(out, v.checkChildLinks(d, items)...)
		}
	}
	return out, nil
}

// checkLevels flags exact duplicates and skipped levels between
// neighboring items.
func (v *Validator) checkLevels(d *document.Document, items []*item.Item) []diag.Diagnostic {
	var out []diag.Diagnostic
	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1], items[i]
		scope := cur.UID().String()
		if prev.Level().Equal(cur.Level()) {
			out = append(out, diag.Warningf(scope, "duplicate level %s (%s and %s)",
				cur.Level(), prev.UID(), cur.UID()))
			continue
		}
		if skippedLevel(prev.Level(), cur.Level()) {
			out = append(out, diag.Warningf(scope, "skipped level: %s (%s), %s (%s)",
				prev.Level(), prev.UID(), cur.Level(), cur.UID()))
		}
	}
	return out
}

// skippedLevel reports a numbering gap between two adjacent levels.
// The first shared component that changes must advance by exactly one,
// and every component after it must restart at 0 or 1.
func skippedLevel(prev, cur types.Level) bool {
	p, c := prev.Parts(), cur.Parts()
	shared := len(p)
	if len(c) < shared {
		shared = len(c)
	}
	for i := 0; i < shared; i++ {
		if c[i] == p[i] {
			continue
		}
		if c[i] != p[i]+1 {
			return true
		}
		for j := i + 1; j < len(c); j++ {
			if c[j] > 1 {
				return true
			}
		}
		return false
	}
	// Pure indent: every new counter starts at 0 or 1.
	for j := shared; j < len(c); j++ {
		if c[j] > 1 {
			return true
		}
	}
	return false
}

func (v *Validator) checkItem(d *document.Document, it *item.Item) ([]diag.Diagnostic, error) {
	var out []diag.Diagnostic
	scope := it.UID().String()

	if !it.Active() {
		out = append(out, diag.Infof(scope, "inactive item"))
		return out, nil
	}

	if !it.UID().Prefix().Equal(d.Prefix()) {
		out = append(out, diag.Infof(scope, "prefix differs from document (%s)", d.Prefix()))
	}
	if it.Normative() && !it.Heading() && strings.TrimSpace(it.Text()) == "" {
		out = append(out, diag.Warningf(scope, "no text"))
	}

	if v.policy.CheckRefs {
		out = append(out, v.checkReferences(it)...)
	}
	if v.policy.CheckLinks {
		found, err := v.checkLinks(d, it)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	if v.policy.CheckReviewStatus && it.Normative() {
		found, err := v.checkReviewed(d, it)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// checkReferences resolves every external reference, legacy keyword
// included, and compares stored reference stamps.
func (v *Validator) checkReferences(it *item.Item) []diag.Diagnostic {
	var out []diag.Diagnostic
	scope := it.UID().String()
	finder := v.tree.Finder()

	if ref := it.LegacyRef(); ref != "" {
		if _, _, err := finder.FindKeyword(ref, it.Path()); err != nil {
			out = append(out, diag.Errorf(scope, "unresolved reference: %v", err))
		}
	}
	for _, ref := range it.References() {
		if ref.Path == "" {
			continue
		}
		if _, _, err := finder.FindFileReference(ref.Path, ref.Keyword); err != nil {
			out = append(out, diag.Errorf(scope, "unresolved reference: %v", err))
			continue
		}
		if ref.Stamp.IsSet() {
			current, err := refStamp(v.tree, ref.Path)
			if err != nil {
				out = append(out, diag.Errorf(scope, "stamping reference %s: %v", ref.Path, err))
				continue
			}
			if !current.Equal(ref.Stamp) {
				out = append(out, diag.Warningf(scope, "suspect reference: %s changed since review", ref.Path))
			}
		}
	}
	return out
}

// checkLinks resolves link targets and grades link hygiene. Unresolved
// targets are errors; a link into an inactive item is informational and
// one into a non-normative item is a warning. Normative items in child
// documents must link up unless marked derived.
func (v *Validator) checkLinks(d *document.Document, it *item.Item) ([]diag.Diagnostic, error) {
	var out []diag.Diagnostic
	scope := it.UID().String()

	for _, link := range it.Links() {
		parent, err := v.tree.FindItem(link.Target)
		if err != nil {
			out = append(out, diag.Errorf(scope, "unresolved link target: %s", link.Target))
			continue
		}
		if !parent.Active() {
			out = append(out, diag.Infof(scope, "linked to inactive item: %s", link.Target))
		}
		if !parent.Normative() {
			out = append(out, diag.Warningf(scope, "linked to non-normative item: %s", link.Target))
		}
		if d.Parent() != "" && !parent.DocumentPrefix().Equal(d.Parent()) {
			out = append(out, diag.Infof(scope, "linked to item in wrong document: %s", link.Target))
		}
		if v.policy.CheckSuspectLinks {
			found, err := v.checkLinkStamp(it, parent, link)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
	}

	if !it.Normative() && len(it.Links()) > 0 {
		out = append(out, diag.Warningf(scope, "non-normative, but has links"))
	}

	if d.Parent() != "" && it.Normative() && len(it.Links()) == 0 {
		if it.Derived() {
			out = append(out, diag.Infof(scope, "derived item has no parent links"))
		} else {
			out = append(out, diag.Warningf(scope, "no links to parent document: %s", d.Parent()))
		}
	}
	return out, nil
}

// checkLinkStamp compares one link stamp against the target's current
// fingerprint. An unset stamp is either written or flagged per policy.
func (v *Validator) checkLinkStamp(it, parent *item.Item, link item.Link) ([]diag.Diagnostic, error) {
	scope := it.UID().String()
	current, _ := v.tree.LinkFingerprint(parent.UID())
	switch {
	case !link.Stamp.IsSet() && !link.Stamp.IsPending():
		if v.policy.StampNewLinks {
			if err := it.SetLinkStamp(link.Target, current); err != nil {
				return nil, fmt.Errorf("stamping link %s -> %s: %w", it.UID(), link.Target, err)
			}
			return nil, nil
		}
		return []diag.Diagnostic{diag.Warningf(scope, "unreviewed link: %s", link.Target)}, nil
	case link.Stamp.IsPending():
		return []diag.Diagnostic{diag.Warningf(scope, "link needs review: %s", link.Target)}, nil
	case !link.Stamp.Equal(current):
		return []diag.Diagnostic{diag.Warningf(scope, "suspect link: %s changed since review", link.Target)}, nil
	}
	return nil, nil
}

// checkReviewed compares the item's review stamp with its current
// fingerprint.
func (v *Validator) checkReviewed(d *document.Document, it *item.Item) ([]diag.Diagnostic, error) {
	scope := it.UID().String()
	reviewed := it.Reviewed()
	current := it.Fingerprint(d.ExtendedReviewed(), true)
	switch {
	case !reviewed.IsSet() && !reviewed.IsPending():
		if v.policy.ReviewNewItems {
			if err := it.Review(d.ExtendedReviewed()); err != nil {
				return nil, fmt.Errorf("reviewing %s: %w", it.UID(), err)
			}
			return nil, nil
		}
		return []diag.Diagnostic{diag.Warningf(scope, "needs initial review")}, nil
	case reviewed.IsPending():
		return []diag.Diagnostic{diag.Warningf(scope, "needs review")}, nil
	case !reviewed.Equal(current):
		return []diag.Diagnostic{diag.Warningf(scope, "unreviewed changes")}, nil
	}
	return nil, nil
}

// checkChildLinks flags normative items in documents with children
// that no child item links up to. In strict mode every child document
// must link up, and each missing one is named as an error.
func (v *Validator) checkChildLinks(d *document.Document, items []*item.Item) []diag.Diagnostic {
	children := v.tree.ChildDocuments(d.Prefix())
	if len(children) == 0 {
		return nil
	}
	// linkedFrom records, per item, which child documents link up to it.
	linkedFrom := map[string]map[string]bool{}
	for _, child := range children {
		for _, it := range child.Items() {
			for _, link := range it.Links() {
				key := link.Target.Short()
				if linkedFrom[key] == nil {
					linkedFrom[key] = map[string]bool{}
				}
				linkedFrom[key][child.Prefix().Short()] = true
			}
		}
	}
	var out []diag.Diagnostic
	for _, it := range items {
		if !it.Active() || !it.Normative() || it.Heading() {
			continue
		}
		from := linkedFrom[it.UID().Short()]
		if v.policy.CheckChildLinksStrict {
			for _, child := range children {
				if !from[child.Prefix().Short()] {
					f := diag.Warningf(it.UID().String(), "no links from child document: %s", child.Prefix())
					f.Severity = f.Severity.Escalate(diag.Error)
					out = append(out, f)
				}
			}
			continue
		}
		if len(from) == 0 {
			out = append(out, diag.Warningf(it.UID().String(), "no child item links to %s", it.UID()))
		}
	}
	return out
}

// refStamp fingerprints a referenced file relative to the tree root.
func refStamp(t *tree.Tree, relPath string) (types.Stamp, error) {
	return t.StampReference(relPath)
}
