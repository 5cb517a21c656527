// Package main provides the reqtrace CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"reqtrace/internal/alloc"
	"reqtrace/internal/diag"
	"reqtrace/internal/document"
	"reqtrace/internal/storage"
	"reqtrace/internal/tree"
	"reqtrace/internal/types"
	"reqtrace/internal/validate"
)

var rootCmd = &cobra.Command{
	Use:   "reqtrace",
	Short: "Requirements traceability for plain-text projects",
	Long:  `reqtrace manages requirement items stored as YAML files, links them across documents, and checks the whole tree for broken links, stale reviews, and numbering problems.`,
}

var createCmd = &cobra.Command{
	Use:   "create <prefix> <path>",
	Short: "Create a new document",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <prefix>",
	Short: "Delete a document and its items",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var addCmd = &cobra.Command{
	Use:   "add <prefix>",
	Short: "Add a new item to a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <uid>",
	Short: "Remove an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var linkCmd = &cobra.Command{
	Use:   "link <child-uid> <parent-uid>",
	Short: "Link a child item to a parent item",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <child-uid> <parent-uid>",
	Short: "Remove a link between two items",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnlink,
}

var reorderCmd = &cobra.Command{
	Use:   "reorder <prefix>",
	Short: "Renumber a document's items",
	Args:  cobra.ExactArgs(1),
	RunE:  runReorder,
}

var reviewCmd = &cobra.Command{
	Use:   "review <uid>|all",
	Short: "Mark items as reviewed at their current content",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var clearCmd = &cobra.Command{
	Use:   "clear <uid>|all",
	Short: "Absolve suspect links at their current target content",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the whole tree",
	RunE:  runCheck,
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the document hierarchy",
	RunE:  runTree,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Show the traceability edges",
	RunE:  runTrace,
}

var (
	parentFlag string
	sepFlag    string
	digitsFlag int

	levelFlag  string
	countFlag  int
	serverFlag string

	indexFlag string
	startFlag string

	strictFlag     bool
	stampFlag      bool
	reviewNewFlag  bool
	skipLevelsFlag bool
	skipRefsFlag   bool
)

func init() {
	createCmd.Flags().StringVar(&parentFlag, "parent", "", "Prefix of the parent document")
	createCmd.Flags().StringVar(&sepFlag, "sep", "", "Separator between prefix and number")
	createCmd.Flags().IntVar(&digitsFlag, "digits", document.DefaultDigits, "Digit width of item numbers")

	addCmd.Flags().StringVar(&levelFlag, "level", "", "Level for the new item")
	addCmd.Flags().IntVar(&countFlag, "count", 1, "Number of items to add")
	addCmd.Flags().StringVar(&serverFlag, "server", "", "Path to a shared number-allocation database")

	reorderCmd.Flags().StringVar(&indexFlag, "index", "", "Outline file to rebuild the document from")
	reorderCmd.Flags().StringVar(&startFlag, "start", "", "Level of the first item")

	checkCmd.Flags().BoolVar(&strictFlag, "strict", false, "Grade missing child links as errors")
	checkCmd.Flags().BoolVar(&stampFlag, "stamp", false, "Stamp unreviewed links instead of flagging them")
	checkCmd.Flags().BoolVar(&reviewNewFlag, "review-new", false, "Mark unreviewed items as reviewed")
	checkCmd.Flags().BoolVar(&skipLevelsFlag, "no-levels", false, "Skip level numbering checks")
	checkCmd.Flags().BoolVar(&skipRefsFlag, "no-refs", false, "Skip external reference checks")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(reorderCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildTree() (*tree.Tree, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return tree.Build(cwd, storage.NewDisk())
}

func runCreate(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	cfg := document.Config{
		Prefix: types.NewPrefix(args[0]),
		Sep:    sepFlag,
		Digits: digitsFlag,
		Parent: types.NewPrefix(parentFlag),
	}
	d, err := t.NewDocument(args[1], cfg)
	if err != nil {
		return err
	}
	fmt.Printf("created document: %s (%s)\n", d.Prefix(), d.Path())
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	prefix := types.NewPrefix(args[0])
	if err := t.RemoveDocument(prefix); err != nil {
		return err
	}
	fmt.Printf("deleted document: %s\n", prefix)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	var level types.Level
	if levelFlag != "" {
		if level, err = types.ParseLevel(levelFlag); err != nil {
			return err
		}
	}
	var allocator alloc.Allocator = alloc.Local{}
	if serverFlag != "" {
		delegated, err := alloc.OpenDelegated(serverFlag)
		if err != nil {
			return err
		}
		defer delegated.Close()
		allocator = delegated
	}
	prefix := types.NewPrefix(args[0])
	for i := 0; i < countFlag; i++ {
		it, err := t.AddItem(cmd.Context(), allocator, prefix, level)
		if err != nil {
			return err
		}
		fmt.Printf("added item: %s (level %s)\n", it.UID(), it.Level())
		level = types.Level{}
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	it, err := t.FindItemString(args[0])
	if err != nil {
		return err
	}
	if _, err := t.RemoveItem(it.UID()); err != nil {
		return err
	}
	fmt.Printf("removed item: %s\n", it.UID())
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	child, parent, err := resolvePair(t, args[0], args[1])
	if err != nil {
		return err
	}
	if err := t.LinkItems(child, parent); err != nil {
		return err
	}
	fmt.Printf("linked: %s -> %s\n", child, parent)
	return nil
}

func runUnlink(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	child, parent, err := resolvePair(t, args[0], args[1])
	if err != nil {
		return err
	}
	if err := t.UnlinkItems(child, parent); err != nil {
		return err
	}
	fmt.Printf("unlinked: %s -> %s\n", child, parent)
	return nil
}

func resolvePair(t *tree.Tree, childArg, parentArg string) (types.UID, types.UID, error) {
	child, err := t.FindItemString(childArg)
	if err != nil {
		return types.UID{}, types.UID{}, err
	}
	parent, err := t.FindItemString(parentArg)
	if err != nil {
		return types.UID{}, types.UID{}, err
	}
	return child.UID(), parent.UID(), nil
}

func runReorder(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	d, err := t.FindDocument(types.NewPrefix(args[0]))
	if err != nil {
		return err
	}
	if indexFlag != "" {
		data, err := os.ReadFile(indexFlag)
		if err != nil {
			return err
		}
		outline, err := document.ParseOutline(data)
		if err != nil {
			return err
		}
		if err := d.ReorderFromIndex(outline); err != nil {
			return err
		}
	}
	var start types.Level
	if startFlag != "" {
		if start, err = types.ParseLevel(startFlag); err != nil {
			return err
		}
	}
	if err := d.Reorder(start, types.UID{}); err != nil {
		return err
	}
	fmt.Printf("reordered document: %s\n", d.Prefix())
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	if args[0] == "all" {
		for _, d := range t.Documents() {
			for _, it := range d.Items() {
				if err := it.Review(d.ExtendedReviewed()); err != nil {
					return err
				}
			}
		}
		fmt.Println("reviewed all items")
		return nil
	}
	it, err := t.FindItemString(args[0])
	if err != nil {
		return err
	}
	d, err := t.FindDocument(it.UID().Prefix())
	if err != nil {
		return err
	}
	if err := it.Review(d.ExtendedReviewed()); err != nil {
		return err
	}
	fmt.Printf("reviewed item: %s\n", it.UID())
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	if args[0] == "all" {
		for _, it := range t.Items() {
			if err := it.Clear(t.LinkFingerprint); err != nil {
				return err
			}
		}
		fmt.Println("cleared all suspect links")
		return nil
	}
	it, err := t.FindItemString(args[0])
	if err != nil {
		return err
	}
	if err := it.Clear(t.LinkFingerprint); err != nil {
		return err
	}
	fmt.Printf("cleared suspect links: %s\n", it.UID())
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	policy := validate.DefaultPolicy()
	policy.CheckChildLinksStrict = strictFlag
	policy.StampNewLinks = stampFlag
	policy.ReviewNewItems = reviewNewFlag
	policy.CheckLevels = !skipLevelsFlag
	policy.CheckRefs = !skipRefsFlag

	for _, cycle := range t.FindCycles() {
		fmt.Printf("error: %s: link cycle: %s\n", cycle[0], cycle)
	}

	found, err := validate.New(t, policy).Validate()
	if err != nil {
		return err
	}
	for _, d := range found {
		fmt.Println(d)
	}
	if diag.HasErrors(found) || len(t.FindCycles()) > 0 {
		return fmt.Errorf("validation failed")
	}
	fmt.Println("ok")
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	fmt.Println(t.Draw())
	return nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	t, err := buildTree()
	if err != nil {
		return err
	}
	for _, row := range t.GetTraceability() {
		parent, child := "-", "-"
		if row.Parent != nil {
			parent = row.Parent.UID().String()
		}
		if row.Child != nil {
			child = row.Child.UID().String()
		}
		fmt.Printf("%-12s  %s\n", parent, child)
	}
	return nil
}
