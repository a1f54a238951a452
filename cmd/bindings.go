package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"padlink/pkg/config"
	"padlink/pkg/dispatch"
	"padlink/pkg/macro"
)

var bindingsProfile string

// bindingsCmd represents the bindings command
var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Manage key bindings",
	Long: `Manage the macro bound to each key and encoder action, per profile.

Selectors are K1..Kn for keys (numbered from 1) and E0_CW, E0_CCW and
E0_BTN for the encoder. Profile names such as "Video Editing" are stored as
"video_editing".`,
}

// bindingsSetCmd binds a selector
var bindingsSetCmd = &cobra.Command{
	Use:   "set <selector> <macro-id>",
	Short: "Bind a key or encoder action to a macro",
	Long: `Bind a selector to a macro id from the catalog.

Example:
  padlink bindings set K1 macro_copy --profile Editing`,
	Args: cobra.ExactArgs(2),
	RunE: runBindingsSet,
}

// bindingsGetCmd shows one binding
var bindingsGetCmd = &cobra.Command{
	Use:   "get <selector>",
	Short: "Show the macro bound to a selector",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingsGet,
}

// bindingsListCmd lists a profile's bindings
var bindingsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the bindings of a profile",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runBindingsList,
}

// bindingsClearCmd removes one binding
var bindingsClearCmd = &cobra.Command{
	Use:   "clear <selector>",
	Short: "Remove a binding",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingsClear,
}

// bindingsProfilesCmd lists stored profiles
var bindingsProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE:  runBindingsProfiles,
}

// bindingsDeleteProfileCmd deletes a profile
var bindingsDeleteProfileCmd = &cobra.Command{
	Use:   "delete-profile <name>",
	Short: "Delete a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingsDeleteProfile,
}

// bindingsExportCmd exports a profile
var bindingsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export a profile's bindings to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingsExport,
}

// bindingsImportCmd imports a profile
var bindingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace a profile's bindings with a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingsImport,
}

func init() {
	bindingsCmd.PersistentFlags().StringVar(&bindingsProfile, "profile", "", "profile (default from config)")

	bindingsCmd.AddCommand(bindingsSetCmd)
	bindingsCmd.AddCommand(bindingsGetCmd)
	bindingsCmd.AddCommand(bindingsListCmd)
	bindingsCmd.AddCommand(bindingsClearCmd)
	bindingsCmd.AddCommand(bindingsProfilesCmd)
	bindingsCmd.AddCommand(bindingsDeleteProfileCmd)
	bindingsCmd.AddCommand(bindingsExportCmd)
	bindingsCmd.AddCommand(bindingsImportCmd)
}

// openBindings loads the config and opens its binding store. The returned
// profile id honours --profile.
func openBindings() (*config.Config, config.BindingStore, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, "", err
	}

	store, err := config.OpenBindingStore(cfg)
	if err != nil {
		return nil, nil, "", err
	}

	profile := cfg.Bindings.Profile
	if bindingsProfile != "" {
		profile = bindingsProfile
	}
	return cfg, store, config.ProfileID(profile), nil
}

func checkSelector(selector string) error {
	if !dispatch.ValidSelector(selector) {
		return fmt.Errorf("invalid selector %q (use K1..Kn, E0_CW, E0_CCW or E0_BTN)", selector)
	}
	return nil
}

func runBindingsSet(cmd *cobra.Command, args []string) error {
	selector, id := args[0], args[1]
	if err := checkSelector(selector); err != nil {
		return err
	}

	cfg, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := macro.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	def, ok := catalog.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s (see 'padlink macros list')", macro.ErrUnknownMacro, id)
	}

	b, err := store.Load(profile)
	if err != nil {
		return err
	}
	b.Set(selector, def.ID)
	if err := store.Save(profile, b); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s (%s)\n", profile, selector, def.ID, def.Describe())
	return nil
}

func runBindingsGet(cmd *cobra.Command, args []string) error {
	_, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := store.Load(profile)
	if err != nil {
		return err
	}

	id := b.Lookup(args[0])
	if id == "" {
		return fmt.Errorf("%s is not bound in profile %s", args[0], profile)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runBindingsList(cmd *cobra.Command, args []string) error {
	cfg, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := store.Load(profile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(b) == 0 {
		fmt.Fprintf(out, "No bindings in profile %s.\n", profile)
		return nil
	}

	catalog, err := macro.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	// Create a tabwriter for aligned output
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SELECTOR\tMACRO\tACTION")
	for _, sel := range b.Selectors() {
		id := b.Lookup(sel)
		action := "(not in catalog)"
		if def, ok := catalog.Lookup(id); ok {
			action = def.Describe()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", sel, id, action)
	}
	return w.Flush()
}

func runBindingsClear(cmd *cobra.Command, args []string) error {
	_, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := store.Load(profile)
	if err != nil {
		return err
	}
	if b.Lookup(args[0]) == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s was not bound\n", args[0])
		return nil
	}
	b.Set(args[0], "")
	if err := store.Save(profile, b); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared %s\n", profile, args[0])
	return nil
}

func runBindingsProfiles(cmd *cobra.Command, args []string) error {
	cfg, store, _, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	stored, err := store.Profiles()
	if err != nil {
		return err
	}

	active := config.ProfileID(cfg.Bindings.Profile)
	out := cmd.OutOrStdout()
	if len(stored) == 0 {
		fmt.Fprintln(out, "No stored profiles.")
		return nil
	}
	for _, p := range stored {
		marker := " "
		if p == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, p)
	}
	return nil
}

func runBindingsDeleteProfile(cmd *cobra.Command, args []string) error {
	_, store, _, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	id := config.ProfileID(args[0])
	if err := store.Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", id)
	return nil
}

// fileStore returns the store as a JSON file store; export and import are
// only offered for that back end
func fileStore(store config.BindingStore) (*config.FileBindingStore, error) {
	fs, ok := store.(*config.FileBindingStore)
	if !ok {
		return nil, fmt.Errorf("export and import need the json bindings backend")
	}
	return fs, nil
}

func runBindingsExport(cmd *cobra.Command, args []string) error {
	_, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	fs, err := fileStore(store)
	if err != nil {
		return err
	}
	if err := fs.ExportProfile(profile, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", profile, args[0])
	return nil
}

func runBindingsImport(cmd *cobra.Command, args []string) error {
	_, store, profile, err := openBindings()
	if err != nil {
		return err
	}
	defer store.Close()

	fs, err := fileStore(store)
	if err != nil {
		return err
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("cannot read %s: %w", args[0], err)
	}
	if err := fs.ImportProfile(profile, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s\n", args[0], profile)
	return nil
}
