package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/config"
	"github.com/kalambet/bazar/internal/extract"
	"github.com/kalambet/bazar/internal/listing"
	"github.com/kalambet/bazar/internal/storage"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <product name>",
	Short: "Run attribute extraction for a product without starting a conversation",
	Long: `Run attribute extraction for a product without starting a conversation.

Examples:
  bazar extract --category Electronics --subcategory Smartphones "iPhone 15 Pro 256GB"
  bazar extract --category "Sports & Leisure" --subcategory Bicycles "Trek Marlin 7"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		subcategory, _ := cmd.Flags().GetString("subcategory")
		if category == "" || subcategory == "" {
			return errors.New("--category and --subcategory are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)

		cat := loadCatalog(cfg.Catalog.Path, logger)
		c, ok := cat.FindCategory(category)
		if !ok {
			return fmt.Errorf("unknown category %q", category)
		}
		sub, ok := cat.FindSubcategory(c.Name, subcategory)
		if !ok {
			return fmt.Errorf("unknown subcategory %q in %s", subcategory, c.Name)
		}

		ext, err := newExtractor(cfg.LLM, logger)
		if err != nil {
			return err
		}

		printStep("Extracting %s / %s: %s", c.Name, sub.Name, strings.Join(args, " "))
		res := ext.Extract(cmd.Context(), extract.Request{
			ProductName: strings.Join(args, " "),
			Category:    c.Name,
			Subcategory: sub.Name,
			Attributes:  sub.Attributes,
		})
		if !res.Success {
			printWarning("extraction failed: %s", res.Error)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	extractCmd.Flags().String("category", "", "category name")
	extractCmd.Flags().String("subcategory", "", "subcategory name")
	rootCmd.AddCommand(extractCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or initialise the category catalog",
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the category tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.Catalog.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			printStatus("Source", "built-in (no file at %s)", cfg.Catalog.Path)
			cat = catalog.Default()
		case err != nil:
			return err
		default:
			printStatus("Source", "%s", cfg.Catalog.Path)
		}
		writeCatalog(cmd.OutOrStdout(), cat)
		return nil
	},
}

var catalogInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in categories to the catalog file for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}
		path := cfg.Catalog.Path
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating catalog dir: %w", err)
		}
		if err := os.WriteFile(path, catalog.DefaultDefinitions(), 0o644); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
		printSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	catalogInitCmd.Flags().Bool("force", false, "overwrite an existing catalog file")
	catalogCmd.AddCommand(catalogShowCmd)
	catalogCmd.AddCommand(catalogInitCmd)
	rootCmd.AddCommand(catalogCmd)
}

func writeCatalog(w io.Writer, cat *catalog.Catalog) {
	if cat.Empty() {
		fmt.Fprintln(w, "No categories defined.")
		return
	}
	for _, c := range cat.Categories() {
		fmt.Fprintln(w, colorize(colorBold, c.Name))
		for _, s := range c.Subcategories {
			fmt.Fprintf(w, "  %s %s\n", s.Name, colorize(colorDim, "("+strings.Join(s.Attributes, ", ")+")"))
		}
	}
}

// --- listings ---

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Browse and manage published listings",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetInt64("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/listings?limit=%d", limit)
		if user != 0 {
			path = fmt.Sprintf("/v1/users/%d/listings?limit=%d", user, limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var listings []listing.Listing
		if err := decodeJSON(resp, &listings); err != nil {
			return err
		}
		if len(listings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No listings found.")
			return nil
		}
		for _, l := range listings {
			writeListingRow(cmd.OutOrStdout(), l)
		}
		return nil
	},
}

var listingsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/listings/"+args[0])
		if err != nil {
			return err
		}

		var l listing.Listing
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}
		writeListingDetail(cmd.OutOrStdout(), l)
		return nil
	},
}

var listingsStatusCmd = &cobra.Command{
	Use:   "status <id> <active|sold|inactive>",
	Short: "Change a listing's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := listing.ParseStatus(args[1])
		if err != nil {
			return err
		}
		return patchListing(cmd, args[0], map[string]any{"status": string(status)})
	},
}

var listingsPriceCmd = &cobra.Command{
	Use:   "price <id> <price>",
	Short: "Change a listing's price",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil || price <= 0 {
			return fmt.Errorf("invalid price %q", args[1])
		}
		return patchListing(cmd, args[0], map[string]any{"price": price})
	},
}

func patchListing(cmd *cobra.Command, id string, body map[string]any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.patch(cmd.Context(), "/v1/listings/"+id, body)
	if err != nil {
		return err
	}

	var l listing.Listing
	if err := decodeJSON(resp, &l); err != nil {
		return err
	}
	printSuccess("Updated %s", l.ID)
	writeListingRow(cmd.OutOrStdout(), l)
	return nil
}

func init() {
	listingsListCmd.Flags().Int64("user", 0, "only listings of this user id")
	listingsListCmd.Flags().Int("limit", 20, "maximum number of listings")
	listingsCmd.AddCommand(listingsListCmd)
	listingsCmd.AddCommand(listingsShowCmd)
	listingsCmd.AddCommand(listingsStatusCmd)
	listingsCmd.AddCommand(listingsPriceCmd)
	rootCmd.AddCommand(listingsCmd)
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Show the recent user action log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/actions?limit=%d", limit))
		if err != nil {
			return err
		}

		var entries []storage.ActionEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No actions logged.")
			return nil
		}
		for _, e := range entries {
			writeActionRow(cmd.OutOrStdout(), e)
		}
		return nil
	},
}

func init() {
	actionsCmd.Flags().Int("limit", 50, "maximum number of entries")
	rootCmd.AddCommand(actionsCmd)
}

func writeActionRow(w io.Writer, e storage.ActionEntry) {
	details := ""
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	fmt.Fprintf(w, "%s  %-8d %s  %s\n",
		e.Timestamp.Local().Format("2006-01-02 15:04:05"),
		e.UserID,
		colorize(colorCyan, e.Action),
		details,
	)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}

		printStatus("File", "%s", config.ConfigFile())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n",
				colorize(colorBold, k.Key), k.Value, colorize(colorDim, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
