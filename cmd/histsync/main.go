package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"histsync/internal/app"
	"histsync/internal/config"
	"histsync/internal/histsync"
	"histsync/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation names the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "histsync",
	Short:        "Local cache of a history server",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init USER_ID",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])
		cfg.Store.DataDir = defaults["cache_dir"]
		if url, _ := cmd.Flags().GetString("url"); url != "" {
			cfg.Remote.BaseURL = url
		}
		if key, _ := cmd.Flags().GetString("api-key"); key != "" {
			cfg.Remote.APIKey = key
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", cfg.UserID)
		fmt.Printf("Server:   %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User ID:       %s\n", cfg.UserID)
		fmt.Printf("Server:        %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Store:         %s %s\n", cfg.Store.Type, cfg.Store.DataDir)
		fmt.Printf("Poll Interval: %s\n", cfg.Poll.Interval)
		fmt.Printf("Page Size:     %d\n", cfg.Loader.PageSize)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		return nil
	},
}

var historiesCmd = &cobra.Command{
	Use:   "histories",
	Short: "Refresh and list your histories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "histories")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Histories(ctx)
		if err != nil {
			return fmt.Errorf("loading histories: %w", err)
		}
		for _, h := range list {
			fmt.Printf("%s  %-26s  %s\n", h.ID, h.UpdateTime, h.Name)
		}
		return nil
	},
}

var contentsCmd = &cobra.Command{
	Use:   "contents HISTORY_ID",
	Short: "Load and list a history's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		params, err := searchParams(cmd, args[0])
		if err != nil {
			return err
		}
		offline, _ := cmd.Flags().GetBool("offline")

		a, err := newApp(ctx, "contents")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Contents(ctx, params, offline)
		if err != nil {
			return err
		}
		printContent(list)
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll HISTORY_ID",
	Short: "Watch a history's content until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := searchParams(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d, _ := cmd.Flags().GetDuration("for"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		a, err := newApp(ctx, "poll")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Poll(ctx, params, func(list []*model.Content) {
			fmt.Printf("-- %s  %d item(s)\n", time.Now().Format(time.TimeOnly), len(list))
			printContent(list)
		})
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Drop every cached record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "wipe")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Wipe(ctx); err != nil {
			return err
		}
		fmt.Println("Local cache wiped")
		return nil
	},
}

// searchParams builds the content window from the shared content flags.
func searchParams(cmd *cobra.Command, historyID string) (histsync.SearchParams, error) {
	p := histsync.NewSearchParams(historyID)
	if filter, _ := cmd.Flags().GetString("filter"); filter != "" {
		p = p.WithFilterText(filter)
	}
	if deleted, _ := cmd.Flags().GetBool("deleted"); deleted {
		p = p.WithShowDeleted(true)
	}
	if hidden, _ := cmd.Flags().GetBool("hidden"); hidden {
		p = p.WithShowHidden(true)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return p, fmt.Errorf("--limit must be positive, got %d", limit)
	}
	p.Limit = limit
	return p, nil
}

func printContent(list []*model.Content) {
	for _, c := range list {
		var flags []string
		if c.IsDeleted {
			flags = append(flags, "deleted")
		}
		if c.Purged {
			flags = append(flags, "purged")
		}
		if !c.Visible {
			flags = append(flags, "hidden")
		}
		mark := ""
		if len(flags) > 0 {
			mark = "  [" + strings.Join(flags, ",") + "]"
		}
		fmt.Printf("%5d  %-10s  %-8s  %s%s\n", c.HID, c.HistoryContentType, c.State, c.Name, mark)
	}
}

func addContentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("filter", "f", "", "Only show items whose name matches")
	cmd.Flags().Bool("deleted", false, "Include deleted items")
	cmd.Flags().Bool("hidden", false, "Include hidden items")
	cmd.Flags().IntP("limit", "n", histsync.PageSize, "Maximum number of items to show")
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("url", "", "History server base URL")
	configInitCmd.Flags().String("api-key", "", "API key sent with every request")

	addContentFlags(contentsCmd)
	contentsCmd.Flags().Bool("offline", false, "List cached items without contacting the server")
	addContentFlags(pollCmd)
	pollCmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historiesCmd)
	rootCmd.AddCommand(contentsCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(wipeCmd)
}
