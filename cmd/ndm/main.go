package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ndm-tool/ndm/internal/config"
	"github.com/ndm-tool/ndm/internal/cryptoutil"
	"github.com/ndm-tool/ndm/internal/dump"
	"github.com/ndm-tool/ndm/internal/lock"
	"github.com/ndm-tool/ndm/internal/logging"
	"github.com/ndm-tool/ndm/internal/migrate"
	"github.com/ndm-tool/ndm/internal/notify"
	"github.com/ndm-tool/ndm/internal/notion"
	"github.com/ndm-tool/ndm/internal/push"
	"github.com/ndm-tool/ndm/internal/repair"
	"github.com/ndm-tool/ndm/internal/storage"
	"github.com/ndm-tool/ndm/internal/version"
)

// usageError marks failures caused by bad invocation or configuration, which
// exit with code 2 instead of 1.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	SourceKey      string
	DestinationKey string
	ParentPageID   string
	DumpDir        string
	DatabaseIDs    []string
	AllDatabases   bool
	CopyData       bool
	Compression    string
	Timeout        time.Duration
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "ndm",
		Short:         "Migrate Notion databases between workspace accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.SourceKey, "source-key", "", "Source account API key")
	rootCmd.PersistentFlags().StringVar(&overrides.DestinationKey, "destination-key", "", "Destination account API key")
	rootCmd.PersistentFlags().StringVar(&overrides.ParentPageID, "parent-page-id", "", "Destination parent page id")
	rootCmd.PersistentFlags().StringVar(&overrides.DumpDir, "dump-dir", "", "Dump directory")
	rootCmd.PersistentFlags().DurationVar(&overrides.Timeout, "timeout", 0, "Overall operation timeout")

	rootCmd.AddCommand(newDumpCmd(root, overrides))
	rootCmd.AddCommand(newUploadCmd(root, overrides))
	rootCmd.AddCommand(newRepairCmd(root, overrides))
	rootCmd.AddCommand(newRunCmd(root, overrides))
	rootCmd.AddCommand(newPushCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ndm: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newDumpCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Snapshot source database schemas (and optionally records) to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if cfg.Source.APIKey == "" {
				return usageErrorf("source api key is required (source.api_key or --source-key)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			api := notionClient(cfg.Source.APIKey, cfg)
			ids, err := dump.ResolveDatabaseIDs(ctx, api, dump.ParseDatabaseIDs(cfg.Dump.DatabaseIDs), cfg.Dump.AllDatabases, logger)
			if err != nil {
				return usageErrorf("%v", err)
			}

			manifest, err := dump.Write(ctx, api, ids, dump.Options{
				Dir:           cfg.Dump.Dir,
				IncludeData:   cfg.Dump.CopyData,
				Compression:   cfg.Dump.Compression,
				NotionVersion: cfg.Notion.Version,
			}, logger)
			if err != nil {
				return err
			}
			logger.Info().Int("databases", len(manifest.Databases)).Str("dir", cfg.Dump.Dir).Msg("dump completed")
			return nil
		},
	}
	addDumpFlags(cmd, overrides)
	return cmd
}

func newUploadCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Recreate dumped schemas in the destination account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if err := requireDestination(cfg); err != nil {
				return err
			}

			runLock, err := lock.Acquire(cfg.Global.LockFile)
			if err != nil {
				return err
			}
			defer runLock.Release()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			started := time.Now()
			uploader := &migrate.Uploader{
				API:          notionClient(cfg.Destination.APIKey, cfg),
				ParentPageID: cfg.Destination.ParentPageID,
				DumpDir:      cfg.Dump.Dir,
				IncludeData:  cfg.Dump.CopyData,
				Log:          logger,
			}
			res, err := uploader.Run(ctx)
			sendEvent(ctx, cfg, "upload", started, res, err, logger)
			if err != nil {
				return err
			}
			reportUpload(logger, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overrides.CopyData, "copy-data", false, "Also copy dumped records into the created databases")
	return cmd
}

func newRepairCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Delete duplicate auto-generated reverse relations in the destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if err := requireDestination(cfg); err != nil {
				return err
			}

			runLock, err := lock.Acquire(cfg.Global.LockFile)
			if err != nil {
				return err
			}
			defer runLock.Release()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			repairer := &repair.Repairer{
				API:          notionClient(cfg.Destination.APIKey, cfg),
				ParentPageID: cfg.Destination.ParentPageID,
				DumpDir:      cfg.Dump.Dir,
				Pace:         cfg.Repair.Pace,
				Log:          logger,
			}
			res, err := repairer.Run(ctx)
			if err != nil {
				return err
			}
			reportWarnings(logger, res.Warnings)
			logger.Info().Int("checked", res.DatabasesChecked).Int("deleted", res.Deleted).Msg("repair completed")
			return nil
		},
	}
	return cmd
}

func newRunCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dump, upload and repair in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if cfg.Source.APIKey == "" {
				return usageErrorf("source api key is required (source.api_key or --source-key)")
			}
			if err := requireDestination(cfg); err != nil {
				return err
			}

			runLock, err := lock.Acquire(cfg.Global.LockFile)
			if err != nil {
				return err
			}
			defer runLock.Release()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			started := time.Now()
			source := notionClient(cfg.Source.APIKey, cfg)
			ids, err := dump.ResolveDatabaseIDs(ctx, source, dump.ParseDatabaseIDs(cfg.Dump.DatabaseIDs), cfg.Dump.AllDatabases, logger)
			if err != nil {
				return usageErrorf("%v", err)
			}
			if _, err := dump.Write(ctx, source, ids, dump.Options{
				Dir:           cfg.Dump.Dir,
				IncludeData:   cfg.Dump.CopyData,
				Compression:   cfg.Dump.Compression,
				NotionVersion: cfg.Notion.Version,
			}, logger); err != nil {
				return err
			}

			destination := notionClient(cfg.Destination.APIKey, cfg)
			uploader := &migrate.Uploader{
				API:          destination,
				ParentPageID: cfg.Destination.ParentPageID,
				DumpDir:      cfg.Dump.Dir,
				IncludeData:  cfg.Dump.CopyData,
				Log:          logger,
			}
			res, err := uploader.Run(ctx)
			sendEvent(ctx, cfg, "run", started, res, err, logger)
			if err != nil {
				return err
			}
			reportUpload(logger, res)

			if cfg.Repair.AutoRepair {
				repairer := &repair.Repairer{
					API:          destination,
					ParentPageID: cfg.Destination.ParentPageID,
					DumpDir:      cfg.Dump.Dir,
					Pace:         cfg.Repair.Pace,
					Log:          logger,
				}
				rres, err := repairer.Run(ctx)
				if err != nil {
					return err
				}
				reportWarnings(logger, rres.Warnings)
				logger.Info().Int("checked", rres.DatabasesChecked).Int("deleted", rres.Deleted).Msg("repair completed")
			}
			return nil
		},
	}
	addDumpFlags(cmd, overrides)
	return cmd
}

func newPushCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var prefix string
	var concurrency int
	var skipExisting bool
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a dump directory to the configured storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if prefix != "" {
				cfg.Push.Prefix = prefix
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Push.Concurrency = concurrency
			}
			if cmd.Flags().Changed("skip-existing") {
				cfg.Push.SkipExisting = skipExisting
			}
			if encrypt {
				cfg.Push.Encrypt = true
			}

			var key []byte
			if cfg.Push.Encrypt {
				if cfg.Push.EncryptionKey == "" {
					return usageErrorf("push encryption enabled but no key set (push.encryption_key)")
				}
				key, err = cryptoutil.ParseKey(cfg.Push.EncryptionKey)
				if err != nil {
					return usageErrorf("invalid push encryption key: %v", err)
				}
			}

			store, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			pusher := &push.Pusher{
				Store:        store,
				Prefix:       cfg.Push.Prefix,
				Key:          key,
				Concurrency:  cfg.Push.Concurrency,
				SkipExisting: cfg.Push.SkipExisting,
				Log:          logger,
			}
			res, err := pusher.Push(ctx, cfg.Dump.Dir)
			if err != nil {
				return err
			}
			logger.Info().Int("uploaded", res.Uploaded).Int("skipped", res.Skipped).Msg("push completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Object key prefix")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent uploads")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", true, "Skip objects that already exist")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt objects before upload")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return usageErrorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ndm %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func addDumpFlags(cmd *cobra.Command, overrides *overrideFlags) {
	cmd.Flags().StringSliceVar(&overrides.DatabaseIDs, "database-id", nil, "Source database id (repeatable, comma-separated allowed)")
	cmd.Flags().BoolVar(&overrides.AllDatabases, "all-databases", false, "Discover and include every shared database")
	cmd.Flags().BoolVar(&overrides.CopyData, "copy-data", false, "Also dump records, not just schemas")
	cmd.Flags().StringVar(&overrides.Compression, "compression", "", "Dump compression (none/gzip/zstd)")
}

func setup(root *rootFlags, overrides *overrideFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, zerolog.Nop(), usageErrorf("load config: %v", err)
	}
	applyOverrides(cfg, root, overrides)
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	return cfg, logger, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.SourceKey != "" {
		cfg.Source.APIKey = overrides.SourceKey
	}
	if overrides.DestinationKey != "" {
		cfg.Destination.APIKey = overrides.DestinationKey
	}
	if overrides.ParentPageID != "" {
		cfg.Destination.ParentPageID = overrides.ParentPageID
	}
	if overrides.DumpDir != "" {
		cfg.Dump.Dir = overrides.DumpDir
	}
	if len(overrides.DatabaseIDs) > 0 {
		cfg.Dump.DatabaseIDs = overrides.DatabaseIDs
	}
	if overrides.AllDatabases {
		cfg.Dump.AllDatabases = true
	}
	if overrides.CopyData {
		cfg.Dump.CopyData = true
	}
	if overrides.Compression != "" {
		cfg.Dump.Compression = overrides.Compression
	}
	if overrides.Timeout > 0 {
		cfg.Global.OperationTimeout = overrides.Timeout
	}
}

func requireDestination(cfg *config.Config) error {
	if cfg.Destination.APIKey == "" {
		return usageErrorf("destination api key is required (destination.api_key or --destination-key)")
	}
	if cfg.Destination.ParentPageID == "" {
		return usageErrorf("destination parent page id is required (destination.parent_page_id or --parent-page-id)")
	}
	return nil
}

func notionClient(apiKey string, cfg *config.Config) *notion.Client {
	opts := []notion.Option{notion.WithTimeout(cfg.Notion.Timeout)}
	if cfg.Notion.BaseURL != "" {
		opts = append(opts, notion.WithBaseURL(cfg.Notion.BaseURL))
	}
	if cfg.Notion.Version != "" {
		opts = append(opts, notion.WithVersion(cfg.Notion.Version))
	}
	return notion.NewClient(apiKey, opts...)
}

func sendEvent(ctx context.Context, cfg *config.Config, command string, started time.Time, res *migrate.Result, runErr error, logger zerolog.Logger) {
	notifier := notify.FromConfig(cfg.Notifications)
	if len(notifier.Targets) == 0 {
		return
	}
	event := notify.Event{
		Command:   command,
		Status:    "success",
		DumpDir:   cfg.Dump.Dir,
		StartedAt: started,
		EndedAt:   time.Now(),
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	}
	if res != nil {
		event.DatabasesCreated = len(res.Created)
		event.DatabasesSkipped = len(res.Skipped)
		event.PagesCopied = res.PagesCopied
		event.Warnings = len(res.Warnings)
		event.Message = fmt.Sprintf("%d created, %d skipped, %d pages copied", len(res.Created), len(res.Skipped), res.PagesCopied)
	}
	if runErr != nil {
		event.Status = "failure"
		event.Error = runErr.Error()
	}
	if err := notifier.Notify(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("notification failed")
	}
}

func reportUpload(logger zerolog.Logger, res *migrate.Result) {
	reportWarnings(logger, res.Warnings)
	logger.Info().
		Int("created", len(res.Created)).
		Int("skipped", len(res.Skipped)).
		Int("pages_copied", res.PagesCopied).
		Int("relation_updates", res.RelationUpdates).
		Msg("upload completed")
}

func reportWarnings(logger zerolog.Logger, warnings []string) {
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}
}
