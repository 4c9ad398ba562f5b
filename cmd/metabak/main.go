package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metabak/metabak/internal/backup"
	"github.com/metabak/metabak/internal/config"
	"github.com/metabak/metabak/internal/kv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "metabak",
		Short: "metabak - backup orchestration metadata store",
		Long: `metabak records and inspects the bookkeeping state of a backup
orchestration subsystem: session status, log-replication checkpoints,
incremental table sets, registered WAL files, and named backup sets.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path")
	rootCmd.PersistentFlags().StringP("engine", "e", "pebble", "Storage engine (pebble, badger)")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		historyCmd(),
		setsCmd(),
		startCodeCmd(),
		walCmd(),
		purgeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// withSystemTable loads configuration, opens the configured store for the
// duration of one command, and hands a ready SystemTable to fn.
func withSystemTable(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)

	store, err := kv.Open(cfg.Engine, kv.Options{
		DataDir:    cfg.DataDir,
		SyncWrites: cfg.SyncWrites,
		Logger:     logrus.StandardLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close store")
		}
	}()

	st, err := backup.New(store, logrus.StandardLogger())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), cfg, st)
}

func historyCmd() *cobra.Command {
	var (
		n         int
		completed bool
		root      string
		table     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show backup session history, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				var filters []backup.Filter
				if completed {
					filters = append(filters, backup.StateFilter(backup.StateComplete))
				}
				if root != "" {
					filters = append(filters, backup.RootFilter(root))
				}
				if table != "" {
					filters = append(filters, backup.TableFilter(table))
				}
				infos, err := st.GetFilteredHistory(ctx, n, filters...)
				if err != nil {
					return err
				}
				for _, info := range infos {
					printBackupInfo(cmd, info)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "Maximum number of sessions to show")
	cmd.Flags().BoolVar(&completed, "completed", false, "Only successfully completed sessions")
	cmd.Flags().StringVar(&root, "root", "", "Only sessions for this backup destination")
	cmd.Flags().StringVar(&table, "table", "", "Only sessions that covered this table")
	return cmd
}

func printBackupInfo(cmd *cobra.Command, info *backup.BackupInfo) {
	started := time.UnixMilli(info.StartTs).UTC().Format(time.RFC3339)
	cmd.Printf("%s  %-11s %-9s %s  root=%s tables=%s\n",
		started, info.State, info.Type, info.BackupID, info.RootDir,
		strings.Join(info.Tables, ","))
}

func setsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Manage named backup sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backup set names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				names, err := st.ListBackupSets(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					cmd.Println(name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe NAME",
		Short: "Show the tables of a backup set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				tables, err := st.DescribeBackupSet(ctx, args[0])
				if err != nil {
					return err
				}
				if tables == nil {
					return fmt.Errorf("backup set %q not found", args[0])
				}
				for _, table := range tables {
					cmd.Println(table)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME TABLE[,TABLE...]",
		Short: "Add tables to a backup set, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				return st.AddToBackupSet(ctx, args[0], strings.Split(args[1], ","))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME TABLE[,TABLE...]",
		Short: "Remove tables from a backup set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				return st.RemoveFromBackupSet(ctx, args[0], strings.Split(args[1], ","))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a backup set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				return st.DeleteBackupSet(ctx, args[0])
			})
		},
	})

	return cmd
}

func startCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "startcode",
		Short: "Read or write the backup start code of a destination",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get ROOT",
		Short: "Print the start code of a backup destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				code, err := st.ReadBackupStartCode(ctx, args[0])
				if err != nil {
					return err
				}
				if code == "" {
					cmd.Println("(no successful backup yet)")
					return nil
				}
				cmd.Println(code)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set ROOT CODE",
		Short: "Write the start code of a backup destination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				return st.WriteBackupStartCode(ctx, args[1], args[0])
			})
		},
	})

	return cmd
}

func walCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect the WAL registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "Check whether a WAL file is registered as backed up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				ok, err := st.IsWALFileDeletable(ctx, args[0])
				if err != nil {
					return err
				}
				if ok {
					cmd.Println("deletable")
				} else {
					cmd.Println("not deletable")
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered WAL files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				it, err := st.GetWALFilesIterator(ctx, "")
				if err != nil {
					return err
				}
				defer it.Close() //nolint:errcheck
				for {
					item, ok := it.Next()
					if !ok {
						break
					}
					cmd.Printf("%s\tbackup=%s\troot=%s\n", item.WalFile, item.BackupID, item.BackupRoot)
				}
				return it.Err()
			})
		},
	})

	return cmd
}

func purgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished sessions older than the retention budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystemTable(cmd, func(ctx context.Context, cfg *config.Config, st *backup.SystemTable) error {
				retention := olderThan
				if retention == 0 {
					retention = cfg.SessionRetention
				}
				if retention == 0 {
					return fmt.Errorf("no retention given: pass --older-than or set session_retention")
				}
				n, err := st.PurgeExpiredSessions(ctx, retention)
				if err != nil {
					return err
				}
				cmd.Printf("purged %d session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention budget (e.g. 720h)")
	return cmd
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
