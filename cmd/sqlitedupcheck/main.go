// Command sqlitedupcheck validates a SQLite database, and optionally its
// WAL file, for B-tree key and rowid duplication.
//
// Usage:
//
//	sqlitedupcheck -d path/to.db [-w path/to.db-wal] [--check-indexes]
//
// Exit codes: 0 clean, 1 runtime error, 2 one or more duplicates found.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeMikaelF/wal-analyzer/internal/orchestrator"
	"github.com/LeMikaelF/wal-analyzer/pkg/report"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		dbPath       string
		walPath      string
		checkIndexes bool
		exitCode     int
	)

	root := &cobra.Command{
		Use:          "sqlitedupcheck",
		Short:        "Detect B-tree key and rowid duplication in a SQLite database and its WAL",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			effectiveWAL := walPath
			if effectiveWAL == "" {
				effectiveWAL = dbPath + "-wal"
			}

			result, err := orchestrator.Run(orchestrator.Options{
				DatabasePath: dbPath,
				WALPath:      effectiveWAL,
				CheckIndexes: checkIndexes,
			})
			if err != nil {
				return err
			}

			report.Write(stdout, dbPath, effectiveWAL, result)
			exitCode = report.ExitCode(result)
			return nil
		},
	}

	root.Flags().StringVarP(&dbPath, "database", "d", "", "path to the SQLite database file (required)")
	root.Flags().StringVarP(&walPath, "wal", "w", "", "path to the WAL file (default <database>-wal)")
	root.Flags().BoolVar(&checkIndexes, "check-indexes", false, "also scan index B-trees (experimental)")
	_ = root.MarkFlagRequired("database")

	// Registering "version" ourselves gives it the -V shorthand; cobra's
	// InitDefaultVersionFlag only adds one automatically when we haven't.
	root.Flags().BoolP("version", "V", false, "print version and exit")

	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "sqlitedupcheck: %v\n", err)
		return 1
	}
	return exitCode
}
