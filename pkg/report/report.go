// Package report renders orchestrator results as the fixed-structure text
// report spec.md §6 describes: a header block, one block per finding, and
// a summary line. Rendering is the one place in this tool concerned with
// human-facing formatting; everything upstream deals in structured data.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/LeMikaelF/wal-analyzer/internal/orchestrator"
	"github.com/LeMikaelF/wal-analyzer/pkg/dupdetect"
)

// Write renders result to w. dbPath and walPath are echoed in the header
// block as given (walPath may be empty if no WAL was read).
func Write(w io.Writer, dbPath, walPath string, result *orchestrator.Result) {
	fmt.Fprintf(w, "database: %s\n", dbPath)
	if walPath != "" {
		fmt.Fprintf(w, "wal:      %s\n", walPath)
	}
	fmt.Fprintf(w, "page size: %d bytes\n", result.PageSize)
	fmt.Fprintln(w)

	baseCount, commitCount := 0, 0
	for _, snap := range result.Snapshots {
		for _, f := range snap.Findings {
			fmt.Fprintf(w, "[%s] tree root=%d key=%s kind=%s\n", snap.Label, f.TreeRoot, f.Key, kindLabel(f.Kind))
			for _, loc := range f.Locations {
				fmt.Fprintf(w, "    page=%d cell=%d\n", loc.PageNo, loc.CellIdx)
			}
			if snap.CommitIndex == 0 {
				baseCount++
			} else {
				commitCount++
			}
		}
		names := make([]string, 0, len(snap.TreeErrors))
		for name := range snap.TreeErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "[%s] tree %q: scan error: %v\n", snap.Label, name, snap.TreeErrors[name])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "summary: %d base finding(s), %d commit finding(s), %d total\n", baseCount, commitCount, baseCount+commitCount)
}

func kindLabel(k dupdetect.Kind) string {
	if k == dupdetect.IntraPage {
		return "intra-page"
	}
	return "inter-page"
}

// ExitCode derives the process exit code from a completed run: 2 if any
// snapshot has findings, 0 otherwise. A fatal run error (which never
// reaches this function — Run returns it directly) maps to exit 1 at the
// call site.
func ExitCode(result *orchestrator.Result) int {
	for _, snap := range result.Snapshots {
		if len(snap.Findings) > 0 {
			return 2
		}
	}
	return 0
}
