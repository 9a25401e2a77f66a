// Package orchestrator drives a full run: read the database and WAL
// headers, discover trees from sqlite_master, scan the base snapshot and
// every WAL commit snapshot, and collect findings and per-tree errors.
package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/LeMikaelF/wal-analyzer/pkg/btreescan"
	"github.com/LeMikaelF/wal-analyzer/pkg/dbheader"
	"github.com/LeMikaelF/wal-analyzer/pkg/dupdetect"
	"github.com/LeMikaelF/wal-analyzer/pkg/pagecache"
	"github.com/LeMikaelF/wal-analyzer/pkg/record"
	"github.com/LeMikaelF/wal-analyzer/pkg/walfile"
)

// sqliteMasterRoot is the fixed root page of every SQLite database's
// schema table.
const sqliteMasterRoot = 1

// Options configures one run of the checker.
type Options struct {
	DatabasePath string
	WALPath      string // empty means no WAL file is read
	CheckIndexes bool
	MaxDepth     int // 0 means btreescan.DefaultMaxDepth
}

// SnapshotResult is the findings (and any per-tree errors) for one
// snapshot: the base DB state, or the state after one WAL commit.
type SnapshotResult struct {
	Label       string // "Base" or "Commit#N"
	CommitIndex int    // 0 for Base
	Findings    []dupdetect.Finding
	TreeErrors  map[string]error // tree name -> scan error, scanning continues past these
}

// Result is the full outcome of a run.
type Result struct {
	PageSize  int
	Snapshots []SnapshotResult
}

// TreeDescriptor is a discovered table or index B-tree.
type TreeDescriptor struct {
	Name string
	Kind btreescan.Kind
	Root uint32
}

// Run executes the full procedure described in spec.md §4.9: read
// headers, discover trees, scan the base snapshot, then scan each WAL
// commit snapshot as the commit iterator advances the cache.
func Run(opts Options) (*Result, error) {
	dbFile, err := os.Open(opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening database: %w", err)
	}
	headerBuf := make([]byte, dbheader.Size)
	if _, err := dbFile.ReadAt(headerBuf, 0); err != nil {
		dbFile.Close()
		return nil, fmt.Errorf("orchestrator: reading database header: %w", err)
	}
	dbFile.Close()

	hdr, err := dbheader.Decode(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	base, err := pagecache.OpenFile(opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening database: %w", err)
	}
	cache := pagecache.New(base, hdr.PageSize)
	defer cache.Close()

	usable := hdr.UsablePageSize()
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = btreescan.DefaultMaxDepth
	}

	result := &Result{PageSize: hdr.PageSize}

	baseMaxPage := cache.BasePageCount()
	baseTrees, err := discoverTrees(cache, usable, maxDepth, baseMaxPage)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: discovering schema: %w", err)
	}
	baseSnapshot, err := scanSnapshot("Base", 0, baseTrees, cache, usable, maxDepth, baseMaxPage, opts.CheckIndexes)
	if err != nil {
		return nil, err
	}
	result.Snapshots = append(result.Snapshots, *baseSnapshot)

	if opts.WALPath == "" {
		return result, nil
	}
	if _, err := os.Stat(opts.WALPath); errors.Is(err, os.ErrNotExist) {
		return result, nil
	}

	walFile, err := os.Open(opts.WALPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening WAL: %w", err)
	}
	defer walFile.Close()

	walHeader, err := walfile.ReadHeader(walFile, hdr.PageSize)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	err = walfile.Commits(walFile, walHeader, cache, func(snap walfile.CommitSnapshot) error {
		trees, err := discoverTrees(cache, usable, maxDepth, snap.DBSizePages)
		if err != nil {
			return fmt.Errorf("orchestrator: re-discovering schema at commit %d: %w", snap.Index, err)
		}
		label := fmt.Sprintf("Commit#%d", snap.Index)
		sr, err := scanSnapshot(label, snap.Index, trees, cache, usable, maxDepth, snap.DBSizePages, opts.CheckIndexes)
		if err != nil {
			return err
		}
		result.Snapshots = append(result.Snapshots, *sr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// scanSnapshot scans every table tree (and, if enabled, every index tree)
// at the current cache state, collecting findings and demoting per-tree
// scan failures to recorded errors rather than aborting the snapshot.
func scanSnapshot(label string, commitIndex int, trees []TreeDescriptor, cache *pagecache.Cache, usable, maxDepth int, maxPage uint32, checkIndexes bool) (*SnapshotResult, error) {
	sr := &SnapshotResult{
		Label:       label,
		CommitIndex: commitIndex,
		TreeErrors:  make(map[string]error),
	}

	for _, tree := range trees {
		if tree.Kind == btreescan.Index && !checkIndexes {
			continue
		}

		det := dupdetect.New(tree.Root)
		scanErr := btreescan.Scan(cache, tree.Root, tree.Kind, usable, btreescan.Options{MaxDepth: maxDepth, MaxPage: maxPage}, func(o btreescan.Observation) error {
			loc := dupdetect.Location{PageNo: o.PageNo, CellIdx: o.CellIdx}
			if tree.Kind == btreescan.Table {
				det.ObserveRowID(o.RowID, loc)
				return nil
			}
			if o.HasOverflow {
				// spec.md §4.1/§8: an overflowing index key is skipped,
				// not treated as a phantom duplicate.
				return nil
			}
			det.ObserveIndexKey(o.Key, loc)
			return nil
		})
		if scanErr != nil {
			sr.TreeErrors[tree.Name] = scanErr
			continue
		}
		sr.Findings = append(sr.Findings, det.Findings()...)
	}

	return sr, nil
}

// discoverTrees scans the sqlite_master table tree (root page 1) and
// returns a descriptor for sqlite_master itself, so its rowids are checked
// like any other table's, followed by one for every (type, name, rootpage)
// tuple naming a table or index with a nonzero root page. Every such row
// yields a descriptor, including both rows of a duplicated rowid. A row
// whose payload overflows or fails to
// decode is skipped rather than aborting discovery — spec.md's schema
// reader only needs type/name/rootpage, all of which SQLite keeps small
// enough to never overflow in practice, but corruption could still
// produce one.
func discoverTrees(cache *pagecache.Cache, usable, maxDepth int, maxPage uint32) ([]TreeDescriptor, error) {
	trees := []TreeDescriptor{{Name: "sqlite_master", Kind: btreescan.Table, Root: sqliteMasterRoot}}
	err := btreescan.Scan(cache, sqliteMasterRoot, btreescan.Table, usable, btreescan.Options{MaxDepth: maxDepth, MaxPage: maxPage}, func(o btreescan.Observation) error {
		if o.HasOverflow {
			return nil
		}
		rec, err := record.Decode(o.Payload)
		if err != nil || len(rec.Values) < 4 {
			return nil
		}
		typeVal, nameVal, rootVal := rec.Values[0], rec.Values[1], rec.Values[3]
		if !typeVal.IsText || !nameVal.IsText || rootVal.Null {
			return nil
		}

		var kind btreescan.Kind
		switch string(typeVal.Bytes) {
		case "table":
			kind = btreescan.Table
		case "index":
			kind = btreescan.Index
		default:
			return nil
		}
		if rootVal.Int <= 0 {
			return nil
		}
		trees = append(trees, TreeDescriptor{
			Name: string(nameVal.Bytes),
			Kind: kind,
			Root: uint32(rootVal.Int),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trees, nil
}
