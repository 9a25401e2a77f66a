// Package btreescan walks a SQLite B-tree from its root page, yielding one
// Observation per leaf cell in traversal order.
package btreescan

import (
	"errors"
	"fmt"

	"github.com/LeMikaelF/wal-analyzer/pkg/btreepage"
	"github.com/LeMikaelF/wal-analyzer/pkg/cell"
)

// Kind distinguishes a table B-tree (rowid-keyed) from an index B-tree
// (payload-keyed); it determines both which page types are legal and how
// a cell's key is extracted.
type Kind int

const (
	Table Kind = iota
	Index
)

// DefaultMaxDepth bounds recursion depth against a corrupt tree whose
// child pointers form a long chain of distinct interior pages. Cycles are
// caught by the visited-page check, not by this limit.
const DefaultMaxDepth = 64

// ErrCycle reports a child pointer that names a page already visited
// anywhere in the current tree scan.
var ErrCycle = errors.New("btreescan: cycle detected in tree")

// ErrTooDeep reports a traversal that exceeded MaxDepth without reaching a
// leaf, almost certainly indicating corruption rather than a legitimately
// deep tree.
var ErrTooDeep = errors.New("btreescan: max depth exceeded")

// ErrPageOutOfRange reports a child pointer or root naming a page beyond
// Options.MaxPage, the logical size of the database as of the snapshot
// being scanned (spec.md §4.7: pages beyond db_size_pages are inaccessible
// for that snapshot).
var ErrPageOutOfRange = errors.New("btreescan: page out of range for this snapshot")

// PageSource is the page-fetching surface the scanner needs; satisfied by
// *pkg/pagecache.Cache.
type PageSource interface {
	Get(pageNo uint32) ([]byte, error)
}

// Observation is one leaf cell encountered during a scan.
type Observation struct {
	TreeRoot uint32
	PageNo   uint32
	CellIdx  int
	RowID    int64  // populated when the tree is a Table tree
	Key      []byte // populated when the tree is an Index tree: the local payload bytes
	Payload  []byte // local payload bytes for every leaf cell, table or index
	HasOverflow bool
}

// Options configures a single Scan call.
type Options struct {
	MaxDepth int    // 0 means DefaultMaxDepth
	MaxPage  uint32 // 0 means unbounded; otherwise the snapshot's logical page count
}

// Scan walks the tree rooted at root, calling fn once per leaf cell in
// depth-first, left-to-right order (spec.md §4.6). usablePageSize is
// needed by the cell decoder to compute the overflow threshold.
func Scan(src PageSource, root uint32, kind Kind, usablePageSize int, opts Options, fn func(Observation) error) error {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	w := &walker{
		src:            src,
		kind:           kind,
		usablePageSize: usablePageSize,
		maxDepth:       maxDepth,
		maxPage:        opts.MaxPage,
		root:           root,
		visited:        make(map[uint32]bool),
		fn:             fn,
	}
	return w.walk(root, 0)
}

type walker struct {
	src            PageSource
	kind           Kind
	usablePageSize int
	maxDepth       int
	maxPage        uint32
	root           uint32
	visited        map[uint32]bool
	fn             func(Observation) error
}

func (w *walker) walk(pageNo uint32, depth int) error {
	if depth > w.maxDepth {
		return fmt.Errorf("%w: tree rooted at page %d", ErrTooDeep, w.root)
	}
	if w.maxPage != 0 && pageNo > w.maxPage {
		return fmt.Errorf("%w: page %d exceeds snapshot limit of %d pages", ErrPageOutOfRange, pageNo, w.maxPage)
	}
	if w.visited[pageNo] {
		return fmt.Errorf("%w: page %d revisited while scanning tree rooted at %d", ErrCycle, pageNo, w.root)
	}
	w.visited[pageNo] = true

	data, err := w.src.Get(pageNo)
	if err != nil {
		return fmt.Errorf("btreescan: fetching page %d: %w", pageNo, err)
	}

	headerBase := 0
	if pageNo == 1 {
		headerBase = 100
	}

	page, err := btreepage.Decode(data, headerBase)
	if err != nil {
		return fmt.Errorf("btreescan: decoding page %d: %w", pageNo, err)
	}
	if err := w.checkPageKind(page); err != nil {
		return err
	}

	for i := 0; i < page.CellCount; i++ {
		off, err := page.CellOffset(i)
		if err != nil {
			return fmt.Errorf("btreescan: page %d cell %d: %w", pageNo, i, err)
		}
		c, err := cell.Decode(page, off, w.usablePageSize)
		if err != nil {
			return fmt.Errorf("btreescan: page %d cell %d: %w", pageNo, i, err)
		}

		if page.Type.IsLeaf() {
			obs := Observation{
				TreeRoot:    w.root,
				PageNo:      pageNo,
				CellIdx:     i,
				Payload:     c.Payload,
				HasOverflow: c.HasOverflow,
			}
			if w.kind == Table {
				obs.RowID = c.RowID
			} else {
				obs.Key = c.Payload
			}
			if err := w.fn(obs); err != nil {
				return err
			}
			continue
		}

		if err := w.walk(c.ChildPage, depth+1); err != nil {
			return err
		}
	}

	if !page.Type.IsLeaf() {
		if err := w.walk(page.RightMostChild, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkPageKind rejects a page type that doesn't belong to the tree kind
// being scanned (e.g. an index-leaf page reached while scanning a table
// tree), which signals a corrupt or mismatched root pointer.
func (w *walker) checkPageKind(page *btreepage.Page) error {
	wantTable := w.kind == Table
	if page.Type.IsTable() != wantTable {
		return fmt.Errorf("btreescan: page type %s does not match tree kind", page.Type)
	}
	return nil
}
