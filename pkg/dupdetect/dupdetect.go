// Package dupdetect accumulates per-tree key observations and reports keys
// that appear in more than one B-tree cell, whether on the same page
// (intra-page) or across pages (inter-page).
package dupdetect

import (
	"bytes"
	"sort"
	"strconv"
)

// Location pins one occurrence of a duplicated key to a page and cell.
type Location struct {
	PageNo  uint32
	CellIdx int
}

// Kind classifies a duplicate by whether its occurrences share a page.
type Kind int

const (
	IntraPage Kind = iota
	InterPage
)

// Finding is one duplicated key within a tree, with every location it was
// observed at (in observation order).
type Finding struct {
	TreeRoot  uint32
	Key       string // formatted key: decimal rowid, or the raw index key bytes
	Locations []Location
	Kind      Kind
}

// key is an internal comparable representation of an observed key: either
// a rowid (table trees) or raw index-key bytes, never both.
type key struct {
	rowid   int64
	isRowid bool
	bytes   string // index key bytes, as a string so it's usable as a map key
}

func rowidKey(v int64) key    { return key{rowid: v, isRowid: true} }
func bytesKey(b []byte) key   { return key{bytes: string(b)} }

// Detector accumulates observations for a single tree at a single
// snapshot. A fresh Detector must be used per (snapshot, tree) pair —
// spec.md §4.2 resets accumulation between trees and between snapshots.
type Detector struct {
	treeRoot  uint32
	locations map[key][]Location
	order     []key // first-seen order, for stable output
}

// New creates a Detector for the given tree root.
func New(treeRoot uint32) *Detector {
	return &Detector{
		treeRoot:  treeRoot,
		locations: make(map[key][]Location),
	}
}

// ObserveRowID records a table-tree cell's rowid at the given location.
func (d *Detector) ObserveRowID(rowid int64, loc Location) {
	d.observe(rowidKey(rowid), loc)
}

// ObserveIndexKey records an index-tree cell's key bytes at the given
// location.
func (d *Detector) ObserveIndexKey(k []byte, loc Location) {
	d.observe(bytesKey(k), loc)
}

func (d *Detector) observe(k key, loc Location) {
	if _, seen := d.locations[k]; !seen {
		d.order = append(d.order, k)
	}
	d.locations[k] = append(d.locations[k], loc)
}

// Findings returns every key observed more than once, classified as
// IntraPage when every occurrence shares a page and InterPage otherwise,
// in the stable (numeric for rowids, lexicographic for index keys) order
// required by spec.md §6.
func (d *Detector) Findings() []Finding {
	var dupKeys []key
	for _, k := range d.order {
		if len(d.locations[k]) >= 2 {
			dupKeys = append(dupKeys, k)
		}
	}

	sort.Slice(dupKeys, func(i, j int) bool {
		return lessRawKey(dupKeys[i], dupKeys[j])
	})

	findings := make([]Finding, len(dupKeys))
	for i, k := range dupKeys {
		locs := d.locations[k]
		findings[i] = Finding{
			TreeRoot:  d.treeRoot,
			Key:       formatKey(k),
			Locations: append([]Location(nil), locs...),
			Kind:      classify(locs),
		}
	}
	return findings
}

func classify(locs []Location) Kind {
	page := locs[0].PageNo
	for _, l := range locs[1:] {
		if l.PageNo != page {
			return InterPage
		}
	}
	return IntraPage
}

func formatKey(k key) string {
	if k.isRowid {
		return strconv.FormatInt(k.rowid, 10)
	}
	return k.bytes
}

// lessRawKey orders keys within one tree: numeric order for rowid keys,
// lexicographic byte order for index keys (spec.md §6's "numeric for
// rowids and lexicographic for index key bytes").
func lessRawKey(a, b key) bool {
	if a.isRowid && b.isRowid {
		return a.rowid < b.rowid
	}
	return bytes.Compare([]byte(a.bytes), []byte(b.bytes)) < 0
}
