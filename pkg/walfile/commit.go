package walfile

import "io"

// Cache is the subset of pkg/pagecache.Cache the commit iterator drives.
// Defined here, rather than imported, to keep walfile independent of the
// cache's storage details — it only needs to push frame images forward.
type Cache interface {
	ApplyFrame(pageNo uint32, image []byte)
}

// CommitSnapshot marks a transaction boundary the cache has just been
// advanced to. Index is 1-based and increases once per commit frame seen;
// DBSizePages truncates the logical database to that many pages for the
// duration of this snapshot (pages beyond it are not part of the DB as of
// this commit, even if still physically present).
type CommitSnapshot struct {
	Index       int
	DBSizePages uint32
}

// Commits reads every valid frame from r (per Header h), grouping them
// into commits and applying each commit's frames to cache before invoking
// fn with the resulting snapshot. Frames within a commit are applied in
// arrival order, so a later frame for the same page overrides an earlier
// one in the same transaction, matching spec.md §4.7. Frames trailing the
// last commit (an in-progress transaction with no closing commit frame)
// are discarded, matching real SQLite's recovery rule.
func Commits(r io.ReaderAt, h *Header, cache Cache, fn func(CommitSnapshot) error) error {
	var pending []*Frame
	commitIndex := 0

	err := ForEachFrame(r, h, func(f *Frame) error {
		pending = append(pending, f)
		if !f.IsCommit() {
			return nil
		}

		for _, buffered := range pending {
			cache.ApplyFrame(buffered.PageNo, buffered.Data)
		}
		pending = pending[:0]
		commitIndex++

		return fn(CommitSnapshot{Index: commitIndex, DBSizePages: f.DbSize})
	})
	return err
}
