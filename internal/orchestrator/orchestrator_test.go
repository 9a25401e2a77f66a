package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LeMikaelF/wal-analyzer/pkg/varint"
)

const pageSize = 512

func encodeTableLeafCell(rowid int64, payload []byte) []byte {
	buf := make([]byte, varint.MaxLen*2+len(payload))
	n := varint.Encode(buf, uint64(len(payload)))
	n += varint.Encode(buf[n:], uint64(rowid))
	n += copy(buf[n:], payload)
	return buf[:n]
}

// encodeRecord builds a SQLite record body from (serialType, bytes) pairs,
// matching what pkg/record.Decode expects.
func encodeRecord(cols [][2]interface{}) []byte {
	header := []byte{}
	body := []byte{}
	for _, c := range cols {
		st := c[0].(uint64)
		b := c[1].([]byte)
		stBuf := make([]byte, varint.MaxLen)
		n := varint.Encode(stBuf, st)
		header = append(header, stBuf[:n]...)
		body = append(body, b...)
	}
	hlBuf := make([]byte, varint.MaxLen)
	n := varint.Encode(hlBuf, uint64(len(header)+1))
	out := append(append([]byte(nil), hlBuf[:n]...), header...)
	out = append(out, body...)
	return out
}

func textCol(s string) [2]interface{} {
	return [2]interface{}{uint64(13 + len(s)*2), []byte(s)}
}

func intCol(v int64) [2]interface{} {
	// Always encode as a single signed byte for these small test fixtures.
	return [2]interface{}{uint64(1), []byte{byte(v)}}
}

func sqliteMasterRow(typ, name, tblName string, rootpage int64, sql string) []byte {
	return encodeRecord([][2]interface{}{
		textCol(typ), textCol(name), textCol(tblName), intCol(rootpage), textCol(sql),
	})
}

// buildPage1 assembles the database's page 1: the 100-byte file header
// followed by a table-leaf page holding the given sqlite_master rows.
func buildPage1(rows [][]byte) []byte {
	page := make([]byte, pageSize)
	copy(page[0:16], "SQLite format 3\x00")
	page[16], page[17] = byte(pageSize>>8), byte(pageSize)
	page[18], page[19] = 1, 1 // write/read version: legacy (no WAL needed for this fixture)

	btreeStart := 100
	cellAreaEnd := pageSize
	var cells [][]byte
	for i, row := range rows {
		cells = append(cells, encodeTableLeafCell(int64(i+1), row))
	}

	contentStart := cellAreaEnd
	offsets := make([]int, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(page[contentStart:], c)
		offsets[i] = contentStart
	}

	page[btreeStart+0] = 0x0d // table-leaf
	page[btreeStart+3] = byte(len(cells) >> 8)
	page[btreeStart+4] = byte(len(cells))
	page[btreeStart+5] = byte(contentStart >> 8)
	page[btreeStart+6] = byte(contentStart)
	for i, off := range offsets {
		page[btreeStart+8+i*2] = byte(off >> 8)
		page[btreeStart+8+i*2+1] = byte(off)
	}
	return page
}

func buildTableLeafPage(cells [][]byte) []byte {
	page := make([]byte, pageSize)
	page[0] = 0x0d
	contentStart := pageSize
	offsets := make([]int, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(page[contentStart:], c)
		offsets[i] = contentStart
	}
	page[3] = byte(len(cells) >> 8)
	page[4] = byte(len(cells))
	page[5] = byte(contentStart >> 8)
	page[6] = byte(contentStart)
	for i, off := range offsets {
		page[8+i*2] = byte(off >> 8)
		page[8+i*2+1] = byte(off)
	}
	return page
}

func writeDB(t *testing.T, pages [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	for _, p := range pages {
		padded := make([]byte, pageSize)
		copy(padded, p)
		if _, err := f.Write(padded); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return path
}

func TestRunCleanDatabaseNoFindings(t *testing.T) {
	page1 := buildPage1([][]byte{
		sqliteMasterRow("table", "t", "t", 2, "CREATE TABLE t(id)"),
	})
	page2 := buildTableLeafPage([][]byte{
		encodeTableLeafCell(1, []byte("a")),
		encodeTableLeafCell(2, []byte("b")),
		encodeTableLeafCell(3, []byte("c")),
	})
	path := writeDB(t, [][]byte{page1, page2})

	result, err := Run(Options{DatabasePath: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1 (Base only, no WAL)", len(result.Snapshots))
	}
	if len(result.Snapshots[0].Findings) != 0 {
		t.Fatalf("got %d findings, want 0", len(result.Snapshots[0].Findings))
	}
}

func TestRunIntraPageDuplicate(t *testing.T) {
	page1 := buildPage1([][]byte{
		sqliteMasterRow("table", "t", "t", 2, "CREATE TABLE t(id)"),
	})
	page2 := buildTableLeafPage([][]byte{
		encodeTableLeafCell(42, []byte("x")),
		encodeTableLeafCell(42, []byte("y")),
	})
	path := writeDB(t, [][]byte{page1, page2})

	result, err := Run(Options{DatabasePath: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	findings := result.Snapshots[0].Findings
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].Key != "42" {
		t.Errorf("Key = %q, want 42", findings[0].Key)
	}
}

func TestRunNoWALGivesOnlyBaseSnapshot(t *testing.T) {
	page1 := buildPage1(nil)
	path := writeDB(t, [][]byte{page1})

	result, err := Run(Options{DatabasePath: path, WALPath: filepath.Join(t.TempDir(), "nonexistent-wal")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(result.Snapshots))
	}
	if result.Snapshots[0].Label != "Base" {
		t.Errorf("Label = %q, want Base", result.Snapshots[0].Label)
	}
}
