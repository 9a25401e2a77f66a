//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package pagecache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapReader is a BaseReader backed by a read-only memory mapping of the
// database file. The checker never writes to the database, so the mapping
// is PROT_READ and MAP_SHARED; there is no Grow/Sync counterpart to the
// teacher's read-write mapping.
type mmapReader struct {
	file *os.File
	data []byte
}

// openMmapReader memory-maps path for reading. The mapping covers the
// file's length at open time; mmap requires a nonzero length.
func openMmapReader(path string) (*mmapReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("pagecache: cannot map empty file %s", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagecache: mmap %s: %w", path, err)
	}
	return &mmapReader{file: f, data: data}, nil
}

func (m *mmapReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("pagecache: offset %d out of range", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("pagecache: short read at offset %d: got %d of %d bytes", off, n, len(p))
	}
	return n, nil
}

func (m *mmapReader) Size() int64 {
	return int64(len(m.data))
}

func (m *mmapReader) Close() error {
	var firstErr error
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	return firstErr
}
