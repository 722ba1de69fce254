package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// FileBackend spills items to a temp file, length-prefixed, and recalls
// the byte offset of each push so reads can seek directly to it rather
// than scanning. The file is created under Root (os.TempDir() when
// empty) and unlinked once Pop has returned every item or an error
// forces an early exit.
type FileBackend struct {
	Root string
}

func (b FileBackend) root() string {
	if b.Root != "" {
		return b.Root
	}
	return os.TempDir()
}

func (b FileBackend) NewWrite() (WriteBackend, error) {
	f, err := os.CreateTemp(b.root(), "ctimpute-cache-*.bin")
	if err != nil {
		return nil, fmt.Errorf("cache: create temp file: %w", err)
	}
	return &fileWriteBackend{path: f.Name(), file: f, w: bufio.NewWriter(f)}, nil
}

type fileWriteBackend struct {
	path      string
	file      *os.File
	w         *bufio.Writer
	positions []int64
	pos       int64
}

func (b *fileWriteBackend) handleError() {
	b.file.Close()
	os.Remove(b.path)
}

func (b *fileWriteBackend) Push(item []byte) error {
	b.positions = append(b.positions, b.pos)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(item)))
	if _, err := b.w.Write(lenBuf[:]); err != nil {
		b.handleError()
		return fmt.Errorf("cache: write length: %w", err)
	}
	if _, err := b.w.Write(item); err != nil {
		b.handleError()
		return fmt.Errorf("cache: write item: %w", err)
	}
	b.pos += int64(len(lenBuf)) + int64(len(item))
	return nil
}

func (b *fileWriteBackend) IntoRead() (ReadBackend, error) {
	if err := b.w.Flush(); err != nil {
		b.handleError()
		return nil, fmt.Errorf("cache: flush: %w", err)
	}
	f, err := os.Open(b.path)
	if err != nil {
		b.handleError()
		return nil, fmt.Errorf("cache: reopen: %w", err)
	}
	b.file.Close()
	return &fileReadBackend{path: b.path, file: f, positions: b.positions}, nil
}

type fileReadBackend struct {
	path      string
	file      *os.File
	positions []int64
}

func (b *fileReadBackend) Pop() ([]byte, error) {
	n := len(b.positions)
	if n == 0 {
		b.close()
		return nil, io.EOF
	}
	pos := b.positions[n-1]
	b.positions = b.positions[:n-1]

	if _, err := b.file.Seek(pos, io.SeekStart); err != nil {
		b.handleError()
		return nil, fmt.Errorf("cache: seek: %w", err)
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(b.file, lenBuf[:]); err != nil {
		b.handleError()
		return nil, fmt.Errorf("cache: read length: %w", err)
	}
	item := make([]byte, binary.BigEndian.Uint64(lenBuf[:]))
	if _, err := io.ReadFull(b.file, item); err != nil {
		b.handleError()
		return nil, fmt.Errorf("cache: read item: %w", err)
	}
	return item, nil
}

func (b *fileReadBackend) close() {
	b.file.Close()
	os.Remove(b.path)
}

func (b *fileReadBackend) handleError() {
	b.close()
}
