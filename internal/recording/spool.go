package recording

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Spool keeps a copy of every captured fragment until the recording is
// delivered, remotely or locally.
type Spool interface {
	Write(p []byte) (int, error)
	Size() int64
	// Reader returns the full concatenation written so far.
	Reader() (io.ReadCloser, error)
	// Path is where the data lives on disk, or "" for memory spools.
	Path() string
	Remove() error
}

// FileSpool spools to a temporary file.
type FileSpool struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewFileSpool creates a spool file in dir (os.TempDir when empty).
func NewFileSpool(dir string) (*FileSpool, error) {
	f, err := os.CreateTemp(dir, "recording-*.webm.part")
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	return &FileSpool{f: f}, nil
}

func (s *FileSpool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, os.ErrClosed
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *FileSpool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *FileSpool) Reader() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, os.ErrClosed
	}
	if err := s.f.Sync(); err != nil {
		return nil, fmt.Errorf("sync spool: %w", err)
	}
	return os.Open(s.f.Name())
}

func (s *FileSpool) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ""
	}
	return s.f.Name()
}

func (s *FileSpool) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	name := s.f.Name()
	_ = s.f.Close()
	s.f = nil
	return os.Remove(name)
}

// MemorySpool spools in memory.
type MemorySpool struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *MemorySpool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *MemorySpool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.buf.Len())
}

func (s *MemorySpool) Reader() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, s.buf.Len())
	copy(data, s.buf.Bytes())
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemorySpool) Path() string { return "" }

func (s *MemorySpool) Remove() error {
	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()
	return nil
}
