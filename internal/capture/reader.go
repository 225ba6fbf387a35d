package capture

import (
	"context"
	"io"
	"sync"
)

// ReaderProvider replays already encoded media from a reader, for example a
// WebM file saved by an earlier recording. The reader is treated as one track
// and never reports a missing microphone.
type ReaderProvider struct {
	src   io.Reader
	label string
}

// NewReaderProvider returns a provider emitting src.
func NewReaderProvider(src io.Reader, label string) *ReaderProvider {
	return &ReaderProvider{src: src, label: label}
}

type readerTrack struct {
	kind  Kind
	label string
}

func (t readerTrack) Kind() Kind    { return t.kind }
func (t readerTrack) Label() string { return t.label }
func (t readerTrack) Stop()         {}

func (p *ReaderProvider) AcquireVideo(context.Context, VideoConstraints) (Track, error) {
	return readerTrack{kind: KindVideo, label: p.label}, nil
}

func (p *ReaderProvider) AcquireAudio(context.Context, AudioConstraints) (Track, error) {
	return readerTrack{kind: KindAudio, label: p.label}, nil
}

func (p *ReaderProvider) Open(context.Context, []Track) (Stream, error) {
	return &readerStream{src: p.src}, nil
}

type readerStream struct {
	src io.Reader

	mu     sync.Mutex
	closed bool
}

func (s *readerStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	return s.src.Read(p)
}

func (s *readerStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
