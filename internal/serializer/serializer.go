// Package serializer wraps an adapter.Adapter so that at most one call into
// it - or into any other adapter sharing the same Serializer - is in
// flight across the whole process at any instant. Adapters may talk to
// backends that are not safe for concurrent use (a single DB connection, a
// shared filesystem handle); a single process-wide lock trades throughput
// for a simple correctness story.
package serializer

import (
	"context"
	"net"
	"sync"

	"github.com/infodancer/pop3d/internal/adapter"
)

// Serializer holds the single mutual-exclusion primitive shared by every
// adapter call in the process.
type Serializer struct {
	mu sync.Mutex
}

// New returns a Serializer. One instance should be shared process-wide.
func New() *Serializer {
	return &Serializer{}
}

// Wrap returns an adapter.Adapter that forwards every call to a, holding
// the Serializer's lock for the duration of each call.
func (s *Serializer) Wrap(a adapter.Adapter) adapter.Adapter {
	return &serialized{s: s, a: a}
}

type serialized struct {
	s *Serializer
	a adapter.Adapter
}

func (w *serialized) ConnectionOpened(ctx context.Context, remoteAddr net.Addr) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.ConnectionOpened(ctx, remoteAddr)
}

func (w *serialized) ReadOnlyModeAllowed(ctx context.Context) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.ReadOnlyModeAllowed(ctx)
}

func (w *serialized) VerifyLoginCredentials(ctx context.Context, username, password string) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.VerifyLoginCredentials(ctx, username, password)
}

func (w *serialized) LoginSuccessful(ctx context.Context, username string, readOnly bool) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.LoginSuccessful(ctx, username, readOnly)
}

func (w *serialized) GetMessageCount(ctx context.Context) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.GetMessageCount(ctx)
}

func (w *serialized) GetMessageContent(ctx context.Context, index int, encoding string) (string, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.GetMessageContent(ctx, index, encoding)
}

func (w *serialized) GetMessageUniqueID(ctx context.Context, index int) (string, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.GetMessageUniqueID(ctx, index)
}

func (w *serialized) IsMarkedAsDeleted(ctx context.Context, index int) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.IsMarkedAsDeleted(ctx, index)
}

func (w *serialized) MarkAsDeleted(ctx context.Context, index int) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.MarkAsDeleted(ctx, index)
}

func (w *serialized) UnmarkAllDeleted(ctx context.Context) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.UnmarkAllDeleted(ctx)
}

func (w *serialized) CommitDeletions(ctx context.Context) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.CommitDeletions(ctx)
}

func (w *serialized) ConnectionClosed(ctx context.Context) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.a.ConnectionClosed(ctx)
}
