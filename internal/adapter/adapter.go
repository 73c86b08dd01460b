// Package adapter defines the contract a pluggable message source must
// satisfy to back a session. Concrete adapters (filesystem, SQL, in-memory)
// are not part of this package; only the interface they implement is.
package adapter

import (
	"context"
	"errors"
	"net"
)

// ErrCloseConnection is a distinguished failure any Adapter method may
// return. The core treats it as a hard session abort: the connection is
// torn down immediately, without attempting further adapter calls other
// than ConnectionClosed.
var ErrCloseConnection = errors.New("adapter: close connection")

// Adapter relays messages from an external data source to a session.
// A fresh instance is constructed per accepted connection by a factory
// supplied through configuration.
//
// Every method may return ErrCloseConnection (wrapped or bare, checked with
// errors.Is) to request an immediate, unconditional session abort.
//
// Indexes passed to GetMessageContent, GetMessageUniqueID, MarkAsDeleted and
// IsMarkedAsDeleted are always in [0, GetMessageCount()) and, except for
// IsMarkedAsDeleted, are never the index of a message already marked
// deleted. Indexing never changes for the lifetime of a session.
type Adapter interface {
	// ConnectionOpened is called once, first, when a client connects.
	ConnectionOpened(ctx context.Context, remoteAddr net.Addr) error

	// ReadOnlyModeAllowed reports whether this adapter supports the
	// non-standard read-only mailbox access extension. May be called any
	// number of times, before or after authentication.
	ReadOnlyModeAllowed(ctx context.Context) (bool, error)

	// VerifyLoginCredentials checks a username/password pair. May be
	// called repeatedly until it returns true; never called again after
	// that for the same session.
	VerifyLoginCredentials(ctx context.Context, username, password string) (bool, error)

	// LoginSuccessful is called exactly once per session, immediately
	// after the first successful credential check clears the exclusivity
	// check.
	LoginSuccessful(ctx context.Context, username string, readOnly bool) error

	// GetMessageCount returns the total number of messages, including
	// those marked deleted.
	GetMessageCount(ctx context.Context) (int, error)

	// GetMessageContent returns the full RFC 822 message at index.
	// encoding is an advisory hint ("ascii" or "utf-8"); the adapter may
	// still return bytes that fail to encode under it.
	GetMessageContent(ctx context.Context, index int, encoding string) (string, error)

	// GetMessageUniqueID returns a stable unique id for the message at
	// index. It must consist of 1 to 70 bytes in the range 0x21-0x7E;
	// uniqueness across the session is checked by the core, not here.
	GetMessageUniqueID(ctx context.Context, index int) (string, error)

	// IsMarkedAsDeleted reports whether the message at index is marked
	// deleted for this session. Unlike other index-taking methods, index
	// may refer to an already-deleted message.
	IsMarkedAsDeleted(ctx context.Context, index int) (bool, error)

	// MarkAsDeleted marks the message at index deleted for this session.
	MarkAsDeleted(ctx context.Context, index int) error

	// UnmarkAllDeleted clears every deletion mark for this session.
	UnmarkAllDeleted(ctx context.Context) error

	// CommitDeletions permanently applies the deletions marked so far.
	// Called at most once per session, just before QUIT closes a
	// read-write, authenticated session.
	CommitDeletions(ctx context.Context) error

	// ConnectionClosed is always invoked exactly once during teardown,
	// even when earlier calls failed or the client aborted.
	ConnectionClosed(ctx context.Context) error
}

// Factory constructs a fresh Adapter for a newly accepted connection.
type Factory func() Adapter
