// Package memory provides a reference adapter.Adapter backed by an
// in-process list of messages, modeled on the upstream project's
// ListAdapter example. It exists to exercise every adapter lifecycle hook
// in tests and to document what satisfying the interface looks like;
// production message stores (filesystem, SQL) are out of scope here.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"regexp"

	"golang.org/x/crypto/argon2"

	"github.com/infodancer/pop3d/internal/adapter"
)

var uniqueIDPattern = regexp.MustCompile(`^[\x21-\x7e]{1,70}$`)

// Message is one fixed message held by an Adapter.
type Message struct {
	UniqueID string
	Content  string
}

// Credentials holds an argon2id-hashed password for a single username as
// the raw salt, the raw hash and the argon2.IDKey parameters that produced
// it (Memory in KiB).
type Credentials struct {
	Username   string
	Salt       []byte
	Hash       []byte
	Time       uint32
	Memory     uint32
	Threads    uint8
	AllowShare bool // whether ReadOnlyModeAllowed reports true
}

// derive computes the argon2id hash for password using c's parameters, for
// comparison against c.Hash.
func (c Credentials) derive(password string) []byte {
	return argon2.IDKey([]byte(password), c.Salt, c.Time, c.Memory, c.Threads, uint32(len(c.Hash)))
}

// Adapter is a reference, non-persistent message source for a single
// configured user and a fixed message list, constructed fresh per
// connection via NewFactory.
type Adapter struct {
	creds    Credentials
	messages []Message
	deleted  map[int]bool
}

// NewFactory returns an adapter.Factory producing adapters that authenticate
// against creds and serve a copy of messages.
func NewFactory(creds Credentials, messages []Message) adapter.Factory {
	return func() adapter.Adapter {
		owned := make([]Message, len(messages))
		copy(owned, messages)
		return &Adapter{creds: creds, messages: owned, deleted: make(map[int]bool)}
	}
}

func (a *Adapter) ConnectionOpened(ctx context.Context, remoteAddr net.Addr) error {
	return nil
}

func (a *Adapter) ReadOnlyModeAllowed(ctx context.Context) (bool, error) {
	return a.creds.AllowShare, nil
}

func (a *Adapter) VerifyLoginCredentials(ctx context.Context, username, password string) (bool, error) {
	if username != a.creds.Username {
		return false, nil
	}
	got := a.creds.derive(password)
	return subtle.ConstantTimeCompare(got, a.creds.Hash) == 1, nil
}

func (a *Adapter) LoginSuccessful(ctx context.Context, username string, readOnly bool) error {
	return nil
}

func (a *Adapter) GetMessageCount(ctx context.Context) (int, error) {
	return len(a.messages), nil
}

func (a *Adapter) GetMessageContent(ctx context.Context, index int, encoding string) (string, error) {
	if index < 0 || index >= len(a.messages) {
		return "", fmt.Errorf("memory: index %d out of range", index)
	}
	return a.messages[index].Content, nil
}

func (a *Adapter) GetMessageUniqueID(ctx context.Context, index int) (string, error) {
	if index < 0 || index >= len(a.messages) {
		return "", fmt.Errorf("memory: index %d out of range", index)
	}
	uid := a.messages[index].UniqueID
	if !uniqueIDPattern.MatchString(uid) {
		return "", fmt.Errorf("memory: unique id %q violates the character rule", uid)
	}
	return uid, nil
}

func (a *Adapter) IsMarkedAsDeleted(ctx context.Context, index int) (bool, error) {
	return a.deleted[index], nil
}

func (a *Adapter) MarkAsDeleted(ctx context.Context, index int) error {
	a.deleted[index] = true
	return nil
}

func (a *Adapter) UnmarkAllDeleted(ctx context.Context) error {
	a.deleted = make(map[int]bool)
	return nil
}

func (a *Adapter) CommitDeletions(ctx context.Context) error {
	kept := a.messages[:0]
	for i, m := range a.messages {
		if !a.deleted[i] {
			kept = append(kept, m)
		}
	}
	a.messages = kept
	a.deleted = make(map[int]bool)
	return nil
}

func (a *Adapter) ConnectionClosed(ctx context.Context) error {
	return nil
}
