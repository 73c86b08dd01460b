package pop3

import (
	"errors"

	"github.com/infodancer/pop3d/internal/adapter"
)

// State is the two-state POP3 session machine. There is no UPDATE state:
// QUIT in StateTransaction commits deletions and closes in one step.
type State int

const (
	// StateAuthorization is the state before PASS succeeds.
	StateAuthorization State = iota
	// StateTransaction is the state after successful authentication.
	StateTransaction
)

func (s State) String() string {
	if s == StateTransaction {
		return "TRANSACTION"
	}
	return "AUTHORIZATION"
}

// Session holds all per-connection state. It is mutated only by the
// dispatcher and the connection handler, never by the adapter directly.
type Session struct {
	id    uint64
	state State

	authenticated  bool
	username       string
	stagedUsername string
	readOnly       bool
	encoding       string // "ascii" or "utf-8"; one-way transition
	language       string // "" (unset) or "en"

	invalidCommandCount  int
	invalidPasswordCount int

	deleted map[int]bool
}

// NewSession constructs a fresh session in StateAuthorization with encoding
// "ascii" and no language tag set, for the connection identified by id.
func NewSession(id uint64) *Session {
	return &Session{
		id:       id,
		state:    StateAuthorization,
		encoding: "ascii",
		deleted:  make(map[int]bool),
	}
}

// ID returns the connection id this session belongs to.
func (s *Session) ID() uint64 { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Authenticated reports whether PASS has succeeded.
func (s *Session) Authenticated() bool { return s.authenticated }

// Username returns the authenticated username, or "" before authentication.
func (s *Session) Username() string { return s.username }

// StagedUsername returns the username most recently staged by USER, or ""
// if none is staged (never staged, or cleared by a successful PASS).
func (s *Session) StagedUsername() string { return s.stagedUsername }

// StageUsername records username from USER, available to a subsequent PASS.
func (s *Session) StageUsername(username string) { s.stagedUsername = username }

// ReadOnly reports whether this session is in read-only mailbox access
// mode (set by XPRO).
func (s *Session) ReadOnly() bool { return s.readOnly }

// SetReadOnly enables read-only mailbox access mode.
func (s *Session) SetReadOnly() { s.readOnly = true }

// Encoding returns the session's negotiated encoding, "ascii" or "utf-8".
func (s *Session) Encoding() string { return s.encoding }

// EnableUTF8 switches the session to utf-8 encoding. One-way: calling this
// again, or after it has already been called, is a no-op.
func (s *Session) EnableUTF8() { s.encoding = "utf-8" }

// Language returns the session's response-language tag, or "" if unset.
func (s *Session) Language() string { return s.language }

// SetLanguage sets the session's response-language tag.
func (s *Session) SetLanguage(lang string) { s.language = lang }

// InvalidCommandCount returns the number of invalid commands seen so far.
func (s *Session) InvalidCommandCount() int { return s.invalidCommandCount }

// IncrementInvalidCommandCount records one more invalid command.
func (s *Session) IncrementInvalidCommandCount() { s.invalidCommandCount++ }

// InvalidPasswordCount returns the number of failed PASS attempts so far.
func (s *Session) InvalidPasswordCount() int { return s.invalidPasswordCount }

// IncrementInvalidPasswordCount records one more failed PASS attempt.
func (s *Session) IncrementInvalidPasswordCount() { s.invalidPasswordCount++ }

// Authenticate transitions the session into StateTransaction, recording
// username and read-only status, and clearing the staged username so it
// cannot be reused to re-enter authorization. The caller is responsible for
// the exclusivity check and for calling the adapter's LoginSuccessful hook
// before calling this.
func (s *Session) Authenticate(username string) {
	s.state = StateTransaction
	s.authenticated = true
	s.username = username
	s.stagedUsername = ""
}

// IsDeleted reports whether index has been marked deleted in this session,
// without consulting the adapter. In read-only mode this always reports
// false, matching the read-only short-circuit: the adapter is simply never
// asked, since nothing can ever have been marked in the first place.
func (s *Session) IsDeleted(index int) bool {
	if s.readOnly {
		return false
	}
	return s.deleted[index]
}

// MarkDeleted marks index deleted for this session. No-op bookkeeping only;
// callers must enforce the read-only restriction before calling this.
func (s *Session) MarkDeleted(index int) {
	s.deleted[index] = true
}

// UnmarkAllDeleted clears every deletion mark recorded in this session.
func (s *Session) UnmarkAllDeleted() {
	s.deleted = make(map[int]bool)
}

// adapterCloseRequested reports whether err is (or wraps) the adapter's
// close-connection sentinel.
func adapterCloseRequested(err error) bool {
	return err != nil && errors.Is(err, adapter.ErrCloseConnection)
}
