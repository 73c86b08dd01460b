package pop3

import "errors"

// Internal sentinel errors. None of these ever reach the wire directly -
// the dispatcher always turns a failure into a Response. No code path in
// this package returns either of them: fatal conditions surface as
// ErrBufferOverflow, ErrInvalidUTF8, an I/O error, or a Response with
// CloseAfterSend set.
var (
	// ErrMailboxNotInitialized names mailbox state touched before
	// authentication has completed.
	ErrMailboxNotInitialized = errors.New("pop3: mailbox not initialized")

	// ErrFatalSession names a condition that must close the connection
	// immediately: buffer overflow, invalid UTF-8, I/O failure, adapter
	// close-connection, or invalid-command/invalid-password rate-limit
	// exhaustion.
	ErrFatalSession = errors.New("pop3: fatal session error")
)
