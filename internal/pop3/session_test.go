package pop3

import "testing"

func TestNewSession(t *testing.T) {
	sess := NewSession(7)

	if sess.ID() != 7 {
		t.Errorf("ID() = %d, want 7", sess.ID())
	}
	if sess.State() != StateAuthorization {
		t.Errorf("State() = %v, want StateAuthorization", sess.State())
	}
	if sess.Authenticated() {
		t.Error("Authenticated() = true for a fresh session")
	}
	if sess.Encoding() != "ascii" {
		t.Errorf("Encoding() = %q, want ascii", sess.Encoding())
	}
	if sess.Language() != "" {
		t.Errorf("Language() = %q, want empty", sess.Language())
	}
}

func TestSessionStageAndAuthenticate(t *testing.T) {
	sess := NewSession(1)

	sess.StageUsername("alice")
	if sess.StagedUsername() != "alice" {
		t.Fatalf("StagedUsername() = %q, want alice", sess.StagedUsername())
	}

	sess.Authenticate("alice")
	if sess.State() != StateTransaction {
		t.Errorf("State() = %v, want StateTransaction", sess.State())
	}
	if !sess.Authenticated() {
		t.Error("Authenticated() = false after Authenticate")
	}
	if sess.Username() != "alice" {
		t.Errorf("Username() = %q, want alice", sess.Username())
	}
	if sess.StagedUsername() != "" {
		t.Errorf("StagedUsername() = %q, want empty after Authenticate", sess.StagedUsername())
	}
}

func TestSessionEncodingIsOneWay(t *testing.T) {
	sess := NewSession(1)
	sess.EnableUTF8()
	if sess.Encoding() != "utf-8" {
		t.Fatalf("Encoding() = %q, want utf-8", sess.Encoding())
	}
	sess.EnableUTF8()
	if sess.Encoding() != "utf-8" {
		t.Errorf("Encoding() changed on repeat EnableUTF8 call")
	}
}

func TestSessionDeletionTracking(t *testing.T) {
	sess := NewSession(1)

	if sess.IsDeleted(0) {
		t.Fatal("IsDeleted(0) = true before any MarkDeleted")
	}

	sess.MarkDeleted(0)
	sess.MarkDeleted(2)
	if !sess.IsDeleted(0) || !sess.IsDeleted(2) {
		t.Error("MarkDeleted did not register")
	}
	if sess.IsDeleted(1) {
		t.Error("IsDeleted(1) = true, want false")
	}

	sess.UnmarkAllDeleted()
	if sess.IsDeleted(0) || sess.IsDeleted(2) {
		t.Error("UnmarkAllDeleted did not clear marks")
	}
}

func TestSessionReadOnlyShortCircuitsDeletionChecks(t *testing.T) {
	sess := NewSession(1)
	sess.MarkDeleted(0)
	sess.SetReadOnly()

	// A read-only session never reports a message as deleted, regardless
	// of bookkeeping recorded before read-only mode was entered - the
	// adapter is never consulted either way.
	if sess.IsDeleted(0) {
		t.Error("IsDeleted(0) = true in read-only mode, want false")
	}
}

func TestSessionInvalidCounters(t *testing.T) {
	sess := NewSession(1)

	for i := 0; i < 3; i++ {
		sess.IncrementInvalidCommandCount()
	}
	if sess.InvalidCommandCount() != 3 {
		t.Errorf("InvalidCommandCount() = %d, want 3", sess.InvalidCommandCount())
	}

	sess.IncrementInvalidPasswordCount()
	if sess.InvalidPasswordCount() != 1 {
		t.Errorf("InvalidPasswordCount() = %d, want 1", sess.InvalidPasswordCount())
	}
}
