package pop3

import (
	"context"
	"crypto/rand"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"

	"github.com/infodancer/pop3d/internal/adapter/memory"
	"github.com/infodancer/pop3d/internal/exclusivity"
)

func testDispatcher(t *testing.T, messages []memory.Message) (*Dispatcher, *Session) {
	t.Helper()
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	creds := memory.Credentials{
		Username: "alice",
		Salt:     salt,
		Hash:     argon2.IDKey([]byte("hunter2"), salt, 1, 8, 1, 32),
		Time:     1, Memory: 8, Threads: 1,
	}
	a := memory.NewFactory(creds, messages)()
	reg := exclusivity.New()
	cfg := DispatcherConfig{
		Hostname: "mail.example.test", Implementation: "pop3d",
		MaxInvalidCommands: 2, MaxInvalidPasswords: 2,
	}
	d := NewDispatcher(cfg, a, reg, 1, &net.IPAddr{IP: net.ParseIP("127.0.0.1")})
	return d, NewSession(1)
}

func login(t *testing.T, d *Dispatcher, sess *Session) {
	t.Helper()
	if resp := d.Dispatch(context.Background(), sess, "USER alice"); !resp.OK {
		t.Fatalf("USER failed: %+v", resp)
	}
	resp := d.Dispatch(context.Background(), sess, "PASS hunter2")
	if !resp.OK {
		t.Fatalf("PASS failed: %+v", resp)
	}
}

func TestDispatchCapaListsCapabilities(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "CAPA")
	if !resp.OK || resp.Multiline == nil {
		t.Fatalf("CAPA response = %+v", resp)
	}
	if !strings.Contains(*resp.Multiline, "IMPLEMENTATION pop3d") {
		t.Errorf("CAPA body missing IMPLEMENTATION: %q", *resp.Multiline)
	}
}

func TestDispatchQuitBeforeLoginDoesNotCommit(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "QUIT")
	if !resp.OK || !resp.CloseAfterSend {
		t.Fatalf("QUIT before login = %+v, want OK+close", resp)
	}
}

func TestDispatchRejectsTransactionVerbsBeforeLogin(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "STAT")
	if resp.OK {
		t.Errorf("STAT before login should be rejected, got %+v", resp)
	}
}

func TestDispatchRejectsAuthorizationVerbsAfterLogin(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	login(t, d, sess)
	resp := d.Dispatch(context.Background(), sess, "USER alice")
	if resp.OK {
		t.Errorf("USER after login should be rejected, got %+v", resp)
	}
}

func TestDispatchXproRefusedWhenAdapterDisallows(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "XPRO")
	if resp.OK {
		t.Fatalf("XPRO should be refused when the adapter doesn't allow it: %+v", resp)
	}
	if resp.Code != CodeReadOnly {
		t.Errorf("XPRO refusal code = %q, want %q", resp.Code, CodeReadOnly)
	}
}

func TestDispatchUtf8EnablesEncoding(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "UTF8")
	if !resp.OK || sess.Encoding() != "utf-8" {
		t.Fatalf("UTF8 = %+v, session encoding = %q", resp, sess.Encoding())
	}
}

func TestDispatchLangDefaultsAndSetsEnglish(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "LANG")
	if !resp.OK || resp.Multiline == nil {
		t.Fatalf("LANG (list) = %+v", resp)
	}
	resp = d.Dispatch(context.Background(), sess, "LANG en")
	if !resp.OK || sess.Language() != "en" {
		t.Fatalf("LANG en = %+v, session language = %q", resp, sess.Language())
	}
}

func TestDispatchLangRejectsUnknownTag(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "LANG fr")
	if resp.OK {
		t.Errorf("LANG fr should be rejected, got %+v", resp)
	}
}

func TestDispatchPassWithoutUserIsRejected(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), sess, "PASS hunter2")
	if resp.OK || resp.Code != CodeAuth {
		t.Errorf("PASS without USER = %+v, want -ERR [AUTH]", resp)
	}
}

func TestDispatchPassJoinsArgsWithSingleSpace(t *testing.T) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	creds := memory.Credentials{
		Username: "alice",
		Salt:     salt,
		Hash:     argon2.IDKey([]byte("hello world pw"), salt, 1, 8, 1, 32),
		Time:     1, Memory: 8, Threads: 1,
	}
	d := NewDispatcher(DispatcherConfig{Implementation: "pop3d", MaxInvalidCommands: 2, MaxInvalidPasswords: 2},
		memory.NewFactory(creds, nil)(), exclusivity.New(), 1, &net.IPAddr{IP: net.ParseIP("127.0.0.1")})
	sess := NewSession(1)
	d.Dispatch(context.Background(), sess, "USER alice")
	// The password contains interior spaces; the line parser has already
	// split it into separate fields by the time PASS sees it, so the run of
	// two spaces reaches the adapter as one.
	resp := d.Dispatch(context.Background(), sess, "PASS hello world  pw")
	if !resp.OK {
		t.Fatalf("PASS hello world  pw should succeed as \"hello world pw\", got %+v", resp)
	}
}

func TestDispatchPassWrongPasswordPunishes(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	d.Dispatch(context.Background(), sess, "USER alice")

	resp := d.Dispatch(context.Background(), sess, "PASS wrong")
	if resp.OK || resp.Code != CodeAuth {
		t.Fatalf("PASS wrong = %+v, want -ERR [AUTH]", resp)
	}
	if sess.InvalidPasswordCount() != 1 {
		t.Errorf("InvalidPasswordCount() = %d, want 1", sess.InvalidPasswordCount())
	}

	resp = d.Dispatch(context.Background(), sess, "PASS wrong")
	resp = d.Dispatch(context.Background(), sess, "PASS wrong")
	if !resp.CloseAfterSend {
		t.Errorf("exceeding MaxInvalidPasswords should close the connection, got %+v", resp)
	}
}

func TestDispatchPassRejectsSecondReadWriteForSameUser(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	login(t, d, sess)

	d2, sess2 := testDispatcher(t, nil)
	d2.exclusivity = d.exclusivity
	resp := func() Response {
		d2.Dispatch(context.Background(), sess2, "USER alice")
		return d2.Dispatch(context.Background(), sess2, "PASS hunter2")
	}()
	if resp.OK || resp.Code != CodeInUse {
		t.Errorf("second read-write login for the same user = %+v, want -ERR [IN-USE]", resp)
	}
}

func TestDispatchStatAndListOnEmptyMailbox(t *testing.T) {
	d, sess := testDispatcher(t, nil)
	login(t, d, sess)

	resp := d.Dispatch(context.Background(), sess, "STAT")
	if !resp.OK || resp.Message != "0 0" {
		t.Errorf("STAT on empty mailbox = %+v, want \"0 0\"", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "LIST")
	if !resp.OK || resp.Multiline == nil || *resp.Multiline != "" {
		t.Errorf("LIST on empty mailbox = %+v", resp)
	}
}

func messagesFixture() []memory.Message {
	return []memory.Message{
		{UniqueID: "uid-1", Content: "Subject: one\r\n\r\nbody one\r\nsecond line\r\n"},
		{UniqueID: "uid-2", Content: "Subject: two\r\n\r\nbody two\r\n"},
	}
}

func TestDispatchStatListUidlRetrTopDele(t *testing.T) {
	d, sess := testDispatcher(t, messagesFixture())
	login(t, d, sess)

	if resp := d.Dispatch(context.Background(), sess, "STAT"); resp.Message != "2 81" && !strings.HasPrefix(resp.Message, "2 ") {
		t.Errorf("STAT = %+v", resp)
	}

	resp := d.Dispatch(context.Background(), sess, "LIST")
	if !resp.OK || strings.Count(*resp.Multiline, "\r\n") != 1 {
		t.Errorf("LIST (all) = %+v", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "LIST 1")
	if !resp.OK || !strings.HasPrefix(resp.Message, "1 ") {
		t.Errorf("LIST 1 = %+v", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "UIDL 1")
	if !resp.OK || resp.Message != "1 uid-1" {
		t.Errorf("UIDL 1 = %+v, want \"1 uid-1\"", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "RETR 1")
	if !resp.OK || resp.Multiline == nil || !strings.Contains(*resp.Multiline, "body one") {
		t.Errorf("RETR 1 = %+v", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "TOP 1 0")
	if !resp.OK || !strings.Contains(*resp.Multiline, "Subject: one") || strings.Contains(*resp.Multiline, "body one") {
		t.Errorf("TOP 1 0 = %+v, want headers only", resp)
	}
	if wire := string(resp.Encode(sess)); !strings.HasSuffix(wire, "Subject: one\r\n\r\n.\r\n") {
		t.Errorf("TOP 1 0 wire form = %q, want headers, exactly one blank separator line, then the terminator", wire)
	}

	resp = d.Dispatch(context.Background(), sess, "DELE 1")
	if !resp.OK {
		t.Fatalf("DELE 1 = %+v", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "LIST 1")
	if resp.OK {
		t.Errorf("LIST 1 after DELE should fail, got %+v", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "RSET")
	if !resp.OK {
		t.Fatalf("RSET = %+v", resp)
	}
	resp = d.Dispatch(context.Background(), sess, "LIST 1")
	if !resp.OK {
		t.Errorf("LIST 1 after RSET should succeed again, got %+v", resp)
	}
}

func TestDispatchDeleAndRsetRefusedInReadOnly(t *testing.T) {
	d, sess := testDispatcher(t, messagesFixture())
	sess.SetReadOnly()
	login(t, d, sess)

	resp := d.Dispatch(context.Background(), sess, "DELE 1")
	if resp.OK || resp.Code != CodeReadOnly {
		t.Errorf("DELE in read-only = %+v, want -ERR [X-POP3SF-READ-ONLY]", resp)
	}

	resp = d.Dispatch(context.Background(), sess, "RSET")
	if resp.OK || resp.Code != CodeReadOnly {
		t.Errorf("RSET in read-only = %+v, want -ERR [X-POP3SF-READ-ONLY]", resp)
	}
}

func TestDispatchInvalidMessageNumber(t *testing.T) {
	d, sess := testDispatcher(t, messagesFixture())
	login(t, d, sess)

	resp := d.Dispatch(context.Background(), sess, "RETR 99")
	if resp.OK {
		t.Errorf("RETR 99 should fail, got %+v", resp)
	}
	resp = d.Dispatch(context.Background(), sess, "RETR abc")
	if resp.OK {
		t.Errorf("RETR abc should fail, got %+v", resp)
	}
}

func TestDispatchQuitCommitsDeletions(t *testing.T) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	creds := memory.Credentials{
		Username: "alice",
		Salt:     salt,
		Hash:     argon2.IDKey([]byte("hunter2"), salt, 1, 8, 1, 32),
		Time:     1, Memory: 8, Threads: 1,
	}
	a := memory.NewFactory(creds, messagesFixture())()
	reg := exclusivity.New()
	cfg := DispatcherConfig{
		Hostname: "mail.example.test", Implementation: "pop3d",
		MaxInvalidCommands: 2, MaxInvalidPasswords: 2,
	}
	d := NewDispatcher(cfg, a, reg, 1, &net.IPAddr{IP: net.ParseIP("127.0.0.1")})
	sess := NewSession(1)
	login(t, d, sess)

	d.Dispatch(context.Background(), sess, "DELE 1")
	resp := d.Dispatch(context.Background(), sess, "QUIT")
	if !resp.OK || !resp.CloseAfterSend {
		t.Fatalf("QUIT = %+v", resp)
	}

	count, err := a.GetMessageCount(context.Background())
	if err != nil {
		t.Fatalf("GetMessageCount: %v", err)
	}
	if count != 1 {
		t.Errorf("message count after QUIT committed a deletion = %d, want 1", count)
	}
}

func TestDispatchInvalidCommandRateLimit(t *testing.T) {
	d, sess := testDispatcher(t, nil)

	resp := d.Dispatch(context.Background(), sess, "BOGUS")
	if resp.OK || resp.CloseAfterSend {
		t.Fatalf("first invalid command = %+v", resp)
	}
	resp = d.Dispatch(context.Background(), sess, "BOGUS")
	if resp.CloseAfterSend {
		t.Fatalf("second invalid command = %+v", resp)
	}
	resp = d.Dispatch(context.Background(), sess, "BOGUS")
	if !resp.CloseAfterSend {
		t.Errorf("third invalid command should exceed the limit and close, got %+v", resp)
	}
}

func TestDispatchNoopDoesNothing(t *testing.T) {
	d, sess := testDispatcher(t, messagesFixture())
	login(t, d, sess)
	resp := d.Dispatch(context.Background(), sess, "NOOP")
	if !resp.OK {
		t.Errorf("NOOP = %+v", resp)
	}
}
