package pop3

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/infodancer/pop3d/internal/adapter"
	"github.com/infodancer/pop3d/internal/exclusivity"
)

// uniqueIDPattern is the character rule §6 imposes on adapter-supplied
// unique ids: 1 to 70 printable, non-whitespace ASCII bytes.
var uniqueIDPattern = regexp.MustCompile(`^[\x21-\x7e]{1,70}$`)

// authorizationCommands and transactionCommands name every verb accepted in
// each state (§4.6). Anything else - including a verb valid only in the
// other state - is an invalid command.
var authorizationCommands = map[string]bool{
	"CAPA": true, "QUIT": true, "XPRO": true, "UTF8": true, "LANG": true, "USER": true, "PASS": true,
}

var transactionCommands = map[string]bool{
	"CAPA": true, "LANG": true, "NOOP": true, "QUIT": true, "STAT": true, "LIST": true,
	"UIDL": true, "RETR": true, "TOP": true, "DELE": true, "RSET": true,
}

// DispatcherConfig carries the pieces of the configuration surface (§6)
// that affect command behavior.
type DispatcherConfig struct {
	Hostname            string
	Implementation      string
	MaxInvalidCommands  int // negative disables the limit
	MaxInvalidPasswords int // negative disables the limit
	FailedLoginDelay    time.Duration
}

// Dispatcher runs the command state machine for a single connection. It
// owns the (already-serialized) adapter for that connection and the
// process-wide exclusivity registry.
type Dispatcher struct {
	cfg         DispatcherConfig
	adapter     adapter.Adapter
	exclusivity *exclusivity.Registry
	connID      uint64
	remoteAddr  net.Addr
}

// NewDispatcher constructs a Dispatcher for one connection.
func NewDispatcher(cfg DispatcherConfig, a adapter.Adapter, reg *exclusivity.Registry, connID uint64, remoteAddr net.Addr) *Dispatcher {
	return &Dispatcher{cfg: cfg, adapter: a, exclusivity: reg, connID: connID, remoteAddr: remoteAddr}
}

// Dispatch parses and executes one already-trimmed, non-empty command line
// against sess, returning exactly one Response - the dispatcher's central
// invariant, preserved from the source this was grounded on.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, line string) Response {
	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	allowed := authorizationCommands
	if sess.State() == StateTransaction {
		allowed = transactionCommands
	}

	if !allowed[verb] {
		return d.invalidCommand(sess)
	}

	switch verb {
	case "CAPA":
		return d.cmdCapa(ctx, sess, args)
	case "QUIT":
		return d.cmdQuit(ctx, sess, args)
	case "XPRO":
		return d.cmdXpro(ctx, sess, args)
	case "UTF8":
		return d.cmdUtf8(sess, args)
	case "LANG":
		return d.cmdLang(sess, args)
	case "USER":
		return d.cmdUser(sess, args)
	case "PASS":
		return d.cmdPass(ctx, sess, args)
	case "NOOP":
		return d.cmdNoop(args)
	case "STAT":
		return d.cmdStat(ctx, sess, args)
	case "LIST":
		return d.cmdList(ctx, sess, args)
	case "UIDL":
		return d.cmdUidl(ctx, sess, args)
	case "RETR":
		return d.cmdRetr(ctx, sess, args)
	case "TOP":
		return d.cmdTop(ctx, sess, args)
	case "DELE":
		return d.cmdDele(ctx, sess, args)
	case "RSET":
		return d.cmdRset(ctx, sess, args)
	default:
		return d.invalidCommand(sess)
	}
}

// invalidCommand implements the shared bad-verb / bad-state path and its
// rate limit (§4.6 "Bad-command rate limit").
func (d *Dispatcher) invalidCommand(sess *Session) Response {
	if d.cfg.MaxInvalidCommands >= 0 {
		sess.IncrementInvalidCommandCount()
		if sess.InvalidCommandCount() > d.cfg.MaxInvalidCommands {
			return closeAfter(errResp("Too many invalid commands", codeNone))
		}
	}
	return errResp("Invalid command", codeNone)
}

func checkArity(args []string, allowed ...int) bool {
	for _, n := range allowed {
		if len(args) == n {
			return true
		}
	}
	return false
}

func (d *Dispatcher) cmdCapa(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}

	caps := []string{
		"USER", "TOP", "UIDL", "RESP-CODES", "AUTH-RESP-CODE", "UTF8 USER", "LANG",
		"IMPLEMENTATION " + d.cfg.Implementation,
	}

	allowed, err := d.adapter.ReadOnlyModeAllowed(ctx)
	if adapterCloseRequested(err) {
		return closeAfter(errInternal())
	}
	if err == nil && allowed {
		caps = append(caps, "X-POP3SF-READ-ONLY")
	}

	return okMultiline("Listing all capabilities", strings.Join(caps, "\r\n"), false)
}

func (d *Dispatcher) cmdQuit(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}

	if sess.State() == StateAuthorization {
		return closeAfter(ok("Session is ending (nobody was logged in)"))
	}

	if !sess.ReadOnly() {
		if err := d.adapter.CommitDeletions(ctx); err != nil {
			// Teardown must still proceed; a commit failure is reported
			// but does not block the close the client asked for.
			return closeAfter(ok("Session is ending (changes could not be fully committed)"))
		}
	}

	return closeAfter(ok("Session is ending"))
}

func (d *Dispatcher) cmdXpro(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}

	allowed, err := d.adapter.ReadOnlyModeAllowed(ctx)
	if adapterCloseRequested(err) {
		return closeAfter(errInternal())
	}
	if err != nil || !allowed {
		return errResp("Read-only mailbox access mode is not allowed", CodeReadOnly)
	}

	sess.SetReadOnly()
	return ok("Mailbox access mode switched to read-only")
}

func (d *Dispatcher) cmdUtf8(sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}
	sess.EnableUTF8()
	return ok("UTF-8 support was enabled for this connection")
}

func (d *Dispatcher) cmdLang(sess *Session, args []string) Response {
	if !checkArity(args, 0, 1) {
		return errResp("Invalid argument count", codeNone)
	}

	if len(args) == 0 {
		return okMultiline("Listing all languages", "en English", false)
	}

	if args[0] == "*" {
		sess.SetLanguage("en")
		return ok("The response text language was changed to English")
	}

	if tag, err := language.Parse(args[0]); err == nil && tag == language.English {
		sess.SetLanguage("en")
		return ok("The response text language was changed to English")
	}

	return errResp("Invalid language tag", codeNone)
}

func (d *Dispatcher) cmdNoop(args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}
	return ok("Nothing happened")
}

func (d *Dispatcher) cmdUser(sess *Session, args []string) Response {
	if !checkArity(args, 1) {
		return errResp("Invalid argument count", codeNone)
	}
	// Always accepted, win or lose, so the response never leaks whether
	// the username exists.
	sess.StageUsername(args[0])
	return ok("Username accepted")
}

func (d *Dispatcher) cmdPass(ctx context.Context, sess *Session, args []string) Response {
	username := sess.StagedUsername()
	if username == "" {
		return errResp("No username was sent using the USER command", CodeAuth)
	}

	// RFC 1939 permits treating spaces in the argument as part of the
	// password rather than as separators; this server joins the
	// already-whitespace-split arguments back with single spaces, which
	// collapses runs of interior whitespace.
	password := strings.Join(args, " ")
	if password == "" {
		return errResp("Empty password", CodeAuth)
	}

	verified, err := d.adapter.VerifyLoginCredentials(ctx, username, password)
	if adapterCloseRequested(err) {
		return closeAfter(errInternal())
	}
	if err != nil || !verified {
		return d.punishInvalidPassword(sess)
	}

	readOnly := sess.ReadOnly()
	if !d.exclusivity.TryInsert(d.connID, username, readOnly) {
		return errResp("This user is logged in in another session", CodeInUse)
	}

	if err := d.adapter.LoginSuccessful(ctx, username, readOnly); err != nil {
		d.exclusivity.Remove(d.connID)
		if adapterCloseRequested(err) {
			return closeAfter(errInternal())
		}
		return errResp("Login could not be completed", CodeAuth)
	}

	if count, err := d.adapter.GetMessageCount(ctx); adapterCloseRequested(err) || err != nil || count < 0 {
		d.exclusivity.Remove(d.connID)
		return closeAfter(errInternal())
	}

	sess.Authenticate(username)

	message := "User successfully logged in"
	if readOnly {
		message += " (read-only)"
	}
	return ok(message)
}

// punishInvalidPassword applies the failed-login delay and invalid-password
// counter, closing the session once the configured maximum is exceeded.
func (d *Dispatcher) punishInvalidPassword(sess *Session) Response {
	if d.cfg.FailedLoginDelay > 0 {
		time.Sleep(d.cfg.FailedLoginDelay)
	}

	if d.cfg.MaxInvalidPasswords >= 0 {
		sess.IncrementInvalidPasswordCount()
		if sess.InvalidPasswordCount() > d.cfg.MaxInvalidPasswords {
			return closeAfter(errResp("Too many incorrect passwords", CodeAuth))
		}
	}

	return errResp("Incorrect username or password", CodeAuth)
}

func (d *Dispatcher) cmdStat(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}

	count, total, resp, ok := d.undeletedSizes(ctx, sess)
	if !ok {
		return resp
	}

	return okUnreadable(fmt.Sprintf("%d %d", count, total))
}

func (d *Dispatcher) cmdList(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0, 1) {
		return errResp("Invalid argument count", codeNone)
	}

	if len(args) == 0 {
		lines, resp, ok := d.listAllSizes(ctx, sess)
		if !ok {
			return resp
		}
		return okMultiline("Listing all messages' sizes", strings.Join(lines, "\r\n"), false)
	}

	index, msgNum, resp, ok := d.parseMessageNumber(ctx, sess, args[0])
	if !ok {
		return resp
	}
	size, resp, ok := d.messageSize(ctx, sess, index)
	if !ok {
		return resp
	}
	return okUnreadable(fmt.Sprintf("%d %d", msgNum, size))
}

func (d *Dispatcher) cmdUidl(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0, 1) {
		return errResp("Invalid argument count", codeNone)
	}

	if len(args) == 0 {
		lines, resp, ok := d.listAllUIDs(ctx, sess)
		if !ok {
			return resp
		}
		return okMultiline("Listing all messages' unique IDs", strings.Join(lines, "\r\n"), false)
	}

	index, msgNum, resp, ok := d.parseMessageNumber(ctx, sess, args[0])
	if !ok {
		return resp
	}
	uid, err := d.adapter.GetMessageUniqueID(ctx, index)
	if adapterCloseRequested(err) {
		return closeAfter(errInternal())
	}
	if err != nil {
		return errInternal()
	}
	return okUnreadable(fmt.Sprintf("%d %s", msgNum, uid))
}

func (d *Dispatcher) cmdRetr(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 1) {
		return errResp("Invalid argument count", codeNone)
	}

	index, _, resp, ok := d.parseMessageNumber(ctx, sess, args[0])
	if !ok {
		return resp
	}

	content, err := d.adapter.GetMessageContent(ctx, index, sess.Encoding())
	if adapterCloseRequested(err) {
		return closeAfter(errInternal())
	}
	if err != nil {
		return errInternal()
	}

	return okMultiline("Sending the message's content", normalizeCRLF(content), false)
}

func (d *Dispatcher) cmdTop(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 2) {
		return errResp("Invalid argument count", codeNone)
	}

	index, _, resp, ok := d.parseMessageNumber(ctx, sess, args[0])
	if !ok {
		return resp
	}

	n, err := strconv.Atoi(args[1])
	if err != nil {
		return errResp("Invalid number of lines (must be an integer)", codeNone)
	}
	if n < 0 {
		return errResp("Invalid number of lines (out of range)", codeNone)
	}

	content, aerr := d.adapter.GetMessageContent(ctx, index, sess.Encoding())
	if adapterCloseRequested(aerr) {
		return closeAfter(errInternal())
	}
	if aerr != nil {
		return errInternal()
	}

	partial := extractHeadersAndLines(normalizeCRLF(content), n)
	return okMultiline("Sending the message's partial content", partial, n == 0)
}

func (d *Dispatcher) cmdDele(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 1) {
		return errResp("Invalid argument count", codeNone)
	}

	if sess.ReadOnly() {
		return errReadOnly()
	}

	index, _, resp, ok := d.parseMessageNumber(ctx, sess, args[0])
	if !ok {
		return resp
	}

	if err := d.adapter.MarkAsDeleted(ctx, index); err != nil {
		if adapterCloseRequested(err) {
			return closeAfter(errInternal())
		}
		return errInternal()
	}
	sess.MarkDeleted(index)

	return ok("The message was marked as deleted")
}

func (d *Dispatcher) cmdRset(ctx context.Context, sess *Session, args []string) Response {
	if !checkArity(args, 0) {
		return errResp("Invalid argument count", codeNone)
	}

	if sess.ReadOnly() {
		return errReadOnly()
	}

	if err := d.adapter.UnmarkAllDeleted(ctx); err != nil {
		if adapterCloseRequested(err) {
			return closeAfter(errInternal())
		}
		return errInternal()
	}
	sess.UnmarkAllDeleted()

	return ok("Messages marked as deleted were unmarked")
}

// parseMessageNumber parses a decimal 1-based message number into a
// 0-based index, validating range and that the message is not already
// marked deleted (§4.6 "_parse_message_number").
func (d *Dispatcher) parseMessageNumber(ctx context.Context, sess *Session, s string) (index, msgNum int, resp Response, ok bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, errResp("Invalid message number (must be an integer)", codeNone), false
	}
	index = n - 1

	count, cerr := d.adapter.GetMessageCount(ctx)
	if adapterCloseRequested(cerr) {
		return 0, 0, closeAfter(errInternal()), false
	}
	if cerr != nil || count < 0 {
		return 0, 0, errInternal(), false
	}

	if index < 0 || index >= count {
		return 0, 0, errResp("Invalid message number (out of range)", codeNone), false
	}

	if sess.IsDeleted(index) {
		return 0, 0, errResp("Invalid message number (message marked as deleted)", codeNone), false
	}

	return index, n, Response{}, true
}

func (d *Dispatcher) undeletedSizes(ctx context.Context, sess *Session) (count int, total int, resp Response, ok bool) {
	total = 0
	messageCount, err := d.adapter.GetMessageCount(ctx)
	if adapterCloseRequested(err) {
		return 0, 0, closeAfter(errInternal()), false
	}
	if err != nil || messageCount < 0 {
		return 0, 0, errInternal(), false
	}

	for i := 0; i < messageCount; i++ {
		if sess.IsDeleted(i) {
			continue
		}
		size, resp, ok := d.messageSize(ctx, sess, i)
		if !ok {
			return 0, 0, resp, false
		}
		count++
		total += size
	}
	return count, total, Response{}, true
}

func (d *Dispatcher) listAllSizes(ctx context.Context, sess *Session) (lines []string, resp Response, ok bool) {
	messageCount, err := d.adapter.GetMessageCount(ctx)
	if adapterCloseRequested(err) {
		return nil, closeAfter(errInternal()), false
	}
	if err != nil || messageCount < 0 {
		return nil, errInternal(), false
	}

	for i := 0; i < messageCount; i++ {
		if sess.IsDeleted(i) {
			continue
		}
		size, resp, ok := d.messageSize(ctx, sess, i)
		if !ok {
			return nil, resp, false
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, size))
	}
	return lines, Response{}, true
}

func (d *Dispatcher) listAllUIDs(ctx context.Context, sess *Session) (lines []string, resp Response, ok bool) {
	messageCount, err := d.adapter.GetMessageCount(ctx)
	if adapterCloseRequested(err) {
		return nil, closeAfter(errInternal()), false
	}
	if err != nil || messageCount < 0 {
		return nil, errInternal(), false
	}

	seen := make(map[string]bool, messageCount)
	for i := 0; i < messageCount; i++ {
		if sess.IsDeleted(i) {
			continue
		}
		uid, uerr := d.adapter.GetMessageUniqueID(ctx, i)
		if adapterCloseRequested(uerr) {
			return nil, closeAfter(errInternal()), false
		}
		if uerr != nil || !uniqueIDPattern.MatchString(uid) {
			return nil, errInternal(), false
		}
		if seen[uid] {
			return nil, errInternal(), false
		}
		seen[uid] = true
		lines = append(lines, fmt.Sprintf("%d %s", i+1, uid))
	}
	return lines, Response{}, true
}

// messageSize computes a message's size by re-emitting its content with
// newlines normalized to CRLF and measuring the byte length under the
// session's encoding (§4.6 "get_message_size").
func (d *Dispatcher) messageSize(ctx context.Context, sess *Session, index int) (size int, resp Response, ok bool) {
	content, err := d.adapter.GetMessageContent(ctx, index, sess.Encoding())
	if adapterCloseRequested(err) {
		return 0, closeAfter(errInternal()), false
	}
	if err != nil {
		return 0, errInternal(), false
	}

	normalized := normalizeCRLF(content)
	encoded, encOK := tryEncode(normalized, sess.Encoding())
	if !encOK {
		return 0, errResp("The message contains a character that cannot be represented without the UTF-8 extension", CodeUTF8), false
	}
	return len(encoded), Response{}, true
}

// extractHeadersAndLines implements TOP's body algorithm: copy every
// header line up to (and including, if present) the blank separator line,
// then copy up to n lines of the body.
func extractHeadersAndLines(normalized string, n int) string {
	lines := splitLines(normalized)

	var result []string
	i := 0
	for i < len(lines) && lines[i] != "" {
		result = append(result, lines[i])
		i++
	}
	if i < len(lines) {
		result = append(result, lines[i]) // the blank separator line
		i++
	}
	for count := 0; count < n && i < len(lines); count, i = count+1, i+1 {
		result = append(result, lines[i])
	}

	return strings.Join(result, "\r\n")
}
