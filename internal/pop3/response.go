package pop3

import (
	"regexp"
	"strings"
)

// ResponseCode is a bracketed POP3 extended response code per RFC 2449/3206.
type ResponseCode string

// The extended response codes this server ever emits.
const (
	CodeInUse    ResponseCode = "IN-USE"
	CodeSysTemp  ResponseCode = "SYS/TEMP"
	CodeSysPerm  ResponseCode = "SYS/PERM"
	CodeAuth     ResponseCode = "AUTH"
	CodeUTF8     ResponseCode = "UTF8"
	CodeReadOnly ResponseCode = "X-POP3SF-READ-ONLY"
	codeNone     ResponseCode = ""
)

// Response is the structured record a command produces. Exactly one
// Response is produced per command; the connection handler is the only
// thing that turns it into bytes.
type Response struct {
	// OK selects "+OK" (true) or "-ERR" (false).
	OK bool

	// Code is an optional bracketed extended response code.
	Code ResponseCode

	// HumanReadable controls whether the session's language tag (if set)
	// is prefixed to Message. STAT and the single-argument forms of LIST
	// and UIDL are machine-readable and never get the tag.
	HumanReadable bool

	// Message is the first-line text, without the +OK/-ERR sigil, code or
	// language tag.
	Message string

	// Multiline, if non-nil, is the body of a multiline response. An
	// empty-but-non-nil string still produces a (trivial) multiline body.
	Multiline *string

	// ForceCRLF appends CRLF before the terminating ".CRLF" unconditionally,
	// even when Multiline already ends with CRLF. Needed for TOP n=0.
	ForceCRLF bool

	// CloseAfterSend tells the handler to close the connection once this
	// response has been written.
	CloseAfterSend bool
}

// ok builds a simple successful, human-readable response.
func ok(message string) Response {
	return Response{OK: true, HumanReadable: true, Message: message}
}

// okUnreadable builds a successful response whose first line is
// machine-readable (no language tag), used by STAT and single-argument
// LIST/UIDL.
func okUnreadable(message string) Response {
	return Response{OK: true, HumanReadable: false, Message: message}
}

// okMultiline builds a successful response with a multiline body.
func okMultiline(message, body string, forceCRLF bool) Response {
	return Response{OK: true, HumanReadable: true, Message: message, Multiline: &body, ForceCRLF: forceCRLF}
}

// errResp builds a failure response, optionally carrying an extended code.
func errResp(message string, code ResponseCode) Response {
	return Response{OK: false, HumanReadable: true, Message: message, Code: code}
}

// errInternal builds the canonical internal-invariant-violation response
// (adapter-supplied data broke a core guarantee).
func errInternal() Response {
	return errResp("Internal server error", CodeSysTemp)
}

// errReadOnly builds the canonical read-only-mailbox rejection.
func errReadOnly() Response {
	return errResp("This command is not allowed in read-only mode", CodeReadOnly)
}

// closeAfter returns a copy of r with CloseAfterSend set.
func closeAfter(r Response) Response {
	r.CloseAfterSend = true
	return r
}

var crlfNormalize = regexp.MustCompile(`\r\n|\r|\n`)

// normalizeCRLF rewrites every line ending - CRLF, bare CR, bare LF - to
// CRLF.
func normalizeCRLF(s string) string {
	return crlfNormalize.ReplaceAllString(s, "\r\n")
}

// splitLines splits s on any line ending without discarding a trailing
// empty line the way strings.Split on "\n" would when s already ends in a
// terminator; this mirrors Python's regex-split behavior used throughout
// the source this server's semantics are grounded on.
func splitLines(s string) []string {
	return crlfNormalize.Split(s, -1)
}

// Encode renders r as wire bytes under sess's encoding and language,
// implementing the POP3 response grammar: sigil, optional code, optional
// language tag, message, CRLF, optional byte-stuffed multiline body
// terminated by ".CRLF". If encoding the composed string under
// sess.Encoding() fails, an ASCII-only -ERR [UTF8] response is substituted
// and encoded instead (which always succeeds).
func (r Response) Encode(sess *Session) []byte {
	composed := r.compose(sess)
	if encoded, ok := tryEncode(composed, sess.Encoding()); ok {
		return encoded
	}

	fallback := errResp("The response contains a character that cannot be represented in the negotiated encoding", CodeUTF8)
	composed = fallback.compose(sess)
	encoded, _ := tryEncode(composed, "ascii")
	return encoded
}

func (r Response) compose(sess *Session) string {
	var sb strings.Builder

	if r.OK {
		sb.WriteString("+OK ")
	} else {
		sb.WriteString("-ERR ")
	}

	if r.Code != codeNone {
		sb.WriteString("[")
		sb.WriteString(string(r.Code))
		sb.WriteString("] ")
	}

	if lang := sess.Language(); lang != "" && r.HumanReadable {
		sb.WriteString(lang)
		sb.WriteString(" ")
	}

	sb.WriteString(r.Message)
	sb.WriteString("\r\n")

	if r.Multiline != nil {
		sb.WriteString(r.composeMultiline())
	}

	return sb.String()
}

func (r Response) composeMultiline() string {
	lines := splitLines(*r.Multiline)
	stuffed := make([]string, len(lines))
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		stuffed[i] = line
	}

	body := strings.Join(stuffed, "\r\n")
	if r.ForceCRLF || !strings.HasSuffix(body, "\r\n") {
		body += "\r\n"
	}
	body += ".\r\n"
	return body
}

// tryEncode encodes s as bytes under encoding ("ascii" or "utf-8"),
// reporting false if s contains a character that cannot be represented
// under an ascii encoding.
func tryEncode(s, encoding string) ([]byte, bool) {
	if encoding != "ascii" {
		return []byte(s), true
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return nil, false
		}
	}
	return []byte(s), true
}
