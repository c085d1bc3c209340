package tornago

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// opLineFramer labels errors originating from the line framer.
const opLineFramer = "LineFramer"

// replyLine is one fully decoded control-protocol reply line: either a
// "-"/" "-separated status line or a "+"-introduced multiline whose body has
// already been collected up to the terminating "." line.
type replyLine struct {
	// Code is the 3-digit status code (e.g. 250, 650, 552).
	Code int
	// Sep is the separator byte that followed Code: '-', '+', or ' '.
	Sep byte
	// Text is the line payload after the separator.
	Text string
	// Data holds the body lines of a "+"-introduced multiline reply, with the
	// dot-stuffing ("..foo" -> ".foo") already undone. Nil for non-data lines.
	Data []string
}

// Final reports whether this line terminates a reply (Sep == ' ').
func (l replyLine) Final() bool { return l.Sep == ' ' }

// Async reports whether this line is an asynchronous event (650), which is
// routed to the event dispatcher regardless of the pending command queue.
func (l replyLine) Async() bool { return l.Code == 650 }

// lineFramer decodes the CRLF-framed, possibly-multiline control protocol
// wire format into replyLine values. It is restartable: ReadLine can be
// called repeatedly against a live connection, and partial reads are
// buffered by the underlying bufio.Reader rather than the framer itself.
type lineFramer struct {
	r *bufio.Reader
}

// newLineFramer wraps r for line-oriented decoding.
func newLineFramer(r io.Reader) *lineFramer {
	return &lineFramer{r: bufio.NewReaderSize(r, 4096)}
}

// ReadLine decodes exactly one reply line, following any "+" multiline body
// to completion. It returns a MalformedFrame TorError if the line has no
// 3-digit numeric status code, if the separator is not one of "-+ ", or if a
// multiline body never terminates (EOF mid-block).
func (f *lineFramer) ReadLine() (replyLine, error) {
	raw, err := f.readRawLine()
	if err != nil {
		return replyLine{}, newError(ErrTransportError, opLineFramer, "failed to read control line", err)
	}

	if len(raw) < 4 {
		return replyLine{}, newError(ErrMalformedFrame, opLineFramer, "line too short for status code: "+strconv.Quote(raw), nil)
	}
	code, convErr := strconv.Atoi(raw[:3])
	if convErr != nil {
		return replyLine{}, newError(ErrMalformedFrame, opLineFramer, "non-numeric status code: "+strconv.Quote(raw), convErr)
	}
	sep := raw[3]
	text := raw[4:]

	switch sep {
	case '-', ' ':
		return replyLine{Code: code, Sep: sep, Text: text}, nil
	case '+':
		data, derr := f.readDataBlock()
		if derr != nil {
			return replyLine{}, derr
		}
		return replyLine{Code: code, Sep: sep, Text: text, Data: data}, nil
	default:
		return replyLine{}, newError(ErrMalformedFrame, opLineFramer, "unrecognized separator byte after status code: "+strconv.Quote(raw), nil)
	}
}

// readRawLine reads one CRLF- or LF-terminated line with the line ending
// stripped.
func (f *lineFramer) readRawLine() (string, error) {
	line, err := f.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readDataBlock reads the body of a "+" multiline reply up to the
// terminating "." line, undoing dot-stuffing (a leading ".." on a data line
// means a literal line starting with ".").
func (f *lineFramer) readDataBlock() ([]string, error) {
	var block []string
	for {
		line, err := f.readRawLine()
		if err != nil {
			return nil, newError(ErrMalformedFrame, opLineFramer, "unterminated multiline data block", err)
		}
		if line == "." {
			return block, nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		block = append(block, line)
	}
}

// encodeCommand frames a command line for the wire: a bare command gets a
// trailing CRLF, matching control-spec.txt section 2.3's SP-delimited
// command grammar (no multiline commands are used by this library).
func encodeCommand(cmd string) []byte {
	return []byte(cmd + "\r\n")
}

// quotedString escapes special characters per control protocol QuotedString
// expectations (control-spec.txt section 2.1). Raw CR/LF are escaped too,
// not just backslash and quote: a command is a single CRLF-framed line, so
// an embedded literal newline would corrupt the framing rather than become
// part of the value.
func quotedString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", `\r`, "\n", `\n`)
	return `"` + replacer.Replace(s) + `"`
}
