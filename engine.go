package tornago

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// opEngine labels errors originating from Engine operations.
const opEngine = "Engine"

// safeCookieClientHash and safeCookieServerHash are the fixed constants used
// as HMAC-SHA256 keys during the SAFECOOKIE handshake (control-spec.txt
// section 3.24).
const (
	safeCookieClientHash = "Tor safe cookie authentication controller-to-server hash"
	safeCookieServerHash = "Tor safe cookie authentication server-to-controller hash"
)

// engineState is the Engine-level authentication/readiness state machine:
// UNAUTHENTICATED -> AUTHENTICATED -> READY, with FAILED reachable from
// any of the other three states.
type engineState int32

const (
	engineUnauthenticated engineState = iota
	engineAuthenticated
	engineReady
	engineFailed
)

func (s engineState) String() string {
	switch s {
	case engineUnauthenticated:
		return "UNAUTHENTICATED"
	case engineAuthenticated:
		return "AUTHENTICATED"
	case engineReady:
		return "READY"
	case engineFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// reply is one fully-assembled command response: all "-" continuation lines
// plus the final line's text, with multiline ("+") bodies inlined in order.
type reply struct {
	Code  int
	Lines []string
}

// pendingCommand is one in-flight entry in the Engine's FIFO queue.
type pendingCommand struct {
	spanID string
	result chan replyOrError
}

type replyOrError struct {
	reply reply
	err   error
}

type writeRequest struct {
	data []byte
	done chan error
}

// EngineOption customizes Engine construction.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger      Logger
	metrics     *MetricsCollector
	rateLimiter *RateLimiter
	dialTimeout time.Duration
}

// WithEngineLogger sets a structured logger for the Engine.
func WithEngineLogger(l Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithEngineMetrics attaches a MetricsCollector to the Engine.
func WithEngineMetrics(m *MetricsCollector) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithEngineRateLimiter throttles outgoing commands through r.
func WithEngineRateLimiter(r *RateLimiter) EngineOption {
	return func(o *engineOptions) { o.rateLimiter = r }
}

// WithEngineDialTimeout bounds the initial TCP dial in Dial.
func WithEngineDialTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.dialTimeout = d }
}

// Engine is the Control Protocol Engine: a framed, line-oriented, strict-FIFO
// request/response multiplexer over a single Tor ControlPort connection. All
// 650 lines are demultiplexed to its EventDispatcher regardless of queue
// state; every other line is matched to the oldest outstanding command.
type Engine struct {
	conn   net.Conn
	framer *lineFramer
	writer *bufio.Writer

	logger      Logger
	metrics     *MetricsCollector
	rateLimiter *RateLimiter

	dispatcher *eventDispatcher

	mu      sync.Mutex
	pending []*pendingCommand
	state   engineState
	failErr error

	writeCh chan writeRequest
	ctx     context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group

	closeOnce sync.Once
}

// Dial connects to a Tor ControlPort at addr and starts the Engine's
// read/write loops. The returned Engine begins in the UNAUTHENTICATED state;
// call Authenticate before issuing any other command.
func Dial(ctx context.Context, addr string, opts ...EngineOption) (*Engine, error) {
	o := &engineOptions{dialTimeout: 30 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}

	dialer := &net.Dialer{}
	dialCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, newError(ErrTransportError, opEngine, "failed to dial ControlPort", err)
	}

	engCtx, engCancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(engCtx)

	e := &Engine{
		conn:        conn,
		framer:      newLineFramer(conn),
		writer:      bufio.NewWriter(conn),
		logger:      o.logger,
		metrics:     o.metrics,
		rateLimiter: o.rateLimiter,
		dispatcher:  newEventDispatcher(o.logger),
		writeCh:     make(chan writeRequest),
		ctx:         engCtx,
		cancel:      engCancel,
		eg:          eg,
	}
	e.dispatcher.sendSetEvents = e.sendSetEvents

	eg.Go(func() error { return e.readLoop() })
	eg.Go(func() error { return e.writeLoop(egCtx) })

	if o.metrics != nil {
		o.metrics.recordConnect()
	}

	return e, nil
}

// State reports the Engine's current position in the
// UNAUTHENTICATED/AUTHENTICATED/READY/FAILED state machine.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.String()
}

// MarkReady transitions an AUTHENTICATED engine to READY, once the caller
// has finished bootstrapping configuration and info-tree state over it.
func (e *Engine) MarkReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == engineAuthenticated {
		e.state = engineReady
	}
}

// Close shuts down the underlying connection and fails any outstanding
// commands.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		err = e.conn.Close()
		_ = e.eg.Wait()
	})
	return err
}

// AddEventListener subscribes fn to events of the given keyword (e.g.
// "CIRC", "STREAM", "STATUS_CLIENT"), issuing SETEVENTS as needed.
func (e *Engine) AddEventListener(ctx context.Context, keyword string, fn func(event Event)) (func(), error) {
	return e.dispatcher.Subscribe(ctx, keyword, fn)
}

// Authenticate runs the PROTOCOLINFO/AUTHENTICATE handshake using auth,
// selecting a method in priority order SAFECOOKIE > COOKIE > HASHEDPASSWORD >
// NULL based on what the daemon advertises and what credentials auth
// supplies. On success the Engine transitions to AUTHENTICATED.
func (e *Engine) Authenticate(ctx context.Context, auth ControlAuth) error {
	info, err := e.protocolInfo(ctx)
	if err != nil {
		e.fail(err)
		return err
	}

	token, authErr := e.buildAuthToken(ctx, info, auth)
	if authErr != nil {
		e.fail(authErr)
		return authErr
	}

	cmd := "AUTHENTICATE"
	if token != "" {
		cmd += " " + token
	}
	if _, err := e.queue(ctx, cmd); err != nil {
		wrapped := newError(ErrAuthError, opEngine, "AUTHENTICATE failed", err)
		e.fail(wrapped)
		return wrapped
	}

	e.mu.Lock()
	e.state = engineAuthenticated
	e.mu.Unlock()
	return nil
}

// protocolInfoResult captures the parts of PROTOCOLINFO the handshake needs.
type protocolInfoResult struct {
	methods    map[string]bool
	cookiePath string
}

func (e *Engine) protocolInfo(ctx context.Context) (protocolInfoResult, error) {
	r, err := e.queue(ctx, "PROTOCOLINFO 1")
	if err != nil {
		return protocolInfoResult{}, newError(ErrAuthError, opEngine, "PROTOCOLINFO failed", err)
	}
	result := protocolInfoResult{methods: map[string]bool{}}
	for _, line := range r.Lines {
		if strings.HasPrefix(line, "AUTH METHODS=") {
			rest := strings.TrimPrefix(line, "AUTH METHODS=")
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				for _, m := range strings.Split(fields[0], ",") {
					result.methods[m] = true
				}
			}
			if idx := strings.Index(rest, `COOKIEFILE="`); idx >= 0 {
				start := idx + len(`COOKIEFILE="`)
				if end := strings.Index(rest[start:], `"`); end >= 0 {
					result.cookiePath = filepath.Clean(rest[start : start+end])
				}
			}
		}
	}
	return result, nil
}

// buildAuthToken selects an authentication method and returns the token
// AUTHENTICATE should send (already quoted/hex-encoded as required), or ""
// for NULL auth.
func (e *Engine) buildAuthToken(ctx context.Context, info protocolInfoResult, auth ControlAuth) (string, error) {
	haveCookie := auth.CookiePath() != "" || len(auth.CookieBytes()) != 0

	switch {
	case info.methods["SAFECOOKIE"] && haveCookie:
		cookie, err := loadCookie(auth, info.cookiePath)
		if err != nil {
			return "", err
		}
		return e.safeCookieHandshake(ctx, cookie)
	case info.methods["COOKIE"] && haveCookie:
		cookie, err := loadCookie(auth, info.cookiePath)
		if err != nil {
			return "", err
		}
		return strings.ToUpper(hex.EncodeToString(cookie)), nil
	case info.methods["HASHEDPASSWORD"] && auth.Password() != "":
		return quotedString(auth.Password()), nil
	case info.methods["NULL"] || len(info.methods) == 0:
		return "", nil
	default:
		return "", newError(ErrAuthError, opEngine, "no compatible authentication method available", nil)
	}
}

// loadCookie resolves cookie bytes from auth, falling back to the path
// PROTOCOLINFO advertised when auth carries none of its own.
func loadCookie(auth ControlAuth, protocolInfoPath string) ([]byte, error) {
	if b := auth.CookieBytes(); len(b) != 0 {
		return b, nil
	}
	path := auth.CookiePath()
	if path == "" {
		path = protocolInfoPath
	}
	if path == "" {
		return nil, newError(ErrAuthError, opEngine, "no cookie path available", nil)
	}
	// #nosec G304 -- path comes from caller config or Tor's own PROTOCOLINFO response.
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, newError(ErrIO, opEngine, "failed to read control cookie", err)
	}
	return data, nil
}

// safeCookieHandshake performs AUTHCHALLENGE/AUTHENTICATE per
// control-spec.txt section 3.24 and returns the AUTHENTICATE token.
func (e *Engine) safeCookieHandshake(ctx context.Context, cookie []byte) (string, error) {
	clientNonce := make([]byte, 32)
	if _, err := rand.Read(clientNonce); err != nil {
		return "", newError(ErrAuthError, opEngine, "failed to generate client nonce", err)
	}

	r, err := e.queue(ctx, "AUTHCHALLENGE SAFECOOKIE "+hex.EncodeToString(clientNonce))
	if err != nil {
		return "", newError(ErrAuthError, opEngine, "AUTHCHALLENGE failed", err)
	}
	if len(r.Lines) == 0 {
		return "", newError(ErrAuthError, opEngine, "AUTHCHALLENGE returned no data", nil)
	}

	var serverHash, serverNonce []byte
	for _, field := range strings.Fields(r.Lines[0]) {
		switch {
		case strings.HasPrefix(field, "SERVERHASH="):
			serverHash, err = hex.DecodeString(strings.TrimPrefix(field, "SERVERHASH="))
			if err != nil {
				return "", newError(ErrMalformedFrame, opEngine, "invalid SERVERHASH", err)
			}
		case strings.HasPrefix(field, "SERVERNONCE="):
			serverNonce, err = hex.DecodeString(strings.TrimPrefix(field, "SERVERNONCE="))
			if err != nil {
				return "", newError(ErrMalformedFrame, opEngine, "invalid SERVERNONCE", err)
			}
		}
	}
	if serverHash == nil || serverNonce == nil {
		return "", newError(ErrAuthError, opEngine, "AUTHCHALLENGE response missing SERVERHASH/SERVERNONCE", nil)
	}

	message := append(append(append([]byte(nil), cookie...), clientNonce...), serverNonce...)

	expectedServerHash := hmacSHA256([]byte(safeCookieServerHash), message)
	if subtle.ConstantTimeCompare(expectedServerHash, serverHash) != 1 {
		return "", newError(ErrAuthError, opEngine, "AUTHCHALLENGE server hash mismatch", nil)
	}

	clientHash := hmacSHA256([]byte(safeCookieClientHash), message)
	return strings.ToUpper(hex.EncodeToString(clientHash)), nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// defaultValueSentinel is the literal payload a GETCONF response line
// carries for a key with no override (control-spec.txt section 3.3: the
// daemon is using its compiled-in default). GetConf reports such a key as
// a single empty string.
const defaultValueSentinel = "DEFAULT_VALUE"

// GetInfo runs GETINFO against one or more keys in a single round trip and
// returns the decoded key=value map. A key absent from the response is
// simply absent from the returned map rather than an error, since GETINFO
// silently omits unrecognized keys.
func (e *Engine) GetInfo(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, newError(ErrInvalidConfig, opEngine, "GetInfo requires at least one key", nil)
	}
	r, err := e.queue(ctx, "GETINFO "+strings.Join(keys, " "))
	if err != nil {
		return nil, err
	}
	requested := make(map[string]bool, len(keys))
	for _, k := range keys {
		requested[k] = true
	}
	out := make(map[string]string, len(keys))
	// A "+" multiline value arrives as "key=" followed by its body lines,
	// which are joined with "\n" into that key's value.
	var bodyKey string
	var body []string
	for _, line := range r.Lines {
		key, value, ok := strings.Cut(line, "=")
		if ok && requested[key] {
			out[key] = value
			bodyKey, body = "", nil
			if value == "" {
				bodyKey = key
			}
			continue
		}
		if bodyKey != "" {
			body = append(body, line)
			out[bodyKey] = strings.Join(body, "\n")
		}
	}
	return out, nil
}

// GetConf runs GETCONF against one or more keys in a single round trip.
// Keys may repeat in the response for list-valued (CommaList/RouterList/
// LineList) options; every occurrence is appended to that key's slice in
// response order. A key whose value is the literal DEFAULT_VALUE is mapped
// to a single empty-string element, signalling "daemon default, no explicit
// override" rather than an explicit empty value.
func (e *Engine) GetConf(ctx context.Context, keys ...string) (map[string][]string, error) {
	if len(keys) == 0 {
		return nil, newError(ErrInvalidConfig, opEngine, "GetConf requires at least one key", nil)
	}
	r, err := e.queue(ctx, "GETCONF "+strings.Join(keys, " "))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(keys))
	for _, line := range r.Lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			key = line
			out[key] = append(out[key], "")
			continue
		}
		if value == defaultValueSentinel {
			value = ""
		}
		out[key] = append(out[key], value)
	}
	return out, nil
}

// KV is one ordered key/value pair for SetConf. Keys may repeat (e.g.
// multiple HiddenServicePort lines belonging to the same HiddenServiceDir);
// order is preserved on the wire exactly as given.
type KV struct {
	Key   string
	Value string
}

// SetConf atomically applies every key/value pair in a single SETCONF
// command, matching Tor's all-or-nothing semantics for the command. Pairs
// are sent in order and keys may repeat, since Tor's SETCONF grammar (unlike
// a Go map) has neither reordering nor deduplication.
func (e *Engine) SetConf(ctx context.Context, pairs ...KV) error {
	if len(pairs) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("SETCONF")
	for _, kv := range pairs {
		if kv.Value == "" {
			fmt.Fprintf(&b, " %s", kv.Key)
			continue
		}
		fmt.Fprintf(&b, " %s=%s", kv.Key, quotedString(kv.Value))
	}
	_, err := e.queue(ctx, b.String())
	return err
}

// ResetConf resets the named keys to their compiled-in defaults.
func (e *Engine) ResetConf(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := e.queue(ctx, "RESETCONF "+strings.Join(keys, " "))
	return err
}

// SaveConf persists the running configuration to the torrc file.
func (e *Engine) SaveConf(ctx context.Context) error {
	_, err := e.queue(ctx, "SAVECONF")
	return err
}

// Signal issues SIGNAL name (e.g. "NEWNYM", "RELOAD", "SHUTDOWN").
func (e *Engine) Signal(ctx context.Context, name string) error {
	_, err := e.queue(ctx, "SIGNAL "+name)
	return err
}

// QueueCommand sends an arbitrary single-line command and returns the
// assembled reply text lines. Exposed for components (config model, onion
// service management, info tree) that need commands this Engine does not
// wrap directly.
func (e *Engine) QueueCommand(ctx context.Context, cmd string) ([]string, error) {
	r, err := e.queue(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return r.Lines, nil
}

// queue appends cmd to the FIFO pending queue, writes it to the wire, and
// blocks until its matching reply arrives or ctx is done. Cancellation
// removes the caller's interest in the result but does NOT remove the FIFO
// entry: the response must still be consumed so later commands stay
// correctly aligned.
func (e *Engine) queue(ctx context.Context, cmd string) (reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx); err != nil {
			return reply{}, newError(ErrTimeout, opEngine, "rate limiter wait canceled", err)
		}
	}

	start := time.Now()
	spanID := uuid.NewString()
	pc := &pendingCommand{spanID: spanID, result: make(chan replyOrError, 1)}

	e.mu.Lock()
	if e.state == engineFailed {
		err := e.failErr
		e.mu.Unlock()
		return reply{}, err
	}
	e.pending = append(e.pending, pc)
	e.mu.Unlock()

	e.logger.Log("debug", "queue command", "span", spanID, "cmd", firstWord(cmd))

	done := make(chan error, 1)
	select {
	case e.writeCh <- writeRequest{data: encodeCommand(cmd), done: done}:
	case <-e.ctx.Done():
		return reply{}, e.waitOrFail(pc)
	case <-ctx.Done():
		// The command never reached the wire, so no reply will arrive for it:
		// drop its FIFO slot so later replies stay aligned.
		e.mu.Lock()
		for i, p := range e.pending {
			if p == pc {
				e.pending = append(e.pending[:i:i], e.pending[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		return reply{}, newError(ErrTimeout, opEngine, "", ctx.Err())
	}

	if err := <-done; err != nil {
		wrapped := newError(ErrTransportError, opEngine, "failed to write command", err)
		e.fail(wrapped)
		return reply{}, wrapped
	}

	select {
	case res := <-pc.result:
		if e.metrics != nil {
			e.metrics.recordCommand(time.Since(start), res.err)
		}
		if res.err != nil {
			return reply{}, res.err
		}
		return res.reply, nil
	case <-ctx.Done():
		go func() { <-pc.result }()
		return reply{}, newError(ErrTimeout, opEngine, "", ctx.Err())
	case <-e.ctx.Done():
		return reply{}, e.waitOrFail(pc)
	}
}

func (e *Engine) waitOrFail(pc *pendingCommand) error {
	select {
	case res := <-pc.result:
		if res.err != nil {
			return res.err
		}
		return nil
	default:
		e.mu.Lock()
		err := e.failErr
		if err == nil {
			err = newError(ErrTransportError, opEngine, "engine closed", nil)
		}
		e.mu.Unlock()
		return err
	}
}

// writeLoop serializes writes to the connection so QueueCommand callers
// never interleave partial commands on the wire.
func (e *Engine) writeLoop(ctx context.Context) error {
	for {
		select {
		case req := <-e.writeCh:
			_, err := e.writer.Write(req.data)
			if err == nil {
				err = e.writer.Flush()
			}
			req.done <- err
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// readLoop continuously decodes reply lines, routing 650 events to the
// dispatcher and matching every other final reply against the oldest
// pending command.
func (e *Engine) readLoop() error {
	var eventCode int
	var eventLines []string
	var cmdLines []string

	for {
		line, err := e.framer.ReadLine()
		if err != nil {
			e.fail(err)
			return err
		}

		if line.Async() {
			eventCode = line.Code
			if line.Data != nil {
				eventLines = append(eventLines, line.Text)
				eventLines = append(eventLines, line.Data...)
			} else {
				eventLines = append(eventLines, line.Text)
			}
			if line.Final() {
				e.dispatcher.dispatch(eventCode, eventLines)
				eventLines = nil
			}
			continue
		}

		if line.Data != nil {
			cmdLines = append(cmdLines, line.Text)
			cmdLines = append(cmdLines, line.Data...)
		} else {
			cmdLines = append(cmdLines, line.Text)
		}

		if !line.Final() {
			continue
		}

		r := reply{Code: line.Code, Lines: trimOKLine(line.Code, cmdLines)}
		cmdLines = nil

		var resErr error
		if line.Code >= 400 {
			resErr = &CommandError{Code: line.Code, Text: strings.Join(r.Lines, "; ")}
		}

		pc, ok := e.popPending()
		if !ok {
			e.logger.Log("warn", "reply with no pending command", "code", line.Code)
			continue
		}
		pc.result <- replyOrError{reply: r, err: resErr}
	}
}

// trimOKLine drops the conventional bare "OK" payload from 2xx final lines
// so callers parsing key=value responses don't have to special-case it.
func trimOKLine(code int, lines []string) []string {
	if code < 200 || code >= 300 {
		return lines
	}
	if n := len(lines); n > 0 && lines[n-1] == "OK" {
		if n == 1 {
			return nil
		}
		return lines[:n-1]
	}
	return lines
}

func (e *Engine) popPending() (*pendingCommand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil, false
	}
	pc := e.pending[0]
	e.pending = e.pending[1:]
	return pc, true
}

// fail transitions the Engine to FAILED and releases every outstanding
// command with err, matching the spec's "MalformedFrame/TransportError are
// fatal: they fail all pending commands" error-handling table.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.state == engineFailed {
		e.mu.Unlock()
		return
	}
	e.state = engineFailed
	e.failErr = err
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, pc := range pending {
		pc.result <- replyOrError{err: err}
	}
	e.cancel()
}

// sendSetEvents issues SETEVENTS with the dispatcher's current aggregate
// keyword set (or no arguments when the set is empty).
func (e *Engine) sendSetEvents(ctx context.Context, keywords []string) error {
	cmd := "SETEVENTS"
	if len(keywords) > 0 {
		cmd += " " + strings.Join(keywords, " ")
	}
	_, err := e.queue(ctx, cmd)
	return err
}

func firstWord(s string) string {
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}
