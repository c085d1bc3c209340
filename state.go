package tornago

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
)

// opState labels errors and log entries from the live state tracker.
const opState = "StateTracker"

// routerFingerprintLen is the length of a Tor relay's hex fingerprint, as it
// appears (after the leading "$") in a circuit path token.
const routerFingerprintLen = 40

// Router is a Tor relay, identified by its 40-character hex fingerprint.
// Routers are learned from NEWDESC and NS events (and the NS/consensus
// snapshot fetched at bootstrap) rather than from circuit path tokens
// themselves, since a path token alone carries no port/address/flag
// information - only an id and a nickname.
type Router struct {
	ID       string
	Nickname string
}

// CircuitListener receives circuit lifecycle notifications as StateTracker
// applies incoming CIRC events. Every method is invoked synchronously, in
// the arrival order of the events that trigger them; a listener must not
// block or re-enter the engine, and a panic inside one is recovered and
// logged rather than allowed to propagate or stop delivery to the rest.
type CircuitListener interface {
	// CircuitNew fires once, the first time a circuit id is observed.
	CircuitNew(c *Circuit)
	// CircuitLaunched fires when the circuit enters the LAUNCHED state,
	// after its path has been cleared.
	CircuitLaunched(c *Circuit)
	// CircuitExtend fires once per new hop appended to the circuit's path.
	CircuitExtend(c *Circuit, router *Router)
	// CircuitBuilt fires when the circuit reaches the BUILT state.
	CircuitBuilt(c *Circuit)
	// CircuitClosed fires when the circuit reaches the CLOSED state.
	CircuitClosed(c *Circuit)
	// CircuitFailed fires when the circuit reaches the FAILED state.
	CircuitFailed(c *Circuit, reason string)
}

// StreamListener receives stream lifecycle notifications. Stream processing
// mirrors circuit processing minus path extension: streams attach to an
// existing circuit rather than building one hop at a time.
type StreamListener interface {
	// StreamNew fires once, the first time a stream id is observed.
	StreamNew(s *Stream)
	// StreamSucceeded fires when the stream reaches the SUCCEEDED state.
	StreamSucceeded(s *Stream)
	// StreamClosed fires when the stream reaches the CLOSED state.
	StreamClosed(s *Stream)
	// StreamFailed fires when the stream reaches the FAILED state.
	StreamFailed(s *Stream, reason string)
}

// circuitListeners is a circuit's own listener list, separate from the
// tracker-wide global list, guarded by its own mutex so Listen/Unlisten never
// has to contend with the StateTracker's main lock.
type circuitListeners struct {
	mu   sync.Mutex
	list []CircuitListener
}

func (cl *circuitListeners) add(l CircuitListener) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.list = append(cl.list, l)
}

func (cl *circuitListeners) remove(l CircuitListener) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for i, x := range cl.list {
		if x == l {
			cl.list = append(cl.list[:i], cl.list[i+1:]...)
			return
		}
	}
}

func (cl *circuitListeners) snapshot() []CircuitListener {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return append([]CircuitListener(nil), cl.list...)
}

type streamListeners struct {
	mu   sync.Mutex
	list []StreamListener
}

func (sl *streamListeners) add(l StreamListener) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.list = append(sl.list, l)
}

func (sl *streamListeners) remove(l StreamListener) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for i, x := range sl.list {
		if x == l {
			sl.list = append(sl.list[:i], sl.list[i+1:]...)
			return
		}
	}
}

func (sl *streamListeners) snapshot() []StreamListener {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return append([]StreamListener(nil), sl.list...)
}

// Circuit mirrors one of Tor's circuits as reported by CIRC events and
// GETINFO circuit-status, updated incrementally as events arrive.
type Circuit struct {
	ID         string
	State      string // LAUNCHED, BUILT, EXTENDED, FAILED, CLOSED, ...
	Path       []string
	Routers    []*Router // Path, resolved through the router container
	BuildFlags []string
	Purpose    string
	Reason     string

	streams   map[string]bool
	listeners *circuitListeners
}

// Streams returns the IDs of streams currently attached to this circuit.
func (c *Circuit) Streams() []string {
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	return ids
}

// Listen registers l for lifecycle notifications on this circuit alone, in
// addition to whatever global listeners StateTracker.AddCircuitListener has
// registered.
func (c *Circuit) Listen(l CircuitListener) {
	c.listeners.add(l)
}

// Unlisten removes a listener previously registered with Listen.
func (c *Circuit) Unlisten(l CircuitListener) {
	c.listeners.remove(l)
}

// Stream mirrors one of Tor's streams as reported by STREAM events and
// GETINFO stream-status.
type Stream struct {
	ID        string
	State     string // NEW, NEWRESOLVE, REMAP, SENTCONNECT, SENTRESOLVE, SUCCEEDED, FAILED, CLOSED, DETACHED
	CircuitID string
	Target    string
	Purpose   string

	listeners *streamListeners
}

// Listen registers l for lifecycle notifications on this stream alone.
func (s *Stream) Listen(l StreamListener) {
	s.listeners.add(l)
}

// Unlisten removes a listener previously registered with Listen.
func (s *Stream) Unlisten(l StreamListener) {
	s.listeners.remove(l)
}

// AddrMap mirrors one MapAddress entry as reported by ADDRMAP events.
type AddrMap struct {
	From   string
	To     string
	Expiry string
}

// StateTracker maintains a live, event-driven mirror of the daemon's
// circuits, streams, address mappings, and known routers. It bootstraps from
// GETINFO snapshots and then applies CIRC/STREAM/ADDRMAP/NEWDESC/NS events
// incrementally, grounded on the same update/update_path/listen algorithm a
// circuit listener uses to track path extension (original_source/txtorcon's
// Circuit.update/update_path).
type StateTracker struct {
	engine *Engine
	logger Logger

	mu       sync.Mutex
	circuits map[string]*Circuit
	streams  map[string]*Stream
	addrMaps map[string]*AddrMap
	routers  map[string]*Router

	circListeners   []CircuitListener
	streamListeners []StreamListener

	unsubCirc     func()
	unsubStream   func()
	unsubAddrMap  func()
	unsubNewDesc  func()
	unsubNS       func()
	unsubNewCons  func()
}

// NewStateTracker bootstraps a StateTracker against an already-authenticated
// engine and subscribes to CIRC/STREAM/ADDRMAP/NEWDESC/NS/NEWCONSENSUS events
// to stay current.
func NewStateTracker(ctx context.Context, engine *Engine, logger Logger) (*StateTracker, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	st := &StateTracker{
		engine:   engine,
		logger:   logger,
		circuits: make(map[string]*Circuit),
		streams:  make(map[string]*Stream),
		addrMaps: make(map[string]*AddrMap),
		routers:  make(map[string]*Router),
	}

	if err := st.Refresh(ctx); err != nil {
		return nil, err
	}

	var unsubs []func()
	subscribe := func(keyword string, fn func(Event)) error {
		unsub, err := engine.AddEventListener(ctx, keyword, fn)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return err
		}
		unsubs = append(unsubs, unsub)
		return nil
	}

	if err := subscribe("CIRC", st.onCircuit); err != nil {
		return nil, err
	}
	if err := subscribe("STREAM", st.onStream); err != nil {
		return nil, err
	}
	if err := subscribe("ADDRMAP", st.onAddrMap); err != nil {
		return nil, err
	}
	if err := subscribe("NEWDESC", st.onNewDesc); err != nil {
		return nil, err
	}
	if err := subscribe("NS", st.onNS); err != nil {
		return nil, err
	}
	if err := subscribe("NEWCONSENSUS", st.onNS); err != nil {
		return nil, err
	}

	st.unsubCirc, st.unsubStream, st.unsubAddrMap = unsubs[0], unsubs[1], unsubs[2]
	st.unsubNewDesc, st.unsubNS, st.unsubNewCons = unsubs[3], unsubs[4], unsubs[5]
	return st, nil
}

// Close stops listening for state-changing events. It does not close the
// underlying Engine.
func (st *StateTracker) Close() {
	for _, unsub := range []func(){st.unsubCirc, st.unsubStream, st.unsubAddrMap, st.unsubNewDesc, st.unsubNS, st.unsubNewCons} {
		if unsub != nil {
			unsub()
		}
	}
}

// AddCircuitListener registers l for lifecycle notifications on every
// circuit tracked, present and future. The returned func unregisters it.
func (st *StateTracker) AddCircuitListener(l CircuitListener) func() {
	st.mu.Lock()
	st.circListeners = append(st.circListeners, l)
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, x := range st.circListeners {
			if x == l {
				st.circListeners = append(st.circListeners[:i], st.circListeners[i+1:]...)
				return
			}
		}
	}
}

// AddStreamListener registers l for lifecycle notifications on every stream
// tracked, present and future. The returned func unregisters it.
func (st *StateTracker) AddStreamListener(l StreamListener) func() {
	st.mu.Lock()
	st.streamListeners = append(st.streamListeners, l)
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, x := range st.streamListeners {
			if x == l {
				st.streamListeners = append(st.streamListeners[:i], st.streamListeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh reloads the full circuit, stream, and router snapshot via GETINFO,
// discarding any drift accumulated from missed events.
func (st *StateTracker) Refresh(ctx context.Context) error {
	circLines, err := st.engine.QueueCommand(ctx, "GETINFO circuit-status")
	if err != nil {
		return newError(ErrControlRequestFail, opState, "GETINFO circuit-status failed", err)
	}
	streamLines, err := st.engine.QueueCommand(ctx, "GETINFO stream-status")
	if err != nil {
		return newError(ErrControlRequestFail, opState, "GETINFO stream-status failed", err)
	}
	// ns/all is best-effort: some control ports restrict it, and an empty
	// router container degrades path resolution to "unknown router,
	// abort" rather than failing Refresh outright.
	nsLines, nsErr := st.engine.QueueCommand(ctx, "GETINFO ns/all")
	if nsErr != nil {
		st.logger.Log("warn", "GETINFO ns/all failed; router container starts empty", "error", nsErr.Error())
		nsLines = nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for id, r := range parseRouterStatusLines(nsLines) {
		st.routers[id] = r
	}

	st.circuits = make(map[string]*Circuit)
	for _, line := range circLines {
		if line == "" {
			continue
		}
		if c := parseCircuitSnapshotLine(line); c.ID != "" {
			c.streams = make(map[string]bool)
			c.listeners = &circuitListeners{}
			st.circuits[c.ID] = c
		}
	}

	st.streams = make(map[string]*Stream)
	for _, line := range streamLines {
		if line == "" {
			continue
		}
		if s := parseStreamSnapshotLine(line); s.ID != "" {
			s.listeners = &streamListeners{}
			st.streams[s.ID] = s
			if circ, ok := st.circuits[s.CircuitID]; ok {
				circ.streams[s.ID] = true
			}
		}
	}
	return nil
}

// Circuits returns a snapshot slice of known circuits.
func (st *StateTracker) Circuits() []*Circuit {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Circuit, 0, len(st.circuits))
	for _, c := range st.circuits {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// Streams returns a snapshot slice of known streams.
func (st *StateTracker) Streams() []*Stream {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Stream, 0, len(st.streams))
	for _, s := range st.streams {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// AddrMaps returns a snapshot slice of known address mappings.
func (st *StateTracker) AddrMaps() []*AddrMap {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*AddrMap, 0, len(st.addrMaps))
	for _, a := range st.addrMaps {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Routers returns a snapshot slice of known routers.
func (st *StateTracker) Routers() []*Router {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Router, 0, len(st.routers))
	for _, r := range st.routers {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// onCircuit applies one CIRC event to the tracked circuit, following the
// same id/state/path/purpose update sequence as a circuit listener: path
// only grows (monotonic extension, resolved hop-by-hop through the router
// container) until the circuit reaches a terminal state, and a LAUNCHED line
// resets the path. circuit_new/circuit_launched/circuit_extend/circuit_built/
// circuit_closed/circuit_failed fire on both the tracker's global listeners
// and the circuit's own, in that order, after the tracker lock is released.
func (st *StateTracker) onCircuit(ev Event) {
	fields := strings.Fields(ev.Arg())
	if len(fields) < 2 {
		st.logger.Log("warn", "malformed CIRC event", "line", ev.Arg())
		return
	}
	id := fields[0]
	state := fields[1]
	kw := parseKeywordArgs(fields[2:])

	st.mu.Lock()

	circ, existed := st.circuits[id]
	if !existed {
		circ = &Circuit{ID: id, streams: make(map[string]bool), listeners: &circuitListeners{}}
		st.circuits[id] = circ
	}
	circ.State = state
	if purpose, ok := kw["PURPOSE"]; ok {
		circ.Purpose = purpose
	}
	if flags, ok := kw["BUILD_FLAGS"]; ok {
		circ.BuildFlags = strings.Split(flags, ",")
	}

	var notices []func(CircuitListener)
	if !existed {
		notices = append(notices, func(l CircuitListener) { l.CircuitNew(circ) })
	}

	switch state {
	case "LAUNCHED":
		circ.Path = nil
		circ.Routers = nil
		notices = append(notices, func(l CircuitListener) { l.CircuitLaunched(circ) })
	case "FAILED", "CLOSED":
		if len(circ.streams) > 0 {
			st.logger.Log("error", "invariant violation: circuit torn down with attached streams",
				"kind", string(ErrInvariantViolation), "circuit", id, "state", state, "stream_count", len(circ.streams))
		}
		if reason, ok := kw["REASON"]; ok {
			circ.Reason = reason
		}
	default:
		if path, ok := kw["_path"]; ok {
			extended := st.updatePathLocked(circ, strings.Split(path, ","))
			for _, r := range extended {
				r := r
				notices = append(notices, func(l CircuitListener) { l.CircuitExtend(circ, r) })
			}
		}
	}

	switch state {
	case "BUILT":
		notices = append(notices, func(l CircuitListener) { l.CircuitBuilt(circ) })
	case "CLOSED":
		notices = append(notices, func(l CircuitListener) { l.CircuitClosed(circ) })
	case "FAILED":
		reason := circ.Reason
		if reason == "" {
			reason = "unknown"
		}
		notices = append(notices, func(l CircuitListener) { l.CircuitFailed(circ, reason) })
	}

	global := append([]CircuitListener(nil), st.circListeners...)
	local := circ.listeners.snapshot()
	st.mu.Unlock()

	for _, notice := range notices {
		for _, l := range global {
			st.notifyCircuit(l, notice)
		}
		for _, l := range local {
			st.notifyCircuit(l, notice)
		}
	}
}

// notifyCircuit invokes one circuit notification, recovering and logging a
// panicking listener rather than letting it propagate or stop delivery to
// the remaining listeners.
func (st *StateTracker) notifyCircuit(l CircuitListener, fire func(CircuitListener)) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Log("error", "circuit listener panicked", "recover", r)
		}
	}()
	fire(l)
}

// updatePathLocked resolves each hop of an incoming path through the router
// container and extends circ.Path/circ.Routers hop by hop. If a hop's router
// is unknown, the update aborts at that point (keeping whatever hops were
// already resolved this call) and logs an invariant violation, matching
// update_path's own abort-on-unknown-router behavior. It returns the routers
// newly appended beyond circ's previous path length, for circuit_extend.
func (st *StateTracker) updatePathLocked(circ *Circuit, path []string) []*Router {
	oldLen := len(circ.Path)

	newPath := make([]string, 0, len(path))
	newRouters := make([]*Router, 0, len(path))
	var extended []*Router

	for _, hop := range path {
		fp := routerFingerprint(hop)
		r, ok := st.routers[fp]
		if !ok {
			st.logger.Log("warn", "invariant violation: circuit path references unknown router; aborting path update",
				"kind", string(ErrInvariantViolation), "circuit", circ.ID, "router", fp)
			break
		}
		newPath = append(newPath, hop)
		newRouters = append(newRouters, r)
		if len(newPath) > oldLen {
			extended = append(extended, r)
		}
	}

	if len(newPath) < len(circ.Path) {
		st.logger.Log("warn", "invariant violation: circuit path shrank",
			"kind", string(ErrInvariantViolation), "circuit", circ.ID, "old_len", len(circ.Path), "new_len", len(newPath))
		return nil
	}

	circ.Path = newPath
	circ.Routers = newRouters
	return extended
}

// routerFingerprint extracts the 40-character hex fingerprint from a path
// hop token such as "$AAAA...~nickname" or "$AAAA...=nickname".
func routerFingerprint(hop string) string {
	hop = strings.TrimPrefix(hop, "$")
	if idx := strings.IndexAny(hop, "~="); idx >= 0 {
		hop = hop[:idx]
	}
	return strings.ToUpper(hop)
}

// onStream applies one STREAM event, keeping each circuit's attached-stream
// set consistent with the stream's reported circuit ID, and firing
// stream_new/stream_succeeded/stream_closed/stream_failed on the tracker's
// global listeners and the stream's own, analogous to onCircuit.
func (st *StateTracker) onStream(ev Event) {
	fields := strings.Fields(ev.Arg())
	if len(fields) < 3 {
		st.logger.Log("warn", "malformed STREAM event", "line", ev.Arg())
		return
	}
	id, state, circuitID := fields[0], fields[1], fields[2]
	target := ""
	if len(fields) > 3 {
		target = fields[3]
	}
	kw := parseKeywordArgs(fields[4:])

	st.mu.Lock()

	prev, existed := st.streams[id]
	if existed && prev.CircuitID != "" && prev.CircuitID != circuitID {
		if circ, ok := st.circuits[prev.CircuitID]; ok {
			delete(circ.streams, id)
		}
	}

	s := &Stream{ID: id, State: state, CircuitID: circuitID, Target: target}
	if existed {
		s.listeners = prev.listeners
	} else {
		s.listeners = &streamListeners{}
	}
	if purpose, ok := kw["PURPOSE"]; ok {
		s.Purpose = purpose
	}
	st.streams[id] = s

	if circ, ok := st.circuits[circuitID]; ok {
		if state == "CLOSED" || state == "FAILED" {
			delete(circ.streams, id)
		} else {
			circ.streams[id] = true
		}
	}

	var notices []func(StreamListener)
	if !existed {
		notices = append(notices, func(l StreamListener) { l.StreamNew(s) })
	}
	switch state {
	case "SUCCEEDED":
		notices = append(notices, func(l StreamListener) { l.StreamSucceeded(s) })
	case "CLOSED":
		notices = append(notices, func(l StreamListener) { l.StreamClosed(s) })
	case "FAILED":
		reason := kw["REASON"]
		if reason == "" {
			reason = "unknown"
		}
		notices = append(notices, func(l StreamListener) { l.StreamFailed(s, reason) })
	}

	if state == "CLOSED" || state == "FAILED" {
		delete(st.streams, id)
	}

	global := append([]StreamListener(nil), st.streamListeners...)
	local := s.listeners.snapshot()
	st.mu.Unlock()

	for _, notice := range notices {
		for _, l := range global {
			st.notifyStream(l, notice)
		}
		for _, l := range local {
			st.notifyStream(l, notice)
		}
	}
}

func (st *StateTracker) notifyStream(l StreamListener, fire func(StreamListener)) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Log("error", "stream listener panicked", "recover", r)
		}
	}()
	fire(l)
}

// onAddrMap applies one ADDRMAP event.
func (st *StateTracker) onAddrMap(ev Event) {
	fields := strings.Fields(ev.Arg())
	if len(fields) < 2 {
		return
	}
	a := &AddrMap{From: fields[0], To: fields[1]}
	if len(fields) > 2 {
		a.Expiry = fields[2]
	}
	st.mu.Lock()
	st.addrMaps[a.From] = a
	st.mu.Unlock()
}

// onNewDesc applies one NEWDESC event: a space-separated list of
// "$FINGERPRINT~Nickname" tokens, each naming a router whose descriptor just
// changed. Unlike NS, NEWDESC carries the hex fingerprint directly, with no
// base64 decoding needed.
func (st *StateTracker) onNewDesc(ev Event) {
	fields := strings.Fields(ev.Arg())
	if len(fields) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, f := range fields {
		id := routerFingerprint(f)
		if len(id) != routerFingerprintLen {
			continue
		}
		nickname := ""
		if idx := strings.IndexAny(f, "~="); idx >= 0 {
			nickname = f[idx+1:]
		}
		st.routers[id] = &Router{ID: id, Nickname: nickname}
	}
}

// onNS applies one NS or NEWCONSENSUS event: a multiline body of router
// status entries in the same format as GETINFO ns/all, each starting with an
// "r " line carrying the nickname and base64 identity digest.
func (st *StateTracker) onNS(ev Event) {
	routers := parseRouterStatusLines(ev.Lines)
	if len(routers) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, r := range routers {
		st.routers[id] = r
	}
}

// parseRouterStatusLines decodes "r " router-status lines (as returned by
// GETINFO ns/all, or carried in an NS/NEWCONSENSUS event body) into routers
// keyed by hex fingerprint. The identity field is base64 (unpadded, 20 raw
// bytes); non-"r" lines (flags, bandwidth, etc.) are skipped.
func parseRouterStatusLines(lines []string) map[string]*Router {
	routers := make(map[string]*Router)
	for _, line := range lines {
		if !strings.HasPrefix(line, "r ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		nickname := fields[1]
		raw, err := base64.RawStdEncoding.DecodeString(fields[2])
		if err != nil || len(raw) != 20 {
			continue
		}
		id := strings.ToUpper(hex.EncodeToString(raw))
		routers[id] = &Router{ID: id, Nickname: nickname}
	}
	return routers
}

// parseKeywordArgs extracts KEY=VALUE tokens (quoted values unquoted) into a
// map; the circuit event's path token has no "=" so it's keyed specially as
// "_path" when it appears as a bare comma-joined fingerprint list.
func parseKeywordArgs(fields []string) map[string]string {
	kw := make(map[string]string, len(fields))
	for i, f := range fields {
		if key, val, ok := strings.Cut(f, "="); ok {
			kw[key] = strings.Trim(val, `"`)
		} else if i == 0 && strings.Contains(f, ",") {
			kw["_path"] = f
		} else if i == 0 && len(f) > 0 && f[0] == '$' {
			kw["_path"] = f
		}
	}
	return kw
}

func parseCircuitSnapshotLine(line string) *Circuit {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return &Circuit{}
	}
	c := &Circuit{ID: fields[0], State: fields[1]}
	kw := parseKeywordArgs(fields[2:])
	if path, ok := kw["_path"]; ok {
		c.Path = strings.Split(path, ",")
	}
	if purpose, ok := kw["PURPOSE"]; ok {
		c.Purpose = purpose
	}
	if flags, ok := kw["BUILD_FLAGS"]; ok {
		c.BuildFlags = strings.Split(flags, ",")
	}
	return c
}

func parseStreamSnapshotLine(line string) *Stream {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return &Stream{}
	}
	s := &Stream{ID: fields[0], State: fields[1], CircuitID: fields[2], Target: fields[3]}
	kw := parseKeywordArgs(fields[4:])
	if purpose, ok := kw["PURPOSE"]; ok {
		s.Purpose = purpose
	}
	return s
}
