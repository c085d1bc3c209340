// Package tornago implements a client library for Tor's ControlPort
// protocol: the line-oriented, CRLF-framed command/reply/event protocol that
// Tor exposes for managing a running instance.
//
// # What is the ControlPort?
//
// Tor's ControlPort is a text-based management interface distinct from the
// SocksPort applications use to route traffic. Over it a controller can:
//
//   - Authenticate (NULL, password hash, cookie, or SAFECOOKIE)
//   - Read and change Tor's runtime configuration (GETCONF/SETCONF)
//   - Query internal state (GETINFO), including a namespaced info tree
//   - Subscribe to asynchronous events (SETEVENTS): circuit and stream
//     lifecycle, address-map changes, bootstrap progress, and more
//   - Create and tear down hidden services (ADD_ONION/DEL_ONION)
//   - Signal the daemon (SIGNAL NEWNYM to rotate circuits, SIGNAL SHUTDOWN, ...)
//   - Take ownership of a Tor process it launched (TAKEOWNERSHIP)
//
// # Quick Start
//
//	engine, err := tornago.Dial(ctx, "127.0.0.1:9051")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	auth, _, err := tornago.ControlAuthFromTor("127.0.0.1:9051", 30*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.Authenticate(ctx, auth); err != nil {
//	    log.Fatal(err)
//	}
//	engine.MarkReady()
//
//	info, err := engine.GetInfo(ctx, "version")
//	version := info["version"]
//
// # Architecture Overview
//
//   - Engine: owns the control connection, the FIFO command queue, the
//     authentication handshake, and the event dispatcher. Every other
//     component in this package is built on top of an *Engine rather than
//     duplicating connection handling.
//   - Config: a schema-driven view over GETCONF/SETCONF/GETINFO config/names,
//     with a dirty-tracked unsaved overlay and atomic Save().
//   - StateTracker: a live, event-driven mirror of circuits, streams, and
//     address-map entries, kept current by CIRC/STREAM/ADDRMAP events.
//   - InfoTree: a trie over GETINFO info/names exposing dotted, underscore
//     normalized lookups with arity checking.
//   - Launch/LaunchedTor: spawns and takes ownership of a Tor process,
//     tying its lifetime to the control connection.
//   - CircuitManager: circuit rotation (manual, scheduled, or prewarming)
//     via SIGNAL NEWNYM.
//   - Hidden service functions (CreateHiddenService, GetHiddenServiceStatus):
//     ADD_ONION/DEL_ONION/GETINFO onions/current against an *Engine.
//
// All configuration types use the functional options pattern.
//
// # Engine State Machine
//
// An Engine moves through four states, exposed via Engine.State():
//
//	UNAUTHENTICATED -> AUTHENTICATED -> READY
//	                                 -> FAILED (terminal, from any state)
//
// Authenticate() must succeed before most commands are accepted; MarkReady()
// signals that caller-side bootstrapping (config/info-tree loading) is
// complete. A connection that hits a fatal protocol error moves to FAILED
// and stays there.
//
// # Authentication
//
// tornago supports every authentication method Tor's control protocol
// defines. Authenticate sends a single AUTHENTICATE using the first method
// in this order that PROTOCOLINFO advertises and the ControlAuth has
// credentials for:
//
//   - SAFECOOKIE: HMAC-SHA256 challenge/response over a cookie file, never
//     transmitting the cookie itself
//   - COOKIE: cookie file contents sent directly, hex-encoded
//   - HASHEDPASSWORD: a password configured via Tor's HashedControlPassword
//   - NULL: no authentication, for control ports configured wide open
//
// # Error Handling
//
// All tornago errors are wrapped in *TorError with a Kind field for
// programmatic handling:
//
//	var torErr *tornago.TorError
//	if errors.As(err, &torErr) {
//	    switch torErr.Kind {
//	    case tornago.ErrAuthError:
//	        // re-check credentials
//	    case tornago.ErrTimeout:
//	        // command exceeded its deadline
//	    }
//	}
//
// Common error kinds:
//   - ErrTorBinaryNotFound: tor executable not in PATH (only relevant to Launch/StartTorDaemon)
//   - ErrAuthError: PROTOCOLINFO or AUTHENTICATE failed, or no advertised method matches the ControlAuth
//   - ErrControlAuthFailed: Launch could not discover or verify the control cookie
//   - ErrControlRequestFail: a queued command returned an error reply
//   - ErrTimeout: a command's context ended before its reply arrived
//   - ErrInvalidConfig: a functional option received an invalid value
//
// # Launching a Managed Tor Process
//
// For tests and ephemeral deployments, Launch starts Tor with
// __OwningControllerProcess pinned to this process, authenticates, then
// issues TAKEOWNERSHIP so the daemon exits when the control connection
// closes:
//
//	launched, err := tornago.Launch(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer launched.Close()
//
//	info, err := launched.Engine.GetInfo(ctx, "status/bootstrap-phase")
//	phase := info["status/bootstrap-phase"]
//
// # Live State Tracking
//
//	tracker, err := tornago.NewStateTracker(ctx, engine, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracker.Close()
//
//	for _, c := range tracker.Circuits() {
//	    fmt.Println(c.ID, c.State, c.Path)
//	}
//
// Global listeners see every circuit/stream the tracker knows about; a
// circuit's own Listen registers for that circuit alone:
//
//	tracker.AddCircuitListener(myCircuitListener{})
//	for _, c := range tracker.Circuits() {
//	    c.Listen(myCircuitListener{})
//	}
//
// # Hidden Services
//
//	hsCfg, _ := tornago.NewHiddenServiceConfig(
//	    tornago.WithHiddenServicePort(80, 8080),
//	)
//	hs, err := tornago.CreateHiddenService(ctx, engine, hsCfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hs.Remove(ctx)
//	fmt.Println(hs.OnionAddress())
//
// Persisting a service's private key preserves its .onion address across
// restarts:
//
//	privateKey, err := tornago.LoadPrivateKey(keyPath)
//	if err != nil {
//	    hsCfg, _ := tornago.NewHiddenServiceConfig(tornago.WithHiddenServicePort(80, 8080))
//	} else {
//	    hsCfg, _ := tornago.NewHiddenServiceConfig(
//	        tornago.WithHiddenServicePrivateKey(privateKey),
//	        tornago.WithHiddenServicePort(80, 8080),
//	    )
//	}
//
// # Circuit Rotation
//
//	manager := tornago.NewCircuitManager(engine)
//	manager.StartAutoRotation(ctx, 10*time.Minute)
//	defer manager.Stop()
//
//	// or, on demand:
//	manager.RotateNow(ctx)
//
// # Health Checks
//
//	health := tornago.CheckEngine(ctx, engine)
//	if !health.IsHealthy() {
//	    log.Printf("control connection unhealthy: %s", health.Message())
//	}
//
//	health = tornago.CheckTorDaemon(ctx, torProcess)
//
// # Observability
//
// Engine, StateTracker, InfoTree, Launch, and CircuitManager all accept a
// Logger. NewSlogAdapter wraps a *slog.Logger;
// MetricsCollector tracks request counts, successes, and latency; a
// RateLimiter can throttle command issuance for well-behaved long-running
// controllers.
//
// # Troubleshooting
//
// **ControlPort authentication failed**
//
//	Error: Engine: auth_error: AUTHENTICATE failed: command error 515: Authentication failed
//	Solution: verify the cookie file is readable by this process, or that
//	  a HashedControlPassword is configured and the plaintext matches.
//
// **Commands time out**
//
//	Error: Engine: timeout: context deadline exceeded
//	Solution: increase the context deadline passed to the Engine method, or
//	  check Engine.State() -- a FAILED engine rejects all further commands.
//
// **GETINFO path not found**
//
//	Solution: call InfoTree.Doc() or GetInfo(ctx, "info/names") to confirm
//	  the exact wire path Tor's running version advertises.
package tornago
