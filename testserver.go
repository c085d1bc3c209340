package tornago

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	// testTorSocksAddr is the dedicated SocksPort used for Tornago integration tests.
	testTorSocksAddr = "127.0.0.1:19050"
	// testTorControlAddr is the dedicated ControlPort used for Tornago integration tests.
	testTorControlAddr = "127.0.0.1:19051"
)

// TestServer wraps a TorProcess and its authenticated control Engine for
// integration tests.
type TestServer struct {
	// Process points to the TorProcess launched for tests.
	Process *TorProcess

	// t holds the testing context for logging/failures.
	t *testing.T
	// engineMu protects lazy engine creation and shutdown.
	engineMu sync.Mutex
	// engine caches the Engine connected to this server's ControlPort.
	engine *Engine
	// controlAuth stores credentials for ControlPort access.
	controlAuth ControlAuth
}

// StartTestServer launches a Tor daemon for tests using a DataDirectory under
// $HOME/.cache/tornago-test and dedicated ports, skipping if tor is unavailable.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	// Use external Tor if configured via env.
	if ctrl := os.Getenv("TORNAGO_TOR_CONTROL"); ctrl != "" {
		return startExternalTestServer(t, ctrl)
	}

	home := os.Getenv("HOME")
	if home == "" {
		t.Fatalf("tornago: HOME environment variable is not set")
	}

	baseDir := filepath.Join(home, ".cache", "tornago-test")
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		t.Fatalf("tornago: failed to create base tor directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, fmt.Sprintf("test-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("tornago: failed to create tor data directory: %v", err)
	}

	cookiePath := filepath.Join(dataDir, "control_auth_cookie")
	torrcPath := filepath.Join(baseDir, fmt.Sprintf("torrc-%d", time.Now().UnixNano()))
	torrc := fmt.Sprintf(`
SocksPort %s
ControlPort %s
DataDirectory %s
CookieAuthentication 1
CookieAuthFile %s
ClientUseIPv6 0
RunAsDaemon 0
Log notice stdout
`, testTorSocksAddr, testTorControlAddr, dataDir, cookiePath)

	if err := os.WriteFile(torrcPath, []byte(strings.TrimSpace(torrc)+"\n"), 0o600); err != nil {
		t.Fatalf("tornago: failed to write torrc: %v", err)
	}

	bootstrapped := make(chan struct{}, 1)

	launchCfg, err := NewTorLaunchConfig(
		WithTorDataDir(dataDir),
		WithTorSocksAddr(testTorSocksAddr),
		WithTorControlAddr(testTorControlAddr),
		WithTorConfigFile(torrcPath),
		WithTorLogReporter(func(line string) {
			if strings.Contains(line, "Bootstrapped 100%") {
				select {
				case bootstrapped <- struct{}{}:
				default:
				}
			}
		}),
	)
	if err != nil {
		t.Fatalf("tornago: failed to build launch config: %v", err)
	}

	process, err := StartTorDaemon(launchCfg)
	if err != nil {
		var te *TorError
		if errors.As(err, &te) && te.Kind == ErrTorBinaryNotFound {
			t.Skipf("tornago: skipping because tor binary not found: %v", err)
		}
		t.Fatalf("tornago: failed to start tor daemon: %v", err)
	}

	// Wait for Tor to start before accessing control port
	// Give Tor time to initialize and create the cookie file
	time.Sleep(20 * time.Second)

	// Wait for cookie file
	if err := waitForCookieFile(cookiePath, 30*time.Second); err != nil {
		t.Logf("tornago: skipping integration test because control cookie is unavailable: %v", err)
		t.SkipNow()
	}

	// Obtain control cookie & auth; this function should internally retry
	// until PROTOCOLINFO succeeds and cookie can be read.
	controlAuth, cookiePath, err := ControlAuthFromTor(process.ControlAddr(), 30*time.Second)
	if err != nil {
		t.Logf("tornago: skipping integration test because control cookie could not be read: %v", err)
		t.SkipNow()
	}
	t.Logf("tornago: control cookie path %s", cookiePath)

	// Explicitly wait until Tor reports bootstrap 100% via control port.
	// Use a generous timeout since bootstrap can take several minutes depending on network conditions
	if err := waitForTorBootstrap(process.ControlAddr(), controlAuth, 5*time.Minute); err != nil {
		if stopErr := process.Stop(); stopErr != nil {
			t.Logf("tornago: failed to stop tor after bootstrap timeout: %v", stopErr)
		}
		t.Logf("tornago: skipping integration test because tor failed to bootstrap: %v", err)
		t.SkipNow()
	}

	// Also wait for the log-based bootstrap signal
	select {
	case <-bootstrapped:
		t.Log("tornago: bootstrap 100% confirmed via logs")
	case <-time.After(5 * time.Second):
		// This is OK - we already verified via control port
	}

	return &TestServer{
		Process:     process,
		t:           t,
		controlAuth: controlAuth,
	}
}

func waitForCookieFile(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err == nil {
			if info.Size() > 0 {
				return nil
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for cookie file %s", path)
}

// Engine returns an authenticated, ready Engine connected to the started Tor
// instance's ControlPort, lazily dialing and authenticating on first use.
func (ts *TestServer) Engine(t *testing.T) *Engine {
	t.Helper()
	ts.engineMu.Lock()
	defer ts.engineMu.Unlock()

	if ts.engine != nil {
		return ts.engine
	}

	engine, err := Dial(context.Background(), ts.Process.ControlAddr(), WithEngineDialTimeout(5*time.Minute))
	if err != nil {
		t.Fatalf("tornago: failed to dial control port: %v", err)
	}
	if err := engine.Authenticate(context.Background(), ts.controlAuth); err != nil {
		t.Fatalf("tornago: failed to authenticate control port: %v", err)
	}
	engine.MarkReady()
	ts.engine = engine
	return engine
}

// Close shuts down the engine and Tor process launched for tests.
func (ts *TestServer) Close() {
	if ts == nil {
		return
	}
	ts.engineMu.Lock()
	engine := ts.engine
	ts.engine = nil
	ts.engineMu.Unlock()
	if engine != nil {
		if err := engine.Close(); err != nil {
			if ts.t != nil {
				ts.t.Logf("tornago: failed to close engine: %v", err)
			}
		}
	}
	if ts.Process != nil {
		if err := ts.Process.Stop(); err != nil {
			if ts.t != nil {
				// Log instead of Fatal since this is called from defer
				ts.t.Logf("tornago: failed to stop tor process: %v", err)
			}
		}
		ts.Process = nil
	}
}

// ControlAuth returns ControlPort credentials for this TestServer.
func (ts *TestServer) ControlAuth(t *testing.T) ControlAuth {
	t.Helper()
	return ts.controlAuth
}

func waitForTorBootstrap(controlAddr string, auth ControlAuth, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		engine, err := Dial(context.Background(), controlAddr, WithEngineDialTimeout(10*time.Second))
		if err != nil {
			lastErr = err
			time.Sleep(500 * time.Millisecond)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := engine.Authenticate(ctx, auth); err != nil {
			cancel()
			_ = engine.Close()
			lastErr = err
			time.Sleep(500 * time.Millisecond)
			continue
		}
		info, infoErr := engine.GetInfo(ctx, "status/bootstrap-phase")
		cancel()
		_ = engine.Close()
		if infoErr == nil {
			if progress, ok := parseBootstrapProgress(info["status/bootstrap-phase"]); ok {
				if progress == 100 {
					return nil
				}
				lastErr = fmt.Errorf("bootstrap progress %d%%", progress)
			} else {
				lastErr = errors.New("tor not fully bootstrapped")
			}
		} else {
			lastErr = infoErr
		}
		time.Sleep(500 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timed out waiting for tor bootstrap")
	}
	return fmt.Errorf("tor failed to bootstrap: %w", lastErr)
}

func parseBootstrapProgress(info string) (int, bool) {
	idx := strings.LastIndex(info, "PROGRESS=")
	if idx < 0 {
		return 0, false
	}
	start := idx + len("PROGRESS=")
	end := start
	for end < len(info) && info[end] >= '0' && info[end] <= '9' {
		end++
	}
	if start == end {
		return 0, false
	}
	progress, err := strconv.Atoi(info[start:end])
	if err != nil {
		return 0, false
	}
	return progress, true
}

func startExternalTestServer(t *testing.T, controlAddr string) *TestServer {
	t.Helper()
	socksAddr := os.Getenv("TORNAGO_TOR_SOCKS")
	if socksAddr == "" {
		t.Skip("tornago: TORNAGO_TOR_SOCKS not set")
	}
	cookiePath := os.Getenv("TORNAGO_TOR_COOKIE")
	password := os.Getenv("TORNAGO_TOR_PASSWORD")
	if cookiePath != "" && password != "" {
		t.Fatalf("tornago: set either TORNAGO_TOR_COOKIE or TORNAGO_TOR_PASSWORD, not both")
	}

	var controlAuth ControlAuth
	switch {
	case password != "":
		controlAuth = ControlAuthFromPassword(password)
	case cookiePath != "":
		data, err := os.ReadFile(filepath.Clean(cookiePath))
		if err != nil {
			t.Fatalf("tornago: failed to read control cookie %s: %v", cookiePath, err)
		}
		controlAuth = ControlAuthFromCookieBytes(data)
	default:
		t.Fatalf("tornago: TORNAGO_TOR_COOKIE or TORNAGO_TOR_PASSWORD must be set")
	}

	if err := WaitForControlPort(controlAddr, 30*time.Second); err != nil {
		t.Skipf("tornago: skipping integration test (external tor control port unavailable): %v", err)
	}
	if err := waitForTorBootstrap(controlAddr, controlAuth, 5*time.Minute); err != nil {
		t.Skipf("tornago: skipping integration test (external tor failed to bootstrap): %v", err)
	}

	return &TestServer{
		t:           t,
		controlAuth: controlAuth,
	}
}
