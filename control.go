package tornago

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// opControlBootstrap labels errors raised while discovering or verifying
// control-port authentication ahead of a full Engine handshake.
const opControlBootstrap = "ControlBootstrap"

// controlSessionExec opens a short-lived raw connection to addr, sends a
// single command, and returns its assembled reply lines. It exists for the
// narrow pre-Engine bootstrap steps (cookie discovery, port readiness) that
// run before any Engine/FIFO machinery is in place.
func controlSessionExec(addr string, timeout time.Duration, cmd string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(encodeCommand(cmd)); err != nil {
		return nil, err
	}

	framer := newLineFramer(conn)
	var lines []string
	for {
		line, err := framer.ReadLine()
		if err != nil {
			return nil, err
		}
		if line.Data != nil {
			lines = append(lines, line.Text)
			lines = append(lines, line.Data...)
		} else {
			lines = append(lines, line.Text)
		}
		if !line.Final() {
			continue
		}
		if line.Code >= 400 {
			return nil, &CommandError{Code: line.Code, Text: strings.Join(lines, "; ")}
		}
		return trimOKLine(line.Code, lines), nil
	}
}

// tryGetCookiePath retrieves the control cookie file path from Tor's
// PROTOCOLINFO response over a short-lived connection.
func tryGetCookiePath(controlAddr string) (string, error) {
	lines, err := controlSessionExec(controlAddr, 2*time.Second, "PROTOCOLINFO 1")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if idx := strings.Index(line, `COOKIEFILE="`); idx >= 0 {
			start := idx + len(`COOKIEFILE="`)
			if end := strings.Index(line[start:], `"`); end >= 0 {
				return filepath.Clean(line[start : start+end]), nil
			}
		}
	}
	return "", errors.New("COOKIEFILE missing from PROTOCOLINFO response")
}

// ControlAuthFromTor discovers and verifies cookie-based control
// authentication for a Tor instance this process launched: it polls
// PROTOCOLINFO until a COOKIEFILE path appears, reads it, and confirms the
// cookie actually authenticates before returning it.
func ControlAuthFromTor(controlAddr string, timeout time.Duration) (ControlAuth, string, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		cookiePath, err := tryGetCookiePath(controlAddr)
		if err != nil {
			lastErr = err
			time.Sleep(300 * time.Millisecond)
			continue
		}

		// #nosec G304 -- path comes from Tor's own PROTOCOLINFO response.
		data, err := os.ReadFile(cookiePath)
		if err != nil {
			lastErr = err
			time.Sleep(300 * time.Millisecond)
			continue
		}

		hexCookie := strings.ToUpper(hex.EncodeToString(data))
		if _, err := controlSessionExec(controlAddr, 5*time.Second, "AUTHENTICATE "+hexCookie); err != nil {
			lastErr = err
			time.Sleep(300 * time.Millisecond)
			continue
		}

		return ControlAuthFromCookieBytes(data), cookiePath, nil
	}

	if lastErr == nil {
		lastErr = errors.New("timed out waiting for control authentication")
	}
	return ControlAuth{}, "", newError(ErrControlRequestFail, opControlBootstrap, "failed to authenticate control port", lastErr)
}

// WaitForControlPort waits until Tor's control port is usable. Tor may
// accept TCP connections before it can respond to PROTOCOLINFO, because the
// cookie might not be created yet. This function verifies that
// PROTOCOLINFO succeeds AND the cookie file exists before returning.
func WaitForControlPort(controlAddr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		cookiePath, err := tryGetCookiePath(controlAddr)
		if err != nil {
			time.Sleep(1 * time.Second)
			continue
		}
		if stat, err := os.Stat(cookiePath); err == nil && stat.Size() > 0 {
			if _, verifyErr := tryGetCookiePath(controlAddr); verifyErr == nil {
				return nil
			}
		}
		time.Sleep(1 * time.Second)
	}

	return fmt.Errorf("timed out waiting for control port %s to become usable", controlAddr)
}
