package tornago

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// opLauncher labels errors originating from managed launch/ownership.
const opLauncher = "Launcher"

// LaunchedTor bundles a Tor process this library spawned together with the
// authenticated Engine connected to its ControlPort. Closing it tears down
// both: the control connection first, then the process itself.
type LaunchedTor struct {
	Process *TorProcess
	Engine  *Engine
}

// Close shuts down the control connection and stops the Tor process.
func (l *LaunchedTor) Close() error {
	var errConn, errProc error
	if l.Engine != nil {
		errConn = l.Engine.Close()
	}
	if l.Process != nil {
		errProc = l.Process.Stop()
	}
	if errProc != nil {
		return errProc
	}
	return errConn
}

// Launch spawns a Tor process and connects to it under the "managed launch"
// ownership protocol: Tor is started with __OwningControllerProcess pinned
// to this process's PID (so a crash before the handshake completes still
// leaves no orphaned daemon), then once authenticated this process issues
// TAKEOWNERSHIP (tying Tor's lifetime to the control connection itself) and
// RESETCONF __OwningControllerProcess (the PID pin is no longer needed once
// TAKEOWNERSHIP is in effect).
//
// If cfg has a bootstrap-progress callback registered (WithTorBootstrapProgress),
// Launch subscribes to STATUS_CLIENT events and forwards every BOOTSTRAP
// progress notice to it for as long as the engine stays open. Launch itself
// returns once ownership is taken; it does not wait for PROGRESS=100.
func Launch(ctx context.Context, cfg TorLaunchConfig) (*LaunchedTor, error) {
	cfg, err := normalizeTorLaunchConfig(cfg)
	if err != nil {
		return nil, err
	}

	pinnedArgs := append(append([]string(nil), cfg.ExtraArgs()...),
		"--__OwningControllerProcess", strconv.Itoa(os.Getpid()))
	opts := []TorLaunchOption{
		WithTorBinary(cfg.TorBinary()),
		WithTorSocksAddr(cfg.SocksAddr()),
		WithTorControlAddr(cfg.ControlAddr()),
		WithTorLogReporter(cfg.LogReporter()),
		WithTorExtraArgs(pinnedArgs...),
		WithTorStartupTimeout(cfg.StartupTimeout()),
		WithTorLogger(cfg.Logger()),
		WithTorBootstrapProgress(cfg.Progress()),
	}
	if cfg.DataDir() != "" {
		opts = append(opts, WithTorDataDir(cfg.DataDir()))
	}
	if cfg.TorConfigFile() != "" {
		opts = append(opts, WithTorConfigFile(cfg.TorConfigFile()))
	}
	pinnedCfg, err := NewTorLaunchConfig(opts...)
	if err != nil {
		return nil, err
	}

	proc, err := StartTorDaemon(pinnedCfg)
	if err != nil {
		return nil, err
	}

	engine, auth, err := connectAndAuthenticate(ctx, proc, cfg)
	if err != nil {
		_ = proc.Stop()
		return nil, err
	}
	_ = auth

	var unsubscribe func()
	if cfg.Progress() != nil {
		unsubscribe, err = subscribeBootstrapProgress(ctx, engine, cfg.Progress())
		if err != nil {
			_ = engine.Close()
			_ = proc.Stop()
			return nil, err
		}
	}

	if _, err := engine.QueueCommand(ctx, "TAKEOWNERSHIP"); err != nil {
		if unsubscribe != nil {
			unsubscribe()
		}
		_ = engine.Close()
		_ = proc.Stop()
		return nil, newError(ErrControlRequestFail, opLauncher, "TAKEOWNERSHIP failed", err)
	}
	if err := engine.ResetConf(ctx, "__OwningControllerProcess"); err != nil {
		if unsubscribe != nil {
			unsubscribe()
		}
		_ = engine.Close()
		_ = proc.Stop()
		return nil, newError(ErrControlRequestFail, opLauncher, "RESETCONF __OwningControllerProcess failed", err)
	}

	engine.MarkReady()
	return &LaunchedTor{Process: proc, Engine: engine}, nil
}

// connectAndAuthenticate dials the freshly-launched process's ControlPort
// and authenticates using the cookie Tor itself wrote to the data
// directory, discovered via PROTOCOLINFO.
func connectAndAuthenticate(ctx context.Context, proc *TorProcess, cfg TorLaunchConfig) (*Engine, ControlAuth, error) {
	auth, _, err := ControlAuthFromTor(proc.ControlAddr(), cfg.StartupTimeout())
	if err != nil {
		return nil, ControlAuth{}, newError(ErrControlAuthFailed, opLauncher, "failed to discover control auth", err)
	}

	engine, err := Dial(ctx, proc.ControlAddr(), WithEngineLogger(cfg.Logger()))
	if err != nil {
		return nil, ControlAuth{}, err
	}
	if err := engine.Authenticate(ctx, auth); err != nil {
		_ = engine.Close()
		return nil, ControlAuth{}, err
	}
	return engine, auth, nil
}

var bootstrapProgressPattern = regexp.MustCompile(`PROGRESS=(\d+)`)
var bootstrapTagPattern = regexp.MustCompile(`TAG=(\S+)`)
var bootstrapSummaryPattern = regexp.MustCompile(`SUMMARY="([^"]*)"`)

// subscribeBootstrapProgress forwards STATUS_CLIENT BOOTSTRAP notices to fn
// as (percent, tag, summary) until unsubscribed.
func subscribeBootstrapProgress(ctx context.Context, engine *Engine, fn func(percent int, tag, summary string)) (func(), error) {
	return engine.AddEventListener(ctx, "STATUS_CLIENT", func(ev Event) {
		arg := ev.Arg()
		if !strings.Contains(arg, "BOOTSTRAP") {
			return
		}
		percent := -1
		if m := bootstrapProgressPattern.FindStringSubmatch(arg); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				percent = v
			}
		}
		tag := ""
		if m := bootstrapTagPattern.FindStringSubmatch(arg); m != nil {
			tag = m[1]
		}
		summary := ""
		if m := bootstrapSummaryPattern.FindStringSubmatch(arg); m != nil {
			summary = m[1]
		}
		fn(percent, tag, summary)
	})
}
