// Package engine launches and supervises the SC2 engine process backing one
// match session. Session logic only depends on the Launcher/Instance
// interfaces, so tests run against a fake engine instead of a real binary.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/transport"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Launcher starts one engine instance bound to an allocated port, with a
// working directory scoped to the owning session.
type Launcher interface {
	Launch(ctx context.Context, port int, workDir string) (Instance, error)
}

// Instance is a running engine process.
type Instance interface {
	// Connect dials the engine control endpoint, retrying until the engine
	// binds its port or the startup window closes.
	Connect(ctx context.Context) (transport.Conn, error)
	// Done is closed when the process has exited, expectedly or not.
	Done() <-chan struct{}
	// ExitErr reports the exit error once Done is closed.
	ExitErr() error
	Alive() bool
	// Terminate signals the process and force-kills it after the grace
	// window. Safe to call on an already-exited process.
	Terminate(grace time.Duration) error
	Addr() string
}

// ProcessLauncher launches the real engine executable.
type ProcessLauncher struct {
	// ExePath is the engine binary.
	ExePath string
	// DataDir is the shared engine installation data directory.
	DataDir string
	// StartupTimeout bounds how long Connect waits for the engine to bind
	// its control port.
	StartupTimeout time.Duration
	// ConnectRetryInterval is the dial retry cadence during startup.
	ConnectRetryInterval time.Duration
}

const (
	defaultStartupTimeout = 60 * time.Second
	defaultRetryInterval  = time.Second
)

func (l *ProcessLauncher) Launch(ctx context.Context, port int, workDir string) (Instance, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create engine work dir: %w", err)
	}

	stdout, err := os.Create(filepath.Join(workDir, "engine_stdout.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create engine stdout log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(workDir, "engine_stderr.log"))
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("could not create engine stderr log: %w", err)
	}

	cmd := exec.CommandContext(ctx, l.ExePath,
		"-listen", "127.0.0.1",
		"-port", strconv.Itoa(port),
		"-dataDir", l.DataDir,
		"-displayMode", "0",
		"-tempDir", workDir,
	)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	applog.FromContext(ctx).Debug("Starting engine process",
		zap.String("exe", l.ExePath),
		zap.Int("port", port),
		zap.String("workDir", workDir))

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("could not start engine process: %w", err)
	}

	p := &process{
		cmd:           cmd,
		port:          port,
		done:          make(chan struct{}),
		startupWindow: l.StartupTimeout,
		retryInterval: l.ConnectRetryInterval,
	}
	if p.startupWindow <= 0 {
		p.startupWindow = defaultStartupTimeout
	}
	if p.retryInterval <= 0 {
		p.retryInterval = defaultRetryInterval
	}

	go func() {
		waitErr := cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()

		p.mu.Lock()
		p.exitErr = waitErr
		p.mu.Unlock()
		close(p.done)

		applog.FromContext(ctx).Debug("Engine process exited",
			zap.Int("port", port), zap.Error(waitErr))
	}()

	return p, nil
}

type process struct {
	cmd           *exec.Cmd
	port          int
	done          chan struct{}
	startupWindow time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	exitErr error
}

func (p *process) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", p.port)
}

func (p *process) Connect(ctx context.Context) (transport.Conn, error) {
	url := fmt.Sprintf("ws://%s/sc2api", p.Addr())

	deadline := time.Now().Add(p.startupWindow)
	for {
		select {
		case <-p.done:
			return nil, fmt.Errorf("engine exited before binding its control port: %v", p.ExitErr())
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.retryInterval*2)
		conn, _, err := websocket.Dial(dialCtx, url, nil)
		cancel()
		if err == nil {
			return transport.NewWebsocketConn(conn, p.Addr()), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("engine did not bind %s within %s: %w", p.Addr(), p.startupWindow, err)
		}

		select {
		case <-time.After(p.retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) Terminate(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}

	// Interrupt first; the engine flushes its temp state on a clean signal.
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return p.kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	return p.kill()
}

func (p *process) kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("could not kill engine process: %w", err)
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("engine process did not exit after kill")
	}
	return nil
}
