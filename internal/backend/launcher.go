// Package backend starts a local tester service when none is running.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
)

// PortFlag is appended to the backend command together with the chosen port.
const PortFlag = "--port"

// ErrExited is returned when the backend exits before accepting connections.
var ErrExited = errors.New("backend exited before it became ready")

// Options describe how to launch the backend
type Options struct {
	Command        []string
	WorkingDir     string
	Env            map[string]string
	StartupTimeout time.Duration
	// PidPath, when set, records the pid of the running backend
	PidPath string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Process is a running backend
type Process struct {
	cmd     *exec.Cmd
	port    int
	pidPath string

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

// FreePort asks the kernel for an unused loopback port.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Launch starts the backend on a free port and waits until it accepts
// connections. The process keeps running after ctx is done; call Stop.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("backend command is empty")
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = consts.Timeout30Seconds
	}

	if opts.PidPath != "" {
		if pid, err := readPID(opts.PidPath); err != nil {
			logger.Warn("backend: %v", err)
		} else if pid != 0 {
			logger.Warn("backend: stale pidfile %s names process %d, a previous run did not stop its backend", opts.PidPath, pid)
		}
	}

	port, err := FreePort()
	if err != nil {
		return nil, err
	}

	args := append(append([]string(nil), opts.Command[1:]...), PortFlag, strconv.Itoa(port))
	cmd := exec.Command(opts.Command[0], args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend %s: %w", opts.Command[0], err)
	}
	logger.Info("backend: started %s (pid %d) on port %d", opts.Command[0], cmd.Process.Pid, port)

	p := &Process{
		cmd:     cmd,
		port:    port,
		pidPath: opts.PidPath,
		done:    make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	if p.pidPath != "" {
		if err := writePID(p.pidPath, cmd.Process.Pid); err != nil {
			logger.Warn("backend: %v", err)
		}
	}

	if err := p.waitReady(ctx, opts.StartupTimeout); err != nil {
		_ = p.Stop()
		return nil, err
	}
	logger.Info("backend: ready on port %d", port)
	return p, nil
}

func (p *Process) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))
	ticker := time.NewTicker(consts.BackendPollInterval)
	defer ticker.Stop()

	dialer := net.Dialer{Timeout: consts.Timeout1Second}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-p.done:
			if p.waitErr != nil {
				return fmt.Errorf("%w: %v", ErrExited, p.waitErr)
			}
			return ErrExited
		case <-ctx.Done():
			return fmt.Errorf("backend not ready on port %d after %s: %w", p.port, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Port returns the port the backend listens on
func (p *Process) Port() int {
	return p.port
}

// Pid returns the process id of the backend
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the backend exits
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop terminates the backend and its children, escalating to a kill when it
// does not exit in time. It is safe to call more than once.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		defer func() {
			if p.pidPath != "" {
				if err := removePID(p.pidPath); err != nil {
					logger.Warn("backend: %v", err)
				}
			}
		}()

		select {
		case <-p.done:
			return
		default:
		}

		if err := terminate(p.cmd); err != nil {
			logger.Debug("backend: terminate failed: %v", err)
		}
		select {
		case <-p.done:
			logger.Info("backend: stopped")
			return
		case <-time.After(consts.Timeout5Seconds):
		}

		logger.Warn("backend: did not exit after terminate, killing")
		if err := kill(p.cmd); err != nil {
			p.stopErr = fmt.Errorf("failed to kill backend: %w", err)
			return
		}
		<-p.done
	})
	return p.stopErr
}

// mergeEnv overlays extra onto base. Keys are added in sorted order so the
// result is deterministic.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
