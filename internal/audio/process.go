package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

const (
	startupProbe    = 250 * time.Millisecond
	interruptGrace  = 1200 * time.Millisecond
	defaultFFMPEG   = "ffmpeg"
	defaultRate     = 16000
	defaultChannels = 1
)

var accessDeniedMarkers = []string{
	"permission denied",
	"access denied",
	"operation not permitted",
	"not authorized",
}

// lockedBuffer collects ffmpeg stderr while the process and the stopper read it concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ffmpegProcess is the shared lifecycle of a capture or playback child process.
type ffmpegProcess struct {
	name    string
	process *os.Process
	stderr  *lockedBuffer

	// exitErr is written once before exited is closed.
	exited  chan struct{}
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

func startProcess(cmd *exec.Cmd, name string) (*ffmpegProcess, error) {
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	proc := &ffmpegProcess{name: name, process: cmd.Process, stderr: stderr, exited: make(chan struct{})}
	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)
	}()

	select {
	case <-proc.exited:
		detail := stringsTrimSpaceSafe(stderr.String())
		if proc.exitErr != nil {
			return nil, classifyExit(fmt.Errorf("%s exited before audio started: %w: %s", name, proc.exitErr, detail), detail)
		}
		return nil, classifyExit(fmt.Errorf("%s exited before audio started: %s", name, detail), detail)
	case <-time.After(startupProbe):
	}

	return proc, nil
}

// stop interrupts the process, escalating to kill after a grace period, then runs closer.
func (p *ffmpegProcess) stop(closer func() error) error {
	p.stopOnce.Do(func() {
		if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case <-p.exited:
		case <-time.After(interruptGrace):
			if p.process != nil {
				_ = p.process.Kill()
			}
			<-p.exited
		}
		p.stopErr = normalizeStopErr(p.exitErr)

		if closer != nil {
			if closeErr := closer(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil {
			if detail := stringsTrimSpaceSafe(p.stderr.String()); detail != "" {
				p.stopErr = fmt.Errorf("%w: %s", p.stopErr, detail)
			}
		}
	})

	return p.stopErr
}

// wait blocks until the process exits on its own.
func (p *ffmpegProcess) wait() error {
	<-p.exited
	return normalizeStopErr(p.exitErr)
}

func classifyExit(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	for _, marker := range accessDeniedMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %v", ports.ErrAccessDenied, err)
		}
	}
	return err
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
