package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

const (
	minTempo = 0.5
	maxTempo = 2.0
)

// FFMPEGPlayback plays PCM written to its sessions through ffmpeg's output devices.
type FFMPEGPlayback struct {
	command string
}

func NewFFMPEGPlayback(command string) *FFMPEGPlayback {
	if command == "" {
		command = defaultFFMPEG
	}
	return &FFMPEGPlayback{command: command}
}

func (p *FFMPEGPlayback) Start(ctx context.Context, cfg ports.OutputConfig) (ports.OutputSession, error) {
	args := playbackArgs(cfg)

	cmd := exec.CommandContext(ctx, p.command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create playback stdin pipe: %w", err)
	}

	proc, err := startProcess(cmd, "playback")
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}

	return &playbackSession{stdin: stdin, proc: proc}, nil
}

func playbackArgs(cfg ports.OutputConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pulse"
	}
	if cfg.OutputDevice == "" {
		cfg.OutputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"-i", "pipe:0",
	}
	if tempo := clampTempo(cfg.Tempo); tempo != 1 {
		args = append(args, "-af", "atempo="+strconv.FormatFloat(tempo, 'f', 3, 64))
	}
	return append(args, "-f", cfg.OutputFormat, cfg.OutputDevice)
}

func clampTempo(tempo float64) float64 {
	if tempo == 0 {
		return 1
	}
	if tempo < minTempo {
		return minTempo
	}
	if tempo > maxTempo {
		return maxTempo
	}
	return tempo
}

type playbackSession struct {
	stdin  io.WriteCloser
	proc   *ffmpegProcess
	closed atomic.Bool
}

func (s *playbackSession) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return s.stdin.Write(p)
}

// Close ends the input stream and lets ffmpeg drain what was already written.
func (s *playbackSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.stdin.Close()
}

func (s *playbackSession) Stop() error {
	s.closed.Store(true)
	return s.proc.stop(s.stdin.Close)
}

func (s *playbackSession) Wait() error {
	return s.proc.wait()
}
