package stream

import (
	"fmt"
	"net/netip"
	"os/exec"
	"sync"
	"time"
)

// CommandBuilder produces the pipeline command for a destination set, e.g.
// an rpicam-vid | gst-launch invocation with one udpsink per destination.
type CommandBuilder func(dests []netip.AddrPort) *exec.Cmd

// ExecPipeline runs the video pipeline as an external process.
type ExecPipeline struct {
	mu    sync.Mutex
	build CommandBuilder
	cmd   *exec.Cmd
}

// NewExecPipeline creates a Pipeline that launches build's command.
func NewExecPipeline(build CommandBuilder) *ExecPipeline {
	return &ExecPipeline{build: build}
}

// Start launches the pipeline process.
func (p *ExecPipeline) Start(dests []netip.AddrPort) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("stream: pipeline already running")
	}
	cmd := p.build(dests)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stream: start pipeline: %w", err)
	}
	p.cmd = cmd
	return nil
}

// Stop kills the pipeline process and reaps it. Restart-on-crash is the
// pipeline supervisor's job, not ours.
func (p *ExecPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	cmd := p.cmd
	p.cmd = nil

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("stream: pipeline did not exit")
	}
	return nil
}
