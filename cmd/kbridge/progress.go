package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current phase of a long-running command with the elapsed
// time. It is single-use: Start once, Stop at least once.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	phase     atomic.Value
	startTime time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:    out,
		prefix: prefix,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

func (p *ProgressPrinter) Start() {
	p.startTime = time.Now()
	p.print()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *ProgressPrinter) print() {
	phase := p.phase.Load().(string)
	if secs := int(time.Since(p.startTime).Seconds()); secs > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, secs)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// SetPhase updates the displayed phase. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}
