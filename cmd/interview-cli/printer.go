package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/interview-engine/internal/countdown"
	"github.com/stemsi/interview-engine/internal/engine"
)

// printer serialises output from the REPL and the controller listener.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	band  countdown.Band
}

func newPrinter(w io.Writer, width int) *printer {
	return &printer{w: w, width: width}
}

// onEvent announces band changes and surfaced errors. Ticks within a band
// stay silent.
func (p *printer) onEvent(ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case engine.EventTick:
		if ev.Tick == nil || ev.Tick.Neutral || ev.Tick.Band == p.band {
			return
		}
		p.band = ev.Tick.Band
		if p.band != countdown.BandNormal {
			fmt.Fprintf(p.w, "\n[%s] %s left\n", p.band, formatRemaining(ev.Tick.Seconds))
		}
	case engine.EventError:
		if engine.KindOf(ev.Err) == engine.KindTimer {
			fmt.Fprintf(p.w, "\n[timer] %v\n", ev.Err)
		}
	case engine.EventState:
		if ev.View.State == engine.StateFinalizing && ev.View.Trigger == engine.TriggerTimeout {
			fmt.Fprintln(p.w, "\nTime is up. Submitting the session...")
		}
	}
}

func (p *printer) view(v engine.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, strings.Repeat("─", p.width))
	switch v.State {
	case engine.StateCompleted:
		fmt.Fprintln(p.w, "Session completed.")
		if v.Summary != nil && v.Summary.OverallScore != nil {
			fmt.Fprintf(p.w, "Overall score: %.1f\n", *v.Summary.OverallScore)
		}
		return
	case engine.StateAborted:
		fmt.Fprintf(p.w, "Session could not be loaded: %s\n", v.LastError)
		return
	case engine.StateFinalizing:
		if v.CanRetryCompletion {
			fmt.Fprintf(p.w, "Completion failed: %s\nType :retry to try again.\n", v.LastError)
		} else {
			fmt.Fprintln(p.w, "Submitting the session...")
		}
		return
	}

	timer := "--:--"
	if !v.TimerNeutral {
		timer = formatRemaining(v.RemainingSeconds)
	}
	fmt.Fprintf(p.w, "Question %d/%d   answered %d   time %s (%s)\n", v.Position+1, v.Total, v.Submitted, timer, v.Band)
	if q := v.Question; q != nil {
		fmt.Fprintf(p.w, "\n%s\n", q.Prompt)
		for i, opt := range q.Options {
			mark := " "
			if q.SelectedOption != nil && *q.SelectedOption == i {
				mark = "*"
			}
			fmt.Fprintf(p.w, " %s %d) %s\n", mark, i+1, opt)
		}
		if len(q.Options) == 0 && q.AnswerText != "" {
			fmt.Fprintf(p.w, "\nYour answer: %s\n", q.AnswerText)
		}
		if q.ReadOnly {
			fmt.Fprintln(p.w, "(submitted)")
		}
	}
	if v.Pending {
		fmt.Fprintln(p.w, "Submitting answer...")
	}
}

func (p *printer) help() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, "Type an option number or your answer, then :next. Commands: :next :back :complete :retry :show :clear :quit")
}

func (p *printer) errorf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "! "+format+"\n", args...)
}

func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
