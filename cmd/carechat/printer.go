package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-go-golems/carechat/pkg/chatclient"
	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

// transcriptPrinter renders bus events and reconciled history to the
// terminal. Fragments stream in place; terminal outcomes end the line.
type transcriptPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	streaming bool
}

func newTranscriptPrinter(w io.Writer) *transcriptPrinter {
	return &transcriptPrinter{w: w}
}

func (p *transcriptPrinter) printHistory(conv *chatclient.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range conv.Messages {
		prefix := "you"
		if m.Role == chatstore.RoleAssistant {
			prefix = "assistant"
		}
		fmt.Fprintf(p.w, "[%s] %s\n", prefix, m.Content)
	}
}

func (p *transcriptPrinter) onFragment(ev chatclient.Fragment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		fmt.Fprint(p.w, "\nassistant: ")
		p.streaming = true
	}
	fmt.Fprint(p.w, ev.Text)
}

func (p *transcriptPrinter) onCompletion(_ chatclient.Completion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	fmt.Fprintln(p.w)
}

func (p *transcriptPrinter) onFailure(ev chatclient.Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	msg := ev.Message
	if msg == "" {
		msg = "streaming error"
	}
	fmt.Fprintf(p.w, "\n(error: %s)\n", msg)
}

func (p *transcriptPrinter) onControl(ev chatclient.Control) {
	if ev.Kind != chatclient.ControlBlocked {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	notice := ev.SafeResponse
	if notice == "" {
		notice = "The assistant can't respond to this message."
	}
	fmt.Fprintf(p.w, "\n(blocked: %s)\n", notice)
}
