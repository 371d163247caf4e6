package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/bikelight/internal/history"
	"github.com/srg/bikelight/pkg/wireless"
)

// printer serializes command output and colours it when writing to a
// terminal.
type printer struct {
	mu  sync.Mutex
	out io.Writer

	node    *color.Color
	field   *color.Color
	good    *color.Color
	bad     *color.Color
	subtle  *color.Color
	colored bool
}

func newPrinter(out io.Writer) *printer {
	colored := false
	if f, ok := out.(*os.File); ok {
		colored = term.IsTerminal(int(f.Fd()))
	}
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &printer{
		out:     out,
		node:    mk(color.FgCyan, color.Bold),
		field:   mk(color.FgYellow),
		good:    mk(color.FgGreen),
		bad:     mk(color.FgRed),
		subtle:  mk(color.Faint),
		colored: colored,
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Update prints a field value change.
func (p *printer) Update(node, field string, value any) {
	p.printf("%s %s %s = %v\n",
		p.subtle.Sprint(time.Now().Format(time.TimeOnly)),
		p.node.Sprintf("[%s]", node),
		p.field.Sprint(field),
		value)
}

func (p *printer) Event(node string, e wireless.Event) {
	text := e.String()
	switch e.Kind {
	case wireless.EventConnected:
		text = p.good.Sprint(text)
	case wireless.EventFailure, wireless.EventRejected, wireless.EventDisconnected:
		text = p.bad.Sprint(text)
	}
	p.printf("%s %s\n", p.node.Sprintf("[%s]", node), text)
}

// History prints the retained events of a node and the collector counters.
func (p *printer) History(node string, events []wireless.Event, m history.Metrics) {
	p.printf("%s %d events recorded, %d dropped\n", p.node.Sprintf("[%s]", node), m.RecordsProcessed, m.RecordsOverwritten)
	for _, e := range events {
		p.printf("  %s\n", p.subtle.Sprint(e.String()))
	}
}

func (p *printer) Peer(peer wireless.Peer) {
	name := peer.Name()
	if name == "" {
		name = "(unnamed)"
	}
	services := "-"
	if s := peer.Services(); len(s) > 0 {
		services = fmt.Sprint(s)
	}
	p.printf("%-20s %s %s\n", p.field.Sprint(peer.Address()), p.node.Sprint(name), p.subtle.Sprint(services))
}
