package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dcrodman/rendezvous/internal/rendezvous"
)

var (
	clientColor    = color.New(color.FgCyan, color.Bold)
	connectedColor = color.New(color.FgGreen)
)

// runHostLoop polls every bound client for its latest message until ctx is
// cancelled, printing each one and echoing it back if configured to.
func (c *Controller) runHostLoop(ctx context.Context) {
	interval := c.Config.Host.PollInterval
	if interval <= 0 {
		interval = defaultHostPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, name := range c.server.Names() {
			conn, ok := c.server.Connection(name)
			if !ok {
				continue
			}
			conn.ConsumeInbound(func(text string) {
				c.handleMessage(conn, text)
			})
		}
	}
}

func (c *Controller) handleMessage(conn *rendezvous.Connection, text string) {
	text = strings.TrimSuffix(text, "\r")
	fmt.Fprintf(c.out(), "%s %s\n", clientColor.Sprintf("[%s]", conn.Name()), text)

	if c.Config.Host.Echo {
		conn.SendText(text)
	}
}

func (c *Controller) clientConnected(conn *rendezvous.Connection) {
	fmt.Fprintln(c.out(), connectedColor.Sprintf("%s connected from %s", conn.Name(), conn.RemoteAddr()))
}
