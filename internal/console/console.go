// Package console presents a chat session on a terminal: notifications and
// messages go to a writer, and lines read from the user become messages or
// commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/sumanthd032/relaychat/internal/peer"
	"github.com/sumanthd032/relaychat/pkg/util"
)

const helpText = `Commands:
  /secure       establish a secure connection with the other client
  /fingerprint  show the key fingerprint to compare with the other client
  /status       show the connection status
  /quit         leave the chat
Anything else is sent as a message.`

// Chatter is the part of a peer.Session the console drives.
type Chatter interface {
	InitiateHandshake() error
	SendMessage(text string) error
	Fingerprint() string
	State() peer.State
}

// Console is a peer.Notifier that writes to a terminal.
type Console struct {
	sync.Mutex

	w                io.Writer
	bar              *progressbar.ProgressBar
	status           string
	inputEnabled     bool
	handshakeEnabled bool
}

// New returns a Console writing to w.
func New(w io.Writer) *Console {
	return &Console{w: w, status: peer.StatusNotConnected}
}

// NotifyUser implements peer.Notifier.
func (c *Console) NotifyUser(text string) {
	c.Lock()
	defer c.Unlock()
	c.printlnLocked(text)
}

// NotifyStatus implements peer.Notifier.
func (c *Console) NotifyStatus(text string) {
	c.Lock()
	defer c.Unlock()
	if text == c.status {
		return
	}
	c.status = text
	c.printlnLocked("[" + text + "]")
}

// NotifyProgress implements peer.Notifier. The bar appears with the first
// step of a handshake and goes away once it completes or is abandoned.
func (c *Console) NotifyProgress(fraction float64) {
	c.Lock()
	defer c.Unlock()

	if fraction <= 0 {
		if c.bar != nil {
			c.bar.Exit()
			c.bar = nil
		}
		return
	}
	if c.bar == nil {
		c.bar = util.NewProgressBar(c.w, "Key exchange")
	}
	c.bar.Set(util.FractionToSteps(fraction))
	if fraction >= 1 {
		c.bar = nil
	}
}

// SetInputEnabled implements peer.Notifier.
func (c *Console) SetInputEnabled(enabled bool) {
	c.Lock()
	defer c.Unlock()
	c.inputEnabled = enabled
}

// SetHandshakeEnabled implements peer.Notifier.
func (c *Console) SetHandshakeEnabled(enabled bool) {
	c.Lock()
	defer c.Unlock()
	if enabled && !c.handshakeEnabled {
		c.printlnLocked("Type /secure to start the key exchange.")
	}
	c.handshakeEnabled = enabled
}

// DeliverMessage implements peer.Notifier.
func (c *Console) DeliverMessage(text string) {
	c.Lock()
	defer c.Unlock()
	c.printlnLocked("Other: " + text)
}

// Run reads lines from r and acts on them until "/quit", the end of r, or
// ctx is done.
func (c *Console) Run(ctx context.Context, r io.Reader, s Chatter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.NotifyUser(helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("could not read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.handleLine(strings.TrimRight(line, "\r"), s); quit {
				return nil
			}
		}
	}
}

func (c *Console) handleLine(line string, s Chatter) bool {
	switch strings.TrimSpace(line) {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		c.NotifyUser(helpText)
	case "/secure":
		// Failures are reported through the Notifier.
		_ = s.InitiateHandshake()
	case "/fingerprint":
		if fp := s.Fingerprint(); fp != "" {
			c.NotifyUser("Key fingerprint: " + fp)
		} else {
			c.NotifyUser("Not securely connected with other client")
		}
	case "/status":
		c.NotifyUser(fmt.Sprintf("Status: %s (%v)", c.Status(), s.State()))
	default:
		if err := s.SendMessage(line); err == nil {
			c.NotifyUser("You: " + line)
		}
	}
	return false
}

// Status returns the last status text.
func (c *Console) Status() string {
	c.Lock()
	defer c.Unlock()
	return c.status
}

// InputEnabled reports whether the session currently accepts messages.
func (c *Console) InputEnabled() bool {
	c.Lock()
	defer c.Unlock()
	return c.inputEnabled
}

func (c *Console) printlnLocked(text string) {
	if c.bar != nil {
		c.bar.Clear()
	}
	fmt.Fprintln(c.w, text)
}
