package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/internal/peer"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

type safeBuffer struct {
	sync.Mutex
	b bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.Lock()
	defer s.Unlock()
	return s.b.String()
}

type fakeChatter struct {
	handshakes int
	sent       []string
	secure     bool
}

func (f *fakeChatter) InitiateHandshake() error {
	f.handshakes++
	return nil
}

func (f *fakeChatter) SendMessage(text string) error {
	if !f.secure {
		return errs.ErrInvalidState
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChatter) Fingerprint() string {
	if f.secure {
		return "kite-moon-fox-sun"
	}
	return ""
}

func (f *fakeChatter) State() peer.State {
	if f.secure {
		return peer.Secure
	}
	return peer.Connected
}

func TestRunCommands(t *testing.T) {
	require := require.New(t)
	out := new(safeBuffer)
	c := New(out)
	chat := &fakeChatter{}

	in := strings.NewReader("/secure\n\n/fingerprint\nnot yet\n/quit\nnever read\n")
	require.NoError(c.Run(context.Background(), in, chat))
	require.Equal(1, chat.handshakes)
	require.Empty(chat.sent)
	require.Contains(out.String(), "Not securely connected")

	chat.secure = true
	in = strings.NewReader("hello there\r\n/fingerprint\n/status\n")
	require.NoError(c.Run(context.Background(), in, chat))
	require.Equal([]string{"hello there"}, chat.sent)
	require.Contains(out.String(), "You: hello there")
	require.Contains(out.String(), "Key fingerprint: kite-moon-fox-sun")
	require.Contains(out.String(), "Status: Not Connected")
}

func TestRunStopsOnContext(t *testing.T) {
	c := New(io.Discard)
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx, r, &fakeChatter{}))
}

func TestNotifier(t *testing.T) {
	require := require.New(t)
	out := new(safeBuffer)
	c := New(out)
	var _ peer.Notifier = c

	c.NotifyStatus(peer.StatusConnected)
	c.NotifyStatus(peer.StatusConnected)
	require.Equal(1, strings.Count(out.String(), "[Connected]"))
	require.Equal(peer.StatusConnected, c.Status())

	c.SetHandshakeEnabled(true)
	c.SetHandshakeEnabled(true)
	require.Equal(1, strings.Count(out.String(), "/secure"))

	c.SetInputEnabled(true)
	require.True(c.InputEnabled())

	c.DeliverMessage("hi")
	require.Contains(out.String(), "Other: hi")

	c.NotifyProgress(0.2)
	require.NotNil(c.bar)
	c.NotifyProgress(1)
	require.Nil(c.bar)
	c.NotifyProgress(0.6)
	c.NotifyProgress(0)
	require.Nil(c.bar)
}
