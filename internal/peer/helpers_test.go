package peer

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/internal/config"
	rlog "github.com/sumanthd032/relaychat/internal/log"
)

const waitFor = 10 * time.Second

// recorder is a Notifier that remembers everything it is told.
type recorder struct {
	sync.Mutex

	lines            []string
	status           string
	progress         float64
	inputEnabled     bool
	handshakeEnabled bool
	messages         chan string
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan string, 16)}
}

func (r *recorder) NotifyUser(text string) {
	r.Lock()
	defer r.Unlock()
	r.lines = append(r.lines, text)
}

func (r *recorder) NotifyStatus(text string) {
	r.Lock()
	defer r.Unlock()
	r.status = text
}

func (r *recorder) NotifyProgress(fraction float64) {
	r.Lock()
	defer r.Unlock()
	r.progress = fraction
}

func (r *recorder) SetInputEnabled(enabled bool) {
	r.Lock()
	defer r.Unlock()
	r.inputEnabled = enabled
}

func (r *recorder) SetHandshakeEnabled(enabled bool) {
	r.Lock()
	defer r.Unlock()
	r.handshakeEnabled = enabled
}

func (r *recorder) DeliverMessage(text string) {
	r.messages <- text
}

func (r *recorder) Status() string {
	r.Lock()
	defer r.Unlock()
	return r.status
}

func (r *recorder) InputEnabled() bool {
	r.Lock()
	defer r.Unlock()
	return r.inputEnabled
}

func (r *recorder) HandshakeEnabled() bool {
	r.Lock()
	defer r.Unlock()
	return r.handshakeEnabled
}

func (r *recorder) Progress() float64 {
	r.Lock()
	defer r.Unlock()
	return r.progress
}

func (r *recorder) Saw(substr string) bool {
	return r.Count(substr) > 0
}

func (r *recorder) Count(substr string) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for _, l := range r.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func (r *recorder) expectMessage(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.messages:
		require.Equal(t, want, got)
	case <-time.After(waitFor):
		require.FailNow(t, "timeout", "waiting for message %q", want)
	}
}

func testChatConfig() *config.Chat {
	return &config.Chat{
		DialTimeout:      2000,
		WriteTimeout:     2000,
		MaxMessageLength: config.DefaultMaxMessageLength,
	}
}

func newTestSession(t *testing.T, cfg *config.Chat) (*Session, *recorder) {
	t.Helper()
	backend, err := rlog.New("", "DEBUG", true)
	require.NoError(t, err)
	rec := newRecorder()
	s, err := NewSession(cfg, rec, backend)
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s, rec
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, 5*time.Millisecond,
		"state is %v, want %v", s.State(), want)
}
