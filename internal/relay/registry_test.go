package relay

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/internal/protocol"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

func TestRegistryAdmitAndIDs(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(testLogBackend(t).GetLogger("registry"))

	ca, pa := pipePeer(t)
	ha, err := r.Admit(ca)
	require.NoError(err)
	require.Equal(1, ha.ID())
	require.Equal(1, r.Len())

	cb, pb := pipePeer(t)
	hb, err := r.Admit(cb)
	require.NoError(err)
	require.Equal(2, hb.ID())
	pa.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)
	pb.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)

	cc, _ := pipePeer(t)
	_, err = r.Admit(cc)
	require.ErrorIs(err, ErrRegistryFull)
	require.Equal(2, r.Len())

	// The leaving peer's partner hears about it.
	require.True(r.Remove(ha))
	pb.expectText(t, protocol.CodeStatus, protocol.StatusClientDisconnect)
	require.Equal([]int{2}, r.IDs())
	require.False(r.Remove(ha))

	// The next id is one past the remaining peer.
	cd, pd := pipePeer(t)
	hd, err := r.Admit(cd)
	require.NoError(err)
	require.Equal(3, hd.ID())
	pb.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)
	pd.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)

	require.True(r.Remove(hb))
	pd.expectText(t, protocol.CodeStatus, protocol.StatusClientDisconnect)
	require.True(r.Remove(hd))
	require.Equal(0, r.Len())

	ce, _ := pipePeer(t)
	he, err := r.Admit(ce)
	require.NoError(err)
	require.Equal(1, he.ID())
}

func TestRegistryRouting(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(testLogBackend(t).GetLogger("registry"))

	ca, pa := pipePeer(t)
	ha, err := r.Admit(ca)
	require.NoError(err)

	msg := protocol.NewMessage("b3BhcXVl")
	require.ErrorIs(r.RouteToOther(msg, ha.ID()), errs.ErrInvalidState)
	require.ErrorIs(r.BroadcastPair(protocol.NewStatus("x")), errs.ErrInvalidState)
	require.ErrorIs(r.RouteToOther(nil, ha.ID()), errs.ErrInvalidArgument)

	cb, pb := pipePeer(t)
	hb, err := r.Admit(cb)
	require.NoError(err)
	pa.expect(t, protocol.CodeStatus)
	pb.expect(t, protocol.CodeStatus)

	require.NoError(r.RouteToOther(msg, ha.ID()))
	got := pb.expect(t, protocol.CodeMessage)
	require.Equal([]byte(msg.Payload), []byte(got.Payload))

	require.NoError(r.RouteToOther(msg, hb.ID()))
	pa.expect(t, protocol.CodeMessage)

	require.NoError(r.BroadcastPair(protocol.NewStatus("both")))
	pa.expectText(t, protocol.CodeStatus, "both")
	pb.expectText(t, protocol.CodeStatus, "both")
}

func TestRegistryConcurrentChurn(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(testLogBackend(t).GetLogger("registry"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		conn, _ := pipePeer(t)
		wg.Add(1)
		go func(conn *protocol.Conn) {
			defer wg.Done()
			h, err := r.Admit(conn)
			if err != nil {
				assert.ErrorIs(t, err, ErrRegistryFull)
				return
			}
			assert.LessOrEqual(t, r.Len(), MaxPeers)
			r.Remove(h)
		}(conn)
	}
	wg.Wait()
	require.Equal(0, r.Len())
}

func TestRegistryStalledPeerIsDropped(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(testLogBackend(t).GetLogger("registry"))

	// Nobody reads the far end of this pipe, so every write to it blocks.
	stalled, far := net.Pipe()
	t.Cleanup(func() { far.Close() })
	ca := protocol.NewConn(stalled, 100*time.Millisecond)
	ha, err := r.Admit(ca)
	require.NoError(err)

	cb, pb := pipePeer(t)
	start := time.Now()
	_, err = r.Admit(cb)
	require.NoError(err)
	require.Less(time.Since(start), waitFor)
	pb.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)
	require.False(ha.Connected())

	// The lock is free again and the pair is still full until the loop removes ha.
	cc, _ := pipePeer(t)
	_, err = r.Admit(cc)
	require.ErrorIs(err, ErrRegistryFull)

	err = r.RouteToOther(protocol.NewMessage("eA=="), 2)
	require.ErrorIs(err, errs.ErrTransportFailure)
}
