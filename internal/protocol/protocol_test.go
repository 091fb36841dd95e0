package protocol

import (
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

func TestCodeString(t *testing.T) {
	require := require.New(t)

	require.Equal("NUMBER", CodeNumber.String())
	require.Equal("INIT_KEY_EXCHANGE", CodeInitKeyExchange.String())
	require.Equal("Code(0)", Code(0).String())
	require.False(Code(0).Valid())
	require.False(Code(42).Valid())
}

func TestEnvelopePayloads(t *testing.T) {
	require := require.New(t)

	big1, ok := new(big.Int).SetString("123456789012345678901234567890123456789", 10)
	require.True(ok)

	e, err := NewNumber(big1)
	require.NoError(err)
	v, err := e.Number()
	require.NoError(err)
	require.Equal(0, v.Cmp(big1))

	e, err = NewNumbers(big.NewInt(5), big1)
	require.NoError(err)
	g, n, err := e.Numbers()
	require.NoError(err)
	require.Equal(int64(5), g.Int64())
	require.Equal(0, n.Cmp(big1))

	s, err := NewStatus(StatusClientConnect).Text()
	require.NoError(err)
	require.Equal(StatusClientConnect, s)

	_, err = NewError("boom").Number()
	require.ErrorIs(err, errs.ErrProtocolViolation)
	_, err = NewInitKeyExchange().Text()
	require.ErrorIs(err, errs.ErrProtocolViolation)
}

func TestEnvelopeConstructorsReject(t *testing.T) {
	require := require.New(t)

	_, err := NewNumber(nil)
	require.ErrorIs(err, errs.ErrInvalidArgument)
	_, err = NewNumbers(big.NewInt(1), nil)
	require.ErrorIs(err, errs.ErrInvalidArgument)
	_, err = NewText(CodeNumber, "x")
	require.ErrorIs(err, errs.ErrInvalidArgument)
}

func TestEnvelopeValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(NewInitKeyExchange().Validate())
	require.NoError(NewMessage("abc").Validate())
	require.ErrorIs((&Envelope{}).Validate(), errs.ErrProtocolViolation)
	require.ErrorIs((&Envelope{Code: CodeMessage}).Validate(), errs.ErrProtocolViolation)
	require.ErrorIs((*Envelope)(nil).Validate(), errs.ErrInvalidArgument)
}

func TestUnmarshalRejects(t *testing.T) {
	require := require.New(t)

	raw, err := cbor.Marshal(map[int]int{1: 99})
	require.NoError(err)
	_, err = Unmarshal(raw)
	require.ErrorIs(err, errs.ErrProtocolViolation)

	_, err = Unmarshal([]byte{0xff, 0x00})
	require.ErrorIs(err, errs.ErrProtocolViolation)

	// A numbers payload with three values is malformed.
	payload, err := cbor.Marshal([]int{1, 2, 3})
	require.NoError(err)
	_, _, err = (&Envelope{Code: CodeNumbers, Payload: payload}).Numbers()
	require.ErrorIs(err, errs.ErrProtocolViolation)
}

func TestConnStream(t *testing.T) {
	require := require.New(t)

	a, b := net.Pipe()
	ca, cb := NewConn(a, time.Second), NewConn(b, 0)
	defer ca.Close()

	num, err := NewNumber(big.NewInt(1 << 40))
	require.NoError(err)
	sent := []*Envelope{
		NewInitKeyExchange(),
		num,
		NewMessage("Y2lwaGVydGV4dA=="),
		NewStatus(StatusClientDisconnect),
	}

	go func() {
		for _, e := range sent {
			if err := ca.WriteEnvelope(e); err != nil {
				return
			}
		}
	}()

	for _, want := range sent {
		got, err := cb.ReadEnvelope()
		require.NoError(err)
		require.Equal(want.Code, got.Code)
		require.Equal([]byte(want.Payload), []byte(got.Payload))
	}

	require.NoError(ca.Close())
	require.NoError(ca.Close())
	_, err = cb.ReadEnvelope()
	require.ErrorIs(err, errs.ErrTransportFailure)
	require.True(IsClosed(err))
	require.True(IsEOF(err))
}

func TestConnInvalidEnvelopeKeepsStream(t *testing.T) {
	require := require.New(t)

	a, b := net.Pipe()
	defer a.Close()
	cb := NewConn(b, 0)

	go func() {
		bad, _ := cbor.Marshal(map[int]int{1: 0})
		_, _ = a.Write(bad)
		good, _ := Marshal(NewError("after"))
		_, _ = a.Write(good)
	}()

	_, err := cb.ReadEnvelope()
	require.ErrorIs(err, errs.ErrProtocolViolation)
	require.False(IsClosed(err))

	e, err := cb.ReadEnvelope()
	require.NoError(err)
	text, err := e.Text()
	require.NoError(err)
	require.Equal("after", text)
}

func TestConnWriteRejectsInvalid(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	err := NewConn(a, 0).WriteEnvelope(&Envelope{Code: CodeStatus})
	require.ErrorIs(t, err, errs.ErrProtocolViolation)
}

var _ io.Closer = (*Conn)(nil)

func TestConnOversizedEnvelopeEndsStream(t *testing.T) {
	require := require.New(t)

	a, b := net.Pipe()
	defer a.Close()
	cb := NewConn(b, 0)
	defer cb.Close()

	huge, err := Marshal(NewMessage(strings.Repeat("A", 1<<20)))
	require.NoError(err)
	written := make(chan int, 1)
	go func() {
		n, _ := a.Write(huge)
		written <- n
	}()

	_, err = cb.ReadEnvelope()
	require.ErrorIs(err, errs.ErrProtocolViolation)
	require.True(IsClosed(err))
	require.False(IsEOF(err))

	// The reader gave up long before the whole envelope arrived.
	cb.Close()
	require.Less(<-written, len(huge))
}
