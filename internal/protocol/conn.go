package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

// maxEnvelopeSize bounds a single decoded envelope; a 2000 character
// message encrypts and encodes well below it.
const maxEnvelopeSize = 64 * 1024

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		BigIntConvert: cbor.BigIntConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  8,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes an envelope the way Conn writes it.
func Marshal(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(e)
}

// Unmarshal decodes and validates a single envelope.
func Unmarshal(b []byte) (*Envelope, error) {
	e := new(Envelope)
	if err := decMode.Unmarshal(b, e); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrProtocolViolation, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Conn frames envelopes over a stream connection. Reads must come from a
// single goroutine; writes may come from any number of goroutines.
type Conn struct {
	conn         net.Conn
	lr           *io.LimitedReader
	dec          *cbor.Decoder
	writeTimeout time.Duration

	wmu sync.Mutex
	enc *cbor.Encoder

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps c. A positive writeTimeout bounds every WriteEnvelope.
func NewConn(c net.Conn, writeTimeout time.Duration) *Conn {
	lr := &io.LimitedReader{R: c, N: maxEnvelopeSize}
	return &Conn{
		conn:         c,
		lr:           lr,
		dec:          decMode.NewDecoder(lr),
		enc:          encMode.NewEncoder(c),
		writeTimeout: writeTimeout,
	}
}

// ReadEnvelope blocks until the next envelope arrives.
//
// A decoded but invalid envelope returns an error wrapping
// errs.ErrProtocolViolation and the stream stays usable. Any other error
// wraps errs.ErrTransportFailure and ends the stream; io.EOF is kept in the
// chain for a clean close. An envelope that does not fit in
// maxEnvelopeSize ends the stream with both errors in the chain.
func (c *Conn) ReadEnvelope() (*Envelope, error) {
	// Each envelope gets a fresh read budget, so the decoder never buffers
	// more than one oversized envelope's worth before giving up.
	c.lr.N = maxEnvelopeSize

	var raw cbor.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		if c.lr.N <= 0 {
			return nil, fmt.Errorf("%w: %w: envelope exceeds %d bytes", errs.ErrTransportFailure, errs.ErrProtocolViolation, maxEnvelopeSize)
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrTransportFailure, err)
	}
	if len(raw) > maxEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope of %d bytes exceeds limit", errs.ErrProtocolViolation, len(raw))
	}
	return Unmarshal(raw)
}

// WriteEnvelope validates, encodes and sends e.
func (c *Conn) WriteEnvelope(e *Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrTransportFailure, err)
		}
	}
	if err := c.enc.Encode(e); err != nil {
		return fmt.Errorf("%w: could not send %v: %w", errs.ErrTransportFailure, e.Code, err)
	}
	return nil
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsClosed reports whether err marks the end of the stream rather than a
// malformed envelope.
func IsClosed(err error) bool {
	return errors.Is(err, errs.ErrTransportFailure)
}

// IsEOF reports whether err is a clean close by the other side.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
