// Package protocol implements the relaychat wire format: tagged envelopes
// carried one at a time over a CBOR stream.
package protocol

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

// Code tags an Envelope. The zero value is not a valid code.
type Code uint8

const (
	// CodeNumber carries one peer's public handshake value.
	CodeNumber Code = iota + 1
	// CodeNumbers carries the handshake parameters (g, n) from the relay.
	CodeNumbers
	// CodeMessage carries encrypted chat text.
	CodeMessage
	// CodeError carries an error text.
	CodeError
	// CodeStatus carries a status text such as StatusClientConnect.
	CodeStatus
	// CodeInitKeyExchange asks the relay to start a handshake. It has no payload.
	CodeInitKeyExchange
)

// Status payloads sent by the relay.
const (
	StatusClientConnect    = "client_connect"
	StatusClientDisconnect = "client_disconnect"
)

// ErrNoSecondClient is the ERROR text the relay replies with when the
// other peer is missing.
const ErrNoSecondClient = "No second client connected"

var codeNames = map[Code]string{
	CodeNumber:          "NUMBER",
	CodeNumbers:         "NUMBERS",
	CodeMessage:         "MESSAGE",
	CodeError:           "ERROR",
	CodeStatus:          "STATUS",
	CodeInitKeyExchange: "INIT_KEY_EXCHANGE",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Valid reports whether c is one of the defined codes.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

// Envelope is the unit exchanged over the wire. The payload is kept as raw
// CBOR and only interpreted through the typed accessors, so the relay can
// forward it without looking inside.
type Envelope struct {
	Code    Code            `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Validate checks the envelope invariants: a defined code, and a payload
// present for every code but CodeInitKeyExchange.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", errs.ErrInvalidArgument)
	}
	if !e.Code.Valid() {
		return fmt.Errorf("%w: unknown code %v", errs.ErrProtocolViolation, e.Code)
	}
	if e.Code != CodeInitKeyExchange && len(e.Payload) == 0 {
		return fmt.Errorf("%w: %v without payload", errs.ErrProtocolViolation, e.Code)
	}
	return nil
}

// NewInitKeyExchange returns an INIT_KEY_EXCHANGE envelope.
func NewInitKeyExchange() *Envelope {
	return &Envelope{Code: CodeInitKeyExchange}
}

// NewNumber returns a NUMBER envelope carrying v.
func NewNumber(v *big.Int) (*Envelope, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: number can't be nil", errs.ErrInvalidArgument)
	}
	return newEnvelope(CodeNumber, v)
}

// NewNumbers returns a NUMBERS envelope carrying the pair (g, n).
func NewNumbers(g, n *big.Int) (*Envelope, error) {
	if g == nil || n == nil {
		return nil, fmt.Errorf("%w: numbers can't be nil", errs.ErrInvalidArgument)
	}
	return newEnvelope(CodeNumbers, []*big.Int{g, n})
}

// NewText returns an envelope of a text carrying code.
func NewText(code Code, text string) (*Envelope, error) {
	switch code {
	case CodeMessage, CodeError, CodeStatus:
	default:
		return nil, fmt.Errorf("%w: %v does not carry text", errs.ErrInvalidArgument, code)
	}
	return newEnvelope(code, text)
}

// NewStatus returns a STATUS envelope.
func NewStatus(status string) *Envelope {
	return mustText(CodeStatus, status)
}

// NewError returns an ERROR envelope.
func NewError(text string) *Envelope {
	return mustText(CodeError, text)
}

// NewMessage returns a MESSAGE envelope carrying ciphertext.
func NewMessage(ciphertext string) *Envelope {
	return mustText(CodeMessage, ciphertext)
}

func mustText(code Code, text string) *Envelope {
	e, err := NewText(code, text)
	if err != nil {
		panic(err)
	}
	return e
}

func newEnvelope(code Code, payload interface{}) (*Envelope, error) {
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not encode %v payload: %w", code, err)
	}
	return &Envelope{Code: code, Payload: raw}, nil
}

// Number decodes the payload of a NUMBER envelope.
func (e *Envelope) Number() (*big.Int, error) {
	if err := e.expect(CodeNumber); err != nil {
		return nil, err
	}
	v := new(big.Int)
	if err := decMode.Unmarshal(e.Payload, v); err != nil {
		return nil, fmt.Errorf("%w: bad NUMBER payload: %w", errs.ErrProtocolViolation, err)
	}
	return v, nil
}

// Numbers decodes the (g, n) payload of a NUMBERS envelope.
func (e *Envelope) Numbers() (g, n *big.Int, err error) {
	if err := e.expect(CodeNumbers); err != nil {
		return nil, nil, err
	}
	var pair []*big.Int
	if err := decMode.Unmarshal(e.Payload, &pair); err != nil {
		return nil, nil, fmt.Errorf("%w: bad NUMBERS payload: %w", errs.ErrProtocolViolation, err)
	}
	if len(pair) != 2 || pair[0] == nil || pair[1] == nil {
		return nil, nil, fmt.Errorf("%w: NUMBERS needs exactly two values, got %d", errs.ErrProtocolViolation, len(pair))
	}
	return pair[0], pair[1], nil
}

// Text decodes the payload of a MESSAGE, ERROR or STATUS envelope.
func (e *Envelope) Text() (string, error) {
	if e == nil {
		return "", fmt.Errorf("%w: nil envelope", errs.ErrInvalidArgument)
	}
	switch e.Code {
	case CodeMessage, CodeError, CodeStatus:
	default:
		return "", fmt.Errorf("%w: %v does not carry text", errs.ErrProtocolViolation, e.Code)
	}
	var s string
	if err := decMode.Unmarshal(e.Payload, &s); err != nil {
		return "", fmt.Errorf("%w: bad %v payload: %w", errs.ErrProtocolViolation, e.Code, err)
	}
	return s, nil
}

func (e *Envelope) expect(code Code) error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", errs.ErrInvalidArgument)
	}
	if e.Code != code {
		return fmt.Errorf("%w: expected %v, got %v", errs.ErrProtocolViolation, code, e.Code)
	}
	return nil
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%v(%d bytes)", e.Code, len(e.Payload))
}
