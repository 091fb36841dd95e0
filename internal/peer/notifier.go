package peer

// Notifier is how a Session reports to whatever presents it to the user.
// Every method may be called from the session's receive goroutine and must
// not block or call back into the Session.
type Notifier interface {
	// NotifyUser shows an informational or error line.
	NotifyUser(text string)
	// NotifyStatus replaces the connection status text.
	NotifyStatus(text string)
	// NotifyProgress reports handshake progress from 0 to 1.
	NotifyProgress(fraction float64)
	// SetInputEnabled toggles the message input.
	SetInputEnabled(enabled bool)
	// SetHandshakeEnabled toggles the control that starts a handshake.
	SetHandshakeEnabled(enabled bool)
	// DeliverMessage shows a decrypted message from the other peer.
	DeliverMessage(text string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyUser(string)        {}
func (nopNotifier) NotifyStatus(string)      {}
func (nopNotifier) NotifyProgress(float64)   {}
func (nopNotifier) SetInputEnabled(bool)     {}
func (nopNotifier) SetHandshakeEnabled(bool) {}
func (nopNotifier) DeliverMessage(string)    {}
