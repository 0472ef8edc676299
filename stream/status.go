package stream

// ConnectionStatus is the transport state surfaced to the UI.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) String() string {
	return string(s)
}
