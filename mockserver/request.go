package mockserver

import (
	"crypto/tls"
	"net/url"
	"time"
)

// RecordedRequest is a snapshot of one HTTP exchange taken when the request
// has been read completely. It is never mutated after it is logged.
type RecordedRequest struct {
	ID           string
	ConnectionID string
	// Sequence is the index of the request on its connection, starting at 0.
	Sequence int
	// ExchangeIndex is the index of the request across the whole server.
	ExchangeIndex int

	Method  string
	Target  string
	Version string
	URL     *url.URL
	Headers Headers
	Body    []byte

	// HandshakeServerNames are the SNI host names the client presented, in
	// the order of the server_name extension. Empty for plaintext
	// connections and for handshakes without SNI. The slice is shared by all
	// requests of a connection and must not be modified.
	HandshakeServerNames []string
	// TLS is nil for plaintext exchanges, including tunnel requests served
	// before the TLS upgrade.
	TLS *tls.ConnectionState

	ReceivedAt time.Time
}

func (r *RecordedRequest) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

func (r *RecordedRequest) Header(name string) string {
	return r.Headers.Get(name)
}

func (r *RecordedRequest) BodyString() string {
	return string(r.Body)
}

// HandshakeServerName returns the first SNI host name, or "" if none was sent.
func (r *RecordedRequest) HandshakeServerName() string {
	if len(r.HandshakeServerNames) == 0 {
		return ""
	}
	return r.HandshakeServerNames[0]
}

// NegotiatedProtocol returns the ALPN protocol agreed on during the handshake.
func (r *RecordedRequest) NegotiatedProtocol() string {
	if r.TLS == nil {
		return ""
	}
	return r.TLS.NegotiatedProtocol
}
