package mockserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SocketPolicy controls what happens to the connection around a response.
type SocketPolicy int

const (
	// KeepOpen serves the response and keeps reading requests.
	KeepOpen SocketPolicy = iota
	// DisconnectAtEnd closes the connection after the response is written.
	DisconnectAtEnd
	// DisconnectAfterRequest reads the request and closes without responding.
	DisconnectAfterRequest
	// NoResponse reads the request and then holds the connection until Stop.
	NoResponse
	// DisconnectAtStart closes the connection as soon as it is accepted.
	DisconnectAtStart
	// FailHandshake aborts the TLS handshake.
	FailHandshake
)

var socketPolicyNames = map[SocketPolicy]string{
	KeepOpen:               "keep_open",
	DisconnectAtEnd:        "disconnect_at_end",
	DisconnectAfterRequest: "disconnect_after_request",
	NoResponse:             "no_response",
	DisconnectAtStart:      "disconnect_at_start",
	FailHandshake:          "fail_handshake",
}

func (p SocketPolicy) String() string {
	if name, ok := socketPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("SocketPolicy(%d)", int(p))
}

func (p *SocketPolicy) UnmarshalText(text []byte) error {
	for policy, name := range socketPolicyNames {
		if strings.EqualFold(name, string(text)) {
			*p = policy
			return nil
		}
	}
	return fmt.Errorf("unknown socket policy %q", text)
}

// Response is a scripted response. The zero value is an empty 200 OK.
type Response struct {
	Status  int
	Reason  string
	Headers Headers
	Body    []byte

	Policy SocketPolicy
	// ChunkSize > 0 sends the body with chunked transfer coding.
	ChunkSize    int
	HeadersDelay time.Duration
	BodyDelay    time.Duration
	// InTunnel marks a response served in plaintext on a TLS server before the
	// connection is upgraded, the way an HTTPS proxy answers CONNECT.
	InTunnel bool
}

// NewResponse returns a response with the given status and body.
func NewResponse(status int, body string) *Response {
	return &Response{Status: status, Body: []byte(body)}
}

func (r *Response) AddHeader(name, value string) *Response {
	r.Headers = r.Headers.Add(name, value)
	return r
}

func (r *Response) SetHeader(name, value string) *Response {
	r.Headers = r.Headers.Set(name, value)
	return r
}

func (r *Response) statusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

func (r *Response) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	if text := http.StatusText(r.statusCode()); text != "" {
		return text
	}
	return "Mock Response"
}

func (r *Response) closesConnection() bool {
	return r.Policy == DisconnectAtEnd || r.Headers.hasToken("Connection", "close")
}
