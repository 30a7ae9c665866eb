package mockserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordHeaderLen     = 5
	maxPlaintextLen     = 1 << 14
	recordTypeHandshake = 22
	typeClientHello     = 1
	extensionServerName = 0
	nameTypeHostName    = 0
)

var errHandshakeRefused = errors.New("handshake refused by socket policy")

// recordingConn keeps a copy of the first TLS record read from the client,
// which is the ClientHello for every well-behaved client.
type recordingConn struct {
	net.Conn
	hello     bytes.Buffer
	recording bool
}

func newRecordingConn(conn net.Conn) *recordingConn {
	return &recordingConn{Conn: conn, recording: true}
}

func (c *recordingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if c.recording && n > 0 {
		c.hello.Write(b[:n])
		buf := c.hello.Bytes()
		if len(buf) >= recordHeaderLen {
			recordLen := int(binary.BigEndian.Uint16(buf[3:5]))
			if len(buf) >= recordHeaderLen+recordLen || recordLen > maxPlaintextLen {
				c.recording = false
			}
		}
	}
	return n, err
}

func (c *recordingConn) clientHello() []byte {
	buf := c.hello.Bytes()
	if len(buf) < recordHeaderLen {
		return buf
	}
	if end := recordHeaderLen + int(binary.BigEndian.Uint16(buf[3:5])); end < len(buf) {
		return buf[:end]
	}
	return buf
}

type handshake struct {
	conn        *tls.Conn
	serverNames []string
}

// serverHandshake runs the server side of a TLS handshake on conn and records
// the SNI host names the client presented. The names are fixed while the
// ClientHello is processed, before the handshake completes.
func serverHandshake(ctx context.Context, conn net.Conn, base *tls.Config, timeout time.Duration, refuse bool) (*handshake, error) {
	rc := newRecordingConn(conn)
	hs := &handshake{serverNames: []string{}}

	config := base.Clone()
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{"http/1.1"}
	}
	next := base.GetConfigForClient
	config.GetConfigForClient = func(info *tls.ClientHelloInfo) (*tls.Config, error) {
		hs.serverNames = serverNames(rc.clientHello(), info.ServerName)
		rc.recording = false
		if refuse {
			return nil, errHandshakeRefused
		}
		if next != nil {
			return next(info)
		}
		return nil, nil
	}

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	hs.conn = tls.Server(rc, config)
	if err := hs.conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	// reset deadline to no deadline
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return hs, nil
}

// serverNames returns the host names of the server_name extension in the
// order the client listed them. When the record cannot be parsed, the name
// crypto/tls extracted is used instead.
func serverNames(record []byte, fallback string) []string {
	names, err := parseServerNames(record)
	if err != nil || (len(names) == 0 && fallback != "") {
		if fallback == "" {
			return []string{}
		}
		return []string{fallback}
	}
	return names
}

// parseServerNames extracts every host_name entry of the server_name
// extension from a ClientHello record. See RFC 6066, section 3.
func parseServerNames(record []byte) ([]string, error) {
	var (
		s             = cryptobyte.String(record)
		contentType   uint8
		legacyVersion uint16
		fragment      cryptobyte.String
	)
	if !s.ReadUint8(&contentType) || contentType != recordTypeHandshake {
		return nil, errors.New("not a handshake record")
	}
	if !s.ReadUint16(&legacyVersion) || !s.ReadUint16LengthPrefixed(&fragment) {
		return nil, errors.New("truncated record")
	}

	var (
		msgType uint8
		body    cryptobyte.String
	)
	if !fragment.ReadUint8(&msgType) || msgType != typeClientHello {
		return nil, errors.New("not a ClientHello")
	}
	if !fragment.ReadUint24LengthPrefixed(&body) {
		return nil, errors.New("ClientHello spans multiple records")
	}

	var sessionID, cipherSuites, compressionMethods cryptobyte.String
	if !body.Skip(2) || // legacy_version
		!body.Skip(32) || // random
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&cipherSuites) ||
		!body.ReadUint8LengthPrefixed(&compressionMethods) {
		return nil, errors.New("malformed ClientHello")
	}

	names := []string{}
	if body.Empty() {
		return names, nil
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return nil, errors.New("malformed extensions")
	}
	for !extensions.Empty() {
		var (
			extType uint16
			extData cryptobyte.String
		)
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, errors.New("malformed extension")
		}
		if extType != extensionServerName {
			continue
		}

		var list cryptobyte.String
		if !extData.ReadUint16LengthPrefixed(&list) || list.Empty() {
			return nil, errors.New("malformed server_name extension")
		}
		for !list.Empty() {
			var (
				nameType uint8
				name     cryptobyte.String
			)
			if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) || len(name) == 0 {
				return nil, errors.New("malformed server name entry")
			}
			if nameType == nameTypeHostName {
				names = append(names, string(name))
			}
		}
	}
	return names, nil
}
