package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"git.capy.fun/mockwebserver/mockserver"
)

// scriptedResponse is the JSON form of a mockserver.Response:
//
//	[{"status": 200, "headers": [["Content-Type", "text/plain"]], "body": "hi",
//	  "policy": "disconnect_at_end", "chunk_size": 0, "headers_delay": "1s"}]
type scriptedResponse struct {
	Status       int                     `json:"status"`
	Reason       string                  `json:"reason"`
	Headers      [][2]string             `json:"headers"`
	Body         string                  `json:"body"`
	Policy       mockserver.SocketPolicy `json:"policy"`
	ChunkSize    int                     `json:"chunk_size"`
	HeadersDelay duration                `json:"headers_delay"`
	BodyDelay    duration                `json:"body_delay"`
	InTunnel     bool                    `json:"in_tunnel"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (s scriptedResponse) response() *mockserver.Response {
	r := &mockserver.Response{
		Status:       s.Status,
		Reason:       s.Reason,
		Body:         []byte(s.Body),
		Policy:       s.Policy,
		ChunkSize:    s.ChunkSize,
		HeadersDelay: time.Duration(s.HeadersDelay),
		BodyDelay:    time.Duration(s.BodyDelay),
		InTunnel:     s.InTunnel,
	}
	for _, h := range s.Headers {
		r.AddHeader(h[0], h[1])
	}
	return r
}

func decodeResponses(r io.Reader) ([]*mockserver.Response, error) {
	var scripted []scriptedResponse
	if err := json.NewDecoder(r).Decode(&scripted); err != nil {
		return nil, fmt.Errorf("failed to decode responses: %w", err)
	}

	responses := make([]*mockserver.Response, 0, len(scripted))
	for _, s := range scripted {
		responses = append(responses, s.response())
	}
	return responses, nil
}

func loadResponses(path string) ([]*mockserver.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decodeResponses(f)
}
