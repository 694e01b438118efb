package broadcast

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes traffic updates as JSON to a NATS subject. Dashboard
// frontends (or any other consumer) subscribe to the subject for live data.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server and returns a ready sink.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Printf("[broadcast] connected to NATS at %s, subject %q", url, subject)
	return &NATSSink{nc: nc, subject: subject}, nil
}

// Publish serializes the update and hands it to NATS. NATS publishes are
// buffered client-side, so this does not wait on the wire.
func (s *NATSSink) Publish(u *Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.nc.Publish(s.subject, data)
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
		log.Printf("[broadcast] NATS connection drained and closed")
	}
}
