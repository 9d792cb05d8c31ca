// Durable, deduplicated queue of submission identifiers waiting for moderation.
//
// A submission is deduplicated by the MD5 hex digest of its identifier: while a message for a submission is queued or in flight, publishing the same submission again is a no-op. Acknowledging a message releases its dedup key; requeueing keeps it.
package queue

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrClosed = errors.New("queue closed")

// Message payload. On the wire it is either JSON (`{"id": "abc", "filtered": true}`) or a bare submission ID.
type Envelope struct {
	ID string `json:"id"`
	// submission was caught by the platform's own filter, and shows as removed
	Filtered bool `json:"filtered,omitempty"`
}

func (e Envelope) Encode() []byte {
	b, _ := json.Marshal(e)
	return b
}

func ParseEnvelope(payload []byte) (Envelope, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return Envelope{}, fmt.Errorf("parsing message envelope: %w", err)
		}
		env.ID = strings.TrimSpace(env.ID)
		if env.ID == "" {
			return Envelope{}, fmt.Errorf("message envelope without submission id")
		}
		return env, nil
	}
	if len(payload) == 0 {
		return Envelope{}, fmt.Errorf("empty message")
	}
	return Envelope{ID: string(payload)}, nil
}

// Hex MD5 digest of the submission ID.
func DedupKey(id string) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

type Message struct {
	Envelope
	// implementation-specific delivery handle
	Receipt string
	// number of times the message was requeued before this delivery
	Attempt int
}

type Queue interface {
	// Enqueues a submission, returning false if it was already queued or in flight.
	Publish(ctx context.Context, env Envelope) (bool, error)
	// Blocks until a message is available, the context is done, or the queue is closed (ErrClosed).
	Receive(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	// Returns the message to the back of the queue for redelivery.
	Requeue(ctx context.Context, msg *Message) error
	Close() error
}
