// Copyright 2025 Palisade Chain
//
// Topic-addressed message bus contract between subsystems, plus the
// in-process implementation the node binary and tests run on. Payloads are
// opaque bytes; delivery is at-least-once per subscriber.

package bus

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Topics exchanged between subsystems.
const (
	TopicRequestNewTx      = "jsonrpc.auth.new_tx"
	TopicRequestNewTxBatch = "jsonrpc.auth.new_tx_batch"
	TopicAuthResponse      = "auth.jsonrpc.response"
	TopicBlockTxs          = "auth.consensus.block_txs"
	TopicSignedProposal    = "consensus.signed_proposal"
	TopicVote              = "consensus.raw_bytes"
	TopicStatus            = "chain.status"
	TopicBlockTxHashes     = "chain.auth.block_tx_hashes"
	TopicBlockTxHashesReq  = "auth.chain.block_tx_hashes_req"
	TopicSyncRequest       = "synchronizer.net.sync_request"
	TopicSyncResponse      = "synchronizer.net.sync_response"
	TopicFinalizedBlock    = "consensus.chain.finalized_block"
	TopicSnapshotReq       = "snapshot.req"
	TopicSnapshotResp      = "snapshot.resp"
)

// Message is one delivered envelope. ID correlates requests and responses.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Bus is the transport contract. Implementations must not block publishers
// on slow subscribers.
type Bus interface {
	Publish(topic string, payload []byte) string
	PublishWithID(id, topic string, payload []byte)
	Subscribe(topic string) (<-chan Message, func())
}

var ErrBusClosed = errors.New("bus closed")

const subscriberBuffer = 1024

// InProc is the in-process bus: per-topic subscriber lists with buffered
// channels. A subscriber that falls behind loses messages with a warning —
// at-least-once holds only for keeping-up consumers, matching the external
// transport's behavior under backpressure.
type InProc struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	closed bool
}

// NewInProc creates an empty in-process bus.
func NewInProc() *InProc {
	return &InProc{subs: make(map[string][]chan Message)}
}

// Publish sends payload to every current subscriber of topic and returns the
// generated correlation id.
func (b *InProc) Publish(topic string, payload []byte) string {
	id := uuid.NewString()
	b.PublishWithID(id, topic, payload)
	return id
}

// PublishWithID sends with a caller-chosen correlation id (responses echo
// the request id).
func (b *InProc) PublishWithID(id, topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	msg := Message{ID: id, Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] dropping message on %s: subscriber backlog full", topic)
		}
	}
}

// Subscribe registers a consumer for topic. The cancel function detaches it
// and closes the channel.
func (b *InProc) Subscribe(topic string) (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, c := range list {
			if c == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Close detaches every subscriber.
func (b *InProc) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, ch := range list {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan Message)
}
