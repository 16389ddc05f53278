package service

import (
	"context"
	"strings"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// ReaderRegistry maps inbound topics to registered readers.  The reader
// identifier is the topic with Prefix removed, trimmed, and otherwise used
// verbatim.
type ReaderRegistry struct {
	prefix string
}

func NewReaderRegistry(prefix string) *ReaderRegistry {
	return &ReaderRegistry{prefix: prefix}
}

// Identifier returns the reader identifier a topic refers to, or "" if the
// topic cannot name a reader.
func (r *ReaderRegistry) Identifier(topic string) string {
	if r.prefix != "" {
		rest, ok := strings.CutPrefix(topic, r.prefix)
		if !ok {
			return ""
		}
		topic = rest
	}
	return strings.TrimSpace(topic)
}

func (r *ReaderRegistry) Lookup(ctx context.Context, tx store.EventTx, topic string) (store.Reader, bool, error) {
	id := r.Identifier(topic)
	if id == "" {
		return store.Reader{}, false, nil
	}
	return tx.FindReader(ctx, id)
}
