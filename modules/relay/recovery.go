package relay

import (
	"context"
	"fmt"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/example/chat-relay/events"
)

// replayPageSize bounds one messages-since reply. A page of messages at the
// content limit stays under the 1 MB NATS payload limit even when every byte
// is JSON-escaped.
const replayPageSize = 25

// recoverFeed replays the feed messages newer than the client offset to conn
// only, in id order, one page at a time. It returns the highest id the client
// now has. Clients dedupe replayed messages by their own tokens.
func (h *Handler) recoverFeed(ctx context.Context, conn Conn, hs Handshake) (int64, error) {
	offset := max(hs.Offset, 0)
	if hs.Recovered {
		return offset, nil
	}

	replayed := 0
	for {
		messages, err := h.store.MessagesSince(ctx, domain.FeedRoom, offset, h.replayPage)
		if err != nil {
			return offset, err
		}
		for _, m := range messages {
			payload := events.ChatPayload{User: m.Author, Text: m.Content}
			if err := conn.Emit(events.ChatMessage, payload, m.ID); err != nil {
				return offset, fmt.Errorf("replay stopped at message %d: %w", m.ID, err)
			}
			offset = m.ID
		}
		replayed += len(messages)
		if len(messages) < h.replayPage {
			break
		}
	}

	if replayed > 0 {
		h.logger.Debug("Replayed feed", "handle", conn.Handle(), "offset", hs.Offset, "count", replayed)
	}
	return offset, nil
}
