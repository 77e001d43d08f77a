// Package journal keeps a bounded, durable history of every primitive
// published on the bus in a JetStream stream.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// StreamName is the JetStream stream backing the journal.
const StreamName = "PRIMITIVES"

// Config bounds the journal.
type Config struct {
	MaxMsgs    int64
	MaxAge     time.Duration
	Duplicates time.Duration // dedup window keyed by Nats-Msg-Id
}

// Journal reads primitive history back out of JetStream.
type Journal struct {
	stream jetstream.Stream
	logger zerolog.Logger
}

// New creates or updates the journal stream.
func New(ctx context.Context, js jetstream.JetStream, cfg Config, logger zerolog.Logger) (*Journal, error) {
	sc := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "primitives dispatched to robots",
		Subjects:    []string{protocol.SubjectPrimitivesAll},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		MaxMsgs:     cfg.MaxMsgs,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.Duplicates,
	}
	if sc.MaxMsgs == 0 {
		sc.MaxMsgs = -1
	}

	stream, err := js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("create journal stream: %w", err)
	}

	j := &Journal{
		stream: stream,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	j.logger.Info().Int64("max_msgs", cfg.MaxMsgs).Dur("max_age", cfg.MaxAge).Msg("primitive journal ready")
	return j, nil
}

// Recent returns up to n of the newest journaled primitives, oldest first.
// Entries whose body no longer parses are skipped.
func (j *Journal) Recent(ctx context.Context, n int) ([]protocol.HistoryEntry, error) {
	entries := []protocol.HistoryEntry{}
	if n <= 0 {
		return entries, nil
	}

	info, err := j.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal info: %w", err)
	}
	state := info.State
	if state.Msgs == 0 {
		return entries, nil
	}

	// Walk backwards so gaps left by discarded messages don't shorten the page.
	var newest []protocol.HistoryEntry
	for seq := state.LastSeq; seq >= state.FirstSeq && seq > 0 && len(newest) < n; seq-- {
		raw, err := j.stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("journal get %d: %w", seq, err)
		}
		entry, err := toEntry(raw)
		if err != nil {
			j.logger.Warn().Err(err).Uint64("seq", seq).Msg("skipping unreadable journal entry")
			continue
		}
		newest = append(newest, entry)
	}

	for i := len(newest) - 1; i >= 0; i-- {
		entries = append(entries, newest[i])
	}
	return entries, nil
}

// Count returns the number of primitives currently retained.
func (j *Journal) Count(ctx context.Context) (uint64, error) {
	info, err := j.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal info: %w", err)
	}
	return info.State.Msgs, nil
}

func toEntry(raw *jetstream.RawStreamMsg) (protocol.HistoryEntry, error) {
	entry := protocol.HistoryEntry{
		Sequence:    raw.Sequence,
		Subject:     raw.Subject,
		PublishedAt: raw.Time,
	}
	if raw.Header != nil {
		entry.ID = raw.Header.Get(protocol.HeaderMsgID)
	}
	if err := json.Unmarshal(raw.Data, &entry.Message); err != nil {
		return entry, fmt.Errorf("decode journal body: %w", err)
	}
	return entry, nil
}
