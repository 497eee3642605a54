package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/transwacom/transwacomd/pkg/logging"
)

// sessionHistoryDB is the Redis logical database session records are
// mirrored into.
const sessionHistoryDB = 0

const sessionHistoryPrefix = "session_history|"

func sessionHistoryKey(id string) string {
	return sessionHistoryPrefix + id
}

// SessionRecord is the durable, crash-recovery view of one session: enough
// to answer "sessions list" from the mirror alone, without a live
// Supervisor to ask.
type SessionRecord struct {
	ID        string
	Peer      string
	PeerID    string
	Device    string
	Kind      string
	Role      string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   string
}

// SessionStore mirrors session lifecycle transitions to Redis: a thin
// wrapper around a *redis.Client plus a background context, one hash per
// record keyed by a pipe-separated "table|id" scheme.
type SessionStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewSessionStore builds a SessionStore against addr (e.g.
// "localhost:6379"). Connect must be called before use.
func NewSessionStore(addr string) *SessionStore {
	return &SessionStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: sessionHistoryDB}),
		ctx:    context.Background(),
	}
}

// Connect verifies the Redis connection is reachable.
func (st *SessionStore) Connect() error {
	if err := st.client.Ping(st.ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", st.client.Options().Addr, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (st *SessionStore) Close() error {
	return st.client.Close()
}

// Put mirrors a session record on a lifecycle transition (Streaming start
// or a terminal Closed). StartedAt, EndedAt and Outcome are written only
// when set, so a start-of-session Put and an end-of-session Put can each
// supply only the timestamps and outcome they know; Peer, PeerID, Device,
// Kind and Role are written on every Put, empty or not.
func (st *SessionStore) Put(rec SessionRecord) error {
	fields := map[string]interface{}{
		"peer":    rec.Peer,
		"peer_id": rec.PeerID,
		"device":  rec.Device,
		"kind":    rec.Kind,
		"role":    rec.Role,
	}
	if !rec.StartedAt.IsZero() {
		fields["started_at"] = rec.StartedAt.UTC().Format(time.RFC3339)
	}
	if !rec.EndedAt.IsZero() {
		fields["ended_at"] = rec.EndedAt.UTC().Format(time.RFC3339)
	}
	if rec.Outcome != "" {
		fields["outcome"] = rec.Outcome
	}
	if err := st.client.HSet(st.ctx, sessionHistoryKey(rec.ID), fields).Err(); err != nil {
		return fmt.Errorf("mirroring session %s: %w", rec.ID, err)
	}
	return nil
}

// List returns every mirrored session record, most recently started first.
func (st *SessionStore) List() ([]SessionRecord, error) {
	keys, err := st.client.Keys(st.ctx, sessionHistoryKey("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing session history: %w", err)
	}
	out := make([]SessionRecord, 0, len(keys))
	for _, k := range keys {
		fields, err := st.client.HGetAll(st.ctx, k).Result()
		if err != nil {
			logging.Warnf("supervisor: reading session history %s: %v", k, err)
			continue
		}
		rec := recordFromFields(fields)
		rec.ID = strings.TrimPrefix(k, sessionHistoryPrefix)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func recordFromFields(fields map[string]string) SessionRecord {
	rec := SessionRecord{
		Peer:    fields["peer"],
		PeerID:  fields["peer_id"],
		Device:  fields["device"],
		Kind:    fields["kind"],
		Role:    fields["role"],
		Outcome: fields["outcome"],
	}
	if t, err := time.Parse(time.RFC3339, fields["started_at"]); err == nil {
		rec.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fields["ended_at"]); err == nil {
		rec.EndedAt = t
	}
	return rec
}

// outcomeForReason renders a session.CloseReason as the mirror's
// "outcome" field, matching the vocabulary crash-recovery tooling expects
// ("closed", "refused", "error").
func outcomeForReason(reason string) string {
	switch reason {
	case "refused":
		return "refused"
	case "error":
		return "error"
	default:
		return "closed"
	}
}
