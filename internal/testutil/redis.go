//go:build integration || e2e

package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the Redis instance integration tests
// should use, overridable via TRANSWACOM_TEST_REDIS_ADDR.
func RedisAddr() string {
	if addr := os.Getenv("TRANSWACOM_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// SeedPath resolves a fixture file under internal/testutil/testdata.
func SeedPath(name string) string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return filepath.Join("testdata", name)
	}
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

// historyDB is the Redis logical database used for session history snapshots.
const historyDB = 0

// SeedSessionHistory loads a JSON seed file of session records into the
// history database. The JSON format is a map of session ID to field map,
// matching the hash layout WriteSessionRecord writes.
func SeedSessionHistory(t *testing.T, addr, seedFile string) {
	t.Helper()

	data, err := os.ReadFile(seedFile)
	if err != nil {
		t.Fatalf("reading seed file %s: %v", seedFile, err)
	}

	var records map[string]map[string]string
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("parsing seed file %s: %v", seedFile, err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	ctx := context.Background()
	for sessionID, fields := range records {
		if len(fields) == 0 {
			continue
		}
		args := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		key := "session_history|" + sessionID
		if err := client.HSet(ctx, key, args...).Err(); err != nil {
			t.Fatalf("seeding %s: %v", key, err)
		}
	}
}

// FlushHistoryDB flushes the session history database.
func FlushHistoryDB(t *testing.T, addr string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing history DB: %v", err)
	}
}

// SetupSessionHistoryDB flushes and seeds the session history database from
// sessions.json in testdata.
func SetupSessionHistoryDB(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	FlushHistoryDB(t, addr)
	SeedSessionHistory(t, addr, SeedPath("sessions.json"))
}

// WriteSessionRecord writes a single session history hash entry.
func WriteSessionRecord(t *testing.T, addr, sessionID string, fields map[string]string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	key := "session_history|" + sessionID
	if err := client.HSet(context.Background(), key, args...).Err(); err != nil {
		t.Fatalf("writing %s: %v", key, err)
	}
}

// DeleteSessionRecord removes a session history entry.
func DeleteSessionRecord(t *testing.T, addr, sessionID string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	key := "session_history|" + sessionID
	if err := client.Del(context.Background(), key).Err(); err != nil {
		t.Fatalf("deleting %s: %v", key, err)
	}
}

// ReadSessionRecord reads a session history hash entry.
func ReadSessionRecord(t *testing.T, addr, sessionID string) map[string]string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	key := "session_history|" + sessionID
	vals, err := client.HGetAll(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", key, err)
	}
	return vals
}

// SessionRecordExists checks whether a session history entry exists.
func SessionRecordExists(t *testing.T, addr, sessionID string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: historyDB})
	defer client.Close()

	key := "session_history|" + sessionID
	n, err := client.Exists(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", key, err)
	}
	return n > 0
}
