package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/mholloway/tideline/pkg/config"
	"github.com/mholloway/tideline/pkg/util"
	"github.com/valkey-io/valkey-go"
	"github.com/vmihailenco/msgpack/v5"
)

// TTLSeconds bounds how long a snapshot survives without a save. A
// stale snapshot is only a slower cold start, never a correctness
// problem; the network path is authoritative.
const TTLSeconds = 604800 // 7 days

type Valkey struct {
	client valkey.Client
	cap    int
}

// New creates a new Valkey-backed store.
func New(cfg config.Config) (Valkey, error) {
	var tlsConfig *tls.Config // nil by default
	if cfg.ValkeyTLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: false, // Validate the server's certificate
		}
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddress},
		TLSConfig:   tlsConfig,
	})
	if err != nil {
		return Valkey{}, util.WrapErr("failed to create valkey client", err)
	}

	return Valkey{client: client, cap: cfg.FeedCap}, nil
}

// Load reads the snapshot for a feed key. Any failure (absent key,
// engine error, decode error, schema drift) degrades to a miss; the
// cache is an optimization, not a dependency.
func (v Valkey) Load(feedKey string) (Record, bool) {
	cmd := v.client.B().Get().Key(recordKey(feedKey)).Build()
	resp := v.client.Do(context.Background(), cmd)
	if err := resp.Error(); err != nil {
		if err != valkey.Nil {
			slog.Warn(util.WrapErr("failed to load cached feed", err).Error(), "feed_key", feedKey)
		}
		return Record{}, false
	}

	bytes, err := resp.AsBytes()
	if err != nil {
		slog.Warn(util.WrapErr("failed to convert response to bytes", err).Error(), "feed_key", feedKey)
		return Record{}, false
	}

	var record Record
	if err := msgpack.Unmarshal(bytes, &record); err != nil {
		slog.Warn(util.WrapErr("failed to unmarshal cached feed", err).Error(), "feed_key", feedKey)
		return Record{}, false
	}
	if record.Schema != Schema {
		slog.Debug("discarding cached feed with stale schema", "feed_key", feedKey, "schema", record.Schema)
		return Record{}, false
	}

	return record, true
}

// Save overwrites the snapshot for a feed key, truncating to the
// retention cap first. Per-key atomicity comes from the engine's SET;
// concurrent writes to different keys never touch each other.
func (v Valkey) Save(feedKey string, record Record) error {
	record.Schema = Schema
	record = record.Truncate(v.cap)

	bytes, err := msgpack.Marshal(record)
	if err != nil {
		return util.WrapErr("failed to marshal record", err)
	}

	cmd := v.client.B().Set().Key(recordKey(feedKey)).Value(string(bytes)).Ex(time.Second * TTLSeconds).Build()
	if err := v.client.Do(context.Background(), cmd).Error(); err != nil {
		return util.WrapErr("failed to set key", err)
	}

	return nil
}

// Delete removes the snapshot for a feed key. Used when a feed view is
// torn down for good (logout, filter change to a new key).
func (v Valkey) Delete(feedKey string) error {
	cmd := v.client.B().Del().Key(recordKey(feedKey)).Build()
	if err := v.client.Do(context.Background(), cmd).Error(); err != nil {
		return util.WrapErr("failed to delete key", err)
	}
	return nil
}

func (v Valkey) Close() {
	v.client.Close()
}

func recordKey(feedKey string) string {
	return fmt.Sprintf("timeline:%s", util.Hash(feedKey))
}
