package config

import (
	"encoding/json"
	"log/slog"

	"github.com/mholloway/tideline/pkg/util"
)

type Config struct {
	ValkeyAddress    string
	ValkeyTLSEnabled bool

	// Instance endpoints. The streaming URL defaults to the REST host's
	// standard streaming path when unset.
	APIBaseURL string
	StreamURL  string

	// Bearer token for the instance API. Obtaining the token is the
	// auth layer's problem; we only attach it to requests. Excluded
	// from the debug dump below.
	AccessToken string `json:"-"`

	// Account identity, part of every cache key so that records from
	// different logins never collide.
	Account string

	// Timelines to open, e.g. "home", "public:local".
	Feeds []string

	ServerPort string

	// FeedCap bounds both the in-memory list and the persisted snapshot.
	FeedCap   int
	PageLimit int
}

func New() (Config, error) {
	result := Config{
		ValkeyAddress:    util.GetEnvStr("VALKEY_ADDRESS", "127.0.0.1:6379"),
		ValkeyTLSEnabled: util.GetEnvBool("VALKEY_TLS_ENABLED", false),
		APIBaseURL:       util.GetEnvStr("API_BASE_URL", "https://mastodon.social"),
		StreamURL:        util.GetEnvStr("STREAM_URL", "wss://mastodon.social/api/v1/streaming"),
		AccessToken:      util.GetEnvStr("ACCESS_TOKEN", ""),
		Account:          util.GetEnvStr("ACCOUNT", "anon"),
		Feeds:            util.GetEnvList("FEEDS", []string{"home"}),
		ServerPort:       util.GetEnvStr("SERVER_PORT", "8080"),
		FeedCap:          util.GetEnvInt("FEED_CAP", 800),
		PageLimit:        util.GetEnvInt("PAGE_LIMIT", 40),
	}

	// Marshal to JSON and print if debug is enabled
	data, err := json.Marshal(result)
	if err != nil {
		slog.Warn(util.WrapErr("failed to marshal config", err).Error())
	}
	slog.Debug("generated config", "config", string(data))

	return result, nil
}
