// Package config loads the JSON multicast configuration file described in
// the wire spec: global incremental A/B feeds, a security-definition feed,
// a snapshot feed, per-channel feeds, and the server's timing parameters.
package config

import (
	"encoding/json"
	"net"
	"os"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// ChannelFeed describes one multicast destination for a channel's A or B
// leg.
type ChannelFeed struct {
	ChannelID    int      `json:"channel_id"`
	MulticastIP  string   `json:"multicast_ip"`
	Port         uint16   `json:"port"`
	InterfaceIP  string   `json:"interface_ip"`
	Description  string   `json:"description"`
	Instruments  []string `json:"instruments"`
}

// MulticastConfig is the root shape of config/reuters_config.json.
type MulticastConfig struct {
	IncrementalFeedA      ChannelFeed   `json:"incremental_feed_a"`
	IncrementalFeedB      ChannelFeed   `json:"incremental_feed_b"`
	SecurityDefinitionFeed ChannelFeed  `json:"security_definition_feed"`
	SnapshotFeed          ChannelFeed   `json:"snapshot_feed"`
	ChannelFeedsA         []ChannelFeed `json:"channel_feeds_a"`
	ChannelFeedsB         []ChannelFeed `json:"channel_feeds_b"`

	IncrementalIntervalMS    uint32 `json:"incremental_interval_ms"`
	SnapshotIntervalSeconds  uint32 `json:"snapshot_interval_seconds"`
	HeartbeatIntervalSeconds uint32 `json:"heartbeat_interval_seconds"`
	ConflationIntervalMS     uint32 `json:"conflation_interval_ms"`
	BookDepth                uint32 `json:"book_depth"`

	// AsyncDispatch routes incremental publishes through a dedicated
	// sender-goroutine-per-channel queue instead of sending inline from the
	// tick loop. Off by default, matching the original server's synchronous
	// send path.
	AsyncDispatch bool `json:"async_dispatch"`
}

// Default returns the hardcoded configuration the original server falls
// back to when no config file is reachable, so the server can always start.
func Default() *MulticastConfig {
	return &MulticastConfig{
		IncrementalFeedA: ChannelFeed{MulticastIP: "239.100.1.1", Port: 15001, InterfaceIP: "0.0.0.0"},
		IncrementalFeedB: ChannelFeed{MulticastIP: "239.100.1.2", Port: 15002, InterfaceIP: "0.0.0.0"},
		SecurityDefinitionFeed: ChannelFeed{MulticastIP: "239.100.1.10", Port: 15010, InterfaceIP: "0.0.0.0"},
		SnapshotFeed:          ChannelFeed{MulticastIP: "239.100.1.20", Port: 15020, InterfaceIP: "0.0.0.0"},
		ChannelFeedsA: []ChannelFeed{
			{ChannelID: 1, MulticastIP: "239.100.2.1", Port: 15101, InterfaceIP: "0.0.0.0", Instruments: []string{"EURUSD", "GBPUSD", "USDJPY", "USDCHF"}},
			{ChannelID: 2, MulticastIP: "239.100.3.1", Port: 15201, InterfaceIP: "0.0.0.0", Instruments: []string{"AUDUSD", "NZDUSD", "USDCAD"}},
		},
		ChannelFeedsB: []ChannelFeed{
			{ChannelID: 1, MulticastIP: "239.100.2.2", Port: 15102, InterfaceIP: "0.0.0.0", Instruments: []string{"EURUSD", "GBPUSD", "USDJPY", "USDCHF"}},
			{ChannelID: 2, MulticastIP: "239.100.3.2", Port: 15202, InterfaceIP: "0.0.0.0", Instruments: []string{"AUDUSD", "NZDUSD", "USDCAD"}},
		},
		IncrementalIntervalMS:    100,
		SnapshotIntervalSeconds:  60,
		HeartbeatIntervalSeconds: 30,
		BookDepth:                10,
	}
}

// Load reads and validates the JSON config at path. Unknown fields are
// ignored. A file that cannot be opened is not fatal: Load returns
// Default() and no error, per the original server's behavior. A malformed
// file IS fatal (ErrConfigInvalid), and so is one that fails Validate
// (Validate's error is returned as is).
func Load(path string) (*MulticastConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), nil
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid, "failed to parse config file "+path)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the config-level invariants: channel ids are unique
// within each feed list (A and B each carry one entry per channel, its two
// redundant legs) and every multicast address is within 224.0.0.0/4.
func Validate(cfg *MulticastConfig) error {
	for _, list := range [][]ChannelFeed{cfg.ChannelFeedsA, cfg.ChannelFeedsB} {
		seen := make(map[int]bool)
		for _, ch := range list {
			if seen[ch.ChannelID] {
				return apperrors.Newf(apperrors.ErrConfigDuplicateID, "duplicate channel id %d", ch.ChannelID)
			}
			seen[ch.ChannelID] = true
			if !isMulticastAddress(ch.MulticastIP) {
				return apperrors.Newf(apperrors.ErrConfigBadMulticast, "address %q for channel %d is not in 224.0.0.0/4", ch.MulticastIP, ch.ChannelID)
			}
		}
	}

	for _, feed := range []ChannelFeed{cfg.IncrementalFeedA, cfg.IncrementalFeedB, cfg.SecurityDefinitionFeed, cfg.SnapshotFeed} {
		if feed.MulticastIP != "" && !isMulticastAddress(feed.MulticastIP) {
			return apperrors.Newf(apperrors.ErrConfigBadMulticast, "address %q is not in 224.0.0.0/4", feed.MulticastIP)
		}
	}
	return nil
}

func isMulticastAddress(ip string) bool {
	if ip == "" {
		return false
	}
	addr := net.ParseIP(ip)
	return addr != nil && addr.IsMulticast()
}
