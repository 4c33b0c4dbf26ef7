package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	SearchRequests     atomic.Int64
	VideoInfoRequests  atomic.Int64
	SubtitleRequests   atomic.Int64
	KeyFetches         atomic.Int64
	KeyFetchErrors     atomic.Int64
	SignDegraded       atomic.Int64
	ConsensusAttempts  atomic.Int64
	ConsensusVerified  atomic.Int64
	ConsensusLowConf   atomic.Int64
	ConsensusExhausted atomic.Int64
}

func IncrSearch()             { metrics.SearchRequests.Add(1) }
func IncrVideoInfo()          { metrics.VideoInfoRequests.Add(1) }
func IncrSubtitle()           { metrics.SubtitleRequests.Add(1) }
func IncrKeyFetch()           { metrics.KeyFetches.Add(1) }
func IncrKeyFetchError()      { metrics.KeyFetchErrors.Add(1) }
func IncrSignDegraded()       { metrics.SignDegraded.Add(1) }
func IncrConsensusAttempt()   { metrics.ConsensusAttempts.Add(1) }
func IncrConsensusVerified()  { metrics.ConsensusVerified.Add(1) }
func IncrConsensusLowConf()   { metrics.ConsensusLowConf.Add(1) }
func IncrConsensusExhausted() { metrics.ConsensusExhausted.Add(1) }

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"search_requests":     metrics.SearchRequests.Load(),
		"video_info_requests": metrics.VideoInfoRequests.Load(),
		"subtitle_requests":   metrics.SubtitleRequests.Load(),
		"wbi_key_fetches":     metrics.KeyFetches.Load(),
		"wbi_key_errors":      metrics.KeyFetchErrors.Load(),
		"sign_degraded":       metrics.SignDegraded.Load(),
		"consensus_attempts":  metrics.ConsensusAttempts.Load(),
		"consensus_verified":  metrics.ConsensusVerified.Load(),
		"consensus_low_conf":  metrics.ConsensusLowConf.Load(),
		"consensus_exhausted": metrics.ConsensusExhausted.Load(),
		"cache_hits":          hits,
		"cache_misses":        misses,
	}
}

// FormatMetrics returns metrics as a simple text format for the HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	keys := []string{
		"search_requests", "video_info_requests", "subtitle_requests",
		"wbi_key_fetches", "wbi_key_errors", "sign_degraded",
		"consensus_attempts", "consensus_verified", "consensus_low_conf",
		"consensus_exhausted", "cache_hits", "cache_misses",
	}
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}
