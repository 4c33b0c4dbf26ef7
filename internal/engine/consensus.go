package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Consensus fetching for endpoints that are not stable across calls.
// The Bilibili subtitle CDN can return content belonging to a different
// video for the exact same URL (a caching/sharding defect on their side).
// This is noise, not a transient error: the fix is to fetch repeatedly,
// fingerprint each response, and trust only the majority.

// ErrFetchExhausted means every attempt in the budget failed at the
// transport level — no payload was ever observed.
var ErrFetchExhausted = errors.New("all fetch attempts failed")

// Ballot is one fingerprinted observation from a single attempt.
// Key identifies the sub-resource the payload belongs to (e.g. a subtitle
// language code); a single-resource fetch uses the empty key.
type Ballot[T any] struct {
	Key         string
	Fingerprint string
	Payload     T
	Preview     string
}

// Verdict is the majority outcome for one Key after the attempt budget.
// Verified is true when the winning fingerprint recurred at least
// Threshold times; otherwise the payload is best-effort and Agreement
// tells the caller exactly how thin the evidence is.
type Verdict[T any] struct {
	Key       string
	Payload   T
	Preview   string
	Agreement int
	Attempts  int // attempts that produced a ballot for this key
	Verified  bool
}

// ConsensusConfig parameterizes a consensus run.
type ConsensusConfig struct {
	Budget    int           // max attempts
	Threshold int           // agreements needed for a verified verdict
	Stagger   time.Duration // minimum spacing between attempt dispatches
	EarlyStop bool          // stop once every observed key is verified
}

type voteGroup[T any] struct {
	payload   T
	preview   string
	count     int
	firstSeen int // attempt index, tie-breaker
}

// Converge runs fetch up to cfg.Budget times and tallies the returned
// ballots per (Key, Fingerprint). Attempts are spaced by at least
// cfg.Stagger so consecutive requests have a chance of landing on
// different backend shards — fixed spacing on purpose, exponential
// backoff would defeat the sampling.
//
// A fetch error is logged and consumes budget without casting a ballot.
// An attempt may legitimately return zero ballots (e.g. an empty body);
// that also just consumes budget. Converge fails only when every single
// attempt errored, with ErrFetchExhausted.
func Converge[T any](ctx context.Context, cfg ConsensusConfig, fetch func(ctx context.Context, attempt int) ([]Ballot[T], error)) ([]Verdict[T], error) {
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("consensus budget must be positive, got %d", cfg.Budget)
	}

	var limiter *rate.Limiter
	if cfg.Stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Stagger), 1)
	}

	votes := make(map[string]map[string]*voteGroup[T]) // key → fingerprint → group
	attemptsPerKey := make(map[string]int)
	failures := 0

	for attempt := 0; attempt < cfg.Budget; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		IncrConsensusAttempt()
		ballots, err := fetch(ctx, attempt)
		if err != nil {
			failures++
			slog.Warn("consensus: attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Int("budget", cfg.Budget),
				slog.Any("error", err))
			continue
		}

		seen := make(map[string]bool, len(ballots))
		for _, b := range ballots {
			groups, ok := votes[b.Key]
			if !ok {
				groups = make(map[string]*voteGroup[T])
				votes[b.Key] = groups
			}
			g, ok := groups[b.Fingerprint]
			if !ok {
				g = &voteGroup[T]{payload: b.Payload, preview: b.Preview, firstSeen: attempt}
				groups[b.Fingerprint] = g
			}
			g.count++
			if !seen[b.Key] {
				attemptsPerKey[b.Key]++
				seen[b.Key] = true
			}
		}

		if cfg.EarlyStop && len(votes) > 0 && allVerified(votes, cfg.Threshold) {
			slog.Debug("consensus: majority reached",
				slog.Int("attempts", attempt+1))
			break
		}
	}

	if failures == cfg.Budget {
		IncrConsensusExhausted()
		return nil, fmt.Errorf("%w (%d attempts)", ErrFetchExhausted, cfg.Budget)
	}

	verdicts := make([]Verdict[T], 0, len(votes))
	for key, groups := range votes {
		best := majority(groups)
		v := Verdict[T]{
			Key:       key,
			Payload:   best.payload,
			Preview:   best.preview,
			Agreement: best.count,
			Attempts:  attemptsPerKey[key],
			Verified:  best.count >= cfg.Threshold,
		}
		if v.Verified {
			IncrConsensusVerified()
		} else {
			IncrConsensusLowConf()
		}
		verdicts = append(verdicts, v)
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].Key < verdicts[j].Key })
	return verdicts, nil
}

func allVerified[T any](votes map[string]map[string]*voteGroup[T], threshold int) bool {
	for _, groups := range votes {
		if majority(groups).count < threshold {
			return false
		}
	}
	return true
}

// majority picks the largest group; ties go to the earliest-observed one.
func majority[T any](groups map[string]*voteGroup[T]) *voteGroup[T] {
	var best *voteGroup[T]
	for _, g := range groups {
		if best == nil || g.count > best.count || (g.count == best.count && g.firstSeen < best.firstSeen) {
			best = g
		}
	}
	return best
}

// Fingerprint hashes a bounded prefix of a payload's content lines — the
// first ≤10 entries joined with "|||". Comparing full payloads would be
// both wasteful and brittle against trailing nondeterminism; the prefix is
// plenty to tell two different videos' subtitles apart.
func Fingerprint(lines []string) string {
	if len(lines) > 10 {
		lines = lines[:10]
	}
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += "|||"
		}
		joined += l
	}
	sum := md5.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}
