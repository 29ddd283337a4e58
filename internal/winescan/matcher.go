package winescan

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// IdentityService resolves a batch of normalized queries. The returned slice
// may be shorter than the input (or empty); missing entries mean "no match".
type IdentityService interface {
	MatchNames(ctx context.Context, queries []string) ([]IdentityMatch, error)
}

type IdentityMatcher struct {
	svc       IdentityService
	chunkSize int
	log       zerolog.Logger
}

func NewIdentityMatcher(svc IdentityService, chunkSize int, log zerolog.Logger) *IdentityMatcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &IdentityMatcher{svc: svc, chunkSize: chunkSize, log: log}
}

// MatchBatch returns exactly one candidate per query, in query order. Chunks
// are sent one after another; the first failing chunk aborts the batch.
func (m *IdentityMatcher) MatchBatch(ctx context.Context, queries []string) ([]MatchCandidate, error) {
	normalized := make([]string, len(queries))
	for i, q := range queries {
		normalized[i] = NormalizeQuery(q)
	}

	raw := make([]IdentityMatch, 0, len(queries))
	for start := 0; start < len(normalized); start += m.chunkSize {
		end := min(start+m.chunkSize, len(normalized))
		chunk := normalized[start:end]
		res, err := m.svc.MatchNames(ctx, chunk)
		if err != nil {
			m.log.Error().Err(err).Int("chunk_start", start).Int("chunk_size", len(chunk)).Msg("winescan identity_chunk_failed")
			return nil, fmt.Errorf("%w: chunk %d-%d: %w", ErrIdentityService, start, end-1, err)
		}
		if len(res) < len(chunk) {
			m.log.Warn().Int("chunk_start", start).Int("expected", len(chunk)).Int("got", len(res)).Msg("winescan identity_chunk_short")
		}
		for i := range chunk {
			if i < len(res) {
				raw = append(raw, res[i])
			} else {
				raw = append(raw, IdentityMatch{})
			}
		}
	}

	out := make([]MatchCandidate, len(queries))
	for i, r := range raw {
		out[i] = candidateFromIdentity(normalized[i], r)
	}
	return out, nil
}

// candidateFromIdentity scores against the normalized query, the exact text
// the identity service matched, rather than the raw list text.
func candidateFromIdentity(query string, r IdentityMatch) MatchCandidate {
	c := MatchCandidate{
		LWIN:        r.LWIN,
		LWIN7:       r.LWIN7,
		DisplayName: r.DisplayName,
		Vintage:     r.Vintage,
		Varietal:    r.Varietal,
		Region:      r.Region,
	}
	c.Matched = c.HasIdentifier()
	if c.Matched {
		c.Confidence = ScoreConfidence(query, r.DisplayName)
		c.DataSource = DataSourceIdentity
	}
	return c
}
