package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// Candidate is one way of asking for an ambiguous resource, typically the
// same list with different query parameters.
type Candidate struct {
	Name string
	Path string
}

// TelemetryScorer ranks list responses by how much live telemetry they carry.
// The weights are policy, not protocol; they are configurable.
type TelemetryScorer struct {
	NumericWeight int
	StringWeight  int
	RowWeight     int
	RateFields    []string
}

var defaultRateFields = []string{
	"usage.down_mbps",
	"usage.up_mbps",
	"usage.down",
	"usage.up",
	"connectivity.rx_rate_info.rate_mbps",
	"connectivity.tx_rate_info.rate_mbps",
	"connectivity.rx_bitrate",
	"connectivity.tx_bitrate",
	"connectivity.signal",
	"rx_rate",
	"tx_rate",
	"signal",
}

func DefaultScorer() TelemetryScorer {
	return TelemetryScorer{
		NumericWeight: 100,
		StringWeight:  10,
		RowWeight:     1,
		RateFields:    defaultRateFields,
	}
}

// NewScorer builds a scorer with the default rate fields and custom weights.
func NewScorer(numeric, str, row int) *TelemetryScorer {
	s := DefaultScorer()
	s.NumericWeight, s.StringWeight, s.RowWeight = numeric, str, row
	return &s
}

// Score adds NumericWeight for every numeric rate field, StringWeight for
// every non-empty string rate field and RowWeight per row.
func (s TelemetryScorer) Score(data interface{}) int {
	rows := utils.AsList(data)
	score := len(rows) * s.RowWeight
	for _, row := range rows {
		for _, path := range s.RateFields {
			raw, ok := utils.Lookup(row, path)
			if !ok {
				continue
			}
			switch v := raw.(type) {
			case json.Number, float64, int:
				score += s.NumericWeight
			case string:
				if strings.TrimSpace(v) != "" {
					score += s.StringWeight
				}
			}
		}
	}
	return score
}

// ProbeCandidates tries each candidate and keeps the response with the
// highest telemetry score; ties keep the earliest. The winning candidate is
// remembered per key so later refreshes call only it until the entry expires
// or the call fails.
func (f *Fetcher) ProbeCandidates(ctx context.Context, key string, candidates []Candidate) (interface{}, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates for %s", key)
	}

	if name, ok := f.winners.Get(key); ok {
		for _, c := range candidates {
			if c.Name != name {
				continue
			}
			data, err := f.Call(ctx, http.MethodGet, c.Path, nil, true)
			if err == nil {
				return data, nil
			}
			f.log.Debugf("cached candidate %s for %s failed, probing all: %v", name, key, err)
			f.winners.Delete(key)
			break
		}
	}

	var (
		best      interface{}
		bestName  string
		bestScore = -1
		errs      []error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := f.Call(ctx, http.MethodGet, c.Path, nil, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		if score := f.scorer.Score(data); score > bestScore {
			best, bestName, bestScore = data, c.Name, score
		}
	}

	if bestScore < 0 {
		return nil, stderrors.Join(errs...)
	}

	f.winners.Set(key, bestName)
	if f.metrics != nil {
		f.metrics.RecordCandidateScore(candidateResource(key), bestScore)
	}
	f.log.Debugf("candidate %s won for %s with score %d", bestName, key, bestScore)
	return best, nil
}

// candidateResource drops the network id from a cache key for metric labels.
func candidateResource(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}
