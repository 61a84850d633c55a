package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFixture(t *testing.T, raw string) interface{} {
	t.Helper()
	v, err := decodeJSON([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestScorerPrefersNumericTelemetry(t *testing.T) {
	s := DefaultScorer()

	numeric := decodeFixture(t, `[{"usage":{"down_mbps":1.5,"up_mbps":0.2}}]`)
	stringy := decodeFixture(t, `[{"usage":{"down_mbps":"1.5 Mbps"}},{"name":"a"},{"name":"b"}]`)
	bare := decodeFixture(t, `[{"name":"a"},{"name":"b"},{"name":"c"}]`)

	assert.Equal(t, 201, s.Score(numeric))
	assert.Equal(t, 13, s.Score(stringy))
	assert.Equal(t, 3, s.Score(bare))
	assert.Equal(t, 0, s.Score(nil))
}

func TestScorerWeightsAreConfigurable(t *testing.T) {
	s := NewScorer(0, 0, 5)
	assert.Equal(t, 10, s.Score(decodeFixture(t, `[{"usage":{"down_mbps":1}},{}]`)))
}

func TestProbeCandidatesPicksRichestAndCaches(t *testing.T) {
	var plainHits, richHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/2.2/networks/1/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("thread") == "true" {
			atomic.AddInt32(&richHits, 1)
			writeJSON(w, 200, map[string]interface{}{
				"meta": map[string]interface{}{"code": 200},
				"data": []interface{}{map[string]interface{}{"mac": "aa:bb:cc:dd:ee:ff", "usage": map[string]interface{}{"down_mbps": json.Number("12")}}},
			})
			return
		}
		atomic.AddInt32(&plainHits, 1)
		writeJSON(w, 200, map[string]interface{}{
			"meta": map[string]interface{}{"code": 200},
			"data": []interface{}{map[string]interface{}{"mac": "aa:bb:cc:dd:ee:ff"}, map[string]interface{}{"mac": "11:22:33:44:55:66"}},
		})
	})
	f, _ := newTestFetcher(t, mux, "tok")
	candidates := []Candidate{
		{Name: "plain", Path: "/networks/1/devices"},
		{Name: "thread", Path: "/networks/1/devices?thread=true"},
	}

	data, err := f.ProbeCandidates(context.Background(), "network_1:devices", candidates)
	require.NoError(t, err)
	assert.Len(t, data.([]interface{}), 1)

	_, err = f.ProbeCandidates(context.Background(), "network_1:devices", candidates)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&plainHits))
	assert.Equal(t, int32(2), atomic.LoadInt32(&richHits))
}

func TestProbeCandidatesToleratesFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2.2/a", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/2.2/b", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"meta": map[string]interface{}{}, "data": []interface{}{}})
	})
	f, _ := newTestFetcher(t, mux, "tok")

	data, err := f.ProbeCandidates(context.Background(), "k", []Candidate{{Name: "a", Path: "/a"}, {Name: "b", Path: "/b"}})
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = f.ProbeCandidates(context.Background(), "k2", []Candidate{{Name: "a", Path: "/a"}})
	assert.Error(t, err)

	_, err = f.ProbeCandidates(context.Background(), "k3", nil)
	assert.Error(t, err)
}

func TestMergeDetailKeepsKnownValues(t *testing.T) {
	existing := decodeFixture(t, `{"name":"Laptop","ip":"10.0.0.2","usage":{"down_mbps":3,"up_mbps":1},"ports":[1]}`)
	incoming := decodeFixture(t, `{"name":"","ip":null,"usage":{"down_mbps":5,"up_mbps":""},"ports":[],"signal":-51}`)

	merged := MergeDetail(existing, incoming).(map[string]interface{})
	assert.Equal(t, "Laptop", merged["name"])
	assert.Equal(t, "10.0.0.2", merged["ip"])
	assert.Equal(t, json.Number("-51"), merged["signal"])
	assert.Equal(t, []interface{}{json.Number("1")}, merged["ports"])

	usage := merged["usage"].(map[string]interface{})
	assert.Equal(t, json.Number("5"), usage["down_mbps"])
	assert.Equal(t, json.Number("1"), usage["up_mbps"])

	assert.Equal(t, existing, MergeDetail(existing, nil))
	assert.Equal(t, "x", MergeDetail(nil, "x"))
}
