package builder

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/helloworlde/meshkeeper/internal/client"
	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/normalize"
	"github.com/helloworlde/meshkeeper/pkg/concurrent"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

const accountPath = "/account"

// Fetcher is the part of client.Fetcher the builder needs.
type Fetcher interface {
	client.Caller
	ProbeCandidates(ctx context.Context, key string, candidates []client.Candidate) (interface{}, error)
}

type Metrics interface {
	RecordEnrichmentError(resource string)
}

type Options struct {
	Fetcher          Fetcher
	Metrics          Metrics
	Logger           logger.Logger
	MaxDetailFetches int
	Workers          int
	Now              func() time.Time
}

// Builder assembles one AccountSnapshot per Build call.
type Builder struct {
	fetcher    Fetcher
	metrics    Metrics
	log        logger.Logger
	maxDetails int
	workers    int
	now        func() time.Time
}

func New(opts Options) *Builder {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 6
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Builder{
		fetcher:    opts.Fetcher,
		metrics:    opts.Metrics,
		log:        log.With("component", "builder"),
		maxDetails: opts.MaxDetailFetches,
		workers:    workers,
		now:        now,
	}
}

// Build fetches the account and every network it lists. An account-level
// failure is returned as is, and so is an account payload without a network
// list; an explicitly empty list is a valid empty account. A network whose body cannot be fetched or
// normalized is skipped; if every listed network is skipped the joined
// error is returned so a caller never publishes an empty account by accident.
func (b *Builder) Build(ctx context.Context) (*models.AccountSnapshot, error) {
	account, err := b.fetcher.Call(ctx, http.MethodGet, accountPath, nil, true)
	if err != nil {
		return nil, err
	}

	if _, ok := account.(map[string]interface{}); !ok {
		return nil, errors.NewInvalidPayloadError("account payload is not an object", nil)
	}
	refs := utils.FirstList(account, "networks.data", "networks")
	if refs == nil {
		return nil, errors.NewInvalidPayloadError("account payload has no networks", nil)
	}

	snap := &models.AccountSnapshot{FetchedAt: b.now().UTC()}
	budget := &detailBudget{remaining: int64(b.maxDetails)}

	var errs []error
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := b.buildNetwork(ctx, ref, snap.FetchedAt, budget)
		if err != nil {
			b.log.Warnf("skipping network %s: %v", normalize.NetworkPath(ref), err)
			errs = append(errs, err)
			continue
		}
		snap.Networks = append(snap.Networks, *n)
	}

	if len(refs) > 0 && len(snap.Networks) == 0 {
		return nil, fmt.Errorf("no network could be built: %w", stderrors.Join(errs...))
	}
	return snap, nil
}

func (b *Builder) buildNetwork(ctx context.Context, ref interface{}, at time.Time, budget *detailBudget) (*models.Network, error) {
	path := normalize.NetworkPath(ref)
	if path == "" {
		return nil, errors.NewInvalidPayloadError("network reference has no url or id", nil)
	}

	body, err := b.fetcher.Call(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if !utils.IsEmpty(ref) {
		body = client.MergeDetail(ref, body)
	}

	key := normalize.NetworkID(body)
	if key == "" {
		key = path
	}

	results := concurrent.Run(ctx, b.workers, b.enrichmentTasks(body, path, key))
	enrichments := make(map[string]interface{}, len(results))
	for _, r := range results {
		if r.Error != nil {
			b.log.Debugf("enrichment %s for %s failed after %s: %v", r.Name, path, r.Elapsed, r.Error)
			b.recordEnrichmentError(r.Name)
			continue
		}
		if r.Value != nil {
			enrichments[r.Name] = r.Value
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, name := range []string{normalize.ResClients, normalize.ResNodes, normalize.ResProfiles} {
		rows, ok := enrichments[name]
		if !ok {
			continue
		}
		enrichments[name] = b.enrichRows(ctx, name, dedupeRows(name, utils.AsList(rows)), budget)
	}

	return normalize.Network(normalize.NetworkInput{
		Ref:         ref,
		Body:        body,
		Enrichments: enrichments,
		FetchedAt:   at,
	})
}

func (b *Builder) recordEnrichmentError(resource string) {
	if b.metrics == nil {
		return
	}
	if i := strings.Index(resource, ":"); i >= 0 {
		resource = resource[:i]
	}
	b.metrics.RecordEnrichmentError(resource)
}

// enrichmentTasks lists the fixed best-effort calls made for one network.
func (b *Builder) enrichmentTasks(body interface{}, networkPath, key string) []concurrent.Task {
	get := func(path string) func(ctx context.Context) (interface{}, error) {
		return func(ctx context.Context) (interface{}, error) {
			return b.fetcher.Call(ctx, http.MethodGet, path, nil, true)
		}
	}

	clientsPath := normalize.ResourcePath(body, networkPath, normalize.ResClients)
	tasks := []concurrent.Task{{
		Name: normalize.ResClients,
		Work: func(ctx context.Context) (interface{}, error) {
			return b.fetcher.ProbeCandidates(ctx, key+":"+normalize.ResClients, clientCandidates(clientsPath))
		},
	}}

	for _, name := range []string{
		normalize.ResProfiles,
		normalize.ResNodes,
		normalize.ResRouting,
		normalize.ResReservations,
		normalize.ResForwards,
		normalize.ResDiagnostics,
		normalize.ResUpdates,
		normalize.ResSupport,
		normalize.ResSpeedTest,
		normalize.ResChannelUtil,
		normalize.ResThread,
		normalize.ResGuestNetwork,
	} {
		tasks = append(tasks, concurrent.Task{Name: name, Work: get(normalize.ResourcePath(body, networkPath, name))})
	}

	for _, scope := range normalize.UsageScopes {
		for _, period := range normalize.UsagePeriods {
			tasks = append(tasks, concurrent.Task{
				Name: normalize.UsageKey(scope, period),
				Work: get(normalize.UsagePath(body, networkPath, scope, period)),
			})
		}
	}
	return tasks
}

// clientCandidates are the query variants of the client list. Depending on
// firmware some variants omit live rates entirely.
func clientCandidates(path string) []client.Candidate {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return []client.Candidate{
		{Name: "plain", Path: path},
		{Name: "thread", Path: path + sep + "thread=true"},
		{Name: "usage", Path: path + sep + "include=usage"},
	}
}

// dedupeRows folds rows that derive the same id, keeping the first row's
// position and overlaying later non-empty values.
func dedupeRows(resource string, rows []interface{}) []interface{} {
	idOf := rowIdentity(resource)
	index := make(map[string]int, len(rows))
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		id := idOf(row)
		if id == "" {
			out = append(out, row)
			continue
		}
		if i, ok := index[id]; ok {
			out[i] = client.MergeDetail(out[i], row)
			continue
		}
		index[id] = len(out)
		out = append(out, row)
	}
	return out
}

func rowIdentity(resource string) func(interface{}) string {
	switch resource {
	case normalize.ResNodes:
		return normalize.DeviceID
	case normalize.ResProfiles:
		return normalize.ProfileID
	default:
		return normalize.ClientID
	}
}

var clientTelemetry = []string{
	"usage.down_mbps", "usage.up_mbps", "usage.down", "usage.up",
	"connectivity.rx_rate_info.rate_mbps", "connectivity.tx_rate_info.rate_mbps",
	"connectivity.rx_rate_info.rate_bps", "connectivity.tx_rate_info.rate_bps",
	"connectivity.rx_bitrate", "connectivity.tx_bitrate",
	"rx_rate", "tx_rate",
}

// needsDetail reports whether a row lacks the fields a detail call fills in.
func needsDetail(resource string, row interface{}) bool {
	switch resource {
	case normalize.ResClients:
		connected := utils.FirstBool(row, "connected", "is_connected")
		if connected != nil && !*connected {
			return false
		}
		return utils.FirstFloat(row, clientTelemetry...) == nil
	case normalize.ResNodes:
		return utils.FirstList(row, "ethernet_status.statuses", "ethernet_ports", "ports") == nil
	case normalize.ResProfiles:
		return utils.FirstMap(row, "unified_content_filters.dns_policies", "premium_dns", "dns_policies") == nil
	}
	return false
}

type detailBudget struct {
	remaining int64
}

func (d *detailBudget) take() bool {
	return atomic.AddInt64(&d.remaining, -1) >= 0
}

// enrichRows issues detail calls for rows missing telemetry, bounded by the
// build-wide budget, and merges each detail over its row.
func (b *Builder) enrichRows(ctx context.Context, resource string, rows []interface{}, budget *detailBudget) []interface{} {
	var tasks []concurrent.Task
	var positions []int
	for i, row := range rows {
		if !needsDetail(resource, row) {
			continue
		}
		link := utils.FirstString(row, "url", "resource_url", "href")
		if link == nil {
			continue
		}
		if !budget.take() {
			break
		}
		path := *link
		tasks = append(tasks, concurrent.Task{
			Name: path,
			Work: func(ctx context.Context) (interface{}, error) {
				return b.fetcher.Call(ctx, http.MethodGet, path, nil, true)
			},
		})
		positions = append(positions, i)
	}
	if len(tasks) == 0 {
		return rows
	}

	out := make([]interface{}, len(rows))
	copy(out, rows)
	for i, r := range concurrent.Run(ctx, b.workers, tasks) {
		if r.Error != nil {
			b.log.Debugf("detail %s failed: %v", r.Name, r.Error)
			b.recordEnrichmentError(resource + "_detail")
			continue
		}
		out[positions[i]] = client.MergeDetail(out[positions[i]], r.Value)
	}
	return out
}
