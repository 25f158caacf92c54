// Package legacyevent adapts decisions produced by internal/decision into
// the impression-event wire format the Optimizely events API
// (https://logx.optimizely.com/v1/events) still expects, and reports them
// through api.Client. This is a separate wire format from ODP events
// (internal/odp): it describes experiment bucketing outcomes, not
// behavioral/segment activity.
package legacyevent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/optimizely-experiments/decision-core/api"
	"github.com/optimizely-experiments/decision-core/internal/entities"
)

type event struct {
	EntityID  string `json:"entity_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	UUID      string `json:"uuid"`
}

type decision struct {
	CampaignID   string `json:"campaign_id"`
	ExperimentID string `json:"experiment_id"`
	VariationID  string `json:"variation_id"`
}

type snapshot struct {
	Decisions []decision `json:"decisions"`
	Events    []event    `json:"events"`
}

type visitor struct {
	ID        string     `json:"visitor_id"`
	Snapshots []snapshot `json:"snapshots"`
}

// Batch is one payload reported to the Optimizely events API.
type Batch struct {
	AccountID       string    `json:"account_id"`
	AnonymizeIP     bool      `json:"anonymize_ip"`
	ClientName      string    `json:"client_name"`
	ClientVersion   string    `json:"client_version,omitempty"`
	EnrichDecisions bool      `json:"enrich_decisions"`
	Visitors        []visitor `json:"visitors"`
}

// the default client name reported to Optimizely.
const clientName = "github.com/optimizely-experiments/decision-core"

// ClientVersion is reported alongside every batch. Unset by default;
// callers building a release binary should set it at init time.
var ClientVersion = ""

// Option configures a Batch at construction.
type Option func(*Batch)

// ClientName overrides the reported client name. Defaults to this
// module's path.
func ClientName(name string) Option {
	return func(b *Batch) { b.ClientName = name }
}

// AnonymizeIP sets the anonymize_ip flag. Defaults to true.
func AnonymizeIP(anonymize bool) Option {
	return func(b *Batch) { b.AnonymizeIP = anonymize }
}

// EnrichDecisions sets the enrich_decisions flag. Defaults to true.
func EnrichDecisions(enrich bool) Option {
	return func(b *Batch) { b.EnrichDecisions = enrich }
}

// NewBatch builds a reportable batch from one bucketing decision. Only
// decisions that actually assigned a variation produce an impression
// event; the caller should skip reporting when d.Variation is nil.
func NewBatch(accountID, userID string, d entities.Decision, opts ...Option) Batch {
	b := Batch{
		AccountID:       accountID,
		ClientName:      clientName,
		ClientVersion:   ClientVersion,
		AnonymizeIP:     true,
		EnrichDecisions: true,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if d.Experiment == nil || d.Variation == nil {
		return b
	}
	dec := decision{
		CampaignID:   d.Experiment.LayerID,
		ExperimentID: d.Experiment.ID,
		VariationID:  d.Variation.ID,
	}
	ev := event{
		EntityID:  d.Experiment.LayerID,
		Type:      "campaign_activated",
		Timestamp: time.Now().UTC().UnixNano() / int64(time.Millisecond),
		UUID:      uuid.NewString(),
	}
	b.Visitors = []visitor{{
		ID:        userID,
		Snapshots: []snapshot{{Decisions: []decision{dec}, Events: []event{ev}}},
	}}
	return b
}

// HasImpressions reports whether the batch carries anything worth
// reporting.
func (b Batch) HasImpressions() bool {
	return len(b.Visitors) > 0
}

// Report marshals the batch and sends it through client.ReportEvents.
// The client does not need to be constructed with a token: the events
// endpoint accepts unauthenticated requests.
func Report(ctx context.Context, client api.Client, b Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return xerrors.Errorf("legacyevent: marshaling batch: %w", err)
	}
	return client.ReportEvents(ctx, payload)
}
