package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"mf-loan-eligibility/internal/common/database"
	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/eligibility/flow"
)

// HoldingsIndex counts pledgeable mutual fund folios for a PAN.
type HoldingsIndex struct {
	es  *database.ElasticsearchClient
	log logger.Logger
}

func NewHoldingsIndex(es *database.ElasticsearchClient, log logger.Logger) *HoldingsIndex {
	return &HoldingsIndex{es: es, log: log.Named("holdings-index")}
}

func holdingsQuery(pan string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"pan": pan}},
					map[string]interface{}{"range": map[string]interface{}{"units": map[string]interface{}{"gt": 0}}},
				},
			},
		},
	}
}

func (h *HoldingsIndex) LookupHoldings(ctx context.Context, pan string) (flow.HoldingsVerdict, error) {
	index := h.es.HoldingsIndex

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(holdingsQuery(pan)); err != nil {
		return flow.HoldingsVerdict{}, errors.NewSearchQueryFailedError(index, err)
	}

	client := h.es.Client
	res, err := client.Count(
		client.Count.WithContext(ctx),
		client.Count.WithIndex(index),
		client.Count.WithBody(&buf),
	)
	if err != nil {
		return flow.HoldingsVerdict{}, errors.NewSearchQueryFailedError(index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return flow.HoldingsVerdict{}, errors.NewSearchQueryFailedError(index, fmt.Errorf("count returned %s", res.Status()))
	}

	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return flow.HoldingsVerdict{}, errors.NewSearchQueryFailedError(index, err)
	}

	h.log.Debug("holdings counted", map[string]interface{}{"folios": body.Count})
	return flow.HoldingsVerdict{HasHoldings: body.Count > 0}, nil
}
