package evaluatelenderoffers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mf-loan-eligibility/internal/common/errors"
	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/common/metrics"
	"mf-loan-eligibility/internal/common/validation"
	"mf-loan-eligibility/internal/eligibility/offers"
	"mf-loan-eligibility/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluate-lender-offers"
)

// Handler ranks lender quotes handed over by a BPMN process and completes
// the job with the best offer and the remaining ones.
type Handler struct {
	config       *Config
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			err = h.completeJob(ctx, client, job, output)
		}
	}

	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return err
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	return nil
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &raw); err != nil {
		return nil, errors.NewInvalidInputError("variables", fmt.Sprintf("parse input: %v", err))
	}

	res, err := validation.Document(inputSchema, raw)
	if err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	if !res.Valid {
		return nil, errors.NewInvalidInputError("offers", res.Summary())
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidInputError("offers", fmt.Sprintf("decode offers: %v", err))
	}
	return &input, nil
}

// Execute ranks input.Offers. Exported for tests and in-process callers.
func (h *Handler) Execute(_ context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, errors.NewInvalidInputError("input", "input cannot be nil")
	}

	valid := input.Offers
	dropped := 0
	if h.config.DropOverlapping {
		valid = make([]models.OfferQuote, 0, len(input.Offers))
		for _, q := range input.Offers {
			if holding, overlaps := q.HoldingsOverlap(); overlaps {
				dropped++
				h.logger.Warn("dropping quote with overlapping holdings", map[string]interface{}{
					"lender":  q.LenderName,
					"holding": holding,
				})
				continue
			}
			valid = append(valid, q)
		}
	}

	evaluation := offers.Evaluate(valid)
	metrics.OffersEvaluated.Observe(float64(len(valid)))

	others := evaluation.Others
	if others == nil {
		others = []models.OfferQuote{}
	}

	output := &Output{
		BestOffer:    evaluation.Best,
		OtherOffers:  others,
		OfferCount:   len(valid),
		HasBestOffer: evaluation.Best != nil,
		DroppedCount: dropped,
	}

	h.logger.Info("offers evaluated", map[string]interface{}{
		"offerCount":   output.OfferCount,
		"hasBestOffer": output.HasBestOffer,
		"dropped":      dropped,
	})
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("encode output: %v", err))
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return errors.NewExternalServiceError("zeebe", err)
	}
	return nil
}
