package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/qualys/remediator/internal/events"
)

// outcome classifies one handler invocation.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeFailed
)

// MetricSink records a terminal invocation outcome. Implemented by
// metrics.Publisher.
type MetricSink interface {
	Count(ctx context.Context, action, major, minor string, dims map[string]string) error
}

// Dispatcher drives a batch of compliance-change records through parsing,
// invocation building and the invoke/analyze retry loop. One queue delivery
// is one sequential dispatch cycle; invocations are processed in delivery
// order and retries preserve relative order across rounds.
type Dispatcher struct {
	parser  *events.Parser
	builder *Builder
	invoker Invoker
	metrics MetricSink
	backoff time.Duration
	logger  *slog.Logger

	// sleep is a seam for tests; the dispatcher otherwise has no clock.
	sleep func(time.Duration)
}

func NewDispatcher(parser *events.Parser, builder *Builder, invoker Invoker, metrics MetricSink, backoff time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		parser:  parser,
		builder: builder,
		invoker: invoker,
		metrics: metrics,
		backoff: backoff,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Dispatch runs one full cycle over a queue batch. There is no round cap:
// the loop runs until every invocation reaches a terminal outcome or the
// surrounding invocation times out, in which case redelivery of the
// original notification restarts the cycle. Idempotent handlers make that
// safe.
func (d *Dispatcher) Dispatch(ctx context.Context, batch awsevents.SQSEvent) error {
	cycle := uuid.New().String()[:8]
	logger := d.logger.With("cycle", cycle)

	dispatches := d.parser.ParseBatch(batch)
	if len(dispatches) == 0 {
		logger.Info("no actionable records in batch", "records", len(batch.Records))
		return nil
	}

	pending, err := d.builder.BuildBatch(ctx, dispatches)
	if err != nil {
		return err
	}
	logger.Info("dispatch cycle starting",
		"records", len(batch.Records),
		"dispatches", len(dispatches),
		"invocations", len(pending))

	for round := 1; len(pending) > 0; round++ {
		var retries []Invocation
		for _, inv := range pending {
			switch d.dispatchOne(ctx, logger, inv) {
			case outcomeRetry:
				retries = append(retries, inv.Next())
			}
		}

		if len(pending) == 1 && len(retries) == 1 {
			logger.Info("single invocation retrying, backing off",
				"function", retries[0].FunctionName,
				"attempt", retries[0].Attempt,
				"backoff", d.backoff)
			d.sleep(d.backoff)
		}
		pending = retries
	}

	logger.Info("dispatch cycle complete")
	return nil
}

// dispatchOne invokes one handler and classifies the result.
func (d *Dispatcher) dispatchOne(ctx context.Context, logger *slog.Logger, inv Invocation) outcome {
	logger = logger.With(
		"function", inv.FunctionName,
		"config_rule", inv.Event.RuleName,
		"resource_id", inv.Event.Target.ResourceID,
		"attempt", inv.Attempt,
	)

	payload, err := json.Marshal(inv.Event)
	if err != nil {
		// Events are built from validated inputs; a marshal failure is a bug.
		logger.Error("dropping unmarshalable invocation", "error", err)
		return outcomeFailed
	}

	result, err := d.invoker.Invoke(ctx, inv.FunctionName, payload)
	if err != nil {
		logger.Warn("handler invocation failed at transport level, will retry", "error", err)
		return outcomeRetry
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		logger.Warn("handler returned non-success status, will retry",
			"status_code", result.StatusCode)
		return outcomeRetry
	}
	if result.FunctionError != "" {
		logger.Warn("handler crashed before responding, will retry",
			"function_error", result.FunctionError)
		return outcomeRetry
	}

	resp := DecodeResponse(result.Payload)
	if resp.Major == MajorTimeout {
		logger.Warn("handler timed out mid-remediation, will retry",
			"minor", resp.Minor,
			"message", resp.Message)
		return outcomeRetry
	}

	d.emitMetric(ctx, logger, inv, resp)

	if inv.Event.Preview && len(resp.Preview) > 0 {
		logger.Warn("preview: calls the handler would have made",
			"preview", string(resp.Preview))
	}

	if resp.Major == MajorSuccess {
		logger.Info("remediation succeeded",
			"minor", resp.Minor,
			"message", resp.Message)
		return outcomeDone
	}

	logger.Error("remediation failed",
		"major", resp.Major,
		"minor", resp.Minor,
		"message", resp.Message)
	return outcomeFailed
}

func (d *Dispatcher) emitMetric(ctx context.Context, logger *slog.Logger, inv Invocation, resp Response) {
	dims := map[string]string{
		"account":         inv.Event.Target.AccountID,
		"region":          inv.Event.Target.Region,
		"resourceType":    inv.Event.Target.ResourceType,
		"conformancePack": inv.Event.ConformancePack,
	}
	for k, v := range inv.Event.ResourceTags {
		dims[k] = v
	}

	if err := d.metrics.Count(ctx, inv.Event.Action, resp.Major, resp.Minor, dims); err != nil {
		// Metric loss is not worth failing the cycle over.
		logger.Warn("metric emission failed", "error", err)
	}
}
