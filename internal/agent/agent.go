// Package agent implements the main loop (§4.I): drain a pending result,
// else run a pending plan, else poll the message bus for the next plan to
// enqueue, reconnecting with exponential backoff on any communication
// failure.
//
// Ported from muranoagent/app.py's MuranoAgent (start/_loop_func/_run/
// _wait_plan/_handle_message/_verify_plan).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrel-ops/guestagent/internal/artifacts"
	"github.com/kestrel-ops/guestagent/internal/config"
	"github.com/kestrel-ops/guestagent/internal/executor"
	"github.com/kestrel-ops/guestagent/internal/plan"
	"github.com/kestrel-ops/guestagent/internal/queue"
	"github.com/kestrel-ops/guestagent/internal/runner"
	"github.com/kestrel-ops/guestagent/internal/transport"
	"github.com/kestrel-ops/guestagent/internal/validate"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 1.2
	pollTimeout    = 5 * time.Second
)

// sender is the slice of *transport.Client the agent actually needs to
// publish a result; narrowing to an interface lets tests inject a fake bus
// without dialing a real broker.
type sender interface {
	Send(body []byte, messageID, key, exchange string) error
}

// Agent is the guest-side deployment agent: an AMQP consumer bound to a
// durable, signed, on-disk plan queue and a pluggable script runner. Signing
// is the durable queue's concern (it owns the verifier); the agent only
// needs the queue, the executor registry and the bus configuration.
type Agent struct {
	cfg      *config.Config
	store    *queue.Store
	registry *executor.Registry
	logger   *slog.Logger
}

// New assembles an Agent from its already-opened collaborators.
func New(cfg *config.Config, store *queue.Store, registry *executor.Registry, logger *slog.Logger) *Agent {
	return &Agent{cfg: cfg, store: store, registry: registry, logger: logger}
}

// Run executes the agent loop until ctx is cancelled. Any communication
// error reconnects after an exponentially growing delay (capped at 60s),
// matching _wait_plan's backoff. The delay starts at 5s and is never reset
// between sessions: each reconnect waits 1.2 times longer than the one
// before, however long the previous session ran.
func (a *Agent) Run(ctx context.Context) error {
	delay := initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := a.session(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		a.logger.Warn("communication error", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backoffFactor)
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// session opens one connection and drives the loop until it, or ctx, gives
// out. A clean ctx cancellation returns nil; any transport failure returns
// a non-nil error so Run can back off and reconnect.
func (a *Agent) session(ctx context.Context) error {
	client, err := transport.Connect(a.rabbitConfig())
	if err != nil {
		return fmt.Errorf("connecting to message bus: %w", err)
	}
	defer client.Close()

	if err := client.Declare(a.cfg.RabbitMQ.InputQueue, ""); err != nil {
		return err
	}
	sub, err := client.Open(a.cfg.RabbitMQ.InputQueue, 1)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		handled, err := a.publishPendingResult(client)
		if err != nil {
			return err
		}
		if handled {
			continue
		}

		p, err := a.store.PeekPlan()
		if err != nil {
			return err
		}
		if p != nil {
			a.runPlan(p)
			continue
		}

		msg, err := sub.GetMessage(pollTimeout)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		a.ingest(client, msg)
	}
}

func (a *Agent) rabbitConfig() transport.Config {
	r := a.cfg.RabbitMQ
	return transport.Config{
		Login:       r.Login,
		Password:    r.Password,
		Host:        r.Host,
		Port:        r.Port,
		VirtualHost: r.VirtualHost,
		SSL:         r.SSL,
		SSLVersion:  r.SSLVersion,
		CACerts:     r.CACerts,
		Insecure:    r.Insecure,
	}
}

// publishPendingResult sends the oldest queued result, if any, and removes
// its plan folder once the broker has accepted it.
func (a *Agent) publishPendingResult(client sender) (bool, error) {
	result, timestamp, err := a.store.PeekResult()
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}

	if err := a.publish(client, *result); err != nil {
		return false, err
	}
	if err := a.store.Remove(timestamp); err != nil {
		return false, err
	}
	return true, nil
}

// publish sends result to the configured exchange/routing key, honouring a
// per-plan ReplyTo override when enable_dynamic_result_queue is set.
func (a *Agent) publish(client sender, result plan.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	key := a.cfg.RabbitMQ.ResultRoutingKey
	if a.cfg.RabbitMQ.EnableDynamicResult && result.ReplyTo != "" {
		key = result.ReplyTo
	}
	return client.Send(body, result.SourceID, key, a.cfg.RabbitMQ.ResultExchange)
}

// runPlan executes one plan through §4.G and persists its result, matching
// MuranoAgent._run. Errors materialising the cache or runner still produce
// an error result so the orchestrator is never left waiting silently.
func (a *Agent) runPlan(p *plan.Plan) {
	cache, err := artifacts.New(a.cfg.Storage, p.ID, p.Files, a.logger)
	if err != nil {
		a.recordResult(p, nil, err)
		return
	}

	r, err := runner.New(p, cache, a.registry, a.logger)
	if err != nil {
		a.recordResult(p, nil, err)
		_ = cache.Clear()
		return
	}
	defer func() {
		if err := r.Dispose(); err != nil {
			a.logger.Warn("error disposing plan runner", "error", err)
		}
	}()

	result, err := r.Run()
	a.recordResult(p, result, err)
}

func (a *Agent) recordResult(p *plan.Plan, body any, runErr error) {
	var result plan.Result
	var err error
	if runErr != nil {
		a.logger.Error("error running execution plan", "error", runErr)
		result, err = plan.NewErrorResult(runErr, p.ID)
	} else {
		result, err = plan.NewResult(body, p.ID)
	}
	if err != nil {
		a.logger.Warn("execution result is not produced", "error", err)
		return
	}
	if err := a.store.PutResult(result, p); err != nil {
		a.logger.Error("error persisting execution result", "error", err)
	}
}

// ingest implements the Ingest step of §4.I: fill ID/ReplyTo from the AMQP
// envelope, validate, and either enqueue the plan (with its signature) or
// publish an error result immediately. A valid plan is acked only after it
// has been persisted successfully; if re-encoding or persisting it fails the
// message is left unacked. A rejected plan is acked after the attempt to
// publish its error result, whether or not that publish succeeded.
func (a *Agent) ingest(client sender, msg *transport.Message) {
	body := msg.Body
	if _, ok := body["ID"]; !ok && msg.ID != "" {
		body["ID"] = msg.ID
	}

	if err := validate.Validate(body); err != nil {
		a.rejectPlan(client, body, err)
	} else {
		data, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			a.logger.Error("error re-encoding incoming plan", "error", marshalErr)
			return
		}
		if err := a.store.Put(data, msg.Signature, msg.ID, msg.ReplyTo); err != nil {
			a.logger.Error("error persisting incoming plan", "error", err)
			return
		}
	}

	if err := msg.Ack(); err != nil {
		a.logger.Warn("failed to ack ingested message", "error", err)
	}
}

// rejectPlan publishes an error result for a plan that failed validation,
// matching _handle_message's from_error/_send_result fallback. A plan with
// no ID produces no result, matching the original's ValueError-triggered
// "execution result is not produced" warning.
func (a *Agent) rejectPlan(client sender, body map[string]any, verifyErr error) {
	sourceID, _ := body["ID"].(string)
	result, err := plan.NewErrorResult(verifyErr, sourceID)
	if err != nil {
		a.logger.Warn("execution result is not produced", "error", err)
		return
	}
	if replyTo, ok := body["ReplyTo"].(string); ok {
		result.ReplyTo = replyTo
	}
	if err := a.publish(client, result); err != nil {
		a.logger.Error("error publishing rejected plan result", "error", err)
	}
}
