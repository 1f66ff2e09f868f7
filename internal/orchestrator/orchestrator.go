// File: internal/orchestrator/orchestrator.go

// Package orchestrator runs the stepwise application loop: capture a
// snapshot, triage it, ask the policy for a decision, validate it against
// what the policy was actually shown, and apply it through the driver. The
// loop is bounded by an iteration cap and always ends in exactly one of
// SUBMITTED, PAUSED or FAILED.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
	"github.com/dmage20/linkedin-job-agent/internal/policy"
	"github.com/dmage20/linkedin-job-agent/internal/protocol"
)

// Triager reduces a raw snapshot to a bounded, actionable summary.
// Satisfied by *triage.Engine.
type Triager interface {
	Reduce(snap schemas.Snapshot) schemas.TriagedSnapshot
}

// Result is the terminal outcome of one task run.
type Result struct {
	State      schemas.TaskState
	Iterations int
	// Reason is the human-readable explanation for PAUSED and FAILED outcomes.
	Reason string
}

// Orchestrator owns one task's control loop. It never touches the driver's
// session internals; all interaction goes through the DriverClient interface.
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	logger *zap.Logger
	driver schemas.DriverClient
	triage Triager
	policy schemas.Policy
	gate   schemas.ManualGate
	sink   schemas.DecisionSink
}

// New creates an Orchestrator. The sink may be nil, in which case step
// records are discarded.
func New(
	cfg config.OrchestratorConfig,
	logger *zap.Logger,
	driver schemas.DriverClient,
	triager Triager,
	pol schemas.Policy,
	gate schemas.ManualGate,
	sink schemas.DecisionSink,
) (*Orchestrator, error) {
	if logger == nil || driver == nil || triager == nil || pol == nil || gate == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("orchestrator requires a positive iteration cap")
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		driver: driver,
		triage: triager,
		policy: pol,
		gate:   gate,
		sink:   sink,
	}, nil
}

type nopSink struct{}

func (nopSink) Record(context.Context, schemas.StepRecord) error { return nil }

// stepContext carries the loop's mutable bookkeeping. It lives on the stack
// of one Run call; there is no cross-task shared state.
type stepContext struct {
	iteration   int
	tokenUsage  int
	history     []schemas.HistoryEntry
	lastTriaged *schemas.TriagedSnapshot
	// lastAppliedRef and lastAppliedEpoch detect oscillation: a decision that
	// re-targets the same ref with no intervening mutation is rejected.
	lastAppliedRef   string
	lastAppliedEpoch uint64
	// recoverableRetried is set after one local retry of a recoverable
	// failure and cleared on the next successful application. A second
	// consecutive recoverable failure escalates.
	recoverableRetried bool
}

// Run drives the task to a terminal state. The returned error is non-nil only
// for FAILED outcomes and preserves the originating cause.
func (o *Orchestrator) Run(ctx context.Context, tc schemas.TaskContext) (Result, error) {
	o.logger.Info("Starting application task.",
		zap.String("task_id", tc.TaskID), zap.String("job_url", tc.JobURL))

	if tc.JobURL != "" {
		if err := o.driver.Navigate(ctx, tc.JobURL); err != nil {
			return Result{State: schemas.TaskFailed, Reason: "initial navigation failed"},
				fmt.Errorf("navigate to job page: %w", err)
		}
	}

	sc := &stepContext{}
	state := schemas.TaskDiscover

	for sc.iteration = 1; sc.iteration <= o.cfg.MaxIterations; sc.iteration++ {
		if err := ctx.Err(); err != nil {
			return Result{State: schemas.TaskFailed, Iterations: sc.iteration, Reason: "cancelled"}, err
		}

		snap, err := o.driver.Snapshot(ctx)
		if err != nil {
			if retry, rerr := o.noteRecoverable(sc, err); retry {
				continue
			} else if rerr != nil {
				return o.fail(sc, "snapshot capture failed", rerr)
			}
			return o.fail(sc, "snapshot capture failed", err)
		}

		triaged := o.triage.Reduce(snap)
		sc.lastTriaged = &triaged
		state = stateFor(triaged.State)
		sc.tokenUsage += triaged.TokenEstimate

		decision, err := o.decide(ctx, triaged, tc, sc)
		if err != nil {
			var verr *policy.ValidationError
			if errors.As(err, &verr) {
				// A malformed decision cannot be trusted to retry safely.
				return o.fail(sc, "policy returned an invalid decision", err)
			}
			if retry, rerr := o.noteRecoverable(sc, err); retry {
				continue
			} else if rerr != nil {
				return o.fail(sc, "policy decision failed", rerr)
			}
			return o.fail(sc, "policy decision failed", err)
		}

		o.record(ctx, tc, sc, state, decision)

		if err := o.validateRefs(decision, triaged); err != nil {
			// Never execute against a stale reference. Take a fresh snapshot
			// and ask again instead.
			o.logger.Warn("Rejected decision with stale or unknown ref.",
				zap.String("action", string(decision.Action)), zap.Error(err))
			o.appendHistory(sc, triaged.State, decision, "rejected: "+err.Error())
			continue
		}

		if decision.Mutating() && o.oscillating(sc, decision) {
			o.logger.Warn("Rejected repeated action on the same ref with no page change.",
				zap.String("ref", decision.Ref))
			o.appendHistory(sc, triaged.State, decision, "rejected: repeated action on unchanged page")
			continue
		}

		res, done, err := o.apply(ctx, sc, decision, tc)
		if done {
			res.Iterations = sc.iteration
			return res, err
		}
		if err != nil {
			if retry, rerr := o.noteRecoverable(sc, err); retry {
				o.appendHistory(sc, triaged.State, decision, "failed: "+firstLine(err.Error()))
				continue
			} else if rerr != nil {
				return o.fail(sc, "action failed", rerr)
			}
			return o.fail(sc, "action failed", err)
		}

		sc.recoverableRetried = false
		outcome := "ok"
		if decision.Action == schemas.ActionPause {
			outcome = "resumed"
		}
		o.appendHistory(sc, triaged.State, decision, outcome)
	}

	abort := &SafetyAbortError{Iterations: o.cfg.MaxIterations}
	sc.iteration = o.cfg.MaxIterations
	return o.fail(sc, abort.Error(), abort)
}

// decide submits the triaged snapshot to the policy under the configured
// outer ceiling, so a hung policy cannot stall the task indefinitely.
func (o *Orchestrator) decide(ctx context.Context, triaged schemas.TriagedSnapshot, tc schemas.TaskContext, sc *stepContext) (schemas.Decision, error) {
	decideCtx := ctx
	if o.cfg.DecideTimeout > 0 {
		var cancel context.CancelFunc
		decideCtx, cancel = context.WithTimeout(ctx, o.cfg.DecideTimeout)
		defer cancel()
	}
	tcView := tc
	tcView.History = sc.history
	return o.policy.Decide(decideCtx, triaged, tcView)
}

// validateRefs enforces that every ref the decision targets survived triage
// of the snapshot the policy was shown, under the current action epoch, and
// is not an oscillating repeat of the previous action.
func (o *Orchestrator) validateRefs(d schemas.Decision, triaged schemas.TriagedSnapshot) error {
	refs := d.Refs()
	if len(refs) == 0 {
		return nil
	}
	if triaged.Epoch != o.driver.Epoch() {
		return &staleRefError{Ref: refs[0], Reason: "snapshot predates the last mutating action"}
	}
	for _, ref := range refs {
		if !triaged.HasRef(ref) {
			return &staleRefError{Ref: ref, Reason: "not present in the snapshot shown to the policy"}
		}
	}
	return nil
}

// oscillating reports whether the decision re-targets the ref of the
// previously applied action with no mutation in between.
func (o *Orchestrator) oscillating(sc *stepContext, d schemas.Decision) bool {
	return d.Ref != "" &&
		d.Ref == sc.lastAppliedRef &&
		o.driver.Epoch() == sc.lastAppliedEpoch
}

// apply executes one validated decision. done=true means res is terminal.
func (o *Orchestrator) apply(ctx context.Context, sc *stepContext, d schemas.Decision, tc schemas.TaskContext) (res Result, done bool, err error) {
	switch d.Action {
	case schemas.ActionClick:
		if err := o.driver.Click(ctx, d.Ref); err != nil {
			return Result{}, false, err
		}
		sc.lastAppliedRef = d.Ref
		sc.lastAppliedEpoch = o.driver.Epoch()
		return Result{}, false, nil

	case schemas.ActionFill:
		if err := o.applyFill(ctx, d.Fields); err != nil {
			return Result{}, false, err
		}
		sc.lastAppliedRef = ""
		sc.lastAppliedEpoch = o.driver.Epoch()
		return Result{}, false, nil

	case schemas.ActionPause:
		o.logger.Info("Pausing for manual intervention.", zap.String("reason", d.PauseReason))
		if err := o.gate.AwaitResume(ctx, d.PauseReason); err != nil {
			return Result{State: schemas.TaskPaused, Reason: d.PauseReason}, true, nil
		}
		// The page may have changed while paused; the next iteration starts
		// with a fresh snapshot, so nothing else to do here.
		sc.lastAppliedRef = ""
		return Result{}, false, nil

	case schemas.ActionSubmit:
		// The confirmation checkpoint cannot be bypassed by the policy: the
		// underlying click is never issued before the gate opens.
		if err := o.gate.ConfirmSubmit(ctx, d.Reasoning); err != nil {
			o.logger.Info("Submission not confirmed; pausing.", zap.Error(err))
			return Result{State: schemas.TaskPaused, Reason: "submission awaiting confirmation"}, true, nil
		}
		if err := o.driver.Click(ctx, d.Ref); err != nil {
			return Result{}, false, err
		}
		o.logger.Info("Application submitted.", zap.String("task_id", tc.TaskID))
		return Result{State: schemas.TaskSubmitted}, true, nil

	case schemas.ActionError:
		return Result{State: schemas.TaskFailed, Reason: d.ErrorMessage}, true,
			fmt.Errorf("policy reported unrecoverable page: %s", d.ErrorMessage)

	case schemas.ActionComplete:
		return Result{State: schemas.TaskSubmitted}, true, nil

	default:
		// Decision.Validate runs at the policy boundary, so this is
		// unreachable in practice.
		return Result{}, false, fmt.Errorf("unhandled decision action %q", d.Action)
	}
}

// applyFill drives each field according to its declared type.
func (o *Orchestrator) applyFill(ctx context.Context, fields []schemas.FieldInput) error {
	for _, f := range fields {
		var err error
		switch f.Type {
		case schemas.FieldSelect:
			err = o.driver.SelectOption(ctx, f.Ref, f.Value)
		case schemas.FieldCheckbox:
			err = o.driver.Click(ctx, f.Ref)
		case schemas.FieldFile:
			err = o.driver.UploadFile(ctx, f.Ref, f.Value)
		default:
			err = o.driver.Type(ctx, f.Ref, f.Value)
		}
		if err != nil {
			return fmt.Errorf("fill field %s: %w", f.Ref, err)
		}
	}
	return nil
}

// noteRecoverable classifies err. For a first recoverable failure it returns
// retry=true (the loop takes a fresh snapshot and tries again). A second
// consecutive recoverable failure, or a non-recoverable error, does not retry.
func (o *Orchestrator) noteRecoverable(sc *stepContext, err error) (retry bool, escalated error) {
	if !isRecoverable(err) {
		return false, nil
	}
	if sc.recoverableRetried {
		return false, fmt.Errorf("recoverable failure persisted after retry: %w", err)
	}
	sc.recoverableRetried = true
	o.logger.Warn("Recoverable failure; retrying once with a fresh snapshot.", zap.Error(err))
	return true, nil
}

// isRecoverable reports whether the error is in the retry-once class:
// a call timeout, a mid-call process exit, or a stale element.
func isRecoverable(err error) bool {
	var timeout *protocol.TimeoutError
	var notFound *protocol.ElementNotFoundError
	return errors.As(err, &timeout) ||
		errors.As(err, &notFound) ||
		errors.Is(err, protocol.ErrProcessTerminated) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) fail(sc *stepContext, reason string, err error) (Result, error) {
	o.logger.Error("Task failed.", zap.String("reason", reason), zap.Error(err))
	return Result{State: schemas.TaskFailed, Iterations: sc.iteration, Reason: reason}, err
}

// record emits one append-only step record. Sink failures are logged and
// never interrupt the loop.
func (o *Orchestrator) record(ctx context.Context, tc schemas.TaskContext, sc *stepContext, state schemas.TaskState, d schemas.Decision) {
	rec := schemas.StepRecord{
		TaskID:     tc.TaskID,
		Iteration:  sc.iteration,
		State:      state,
		Decision:   d,
		TokenUsage: sc.tokenUsage,
		Timestamp:  time.Now().UTC(),
	}
	if err := o.sink.Record(ctx, rec); err != nil {
		o.logger.Warn("Failed to record step.", zap.Error(err))
	}
}

// appendHistory adds one compressed exchange, keeping only the configured
// window.
func (o *Orchestrator) appendHistory(sc *stepContext, page schemas.PageState, d schemas.Decision, outcome string) {
	sc.history = append(sc.history, schemas.HistoryEntry{
		Iteration: sc.iteration,
		State:     page,
		Action:    d.Action,
		Ref:       d.Ref,
		Outcome:   outcome,
	})
	if o.cfg.HistoryWindow > 0 && len(sc.history) > o.cfg.HistoryWindow {
		sc.history = sc.history[len(sc.history)-o.cfg.HistoryWindow:]
	}
}

// stateFor maps the triage page classification onto the task state machine.
func stateFor(p schemas.PageState) schemas.TaskState {
	switch p {
	case schemas.PageForm:
		return schemas.TaskFormStep
	case schemas.PageReview:
		return schemas.TaskReview
	default:
		return schemas.TaskDiscover
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
