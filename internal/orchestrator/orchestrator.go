// Package orchestrator drives a task graph to completion.
//
// The driver repeatedly pulls ready tasks from the graph, claims each one,
// dispatches it to its agent over the message bus, and marks the outcome.
// Failures are classified into recovery strategies; retry waits use
// exponential backoff, fallback routes through the model chain, and human
// help requests are broadcast on the bus before the task is failed.
// The graph is checkpointed periodically and on exit so an interrupted run
// can resume.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/drover-ai/drover/internal/api"
	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/checkpoint"
	"github.com/drover-ai/drover/internal/fallback"
	"github.com/drover-ai/drover/internal/graph"
	"github.com/drover-ai/drover/internal/recovery"
	"github.com/drover-ai/drover/internal/reflection"
	"github.com/drover-ai/drover/internal/state"
	"github.com/drover-ai/drover/pkg/models"
)

// ErrNoCheckpoint indicates Resume found no saved checkpoint for the task.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// DefaultMaxWorkers bounds concurrent task dispatch when not configured.
const DefaultMaxWorkers = 4

// DefaultCheckpointInterval is how often the graph is checkpointed mid-run.
const DefaultCheckpointInterval = 30 * time.Second

const improvementPrompt = `Improve your previous result for this task.

Task: %s
Previous result: %s
Feedback: %s`

// Config assembles an orchestrator. Graph, Bus, Checkpoints, and Analyzer
// are required; the rest are optional capabilities.
type Config struct {
	// TaskID names the run; checkpoints are saved under it.
	TaskID string
	// SenderID is the bus identity tasks are dispatched from.
	SenderID string
	Graph    *graph.TaskGraph
	Bus      *bus.MessageBus
	// Checkpoints persists graph snapshots. Optional; without it the run
	// is not resumable.
	Checkpoints *checkpoint.Store
	Analyzer    *recovery.Analyzer
	// Reflector and Evaluator together enable the self-critique pass on
	// completed results. Both must be set for reflection to run.
	Reflector *reflection.Loop
	Evaluator api.Invoker
	// Chain handles Fallback recovery outcomes. Optional; without it a
	// fallback outcome fails the task.
	Chain *fallback.Chain
	// Runs records run metadata. Optional.
	Runs *state.DB

	MaxWorkers         int
	RequestTimeout     time.Duration
	CheckpointInterval time.Duration
	// RetryWaitUnit scales classified wait-seconds into real time.
	// Defaults to one second; tests shrink it.
	RetryWaitUnit time.Duration
}

// Orchestrator executes the tasks of one graph over the bus.
type Orchestrator struct {
	cfg Config

	mu sync.Mutex
	// execContext is the opaque context saved with every checkpoint.
	execContext map[string]any
	runID       string
}

// New creates an orchestrator from the config, applying defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Graph == nil || cfg.Bus == nil || cfg.Analyzer == nil {
		return nil, errors.New("orchestrator requires a graph, a bus, and an analyzer")
	}
	if cfg.TaskID == "" {
		return nil, errors.New("orchestrator requires a task id")
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "orchestrator"
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.RetryWaitUnit <= 0 {
		cfg.RetryWaitUnit = time.Second
	}

	return &Orchestrator{
		cfg:         cfg,
		execContext: make(map[string]any),
	}, nil
}

// Graph returns the graph the orchestrator is driving.
func (o *Orchestrator) Graph() *graph.TaskGraph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.Graph
}

// SetContext stores a value in the execution context saved with checkpoints.
func (o *Orchestrator) SetContext(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.execContext[key] = value
}

// Run drives the graph until every node is terminal or no further progress
// is possible. Pending nodes whose dependencies failed are left pending.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startRun()
	lastCheckpoint := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			o.finishRun(state.RunCanceled)
			return err
		}

		ready := o.Graph().GetReadyTasks()
		if len(ready) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.MaxWorkers)
		for _, node := range ready {
			if !o.Graph().Claim(node.ID) {
				continue
			}
			node := node
			g.Go(func() error {
				o.execute(gctx, node)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			o.finishRun(state.RunFailed)
			return err
		}

		if o.cfg.Checkpoints != nil && time.Since(lastCheckpoint) >= o.cfg.CheckpointInterval {
			if _, err := o.Checkpoint(); err != nil {
				log.Printf("[orchestrator] checkpoint failed: %v", err)
			}
			lastCheckpoint = time.Now()
		}
	}

	if o.cfg.Checkpoints != nil {
		if _, err := o.Checkpoint(); err != nil {
			log.Printf("[orchestrator] final checkpoint failed: %v", err)
		}
	}

	blocked, failed := o.summarize()
	if blocked > 0 {
		log.Printf("[orchestrator] %d tasks blocked by failed or cyclic dependencies", blocked)
	}
	if failed > 0 || blocked > 0 {
		o.finishRun(state.RunFailed)
	} else {
		o.finishRun(state.RunCompleted)
	}
	return nil
}

// execute runs one claimed task through dispatch, recovery, and reflection.
func (o *Orchestrator) execute(ctx context.Context, node *models.TaskNode) {
	// Seeded from the first classified wait; see waitRetry.
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 0

	for attempt := 1; ; attempt++ {
		result, err := o.dispatch(ctx, node)
		if err == nil {
			result = o.reflectOn(ctx, node, result)
			o.Graph().MarkComplete(node.ID, result)
			log.Printf("[orchestrator] task %s completed", node.ID)
			return
		}

		rec := o.cfg.Analyzer.Analyze(err.Error(), node.Content, attempt)
		log.Printf("[orchestrator] task %s attempt %d: %s", node.ID, attempt, rec.UserMessage)

		switch rec.Strategy {
		case recovery.StrategyRetry:
			if !o.waitRetry(ctx, policy, rec) {
				o.Graph().MarkFailed(node.ID)
				return
			}

		case recovery.StrategyFallback:
			if o.cfg.Chain != nil {
				content, chainErr := o.cfg.Chain.Call(ctx, node.Content, api.Options{})
				if chainErr == nil {
					content = o.reflectOn(ctx, node, content)
					o.Graph().MarkComplete(node.ID, content)
					log.Printf("[orchestrator] task %s completed via fallback (%s)",
						node.ID, o.cfg.Chain.LastUsedProvider())
					return
				}
				log.Printf("[orchestrator] task %s fallback exhausted: %v", node.ID, chainErr)
			}
			o.Graph().MarkFailed(node.ID)
			return

		case recovery.StrategyHumanHelp:
			o.askHuman(ctx, node, rec)
			o.Graph().MarkFailed(node.ID)
			return

		default:
			o.Graph().MarkFailed(node.ID)
			return
		}
	}
}

// dispatch sends the task to its agent and waits for the correlated reply.
func (o *Orchestrator) dispatch(ctx context.Context, node *models.TaskNode) (string, error) {
	msg := models.NewMessage(o.cfg.SenderID, node.Agent, models.MessageTypeRequest, node.Content)
	resp, err := o.cfg.Bus.Request(ctx, msg, o.cfg.RequestTimeout)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// waitRetry sleeps for the classified wait scaled through the backoff policy.
// Returns false if the context was canceled while waiting.
func (o *Orchestrator) waitRetry(ctx context.Context, policy *backoff.ExponentialBackOff, rec recovery.Result) bool {
	if policy.InitialInterval == 0 {
		policy.InitialInterval = time.Duration(rec.WaitSeconds) * o.cfg.RetryWaitUnit
		if policy.InitialInterval <= 0 {
			policy.InitialInterval = o.cfg.RetryWaitUnit
		}
		policy.Reset()
	}
	wait := policy.NextBackOff()
	if wait == backoff.Stop {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// reflectOn runs the self-critique pass when an evaluator is configured.
// The agent that produced the result is asked for improvements over the bus.
func (o *Orchestrator) reflectOn(ctx context.Context, node *models.TaskNode, result string) string {
	if o.cfg.Reflector == nil || o.cfg.Evaluator == nil {
		return result
	}

	improve := func(ctx context.Context, feedback string) (string, error) {
		prompt := fmt.Sprintf(improvementPrompt, node.Content, result, feedback)
		msg := models.NewMessage(o.cfg.SenderID, node.Agent, models.MessageTypeRequest, prompt)
		resp, err := o.cfg.Bus.Request(ctx, msg, o.cfg.RequestTimeout)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	res, err := o.cfg.Reflector.Reflect(ctx, o.cfg.Evaluator, node.Content, result, improve)
	if err != nil {
		log.Printf("[orchestrator] reflection on task %s failed, keeping original result: %v", node.ID, err)
		return result
	}
	if !res.Approved {
		log.Printf("[orchestrator] task %s result not approved after %d retries", node.ID, res.RetryCount)
	}
	return res.FinalResult
}

// askHuman broadcasts the operator question so any listening surface can
// relay it.
func (o *Orchestrator) askHuman(ctx context.Context, node *models.TaskNode, rec recovery.Result) {
	log.Printf("[orchestrator] task %s needs human help: %s", node.ID, rec.QuestionForUser)
	msg := models.NewMessage(o.cfg.SenderID, models.BroadcastRecipient, models.MessageTypeError, rec.QuestionForUser)
	o.cfg.Bus.Broadcast(ctx, msg)
}

// Checkpoint saves the current graph and execution context, returning the
// checkpoint ID.
func (o *Orchestrator) Checkpoint() (string, error) {
	o.mu.Lock()
	g := o.cfg.Graph
	snapshot := make(map[string]any, len(o.execContext))
	for k, v := range o.execContext {
		snapshot[k] = v
	}
	o.mu.Unlock()

	id, err := o.cfg.Checkpoints.Save(o.cfg.TaskID, g, snapshot)
	if err != nil {
		return "", err
	}

	o.recordCheckpoint(id)
	log.Printf("[orchestrator] saved checkpoint %s", id)
	return id, nil
}

// Resume replaces the graph with the latest checkpoint for the task.
// Nodes that were running when the checkpoint was taken go back to pending,
// since their in-flight work is lost. Returns the checkpoint ID restored.
func (o *Orchestrator) Resume() (string, error) {
	if o.cfg.Checkpoints == nil {
		return "", ErrNoCheckpoint
	}

	ids, err := o.cfg.Checkpoints.List(o.cfg.TaskID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w for task %s", ErrNoCheckpoint, o.cfg.TaskID)
	}

	latest := ids[len(ids)-1]
	ckpt, err := o.cfg.Checkpoints.Load(latest)
	if err != nil {
		return "", err
	}

	nodes := ckpt.Graph.Nodes()
	for _, n := range nodes {
		if n.Status == models.TaskStatusRunning {
			n.Status = models.TaskStatusPending
		}
	}

	o.mu.Lock()
	o.cfg.Graph = graph.Restore(nodes, ckpt.Graph.Root())
	o.execContext = ckpt.Context
	if o.execContext == nil {
		o.execContext = make(map[string]any)
	}
	o.mu.Unlock()

	log.Printf("[orchestrator] resumed from checkpoint %s", latest)
	return latest, nil
}

// summarize counts non-terminal and failed nodes after the run loop exits.
func (o *Orchestrator) summarize() (blocked, failed int) {
	for _, n := range o.Graph().Nodes() {
		switch n.Status {
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusPending, models.TaskStatusRunning:
			blocked++
		}
	}
	return blocked, failed
}

func (o *Orchestrator) startRun() {
	if o.cfg.Runs == nil {
		return
	}

	o.mu.Lock()
	o.runID = o.cfg.TaskID + "_" + time.Now().UTC().Format("20060102_150405")
	runID := o.runID
	o.mu.Unlock()

	err := o.cfg.Runs.CreateRun(&state.Run{
		ID:        runID,
		RootTask:  o.cfg.TaskID,
		Status:    state.RunActive,
		StartedAt: time.Now(),
	})
	if err != nil {
		log.Printf("[orchestrator] record run start: %v", err)
	}
}

func (o *Orchestrator) finishRun(status state.RunStatus) {
	if o.cfg.Runs == nil {
		return
	}

	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	if runID == "" {
		return
	}

	run, err := o.cfg.Runs.GetRun(runID)
	if err != nil || run == nil {
		log.Printf("[orchestrator] record run finish: %v", err)
		return
	}
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	if err := o.cfg.Runs.UpdateRun(run); err != nil {
		log.Printf("[orchestrator] record run finish: %v", err)
	}
}

func (o *Orchestrator) recordCheckpoint(id string) {
	if o.cfg.Runs == nil {
		return
	}

	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	if runID == "" {
		return
	}

	run, err := o.cfg.Runs.GetRun(runID)
	if err != nil || run == nil {
		return
	}
	run.LastCheckpoint = id
	if err := o.cfg.Runs.UpdateRun(run); err != nil {
		log.Printf("[orchestrator] record checkpoint id: %v", err)
	}
}
