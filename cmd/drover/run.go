package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/api"
	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/checkpoint"
	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/fallback"
	"github.com/drover-ai/drover/internal/graph"
	"github.com/drover-ai/drover/internal/orchestrator"
	"github.com/drover-ai/drover/internal/reasoning"
	"github.com/drover-ai/drover/internal/recovery"
	"github.com/drover-ai/drover/internal/reflection"
	"github.com/drover-ai/drover/internal/state"
	"github.com/drover-ai/drover/pkg/models"
)

var (
	runTaskID string
	runResume bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.json>",
	Short: "Execute a task plan",
	Long: `Execute a pre-decomposed task plan.

The plan is a JSON file listing tasks with ids, content, an agent tag, and
dependencies. Ready tasks are dispatched concurrently to model-backed agents;
progress is checkpointed so an interrupted run can be resumed with --resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Run identifier for checkpoints (default: plan file name)")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume from the latest checkpoint for this task id")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	planPath := args[0]
	g, err := orchestrator.LoadPlan(planPath)
	if err != nil {
		return err
	}

	taskID := runTaskID
	if taskID == "" {
		taskID = strings.TrimSuffix(filepath.Base(planPath), filepath.Ext(planPath))
	}

	client, registry, err := buildClients(cfg)
	if err != nil {
		return err
	}

	var chain *fallback.Chain
	if len(cfg.Fallback.Chain) > 0 {
		entries := make([]fallback.Entry, 0, len(cfg.Fallback.Chain))
		for _, e := range cfg.Fallback.Chain {
			entries = append(entries, fallback.Entry{Provider: e.Provider, Model: e.Model})
		}
		chain = fallback.NewChain(registry, entries)
	}

	b := bus.New()
	subscribeAgents(b, g, client)

	store, err := checkpoint.NewStore(cfg.Checkpoint.Dir)
	if err != nil {
		return err
	}

	dbPath := cfg.State.DBPath
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	orchCfg := orchestrator.Config{
		TaskID:             taskID,
		Graph:              g,
		Bus:                b,
		Checkpoints:        store,
		Analyzer:           recovery.New(cfg.Recovery.MaxRetries),
		Chain:              chain,
		Runs:               db,
		MaxWorkers:         cfg.Orchestrator.MaxWorkers,
		RequestTimeout:     cfg.Bus.RequestTimeout,
		CheckpointInterval: cfg.Checkpoint.Interval,
	}
	if cfg.Reflection.Enabled {
		orchCfg.Reflector = reflection.New(cfg.Reflection.MaxRetries)
		orchCfg.Evaluator = client
	}

	o, err := orchestrator.New(orchCfg)
	if err != nil {
		return err
	}

	if runResume {
		restored, err := o.Resume()
		if err != nil {
			if !errors.Is(err, orchestrator.ErrNoCheckpoint) {
				return err
			}
			color.Yellow("No checkpoint found for %s, starting fresh", taskID)
		} else {
			color.Cyan("Resumed from checkpoint %s", restored)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Run(ctx); err != nil {
		return err
	}

	printSummary(o, client)
	return nil
}

// subscribeAgents registers one model-backed handler per distinct agent tag
// in the plan. Replies carry the parsed action when the model reasons in
// tags, otherwise the raw reply.
func subscribeAgents(b *bus.MessageBus, g *graph.TaskGraph, client *api.Client) {
	wrapper := reasoning.NewWrapper()

	seen := make(map[string]bool)
	for _, node := range g.Nodes() {
		if node.Agent == "" || seen[node.Agent] {
			continue
		}
		seen[node.Agent] = true

		agentID := node.Agent
		b.Subscribe(agentID, func(ctx context.Context, msg *models.AgentMessage) error {
			resp, err := client.Invoke(ctx, wrapper.EnhancePrompt(msg.Content), api.Options{})
			if err != nil {
				return fmt.Errorf("agent %s: %w", agentID, err)
			}
			first, ok := resp.First()
			if !ok {
				return fmt.Errorf("agent %s: model returned no reply", agentID)
			}

			parsed := wrapper.ParseResponse(first.Content)
			reply := parsed.Action
			if reply == "" {
				reply = parsed.RawResponse
			}
			b.Respond(msg, reply)
			return nil
		})
	}
}

func printSummary(o *orchestrator.Orchestrator, client *api.Client) {
	var completed, failed, blocked int
	for _, n := range o.Graph().Nodes() {
		switch n.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		default:
			blocked++
		}
	}

	fmt.Println()
	color.Green("Completed: %d", completed)
	if failed > 0 {
		color.Red("Failed:    %d", failed)
	}
	if blocked > 0 {
		color.Yellow("Blocked:   %d", blocked)
	}

	in, out := client.Tracker().Total()
	if calls := client.Tracker().Calls(); calls > 0 {
		fmt.Printf("Model calls: %d (%d input tokens, %d output tokens)\n", calls, in, out)
	}
}

// buildClients creates the primary model client plus one client per fallback
// chain entry, registered under its provider/model pair. The "bedrock"
// provider routes through AWS Bedrock; everything else is the direct API.
func buildClients(cfg *config.Config) (*api.Client, *api.Registry, error) {
	primary, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, nil, err
	}

	registry := api.NewRegistry()
	for _, e := range cfg.Fallback.Chain {
		client, err := api.NewClient(api.ClientConfig{
			Model:         anthropic.Model(e.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: e.Provider == "bedrock",
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("fallback entry %s/%s: %w", e.Provider, e.Model, err)
		}
		registry.Register(e.Provider, e.Model, client)
	}

	return primary, registry, nil
}
