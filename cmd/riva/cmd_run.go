package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riva/internal/config"
	"riva/internal/engine"
	"riva/internal/intention"
)

var (
	criteria    []string
	autoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Execute one intention against the workspace",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIntention,
}

func init() {
	runCmd.Flags().StringArrayVarP(&criteria, "criterion", "c", nil, "acceptance criterion (repeatable)")
	runCmd.Flags().BoolVar(&autoApprove, "yes", false, "approve high-risk actions without asking")
}

func runIntention(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	opts := engine.SessionOptions{
		Observer: &consoleObserver{},
	}
	if autoApprove {
		opts.Checkpoint = engine.AutoApprove{}
	} else {
		opts.Checkpoint = &terminalCheckpoint{}
	}

	session, err := engine.NewSession(workspace, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("session teardown", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("running intention",
		zap.String("session", session.ID),
		zap.String("goal", goal),
		zap.Int("criteria", len(criteria)))

	result, err := session.Run(ctx, goal, criteria)
	if err != nil {
		return err
	}

	printResult(result)
	if result.Status != intention.StatusVerified {
		os.Exit(2)
	}
	return nil
}

func printResult(result *engine.Result) {
	fmt.Printf("\nStatus: %s\n", result.Status)
	fmt.Printf("Goal:   %s\n", result.Root.What)

	if result.Failure != nil {
		f := result.Failure
		if f.FailingLayer != "" {
			fmt.Printf("Failing layer: %s\n", f.FailingLayer)
		}
		if f.CriterionMissed != "" {
			fmt.Printf("Criterion missed: %s\n", f.CriterionMissed)
		}
		if f.Reason != "" {
			fmt.Printf("Reason: %s\n", f.Reason)
		}
		fmt.Printf("Verifications: performed=%d skipped=%d caught=%d missed=%d\n",
			f.Verifications, f.Skipped, f.FailuresCaught, f.FailuresMissed)
	}

	m := result.Metrics
	fmt.Printf("LLM calls: %d (decompose=%d act=%d judge=%d), %dms\n",
		m.LLMCallsTotal, m.LLMCallsDecomposition, m.LLMCallsAction, m.LLMCallsVerification, m.LLMTimeMS)
	fmt.Printf("Pipeline runs: %d (high=%d medium=%d low=%d), retries=%d\n",
		m.VerificationsTotal, m.VerificationsHighRisk, m.VerificationsMediumRisk, m.VerificationsLowRisk, m.RetryCount)
}

// consoleObserver streams engine progress to the operator.
type consoleObserver struct{}

func (consoleObserver) OnIntentionStart(in *intention.Intention) {
	indent := strings.Repeat("  ", in.Depth)
	fmt.Printf("%s> %s\n", indent, in.What)
}

func (consoleObserver) OnCycleStart(in *intention.Intention, cycle int) {}

func (consoleObserver) OnCycleComplete(in *intention.Intention, cycle int, outcome string) {
	if outcome == "verified" || outcome == "decomposed" {
		return
	}
	indent := strings.Repeat("  ", in.Depth)
	fmt.Printf("%s  cycle %d: %s\n", indent, cycle, outcome)
}

func (consoleObserver) OnIntentionComplete(in *intention.Intention) {
	indent := strings.Repeat("  ", in.Depth)
	mark := "?"
	switch in.Status {
	case intention.StatusVerified:
		mark = "ok"
	case intention.StatusFailed:
		mark = "FAILED"
	case intention.StatusAbandoned:
		mark = "abandoned"
	}
	fmt.Printf("%s< %s [%s]\n", indent, in.What, mark)
}

func (consoleObserver) OnSessionComplete(success bool, message string) {}

// terminalCheckpoint asks the operator on stdin before high-risk actions.
type terminalCheckpoint struct{}

func (terminalCheckpoint) Ask(ctx context.Context, action intention.Action, reason string) (engine.CheckpointResult, error) {
	fmt.Printf("\nHigh-risk action: %s\n  factors: %s\nProceed? [y/N] ", action.String(), reason)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return engine.CheckpointResult{Decision: engine.CheckpointReject}, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return engine.CheckpointResult{Decision: engine.CheckpointApprove}, nil
	}
	return engine.CheckpointResult{Decision: engine.CheckpointReject}, nil
}
