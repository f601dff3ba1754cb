package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"orchestra/internal/dispatch"
	"orchestra/internal/store"
	"orchestra/pkg/models"
)

var startCmd = &cobra.Command{
	Use:   "start <spec-name>",
	Short: "Start a new workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var getCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show a workflow execution and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var stopCmd = &cobra.Command{
	Use:   "stop <execution-id>",
	Short: "Stop a running workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <execution-id> <task-name>",
	Short: "Rerun a terminal task within a workflow execution",
	Args:  cobra.ExactArgs(2),
	RunE:  runRerun,
}

func runStart(cmd *cobra.Command, args []string) error {
	specName := args[0]
	inputJSON, _ := cmd.Flags().GetString("input")
	namespace, _ := cmd.Flags().GetString("namespace")
	version, _ := cmd.Flags().GetInt64("version")

	ctx := context.Background()
	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if namespace == "" {
		namespace = rt.cfg.Namespace
	}

	var input json.RawMessage
	if inputJSON != "" {
		input = json.RawMessage(inputJSON)
		var test interface{}
		if err := json.Unmarshal(input, &test); err != nil {
			return asValidationError(fmt.Errorf("invalid input JSON: %w", err))
		}
	}

	if version == 0 {
		latest, err := rt.store.GetLatestSpecVersion(ctx, specName, namespace)
		if err != nil {
			return fmt.Errorf("resolving latest version of %s: %w", specName, err)
		}
		version = latest.Version
	}

	we := &models.WorkflowExecution{
		SpecName:      specName,
		SpecNamespace: namespace,
		SpecVersion:   version,
		State:         models.StateIdle,
		Input:         input,
	}
	if err := rt.store.CreateWorkflowExecution(ctx, we); err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}

	fmt.Printf("starting %s v%d -> execution %s\n", specName, version, we.ID)

	if err := rt.dsp.HandleEvent(ctx, dispatch.Event{
		EventID:             uuid.NewString(),
		Kind:                dispatch.EventStart,
		WorkflowExecutionID: we.ID,
	}); err != nil {
		return fmt.Errorf("failed to run workflow: %w", err)
	}

	return printExecution(ctx, rt.store, we.ID)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return printExecution(ctx, rt.store, args[0])
}

func runStop(cmd *cobra.Command, args []string) error {
	return sendControlEvent(args[0], dispatch.EventStop)
}

func runCancel(cmd *cobra.Command, args []string) error {
	return sendControlEvent(args[0], dispatch.EventCancel)
}

func sendControlEvent(executionID string, kind dispatch.EventKind) error {
	ctx := context.Background()
	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.store.GetWorkflowExecution(ctx, executionID); err != nil {
		return err
	}

	if err := rt.dsp.HandleEvent(ctx, dispatch.Event{
		EventID:             uuid.NewString(),
		Kind:                kind,
		WorkflowExecutionID: executionID,
	}); err != nil {
		return fmt.Errorf("failed to apply %s: %w", kind, err)
	}

	return printExecution(ctx, rt.store, executionID)
}

func runRerun(cmd *cobra.Command, args []string) error {
	executionID, taskName := args[0], args[1]

	ctx := context.Background()
	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.store.GetWorkflowExecution(ctx, executionID); err != nil {
		return err
	}

	if err := rt.dsp.HandleEvent(ctx, dispatch.Event{
		EventID:             uuid.NewString(),
		Kind:                dispatch.EventRerun,
		WorkflowExecutionID: executionID,
		TaskName:            taskName,
	}); err != nil {
		return fmt.Errorf("failed to rerun task %s: %w", taskName, err)
	}

	return printExecution(ctx, rt.store, executionID)
}

func printExecution(ctx context.Context, st *store.Store, executionID string) error {
	we, err := st.GetWorkflowExecution(ctx, executionID)
	if err != nil {
		return err
	}

	fmt.Printf("execution %s: %s\n", we.ID, we.State)
	if we.ErrorReason != nil {
		fmt.Printf("  error: %s\n", *we.ErrorReason)
	}
	if len(we.Output) > 0 {
		fmt.Printf("  output: %s\n", we.Output)
	}

	tasks, err := st.ListTasksForWorkflowReadOnly(ctx, executionID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  task %-20s %s", t.TaskName, t.State)
		if t.ErrorReason != nil {
			line += fmt.Sprintf(" (%s)", *t.ErrorReason)
		}
		fmt.Println(line)
	}
	return nil
}
