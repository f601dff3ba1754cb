package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"orchestra/internal/workflows"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Validate and register workflow spec documents",
}

var specValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a workflow spec document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecValidate,
}

var specLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Validate and register a workflow spec document as a new version",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecLoad,
}

func runSpecValidate(cmd *cobra.Command, args []string) error {
	loader := workflows.NewLoader(".")
	wf, err := loader.LoadFile(args[0])
	if err != nil {
		return asValidationError(err)
	}
	fmt.Printf("valid: %s (namespace=%s, type=%s, tasks=%d)\n", wf.Spec.Name, wf.Spec.Namespace, wf.Spec.Type, len(wf.Spec.Tasks))
	return nil
}

func runSpecLoad(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	loader := workflows.NewLoader(".")
	wf, err := loader.LoadFile(args[0])
	if err != nil {
		return asValidationError(err)
	}

	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	version, err := rt.store.SaveSpec(ctx, wf.Spec, wf.RawContent)
	if err != nil {
		return fmt.Errorf("failed to save spec: %w", err)
	}

	fmt.Printf("loaded %s v%d (namespace=%s)\n", wf.Spec.Name, version, wf.Spec.Namespace)
	return nil
}
