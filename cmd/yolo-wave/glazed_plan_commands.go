package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"golang.org/x/sync/errgroup"

	"github.com/egv/yolo-wave/internal/config"
	"github.com/egv/yolo-wave/internal/hook"
	"github.com/egv/yolo-wave/internal/wave"
	"github.com/egv/yolo-wave/internal/worktree"
)

type idsSettings struct {
	IDs []string `glazed.parameter:"ids"`
}

type initCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type initSettings struct {
	Repo  string `glazed.parameter:"repo"`
	Force bool   `glazed.parameter:"force"`
}

func newInitCommand(stdio streams) (cmds.BareCommand, error) {
	return &initCommand{
		CommandDescription: cmds.NewCommandDescription(
			"init",
			cmds.WithShort("Write a starter config file"),
			cmds.WithLong("Create .yolo-wave/config.yaml in the repository with the default settings."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"repo",
					parameters.ParameterTypeString,
					parameters.WithHelp("Repository root"),
					parameters.WithDefault("."),
				),
				parameters.NewParameterDefinition(
					"force",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Overwrite an existing config file"),
					parameters.WithDefault(false),
				),
			),
		),
		stdio: stdio,
	}, nil
}

func (c *initCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &initSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := config.WriteStarter(settings.Repo, settings.Force); err != nil {
		if errors.Is(err, os.ErrExist) {
			return &wave.UsageError{Err: err}
		}
		return err
	}
	fmt.Fprintf(c.stdio.out, "Wrote %s\n", config.RelPath)

	cfg, err := config.Load(settings.Repo)
	if err != nil {
		return &wave.UsageError{Err: err}
	}
	if cfg.Hooks.Template == "" {
		return nil
	}
	wrote, err := hook.WriteTemplate(config.ResolvePath(settings.Repo, cfg.Hooks.Template), settings.Force)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(c.stdio.out, "Wrote %s\n", cfg.Hooks.Template)
	}
	return nil
}

var _ cmds.BareCommand = &initCommand{}

type resolveCommand struct {
	*cmds.CommandDescription
	stdio streams
}

func newResolveCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"resolve",
		"Resolve hints and required gates for items",
		"Derive capability hints and required gate types from each item's text and labels and store them in its metadata.",
		true,
	)
	if err != nil {
		return nil, err
	}
	return &resolveCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *resolveCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &idsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := checkIDs(settings.IDs, false); err != nil {
		return err
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	for _, id := range settings.IDs {
		resolution, err := app.Resolver.ResolveAndStore(ctx, app.Backlog, id)
		if err != nil {
			return err
		}
		source := "inferred"
		if resolution.FromLabels {
			source = "labels"
		}
		fmt.Fprintf(c.stdio.out, "%s gates=%s (%s) hints=%s\n", id, joinOrDash(resolution.Gates), source, joinOrDash(resolution.Hints))
	}
	return nil
}

var _ cmds.BareCommand = &resolveCommand{}

type planCommand struct {
	*cmds.CommandDescription
	stdio  streams
	dryRun bool
}

func newPlanCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"plan",
		"Batch items and record worker prompts",
		"Resolve gates for the given items (every ready item when none are given), group overlapping items into batches and record batch assignment and worker prompts in item metadata.",
		true,
	)
	if err != nil {
		return nil, err
	}
	return &planCommand{CommandDescription: desc, stdio: stdio}, nil
}

func newOverlapCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"overlap",
		"Show overlaps and batches without recording them",
		"Detect file and skill overlap between items (every ready item when none are given) and print the batches a plan would use.",
		true,
	)
	if err != nil {
		return nil, err
	}
	return &planCommand{CommandDescription: desc, stdio: stdio, dryRun: true}, nil
}

func (c *planCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &idsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := checkIDs(settings.IDs, true); err != nil {
		return err
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	planner, err := app.Planner()
	if err != nil {
		return err
	}
	planner.DryRun = c.dryRun
	plan, err := planner.Plan(ctx, settings.IDs)
	if err != nil {
		return err
	}
	printPlan(c.stdio, plan, c.dryRun)
	return nil
}

var _ cmds.BareCommand = &planCommand{}

func printPlan(stdio streams, plan wave.Plan, dryRun bool) {
	out := stdio.out
	if len(plan.Items) == 0 {
		fmt.Fprintln(out, "No ready items.")
		return
	}
	fmt.Fprintf(out, "Wave %s: %d items in %d batches\n", plan.WaveID, len(plan.Items), len(plan.Batches))
	for _, batch := range plan.Batches {
		fmt.Fprintf(out, "%s:\n", batch.ID)
		for _, id := range batch.Items {
			item, _ := plan.Item(id)
			marker := ""
			if item.Updated {
				marker = " (updated)"
			}
			fmt.Fprintf(out, "  %d. %s %s gates=%s%s\n", item.Position, id, item.Item.Title, joinOrDash(item.Resolution.Gates), marker)
		}
		if len(batch.Reasons) > 0 {
			fmt.Fprintf(out, "  shared: %s\n", strings.Join(batch.Reasons, ", "))
		}
		if len(batch.Cycle) > 0 {
			fmt.Fprintf(out, "  dependency cycle %s; kept input order\n", strings.Join(batch.Cycle, " -> "))
		}
	}
	if len(plan.Overlaps) > 0 {
		fmt.Fprintln(out, "Overlaps:")
		for _, overlap := range plan.Overlaps {
			fmt.Fprintf(out, "  %s\n", overlap)
		}
	}
	if dryRun {
		fmt.Fprintln(out, "Nothing recorded; run plan to store batch assignments.")
	}
}

type provisionCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type provisionSettings struct {
	IDs      []string `glazed.parameter:"ids"`
	Parallel int      `glazed.parameter:"parallel"`
}

func newProvisionCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"provision",
		"Create isolated worktrees for items",
		"Create one worktree and branch per item, install dependencies for each detected sub-project and install the pre-commit review hook. Existing worktrees are reused.",
		true,
		parameters.NewParameterDefinition(
			"parallel",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Maximum worktrees provisioned at once"),
			parameters.WithDefault(4),
		),
	)
	if err != nil {
		return nil, err
	}
	return &provisionCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *provisionCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &provisionSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := checkIDs(settings.IDs, false); err != nil {
		return err
	}
	if settings.Parallel <= 0 {
		return wave.Usagef("--parallel must be greater than 0")
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	provisioner, err := app.Provisioner()
	if err != nil {
		return err
	}
	worktrees := make([]worktree.Worktree, len(settings.IDs))
	errs := make([]error, len(settings.IDs))
	var group errgroup.Group
	group.SetLimit(settings.Parallel)
	for i, id := range settings.IDs {
		group.Go(func() error {
			wt, err := provisioner.Provision(ctx, id)
			if err != nil {
				errs[i] = fmt.Errorf("provision %s: %w", id, err)
				return nil
			}
			worktrees[i] = wt
			return nil
		})
	}
	_ = group.Wait()

	for i, id := range settings.IDs {
		if errs[i] != nil {
			fmt.Fprintf(c.stdio.out, "%s failed: %v\n", id, errs[i])
			continue
		}
		printWorktree(c.stdio, worktrees[i])
	}
	return errors.Join(errs...)
}

var _ cmds.BareCommand = &provisionCommand{}

func printWorktree(stdio streams, wt worktree.Worktree) {
	state := "created"
	if wt.Reused {
		state = "reused"
	}
	fmt.Fprintf(stdio.out, "%s %s %s on %s\n", wt.ItemID, state, wt.Path, wt.Branch)
	for _, install := range wt.Installs {
		if install.Err != nil {
			fmt.Fprintf(stdio.out, "  %s install in %s failed: %v\n", install.Ecosystem, install.Dir, install.Err)
		}
	}
	if !wt.Reused && !wt.HookInstalled {
		fmt.Fprintln(stdio.out, "  pre-commit hook not installed")
	}
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}
