package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"github.com/egv/yolo-wave/internal/completion"
	"github.com/egv/yolo-wave/internal/monitor"
	"github.com/egv/yolo-wave/internal/wave"
)

type gateCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type gateSettings struct {
	IDs      []string `glazed.parameter:"ids"`
	Gates    []string `glazed.parameter:"gates"`
	Fresh    bool     `glazed.parameter:"fresh"`
	Timeout  string   `glazed.parameter:"timeout"`
	Worktree string   `glazed.parameter:"worktree"`
}

func newGateCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"gate",
		"Run required verification gates",
		"Run every required gate for each item against its worktree and record the results. Exits 1 when any gate does not pass.",
		true,
		parameters.NewParameterDefinition(
			"gates",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Only run these gate types (repeatable, or comma-separated)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"fresh",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Archive existing result artifacts and rerun"),
			parameters.WithDefault(false),
		),
		parameters.NewParameterDefinition(
			"timeout",
			parameters.ParameterTypeString,
			parameters.WithHelp("Per-gate time budget (defaults to gates.timeout)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"worktree",
			parameters.ParameterTypeString,
			parameters.WithHelp("Worktree path override (single item only)"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &gateCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *gateCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &gateSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := checkIDs(settings.IDs, false); err != nil {
		return err
	}
	timeout, err := parseTimeout(settings.Timeout)
	if err != nil {
		return err
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	gates, err := app.Gates(timeout)
	if err != nil {
		return err
	}
	items, err := gates.Run(ctx, settings.IDs, wave.GateOptions{
		Only:     settings.Gates,
		Fresh:    settings.Fresh,
		Worktree: settings.Worktree,
	})
	if err != nil {
		return err
	}

	failed := false
	for _, item := range items {
		fmt.Fprintf(c.stdio.out, "%s %s\n", item.ItemID, item.Title)
		for _, result := range item.Results {
			line := fmt.Sprintf("  %-12s %s", result.Gate, result.State)
			if result.Reused {
				line += " (recorded)"
			}
			if result.Reason != "" {
				line += "  " + result.Reason
			}
			fmt.Fprintln(c.stdio.out, line)
		}
		if item.StoreErr != nil {
			fmt.Fprintf(c.stdio.out, "  results not recorded: %v\n", item.StoreErr)
		}
		if item.Eligibility.Eligible {
			fmt.Fprintln(c.stdio.out, "  merge: eligible")
		} else {
			fmt.Fprintf(c.stdio.out, "  merge: blocked (%s)\n", item.Eligibility.Reason())
		}
		if item.Failed() || (len(settings.Gates) == 0 && !item.Eligibility.Eligible) {
			failed = true
		}
	}
	if err := wave.StoreErrors(items); err != nil {
		return err
	}
	if failed {
		return wave.ErrFailed
	}
	return nil
}

var _ cmds.BareCommand = &gateCommand{}

type statusCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type statusSettings struct {
	JSON bool `glazed.parameter:"json"`
}

type statusOutput struct {
	Snapshot monitor.Snapshot `json:"snapshot"`
	Alerts   []monitor.Alert  `json:"alerts"`
}

func newStatusCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"status",
		"Print worker status",
		"Poll the session service and the dashboard pane once and print every worker with its status, context usage and alerts.",
		false,
		parameters.NewParameterDefinition(
			"json",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Print the snapshot as JSON"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &statusCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *statusCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &statusSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	snapshot := app.Monitor().Poll(ctx)
	alerts := monitor.Alerts(snapshot, app.Thresholds())
	for _, alert := range alerts {
		app.RaiseAlert(ctx, alert)
	}
	if settings.JSON {
		if alerts == nil {
			alerts = []monitor.Alert{}
		}
		encoder := json.NewEncoder(c.stdio.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(statusOutput{Snapshot: snapshot, Alerts: alerts})
	}
	fmt.Fprint(c.stdio.out, monitor.Render(snapshot, alerts))
	return nil
}

var _ cmds.BareCommand = &statusCommand{}

type watchCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type watchSettings struct {
	Interval string `glazed.parameter:"interval"`
}

func newWatchCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"watch",
		"Watch worker status and alerts",
		"Poll worker status on an interval and show a live table with an alert log. Press q to quit.",
		false,
		parameters.NewParameterDefinition(
			"interval",
			parameters.ParameterTypeString,
			parameters.WithHelp("Poll interval (defaults to monitor.poll_interval)"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &watchCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *watchCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &watchSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	interval, err := parseTimeout(settings.Interval)
	if err != nil {
		return wave.Usagef("--interval must be a non-negative duration, got %q", settings.Interval)
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	if interval == 0 {
		interval = app.Config.Monitor.PollInterval
	}
	model := monitor.NewWatchModel(ctx, app.Monitor().Poll, interval, app.Thresholds(), func(alert monitor.Alert) {
		app.RaiseAlert(ctx, alert)
	})
	return monitor.RunWatch(ctx, model, c.stdio.in, c.stdio.out)
}

var _ cmds.BareCommand = &watchCommand{}

type completeCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type completeSettings struct {
	IDs  []string `glazed.parameter:"ids"`
	Skip []string `glazed.parameter:"skip"`
}

func newCompleteCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"complete",
		"Land a finished wave",
		"Capture worker transcripts, terminate sessions, merge gate-eligible branches into trunk one at a time, remove worktrees and write the wave summary. Exits 1 when any item was blocked or failed to merge.",
		true,
		parameters.NewParameterDefinition(
			"skip",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Stages to skip: capture, terminate, merge, cleanup, summarize"),
			parameters.WithDefault([]string{}),
		),
	)
	if err != nil {
		return nil, err
	}
	return &completeCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *completeCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &completeSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := checkIDs(settings.IDs, false); err != nil {
		return err
	}
	opts, err := parseSkips(settings.Skip)
	if err != nil {
		return err
	}
	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	pipeline, err := app.Pipeline()
	if err != nil {
		return err
	}
	report, err := pipeline.Run(ctx, settings.IDs, opts)
	if err != nil {
		return err
	}
	if err := completion.Print(c.stdio.out, report); err != nil {
		return err
	}
	if report.Failed() {
		return wave.ErrFailed
	}
	return nil
}

var _ cmds.BareCommand = &completeCommand{}

func parseSkips(raw []string) (completion.Options, error) {
	opts := completion.Options{Skip: map[completion.Stage]bool{}}
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			stage, err := completion.ParseStage(part)
			if err != nil {
				return completion.Options{}, &wave.UsageError{Err: err}
			}
			opts.Skip[stage] = true
		}
	}
	return opts, nil
}
