package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/spf13/cobra"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/wave"
)

const waveLayerSlug = "wave"

type waveSettings struct {
	Repo    string `glazed.parameter:"repo"`
	WaveID  string `glazed.parameter:"wave-id"`
	Verbose bool   `glazed.parameter:"verbose"`
	Offline bool   `glazed.parameter:"offline"`
	Stream  bool   `glazed.parameter:"stream"`
}

func newWaveLayer() (layers.ParameterLayer, error) {
	layer, err := layers.NewParameterLayer(waveLayerSlug, "Wave")
	if err != nil {
		return nil, err
	}
	layer.AddFlags(
		parameters.NewParameterDefinition(
			"repo",
			parameters.ParameterTypeString,
			parameters.WithHelp("Repository root"),
			parameters.WithDefault("."),
		),
		parameters.NewParameterDefinition(
			"wave-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Wave run id recorded on events (generated when empty)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"verbose",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Mirror the run log to stderr"),
			parameters.WithDefault(false),
		),
		parameters.NewParameterDefinition(
			"offline",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Do not contact the session service"),
			parameters.WithDefault(false),
		),
		parameters.NewParameterDefinition(
			"stream",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Also write events as JSONL to stdout"),
			parameters.WithDefault(false),
		),
	)
	return layer, nil
}

// newWaveCommandDescription builds a description carrying the wave layer and
// an optional list of item ids as positional arguments.
func newWaveCommandDescription(name string, short string, long string, withIDs bool, flags ...*parameters.ParameterDefinition) (*cmds.CommandDescription, error) {
	waveLayer, err := newWaveLayer()
	if err != nil {
		return nil, err
	}
	options := []cmds.CommandDescriptionOption{
		cmds.WithShort(short),
		cmds.WithLayersList(waveLayer),
	}
	if strings.TrimSpace(long) != "" {
		options = append(options, cmds.WithLong(long))
	}
	if len(flags) > 0 {
		options = append(options, cmds.WithFlags(flags...))
	}
	if withIDs {
		options = append(options, cmds.WithArguments(
			parameters.NewParameterDefinition(
				"ids",
				parameters.ParameterTypeStringList,
				parameters.WithHelp("Backlog item ids"),
				parameters.WithDefault([]string{}),
			),
		))
	}
	return cmds.NewCommandDescription(name, options...), nil
}

func openApp(ctx context.Context, parsedLayers *layers.ParsedLayers, stdio streams) (*wave.App, error) {
	settings := &waveSettings{}
	if err := parsedLayers.InitializeStruct(waveLayerSlug, settings); err != nil {
		return nil, &wave.UsageError{Err: err}
	}
	opts := wave.Options{
		WaveID:  settings.WaveID,
		Verbose: settings.Verbose,
		Offline: settings.Offline,
		Stderr:  stdio.err,
	}
	if settings.Stream {
		opts.EventsOut = stdio.out
	}
	return wave.Open(ctx, settings.Repo, opts)
}

// checkIDs rejects malformed ids up front. An empty list is accepted only
// when the command falls back to the ready set.
func checkIDs(ids []string, allowEmpty bool) error {
	if len(ids) == 0 && !allowEmpty {
		return wave.Usagef("at least one item id is required")
	}
	for _, id := range ids {
		if err := contracts.ValidateItemID(id); err != nil {
			return &wave.UsageError{Err: err}
		}
	}
	return nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(raw)
	if err != nil || timeout < 0 {
		return 0, wave.Usagef("--timeout must be a non-negative duration, got %q", raw)
	}
	return timeout, nil
}

func newRootCommand(stdio streams) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "yolo-wave",
		Short:         "run parallel coding-agent waves with gated merges",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return wave.Usagef("unknown command %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			printUsage(stdio.err)
			return wave.Usagef("command is required")
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &wave.UsageError{Err: err}
	})

	constructors := []func(streams) (cmds.BareCommand, error){
		newInitCommand,
		newResolveCommand,
		newPlanCommand,
		newOverlapCommand,
		newProvisionCommand,
		newGateCommand,
		newStatusCommand,
		newWatchCommand,
		newCompleteCommand,
		newEventsCommand,
	}
	for _, construct := range constructors {
		command, err := construct(stdio)
		if err != nil {
			return nil, err
		}
		cobraCommand, err := buildGlazedCobraCommand(command)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(cobraCommand)
	}
	return rootCmd, nil
}

// buildGlazedCobraCommand hooks the glazed parser into a cobra command whose
// RunE hands every error back to RunMain for exit code mapping.
func buildGlazedCobraCommand(command cmds.BareCommand) (*cobra.Command, error) {
	description := command.Description()
	cobraCommand := cli.NewCobraCommandFromCommandDescription(description)
	parser, err := cli.NewCobraParserFromLayers(description.Layers, &cli.CobraParserConfig{
		ShortHelpLayers: []string{layers.DefaultSlug},
		MiddlewaresFunc: cli.CobraCommandDefaultMiddlewares,
	})
	if err != nil {
		return nil, err
	}
	if err := parser.AddToCobraCommand(cobraCommand); err != nil {
		return nil, err
	}
	cobraCommand.RunE = func(cmd *cobra.Command, args []string) error {
		parsedLayers, err := parser.Parse(cmd, args)
		if err != nil {
			return &wave.UsageError{Err: err}
		}
		return command.Run(cmd.Context(), parsedLayers)
	}
	return cobraCommand, nil
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `yolo-wave <command> [flags] [ids...]

Commands:
  init       Write a starter .yolo-wave/config.yaml
  resolve    Resolve capability hints and required gates for items
  plan       Batch ready items by overlap and record worker prompts
  overlap    Show overlaps and batches without recording them
  provision  Create isolated worktrees for items
  gate       Run required verification gates for items
  status     Print a one-shot worker status snapshot
  watch      Watch worker status and alerts
  complete   Capture, terminate, merge, clean up and summarize a wave
  events     Replay the recorded wave event log

Exit codes: 0 success, 1 gates or merges failed, 2 usage error, 3 infrastructure error.
`)
}
