package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/wave"
)

type eventsCommand struct {
	*cmds.CommandDescription
	stdio streams
}

type eventsSettings struct {
	Item  string   `glazed.parameter:"item"`
	Types []string `glazed.parameter:"type"`
	Tail  int      `glazed.parameter:"tail"`
	JSON  bool     `glazed.parameter:"json"`
}

func newEventsCommand(stdio streams) (cmds.BareCommand, error) {
	desc, err := newWaveCommandDescription(
		"events",
		"Replay the recorded wave event log",
		"Read events.file and print the recorded events in order. --wave-id limits the output to one wave run.",
		false,
		parameters.NewParameterDefinition(
			"item",
			parameters.ParameterTypeString,
			parameters.WithHelp("Only events for this item id"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"type",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Only these event types (repeatable or comma-separated)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"tail",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Only the last N matching events (0 prints all)"),
			parameters.WithDefault(0),
		),
		parameters.NewParameterDefinition(
			"json",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Print events as JSONL"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &eventsCommand{CommandDescription: desc, stdio: stdio}, nil
}

func (c *eventsCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &eventsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	waveLayer := &waveSettings{}
	if err := parsedLayers.InitializeStruct(waveLayerSlug, waveLayer); err != nil {
		return &wave.UsageError{Err: err}
	}
	if settings.Tail < 0 {
		return wave.Usagef("--tail must be zero or positive, got %d", settings.Tail)
	}
	if settings.Item != "" {
		if err := checkIDs([]string{settings.Item}, false); err != nil {
			return err
		}
	}
	filter := wave.EventFilter{WaveID: waveLayer.WaveID, ItemID: settings.Item, Tail: settings.Tail}
	for _, entry := range settings.Types {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Types = append(filter.Types, contracts.EventType(part))
			}
		}
	}

	app, err := openApp(ctx, parsedLayers, c.stdio)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	events, skipped, err := app.ReplayEvents(filter)
	if err != nil {
		return err
	}
	if skipped > 0 {
		fmt.Fprintf(c.stdio.err, "skipped %d malformed lines in %s\n", skipped, app.EventLogPath())
	}
	if settings.JSON {
		for _, event := range events {
			line, err := contracts.MarshalEventJSONL(event)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(c.stdio.out, line); err != nil {
				return err
			}
		}
		return nil
	}
	printEvents(c.stdio.out, events)
	return nil
}

var _ cmds.BareCommand = &eventsCommand{}

func printEvents(out io.Writer, events []contracts.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return
	}
	for _, event := range events {
		subject := joinOrDash(nonEmpty(event.ItemID, event.Gate, event.Stage))
		fmt.Fprintf(out, "%s  %-18s %-16s %s\n", event.Timestamp.UTC().Format(time.RFC3339), event.Type, subject, event.Message)
	}
}

func nonEmpty(values ...string) []string {
	out := []string{}
	for _, value := range values {
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
