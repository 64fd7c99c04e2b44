package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/compiler"
	"github.com/zjrosen/agentmap/internal/log"
	"github.com/zjrosen/agentmap/internal/presentation"
	"github.com/zjrosen/agentmap/internal/pubsub"
	"github.com/zjrosen/agentmap/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompile graphs when the CSV or declarations change",
	Long: `Compile every graph once, then watch the workflow CSV and declaration
files. A CSV change recompiles graphs whose content changed. A declaration
change reloads the registry and rebuilds every graph.

Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.CSVPath == "" {
			return errors.New("no CSV path given")
		}
		return runWatch(cmd.Context(), cmd)
	},
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	declFiles := make(map[string]bool)
	paths := []string{cfg.CSVPath}
	for _, s := range cfg.Registry.Sources {
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			return err
		}
		declFiles[abs] = true
		paths = append(paths, s.Path)
	}

	wcfg := watcher.DefaultConfig(paths...)
	if cfg.Watch.Debounce > 0 {
		wcfg.Debounce = cfg.Watch.Debounce
	}
	w, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()
	go logEvents(ctx, rt.events)

	out := formatter(cmd.OutOrStdout())
	compileAll := func(force bool) {
		opts := compileOptions()
		opts.Force = opts.Force || force
		results := rt.compiler.CompileAllGraphs(ctx, opts)
		rt.prune(ctx, results)
		if err := out.FormatResults(presentation.FromResults(results)); err != nil {
			log.ErrorErr(log.CatWatcher, "printing results", err)
		}
	}

	compileAll(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			rt.events.Publish(pubsub.SourceChangedEvent, compiler.Event{GraphName: compiler.BatchGraphName})

			if !touchesDeclarations(change, declFiles) {
				compileAll(false)
				continue
			}

			// The CSV hash is unchanged when only declarations move, so the
			// registry must be reloaded and every bundle rebuilt.
			next, err := newRuntime(ctx, cfg)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "reloading registry", err)
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "reload failed: %v\n", err)
				continue
			}
			_ = rt.close(context.WithoutCancel(ctx))
			rt = next
			go logEvents(ctx, rt.events)
			compileAll(true)
		}
	}
}

func touchesDeclarations(c watcher.Change, declFiles map[string]bool) bool {
	for _, p := range c.Paths {
		if declFiles[p] {
			return true
		}
	}
	return false
}

func logEvents(ctx context.Context, b *pubsub.Broker[compiler.Event]) {
	for ev := range b.Subscribe(ctx) {
		log.Debug(log.CatWatcher, "event", "type", string(ev.Type), "graph", ev.Payload.GraphName)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
