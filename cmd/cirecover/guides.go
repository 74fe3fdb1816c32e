package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

var guidesFlags struct {
	json bool
}

var guidesCmd = &cobra.Command{
	Use:   "guides",
	Short: "Read recovery guides from the knowledge store",
}

var guidesListCmd = &cobra.Command{
	Use:   "list [chain]",
	Short: "List chains, or the guides of one chain",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGuidesList,
}

var guidesLatestCmd = &cobra.Command{
	Use:   "latest <chain>",
	Short: "Show the latest guide of a chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runGuidesLatest,
}

var guidesWatchCmd = &cobra.Command{
	Use:   "watch <chain>",
	Short: "Print guides of a chain as they are written",
	Long: `Follow a chain: print its latest guide, then every newer guide as the
controller writes it, until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runGuidesWatch,
}

func init() {
	guidesCmd.PersistentFlags().BoolVar(&guidesFlags.json, "json", false, "print JSON instead of tables")
	guidesCmd.AddCommand(guidesListCmd)
	guidesCmd.AddCommand(guidesLatestCmd)
	guidesCmd.AddCommand(guidesWatchCmd)
}

// withKnowledge opens the shared services for a read-only guides command.
func withKnowledge(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{logToStderr: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, a)
}

func runGuidesList(cmd *cobra.Command, args []string) error {
	return withKnowledge(cmd, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			chains, err := a.knowledge.ListChains(ctx)
			if err != nil {
				return err
			}
			if guidesFlags.json {
				return writeJSON(out, chains)
			}
			renderChains(out, chains)
			return nil
		}

		guides, err := a.knowledge.ListGuides(ctx, args[0])
		if err != nil {
			return err
		}
		if guidesFlags.json {
			return writeJSON(out, guides)
		}
		renderGuides(out, guides)
		return nil
	})
}

func runGuidesLatest(cmd *cobra.Command, args []string) error {
	return withKnowledge(cmd, func(ctx context.Context, a *app) error {
		g, err := a.knowledge.LatestGuide(ctx, args[0])
		if err != nil {
			if errors.Is(err, remediation.ErrGuideNotFound) {
				return fmt.Errorf("chain %s has no guides", args[0])
			}
			return err
		}
		return printGuide(cmd.OutOrStdout(), g)
	})
}

func runGuidesWatch(cmd *cobra.Command, args []string) error {
	return withKnowledge(cmd, func(ctx context.Context, a *app) error {
		f := &guideFollower{
			knowledge: a.knowledge,
			chainID:   args[0],
			last:      -1,
			print:     func(g *remediation.Guide) error { return printGuide(cmd.OutOrStdout(), g) },
		}
		return f.Watch(ctx, a.cfg.Store.Path, a.logger.Named("watch"))
	})
}

func printGuide(w io.Writer, g *remediation.Guide) error {
	if guidesFlags.json {
		return writeJSON(w, g)
	}
	renderGuide(w, g)
	fmt.Fprintln(w)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// guideReader is the read side of the knowledge service a follower needs.
type guideReader interface {
	ListGuides(ctx context.Context, chainID string) ([]remediation.Guide, error)
}

// guideFollower prints guides newer than the last one it printed.
type guideFollower struct {
	knowledge guideReader
	chainID   string
	last      int
	print     func(g *remediation.Guide) error
}

// Poll prints every guide with an iteration above the last printed one.
func (f *guideFollower) Poll(ctx context.Context) error {
	guides, err := f.knowledge.ListGuides(ctx, f.chainID)
	if err != nil {
		return err
	}
	for i := range guides {
		if guides[i].Iteration <= f.last {
			continue
		}
		if err := f.print(&guides[i]); err != nil {
			return err
		}
		f.last = guides[i].Iteration
	}
	return nil
}

// Watch polls once, then again whenever the store or its WAL changes.
func (f *guideFollower) Watch(ctx context.Context, storePath string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(storePath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	base := filepath.Base(storePath)

	if err := f.Poll(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.Poll(ctx); err != nil {
				logger.Warn("reading guides", zap.String("chain.id", f.chainID), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
