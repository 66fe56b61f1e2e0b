package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/config"
	"github.com/jackzampolin/quill/internal/pipeline"
	"github.com/jackzampolin/quill/internal/server"
	"github.com/jackzampolin/quill/internal/store"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <project> [root]",
	Short: "Watch a manuscript directory and re-analyze on change",
	Long: `Watch a directory tree for manuscript edits. Each changed file is
re-ingested and the full analysis sequence runs against the new
snapshot. Unchanged content is a no-op; unchanged chunks keep their
identity, so evidence and metrics carry across edits.

Runs directly against the local store; no server is required.

Examples:
  quill watch novel                  # Watch the current directory
  quill watch novel ./drafts         # Watch a specific directory`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		root := "."
		if len(args) == 2 {
			root = args[1]
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		st, err := store.NewSQLiteStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		p := pipeline.New(st, server.BuildLLMClient(cfg), server.PipelineOptions(cfg, logger), logger)
		return watchLoop(cmd.Context(), p, logger, projectID, root)
	},
}

func watchLoop(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger, projectID, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// fsnotify watches are not recursive; register every directory.
	addTree := func(dir string) error {
		return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != dir {
					return filepath.SkipDir
				}
				return watcher.Add(path)
			}
			return nil
		})
	}
	if err := addTree(root); err != nil {
		return err
	}
	logger.Info("watching", "project", projectID, "root", root)

	// One timer per path absorbs editor save bursts.
	timers := map[string]*time.Timer{}
	fire := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addTree(ev.Name)
					continue
				}
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if !watchableExt(ev.Name) {
				continue
			}
			path := ev.Name
			if t, ok := timers[path]; ok {
				t.Reset(watchDebounce)
				continue
			}
			timers[path] = time.AfterFunc(watchDebounce, func() { fire <- path })
		case path := <-fire:
			delete(timers, path)
			reanalyze(ctx, p, logger, projectID, root, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

func watchableExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".docx":
		return true
	}
	return false
}

// reanalyze ingests one changed file and runs the stage sequence when the
// content actually changed.
func reanalyze(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger, projectID, root, path string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		logger.Error("resolving changed path", "path", path, "error", err)
		return
	}

	res, err := p.IngestDocument(ctx, projectID, root, rel)
	if err != nil {
		if errors.Is(err, pipeline.ErrDocumentNotFound) {
			return // deleted between the event and the debounce
		}
		logger.Error("ingest failed", "file", rel, "error", err)
		return
	}
	if !res.SnapshotCreated {
		logger.Debug("content unchanged", "file", rel)
		return
	}
	logger.Info("re-ingested", "file", rel,
		"created", res.ChunksCreated, "updated", res.ChunksUpdated, "deleted", res.ChunksDeleted)

	rc := &pipeline.RunContext{
		ProjectID:   projectID,
		DocumentID:  res.DocumentID,
		SnapshotID:  res.SnapshotID,
		ChangeStart: res.ChangeStart,
		ChangeEnd:   res.ChangeEnd,
	}
	if err := p.RunAll(ctx, rc); err != nil {
		logger.Error("analysis failed", "file", rel, "error", err)
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-analyzing a changed file")
	rootCmd.AddCommand(watchCmd)
}
