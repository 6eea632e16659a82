package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dumpsleuth/dumpsleuth/internal/analyzers"
	"github.com/dumpsleuth/dumpsleuth/internal/config"
	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/healer"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
	"github.com/dumpsleuth/dumpsleuth/internal/redact"
	"github.com/dumpsleuth/dumpsleuth/internal/session"
)

// RunOptions are the per-invocation knobs on top of the Config.
type RunOptions struct {
	DumpPath     string
	Issue        string
	Interactive  bool
	Confirm      func(next Phase) bool
	ShowCommands bool
	Stderr       io.Writer
}

// RunInvestigation assembles the full pipeline from configuration and
// drives one investigation: session, evidence store, audit log,
// provider, debugger, healer, controller. The returned session points
// at the stored evidence and report.
func RunInvestigation(ctx context.Context, cfg *config.Config, opts RunOptions) (*AnalysisState, *session.Session, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if err := debugger.ValidateDump(opts.DumpPath); err != nil {
		return nil, nil, err
	}

	mgr, err := session.NewManager(cfg.SessionsBaseDir)
	if err != nil {
		return nil, nil, err
	}
	sess, err := mgr.Create(opts.DumpPath, opts.Issue)
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(opts.Stderr, "session: %s\n", sess.ID)

	// Diagnostics are teed into the session's analysis.log.
	if logf, err := os.OpenFile(sess.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		defer logf.Close()
		opts.Stderr = io.MultiWriter(opts.Stderr, logf)
	}

	audit, err := session.OpenAudit(sess.AuditPath())
	if err != nil {
		return nil, sess, err
	}
	defer audit.Close()

	store, err := evidence.OpenStore(evidence.StoreConfig{
		DBPath:    sess.DatabasePath(),
		SessionID: sess.ID,
		BlobDir:   sess.EvidenceDir(),
		Threshold: cfg.StorageThreshold,
	})
	if err != nil {
		return nil, sess, err
	}
	defer store.Close()

	orc, err := oracle.FromConfig(ctx, cfg)
	if err != nil {
		return nil, sess, err
	}
	embedder, err := oracle.EmbedderFromConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "warning: embeddings unavailable: %v\n", err)
		embedder = nil
	}

	exec, err := debugger.NewCdbExecutor(debugger.CdbConfig{
		CdbPath:    cfg.CdbPath,
		DumpPath:   opts.DumpPath,
		SymbolPath: cfg.SymbolPath,
		Timeout:    cfg.CommandTimeout,
	})
	if err != nil {
		return nil, sess, err
	}

	redactor, err := redact.NewFromConfig(cfg.RedactPatternsFile)
	if err != nil {
		return nil, sess, fmt.Errorf("load redaction patterns: %w", err)
	}

	ctrl, err := New(Config{
		Oracle:   orc,
		Executor: exec,
		Registry: analyzers.DefaultRegistry(),
		Store:    store,
		Retriever: evidence.NewRetriever(embedder),
		Healer: healer.New(healer.Config{
			Oracle:     orc,
			MaxRetries: cfg.MaxCommandRetries,
		}),
		Redactor:              redactor,
		Session:               sess,
		Audit:                 audit,
		MaxIterations:         cfg.MaxIterations,
		MaxHypothesisAttempts: cfg.MaxHypothesisAttempts,
		RetrievalTopK:         cfg.RetrievalTopK,
		UseEmbeddings:         cfg.UseEmbeddings && embedder != nil,
		Interactive:           opts.Interactive,
		Confirm:               opts.Confirm,
		ShowCommands:          opts.ShowCommands,
		Stderr:                opts.Stderr,
	})
	if err != nil {
		return nil, sess, err
	}

	state, err := ctrl.Run(ctx, opts.DumpPath, opts.Issue)
	return state, sess, err
}
