package main

import (
	"autopn/internal/config"
	"autopn/internal/llm"
	"autopn/internal/mailfetch"
	"autopn/internal/store"
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// relation resolves --relation and its paths.
func relation() (*config.RelationConfig, config.RelationPaths, error) {
	rel, err := cfg.ResolveRelation(relationID)
	if err != nil {
		return nil, config.RelationPaths{}, err
	}
	paths, err := cfg.Paths(rel)
	if err != nil {
		return nil, config.RelationPaths{}, err
	}
	return rel, paths, nil
}

// newLLMClient builds the configured client with command line overrides.
func newLLMClient(ctx context.Context, model string, temperature *float64) (llm.Client, error) {
	lc := cfg.LLM.WithOverrides(model, temperature)
	client, err := llm.NewClientFromConfig(ctx, lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

// openStore opens the analysis cache. The caller closes it.
func openStore() (*store.LocalStore, error) {
	path := store.DefaultPath(cfg.BaseDir(), cfg.Store.Path)
	st, err := store.NewLocalStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	logger.Debug("store opened", zap.String("path", path))
	return st, nil
}

// trackRun records a command run in st. The returned func closes the
// run with its outcome.
func trackRun(ctx context.Context, st *store.LocalStore, command string) func(error) {
	id, err := st.BeginRun(ctx, command)
	if err != nil {
		logger.Warn("run not recorded", zap.Error(err))
		return func(error) {}
	}
	return func(runErr error) {
		if err := st.FinishRun(context.Background(), id, runErr); err != nil {
			logger.Warn("run end not recorded", zap.String("run", id), zap.Error(err))
		}
	}
}

// imapDialer dials the configured IMAP server.
func imapDialer() (mailfetch.Dialer, error) {
	if cfg.IMAP.Username == "" || cfg.IMAP.Password == "" {
		return nil, fmt.Errorf("imap username and password are required (EMAIL_ADDRESS / EMAIL_PASSWORD)")
	}
	addr := net.JoinHostPort(cfg.IMAP.Server, strconv.Itoa(cfg.IMAP.Port))
	return mailfetch.TLSDialer(addr, cfg.IMAP.Username, cfg.IMAP.Password, cfg.GetIMAPTimeout()), nil
}

// openMailbox connects and selects the configured folder. The caller logs
// out.
func openMailbox(ctx context.Context) (mailfetch.Mailbox, error) {
	dial, err := imapDialer()
	if err != nil {
		return nil, err
	}
	mb, folder, err := mailfetch.Open(ctx, dial, cfg.IMAP.Folder)
	if err != nil {
		return nil, err
	}
	logger.Info("mailbox selected", zap.String("folder", folder))
	return mb, nil
}
