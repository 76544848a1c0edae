// mcphub is the session-scoped tool hub: it connects chat sessions to
// tool-provider servers and drives LLM conversations that can call their tools.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/effective-security/mcphub/api"
	"github.com/effective-security/mcphub/config"
	"github.com/effective-security/mcphub/connmgr"
	"github.com/effective-security/mcphub/orchestrator"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/mcphub/pkg/llms/openai"
	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/registry"
	"github.com/effective-security/mcphub/registryclient"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/mcphub/store"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "mcphub")

func main() {
	cfgFile := flag.String("cfg", "", "configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if *debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.INFO)
	}

	if err := run(*cfgFile); err != nil {
		logger.KV(xlog.ERROR, "reason", "run", "err", err.Error())
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	vaultKey, err := cfg.DecodeVaultKey()
	if err != nil {
		return err
	}

	sessions, err := session.NewStore(session.StoreConfig{
		Timeout:          cfg.Session.Timeout,
		SweepInterval:    cfg.Session.SweepInterval,
		CredentialParser: registry.NewCredentialParser(cfg.Credentials.WellKnownParams, cfg.Credentials.Disabled),
		VaultKey:         vaultKey,
	})
	if err != nil {
		return err
	}

	mgrOpts := []connmgr.Option{
		connmgr.WithRetryPolicy(cfg.Retry),
		connmgr.WithCallTimeout(cfg.CallTimeout),
	}
	if cfg.RegistryURL != "" {
		mgrOpts = append(mgrOpts, connmgr.WithCandidateSource(registryclient.New(cfg.RegistryURL)))
	}
	manager := connmgr.NewManager(mcpclient.NewHTTPDialer(""), mgrOpts...)

	models := func(apiKey string) (llms.Model, error) {
		var opts []openai.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.Model != "" {
			opts = append(opts, openai.WithModel(cfg.LLM.Model))
		}
		if cfg.LLM.APIVersion != "" {
			opts = append(opts, openai.WithAPIVersion(cfg.LLM.APIVersion))
		}
		return openai.New(cfg.LLM.Provider, apiKey, opts...)
	}

	history := store.NewMemoryStore()
	if cfg.Redis != nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		history = store.NewRedisStore(client, cfg.Redis.Prefix)
	}

	chatOpts := []orchestrator.Option{
		orchestrator.WithHistory(history),
	}
	if cfg.LLM.MaxToolRounds > 0 {
		chatOpts = append(chatOpts, orchestrator.WithMaxRounds(cfg.LLM.MaxToolRounds))
	}
	chat := orchestrator.New(models, manager, chatOpts...)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(sessions, manager, chat).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO, "status", "listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.KV(xlog.INFO, "status", "shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.KV(xlog.WARNING, "reason", "http shutdown", "err", err.Error())
	}
	sessions.Shutdown(shutdownCtx)
	return nil
}
