package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"concord.chat/internal/access"
	"concord.chat/internal/discord"
	"concord.chat/internal/economy"
	"concord.chat/internal/httpapi"
	"concord.chat/internal/leaderboard"
	"concord.chat/internal/leveling"
	"concord.chat/internal/obs"
	"concord.chat/internal/perm"
	"concord.chat/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the ops HTTP server and the interest sweeper",
	Long: `Connects to Discord (when a token is configured), serves health, metrics
and read-only bot state over HTTP and applies daily interest in the
background. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	be, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := be.close(closeCtx); err != nil {
			logger.Warn("storage close failed", zap.Error(err))
		}
	}()

	resolver, err := access.NewResolver(be.perms, access.NewCache())
	if err != nil {
		return err
	}
	perms, err := perm.NewService(be.perms, perm.WithInvalidator(resolver))
	if err != nil {
		return err
	}
	ledger, err := leveling.NewLedger(be.levels)
	if err != nil {
		return err
	}
	settings, err := leveling.NewSettings(be.levels)
	if err != nil {
		return err
	}
	events := stream.New(cfg.Notifications.Buffer)
	engine, err := leveling.NewEngine(ledger, be.levels,
		leveling.WithNotifier(events),
		leveling.WithEngineLogger(logger))
	if err != nil {
		return err
	}
	bank, err := economy.NewBank(be.accounts)
	if err != nil {
		return err
	}
	sweeper, err := economy.NewSweeper(bank, cfg.Economy.Policy(),
		economy.WithInterval(cfg.Economy.SweepInterval),
		economy.WithSweeperLogger(logger))
	if err != nil {
		return err
	}

	var (
		names   leaderboard.NameResolver
		session *discordgo.Session
	)
	if cfg.Discord.Token != "" {
		session, err = discord.NewSession(cfg.Discord.Token)
		if err != nil {
			return err
		}
		names = discord.NewMemberNames(session)
	} else {
		logger.Warn("discord token not configured, running without the gateway")
	}

	board, err := leaderboard.NewService(ledger, leaderboard.BalanceSource{Accounts: be.accounts}, names,
		leaderboard.WithTTL(cfg.Leaderboard.CacheTTL, cfg.Leaderboard.CleanupInterval),
		leaderboard.WithDefaultPageSize(cfg.Leaderboard.PageSize),
		leaderboard.WithLogger(logger))
	if err != nil {
		return err
	}

	// built before any goroutine starts
	bot, relay, err := newGateway(session, discord.Services{
		Perms:       perms,
		Access:      resolver,
		Settings:    settings,
		Leaderboard: board,
		Bank:        bank,
	}, engine)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Probe:       httpapi.ReadyProbe{Stores: be.probes},
		Version:     version,
		Leaderboard: board,
		Access:      resolver,
		Events:      events,
		Logger:      logger,
	}, httpapi.WithRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
		g.Go(func() error { return relay.Run(gctx, events.Subscribe(gctx)) })
	}

	err = g.Wait()
	logger.Info("concord stopped", zap.Int64("dropped_level_ups", events.Dropped()))
	return err
}

// newGateway returns nil parts when session is nil.
func newGateway(session *discordgo.Session, svc discord.Services, engine *leveling.Engine) (*discord.Bot, *discord.Relay, error) {
	if session == nil {
		return nil, nil, nil
	}
	router, err := discord.NewRouter(svc, discord.WithRouterLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	bot, err := discord.New(session, discord.Options{
		AppID:            cfg.Discord.AppID,
		GuildIDs:         cfg.Discord.GuildIDs,
		RegisterCommands: cfg.Discord.RegisterCommands,
		Logger:           logger,
	}, router, engine)
	if err != nil {
		return nil, nil, err
	}
	relay, err := discord.NewRelay(session,
		discord.WithSendTimeout(cfg.Notifications.Timeout),
		discord.WithGuildRate(cfg.Notifications.PerGuildRate, cfg.Notifications.PerGuildBurst),
		discord.WithRelayLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return bot, relay, nil
}
