package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rudp/internal/app"
	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// run executes the configured role next to the stats reporter and the
// metrics server. Everything stops once the role finishes.
func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	roleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(roleCtx)

	g.Go(func() error {
		defer cancel()
		return runRole(gCtx, g, cfg)
	})

	if interval := cfg.StatsInterval.Duration; interval > 0 {
		g.Go(func() error { return util.RunStatsReporter(gCtx, interval) })
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
		g.Go(func() error {
			util.LogInfo("serving metrics on %s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	util.LogInfo("bye")
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", util.MetricsHandler())
	return mux
}

// runRole binds the transport the role needs and hands it to the app layer.
// UDP read loops join g so their failures surface from run.
func runRole(ctx context.Context, g *errgroup.Group, cfg config.Config) error {
	opts := cfg.Protocol.Options()

	switch cfg.Role {
	case config.RoleListen:
		tr, err := bindUDP(ctx, g, cfg.Port)
		if err != nil {
			return err
		}
		return app.RunEcho(ctx, tr, opts...)

	case config.RoleConnect:
		peer, err := transport.ParseAddr(cfg.Peer)
		if err != nil {
			return err
		}
		tr, err := bindUDP(ctx, g, cfg.Port)
		if err != nil {
			return err
		}
		util.LogInfo("type a line and press Enter to send it, Ctrl+C to quit")
		return app.RunClient(ctx, tr, peer, cfg.Token, os.Stdin, os.Stdout, opts...)

	case config.RoleBroadcast:
		tr, err := bindUDP(ctx, g, cfg.Port)
		if err != nil {
			return err
		}
		return app.RunBroadcast(ctx, tr, cfg.BroadcastHost, cfg.Message, opts...)

	case config.RoleHost:
		return app.RunHost(ctx, cfg.WSAddr, opts...)

	case config.RoleJoin:
		util.LogInfo("type a line and press Enter to send it, Ctrl+C to quit")
		return app.RunJoin(ctx, cfg.WSURL, cfg.Token, os.Stdin, os.Stdout, opts...)
	}
	return fmt.Errorf("unknown role %q", cfg.Role)
}

func bindUDP(ctx context.Context, g *errgroup.Group, port int) (*transport.UDP, error) {
	tr, err := transport.ListenUDP(ctx, port)
	if err != nil {
		return nil, err
	}
	g.Go(tr.Wait)
	return tr, nil
}
