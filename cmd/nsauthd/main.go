package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	nsauthhttp "github.com/nsauth/datasrc/http"
	"github.com/nsauth/datasrc/internal/builder"
	"github.com/nsauth/datasrc/internal/config"
	"github.com/nsauth/datasrc/internal/datasrc"
	"github.com/nsauth/datasrc/internal/watch"
)

func main() {
	bootstrapPath := flag.String("config", "nsauthd.yaml", "path to the bootstrap config file")
	flag.Parse()

	boot, err := config.LoadBootstrap(*bootstrapPath)
	if err != nil {
		slog.Error("failed to load bootstrap config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(boot.LogLevel),
	}))
	slog.SetDefault(log)

	pub := datasrc.NewPublisher()
	bld, err := builder.New(pub, log)
	if err != nil {
		log.Error("failed to create builder", "error", err)
		os.Exit(1)
	}

	go bld.Run()
	go bld.RunWakeLoop()

	var watchers []interface{ Close() error }
	defer func() {
		for _, w := range watchers {
			w.Close()
		}
	}()

	if boot.Reconfig != "" {
		if data, err := os.ReadFile(boot.Reconfig); err == nil {
			if params, err := config.FromYAML(data); err == nil {
				done := make(chan error, 1)
				bld.Submit(builder.Command{
					ID:     builder.Reconfigure,
					Params: params,
					Callback: func(value *config.Value, err error) { done <- err },
				})
				if err := <-done; err != nil {
					log.Error("initial reconfigure failed", "error", err)
				}
			} else {
				log.Error("failed to parse initial reconfigure file", "path", boot.Reconfig, "error", err)
			}
		} else {
			log.Error("failed to read initial reconfigure file", "path", boot.Reconfig, "error", err)
		}

		cw, err := watch.NewConfigWatcher(boot.Reconfig, bld, log)
		if err != nil {
			log.Error("failed to watch reconfigure file", "error", err)
		} else {
			watchers = append(watchers, cw)
			go cw.Run()
		}
	}

	for _, zd := range boot.ZoneDirs {
		zw, err := watch.NewZoneDirWatcher(zd.Dir, zd.Class, bld, log)
		if err != nil {
			log.Error("failed to watch zone directory", "dir", zd.Dir, "error", err)
			continue
		}
		watchers = append(watchers, zw)
		go zw.Run()
	}

	srv := nsauthhttp.NewServer(nsauthhttp.ServerConfig{
		Listen:    boot.Listen,
		AuthToken: boot.AuthToken,
	}, bld)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server exited", "error", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	log.Info("shutting down")
	srv.Shutdown()

	done := make(chan error, 1)
	bld.Submit(builder.Command{
		ID:       builder.Shutdown,
		Callback: func(value *config.Value, err error) { done <- err },
	})
	<-done
	bld.Close()
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
