// Command libcli signs in to the library backend and keeps the session
// between runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qcom/librarian/internal/apiclient"
	"github.com/qcom/librarian/internal/config"
	"github.com/qcom/librarian/internal/session"
	"github.com/qcom/librarian/internal/tokenstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const usageText = `usage: libcli [-config file] <command> [flags]

commands:
  login    -login <user name or email> -password <password>
  signup   -first -last -user -email -password -phone -gender -dob [-address]
  logout
  whoami   [-remote]
  refresh
  passwd   -current <password> -new <password>
  profile  [-first] [-last] [-user] [-email] [-phone] [-gender] [-dob] [-address]
  routes
  can      <path>
  users
  watch
`

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return 2
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return 1
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	storage, err := openStorage(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to open token storage")
		return 1
	}
	defer storage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(cfg.Client.BaseURL, cfg.Client.RequestTimeout, logger)
	app := &app{
		store:  session.NewStore(ctx, client, storage, logger),
		client: client,
		lead:   cfg.Client.RefreshLead,
		out:    os.Stdout,
		logger: logger,
	}

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.WithError(err).Error("Command failed")
		return 1
	}
	return 0
}

func openStorage(cfg *config.Config) (tokenstore.Storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return tokenstore.NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return tokenstore.NewRedis(client, cfg.Storage.RedisKeyPrefix), nil
	default:
		return tokenstore.NewBolt(cfg.Storage.BoltPath)
	}
}
