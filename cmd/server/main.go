package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/iambigmarn/realtime-app/internal/api"
	"github.com/iambigmarn/realtime-app/internal/config"
	"github.com/iambigmarn/realtime-app/internal/coordinator"
	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus"
)

func main() {
	app := &cli.App{
		Name:        "realtime-server",
		Usage:       "Room signaling relay",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':80' (default value) for listen on 0.0.0.0:80",
				Value: ":80",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML config file",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	if err := config.Load(c.String("config")); err != nil {
		return err
	}

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: viper.GetString("redis.address"),
		DB:   viper.GetInt("redis.db"),
	})

	bus := eventbus.RedisPubSub(rdb)

	router, err := eventbus.NewRouter(bus)
	if err != nil {
		return err
	}

	registry := coordinator.NewRegistry()
	coordinator.NewCoordinator(registry, bus).Attach(router)

	<-router.Start()
	defer func() { <-router.Stop() }()

	app := api.New(api.AppOptions{
		Env:              core.Environment(c.String("env")),
		Address:          c.String("address"),
		EventsPublisher:  bus,
		EventsSubscriber: bus,
	})

	return app.Start()
}
