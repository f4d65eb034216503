package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/iambigmarn/realtime-app/internal/config"
	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/location"
	"github.com/iambigmarn/realtime-app/internal/media"
	"github.com/iambigmarn/realtime-app/internal/rtc"
	"github.com/iambigmarn/realtime-app/internal/session"
)

func main() {
	app := &cli.App{
		Name:        "realtime-client",
		Usage:       "Headless room participant",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Value: "ws://localhost:3001/ws",
				Usage: "websocket endpoint of the relay",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "video",
				Usage: "IVF file with VP8 frames to publish",
			},
			&cli.StringFlag{
				Name:  "audio",
				Usage: "OGG file with opus audio to publish",
			},
			&cli.StringFlag{
				Name:  "record-dir",
				Usage: "directory for peer video recordings, empty disables recording",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML config file",
			},
		},
		Action: startClient,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startClient(c *cli.Context) error {
	if err := config.Load(c.String("config")); err != nil {
		return err
	}

	conf := config.NewConfig()
	rtcConfig, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return err
	}

	options := session.ClientOptions{
		URL:  c.String("url"),
		Room: c.String("room"),
		TransportFactory: rtc.NewTransportFactory(rtc.TransportParams{
			EnabledCodecs: conf.Peer.EnabledCodecs,
			Config:        rtcConfig,
		}),
		LocationDisplay:    location.LogDisplay{},
		NegotiationTimeout: conf.Session.NegotiationTimeout,
	}

	if video, audio := c.String("video"), c.String("audio"); video != "" || audio != "" {
		options.MediaSource = media.NewFileSource(media.FileSourceOptions{
			VideoPath: video,
			AudioPath: audio,
		})
	}

	if dir := c.String("record-dir"); dir != "" {
		options.VideoDisplay = media.NewFileSink(dir)
	}

	viper.SetDefault("location.origin_lat", 59.9311)
	viper.SetDefault("location.origin_lng", 30.3609)
	options.LocationSource = location.NewWalker(location.WalkerOptions{
		Origin: core.LatLng{
			Lat: viper.GetFloat64("location.origin_lat"),
			Lng: viper.GetFloat64("location.origin_lng"),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return session.NewClient(options).Run(ctx)
}
