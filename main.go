package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

const usage = `reads the Liar's Bar table state from the game's memory and serves it
             over a small HTTP control surface`

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "barlens"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path of the .env config file",
			Value: ".env",
		},
	}
	app.Action = runAction
	app.Commands = []cli.Command{
		runCommand,
		mmapCommand,
		offsetsCommand,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("barlens exited")
	}
}
