package main

import (
	"context"
	"log"
	"os"

	"github.com/sisbm/fleetsync/internal/buildinfo"
	"github.com/sisbm/fleetsync/internal/cli"
	"github.com/sisbm/fleetsync/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
