package main

import (
	"github.com/alecthomas/kong"

	"github.com/uxforge/bundlebuild/cmd/bundlebuild/commands"
)

// version is overridden at link time for release builds.
var version = "dev"

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("bundlebuild"),
		kong.Description("Incremental build pipeline for panel and worker bundles."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := ctx.Run(&commands.Global{}, &cli)
	ctx.FatalIfErrorf(err)
}
