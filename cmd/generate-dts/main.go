// Command generate-dts reads a WIT world and writes the .d.ts type
// declarations describing the JS-visible surface a bundled module is
// expected to implement and may call.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hostedat/jswit/internal/codegen/dtsgen"
	"github.com/hostedat/jswit/internal/wit"
)

type CLI struct {
	WitPath  string     `arg:"" help:"Path to the WIT document describing the component's world." type:"existingfile"`
	World    string     `help:"World name to generate, if the WIT document defines more than one."`
	Out      string     `help:"Output path for the generated .d.ts file." default:"component.d.ts" type:"path"`
	LogLevel slog.Level `help:"Set the log level (debug, info, warn, error)." default:"info"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli, kong.Name("generate-dts"),
		kong.Description("Generate .d.ts declarations from a WIT world."))

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cli.LogLevel})))

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func (c *CLI) Run() error {
	witSrc, err := os.ReadFile(c.WitPath)
	if err != nil {
		return fmt.Errorf("reading WIT document: %w", err)
	}

	world, err := wit.ParseWorld(string(witSrc), c.World)
	if err != nil {
		return fmt.Errorf("parsing WIT world: %w", err)
	}

	dts, err := dtsgen.Generate(world)
	if err != nil {
		return fmt.Errorf("generating type declarations: %w", err)
	}

	if err := os.WriteFile(c.Out, []byte(dts), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Out, err)
	}

	slog.Info("wrote type declarations", "path", c.Out, "world", world.Name)
	return nil
}
