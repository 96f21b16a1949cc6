// Command generate-wrapper-crate reads a WIT world and a bundled JS module
// and writes a self-contained Go package gluing the two together: export
// and import adapters, the resource bridge's generated types, and an Init
// entry point ready for the embedding application to call.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/hostedat/jswit/internal/codegen/entrygen"
	"github.com/hostedat/jswit/internal/codegen/exportgen"
	"github.com/hostedat/jswit/internal/codegen/importgen"
	"github.com/hostedat/jswit/internal/wit"
)

type CLI struct {
	WitPath    string `arg:"" help:"Path to the WIT document describing the component's world." type:"existingfile"`
	World      string `help:"World name to generate, if the WIT document defines more than one."`
	JSPath     string `arg:"" help:"Path to the bundled JS source the generated component evaluates." type:"existingfile"`
	OutDir     string `help:"Output directory for the generated Go package." default:"./generated" type:"path"`
	Package    string `help:"Go package name for the generated files." default:"component"`
	PoolSize   int    `help:"Number of pre-warmed VM workers the generated Init configures." default:"1"`
	LogLevel   slog.Level `help:"Set the log level (debug, info, warn, error)." default:"info"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli, kong.Name("generate-wrapper-crate"),
		kong.Description("Generate a Go component wrapper from a WIT world and bundled JS source."))

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cli.LogLevel})))

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func (c *CLI) Run() error {
	witSrc, err := os.ReadFile(c.WitPath)
	if err != nil {
		return fmt.Errorf("reading WIT document: %w", err)
	}
	jsSrc, err := os.ReadFile(c.JSPath)
	if err != nil {
		return fmt.Errorf("reading bundled JS source: %w", err)
	}

	world, err := wit.ParseWorld(string(witSrc), c.World)
	if err != nil {
		return fmt.Errorf("parsing WIT world: %w", err)
	}
	slog.Info("parsed world", "name", world.Name, "exports", len(world.ExportFns)+len(world.Exports), "imports", len(world.ImportFns)+len(world.Imports))

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	exportSrc, err := exportgen.Generate(world, c.Package)
	if err != nil {
		return fmt.Errorf("generating export adapters: %w", err)
	}
	if err := writeFile(filepath.Join(c.OutDir, "exports.go"), exportSrc); err != nil {
		return err
	}

	importSrc, err := importgen.Generate(world, c.Package)
	if err != nil {
		return fmt.Errorf("generating import adapters: %w", err)
	}
	if err := writeFile(filepath.Join(c.OutDir, "imports.go"), importSrc); err != nil {
		return err
	}

	bundlePath := filepath.Join(c.OutDir, "bundle.go")
	if err := writeFile(bundlePath, bundleSource(c.Package, jsSrc)); err != nil {
		return err
	}

	entrySrc, err := entrygen.Generate(world, entrygen.Options{
		PackageName:   c.Package,
		BundleVarName: "bundledSource",
		PoolSize:      c.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("generating entry point: %w", err)
	}
	if err := writeFile(filepath.Join(c.OutDir, "entry.go"), entrySrc); err != nil {
		return err
	}

	slog.Info("wrote generated package", "dir", c.OutDir, "package", c.Package)
	return nil
}

func bundleSource(pkgName string, jsSrc []byte) string {
	return fmt.Sprintf("// Code generated by generate-wrapper-crate. DO NOT EDIT.\n\npackage %s\n\nconst bundledSource = %q\n", pkgName, string(jsSrc))
}

func writeFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
