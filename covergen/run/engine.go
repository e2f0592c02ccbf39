package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	config "github.com/toejough/covers/covergen/run/1_config"
	load "github.com/toejough/covers/covergen/run/2_load"
	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
	generate "github.com/toejough/covers/covergen/run/5_generate"
	output "github.com/toejough/covers/covergen/run/6_output"
)

// engine runs the stages for one invocation.
type engine struct {
	opts   config.Options
	loader PackageLoader
	logger *slog.Logger
	parser *parse.Parser
}

func newEngine(opts config.Options, pkgLoader PackageLoader, logger *slog.Logger) *engine {
	return &engine{opts: opts, loader: pkgLoader, logger: logger, parser: parse.New()}
}

// collect loads and parses the requested packages, follows the imports their bindings
// may point into, and returns the sealed registry.
func (e *engine) collect(ctx context.Context, patterns []string) (*resolve.Registry, error) {
	pkgs, err := e.loader.Load(patterns...)
	if err != nil {
		return nil, fmt.Errorf("error loading packages: %w", err)
	}

	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%w: %v", errNoPackages, patterns)
	}

	reg := resolve.NewRegistry(rootPackage(pkgs))
	reg.IsReceiver = e.parser.IsReceiver

	err = e.addPackages(ctx, reg, pkgs, true)
	if err != nil {
		return nil, err
	}

	attempted := make(map[string]bool)

	for {
		var pending []string

		for _, path := range reg.PendingImports() {
			if !attempted[path] {
				pending = append(pending, path)
			}
		}

		if len(pending) == 0 {
			break
		}

		for _, path := range pending {
			attempted[path] = true
			e.addDependency(ctx, reg, path)
		}
	}

	reg.Seal()

	e.logger.Debug("collected declarations",
		"packages", len(reg.Packages()), "mockPoints", len(reg.MockPoints()), "candidates", len(reg.Candidates()))

	return reg, nil
}

// generate validates every mock point and builds all outputs. Nothing is returned for
// writing unless every mock point of every package generated.
func (e *engine) generate(ctx context.Context, patterns []string) ([]generate.Output, []string, error) {
	reg, err := e.collect(ctx, patterns)
	if err != nil {
		return nil, nil, err
	}

	resolutions, errs := reg.Validate()
	gen := generate.New(e.opts.Prefix, e.opts.Tag, reg)
	errs = diag.Append(errs, gen.Mangler.CheckCollisions(reg, resolutions))

	if errs != nil {
		return nil, nil, errs
	}

	var outputs []generate.Output

	for _, pkg := range reg.Packages() {
		pkgOutputs, err := gen.Package(pkg, resolutions)
		if err != nil {
			return nil, nil, fmt.Errorf("error generating %s: %w", pkg.PkgPath, err)
		}

		e.logger.Debug("generated package", "package", pkg.PkgPath, "files", len(pkgOutputs))
		outputs = append(outputs, pkgOutputs...)
	}

	return outputs, output.Stale(reg.Packages(), outputs), nil
}

// addDependency loads a package a binding may refer to. Failures are logged: a binding
// that needed it is reported as unresolved during validation.
func (e *engine) addDependency(ctx context.Context, reg *resolve.Registry, path string) {
	pkgs, err := e.loader.Load(path)
	if err != nil {
		e.logger.Debug("skipping dependency", "package", path, "error", err)
		return
	}

	var deps []*load.Package

	for _, pkg := range pkgs {
		if !reg.Loaded(pkg.PkgPath) {
			deps = append(deps, pkg)
		}
	}

	err = e.addPackages(ctx, reg, deps, false)
	if err != nil {
		e.logger.Debug("skipping dependency", "package", path, "error", err)
	}
}

// addPackages parses every file of pkgs in parallel and adds the packages in order.
func (e *engine) addPackages(ctx context.Context, reg *resolve.Registry, pkgs []*load.Package, local bool) error {
	parsed := make([][][]*parse.Declaration, len(pkgs))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i, pkg := range pkgs {
		parsed[i] = make([][]*parse.Declaration, len(pkg.Files))

		for j, file := range pkg.Files {
			group.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}

				decls, err := e.parser.File(pkg.PkgPath, file)
				if err != nil {
					return err
				}

				parsed[i][j] = decls

				return nil
			})
		}
	}

	err := group.Wait()
	if err != nil {
		return err
	}

	for i, pkg := range pkgs {
		err = reg.AddPackage(pkg, slices.Concat(parsed[i]...), local)
		if err != nil {
			return err
		}
	}

	return nil
}

// rootPackage picks the package whose functions are free rather than module-scoped:
// the shortest requested import path, ties broken by name.
func rootPackage(pkgs []*load.Package) string {
	root := pkgs[0].PkgPath

	for _, pkg := range pkgs[1:] {
		if len(pkg.PkgPath) < len(root) || (len(pkg.PkgPath) == len(root) && pkg.PkgPath < root) {
			root = pkg.PkgPath
		}
	}

	return root
}

// unexported variables.
var (
	errNoPackages = errors.New("no packages matched")
)
