// Command resolve plans PyPI package installs and upgrades from the command
// line.
//
//	resolve check 'numpy>=1.24'
//	resolve install 'fastapi>=0.110' 'uvicorn[standard]'
//	resolve install --env env.yaml --requirements requirements.txt 'pkg:pypi/flask@3.0.0'
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/purl"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/resolve"
	"github.com/git-pkgs/resolve/metadata"
)

var (
	flagEnvFile     string
	flagReqFile     string
	flagIndexURL    string
	flagCacheDir    string
	flagMaxPackages int
	flagMaxQueue    int
	flagTimeout     time.Duration
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Plan PyPI package installs and upgrades",
	Long: `resolve computes installation and upgrade plans for PyPI environments.

Targets are requirement lines ("numpy>=1.24") or package URLs
("pkg:pypi/numpy@1.24.0"). The environment snapshot is a YAML map of
installed package to version.`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check TARGET",
	Short: "Check whether a target fits the environment without changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var installCmd = &cobra.Command{
	Use:   "install TARGET...",
	Short: "Plan the installation or upgrade of one or more targets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstall,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEnvFile, "env", "", "YAML file mapping installed package to version")
	pf.StringVar(&flagReqFile, "requirements", "", "requirements.txt constraining installed packages")
	pf.StringVar(&flagIndexURL, "index-url", metadata.DefaultIndexURL, "package index base URL")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "directory for the metadata cache (disabled when empty)")
	pf.IntVar(&flagMaxPackages, "max-packages", resolve.DefaultMaxPackages, "cap on distinct packages in a plan")
	pf.IntVar(&flagMaxQueue, "max-queue", resolve.DefaultMaxQueue, "cap on the pending-target queue")
	pf.DurationVar(&flagTimeout, "timeout", 5*time.Minute, "overall resolution timeout")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log search progress to stderr")

	rootCmd.AddCommand(checkCmd, installCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	r, cleanup, err := buildResolver()
	if err != nil {
		return err
	}
	defer cleanup()

	env, reqs, err := loadInputs()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	res, err := r.CheckConflict(ctx, env, reqs, target.Name, target.Specifier)
	if err != nil {
		return err
	}
	return report(res)
}

func runInstall(cmd *cobra.Command, args []string) error {
	targets := make([]resolve.Candidate, 0, len(args))
	for _, arg := range args {
		t, err := parseTarget(arg)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	r, cleanup, err := buildResolver()
	if err != nil {
		return err
	}
	defer cleanup()

	env, reqs, err := loadInputs()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	var res resolve.ResolutionResult
	if len(targets) == 1 {
		res, err = r.PlanSingleUpgrade(ctx, env, reqs, targets[0].Name, targets[0].Specifier)
	} else {
		res, err = r.PlanMultiUpgrade(ctx, env, reqs, targets)
	}
	if err != nil {
		return err
	}
	return report(res)
}

// parseTarget accepts a requirement line or a pkg:pypi PURL.
func parseTarget(arg string) (resolve.Candidate, error) {
	if strings.HasPrefix(arg, "pkg:") {
		p, err := purl.Parse(arg)
		if err != nil {
			return resolve.Candidate{}, fmt.Errorf("invalid package URL %q: %w", arg, err)
		}
		if p.Type != "pypi" {
			return resolve.Candidate{}, fmt.Errorf("unsupported package URL type %q (only pypi)", p.Type)
		}
		spec := ""
		if p.Version != "" {
			spec = "==" + p.Version
		}
		return resolve.Candidate{Name: resolve.NormalizeName(p.Name), Specifier: spec}, nil
	}

	req, err := resolve.ParseRequirement(arg)
	if err != nil {
		return resolve.Candidate{}, fmt.Errorf("invalid target %q: %w", arg, err)
	}
	return resolve.Candidate{Name: req.Name, Specifier: req.Specifier}, nil
}

func buildResolver() (*resolve.Resolver, func(), error) {
	pypi := metadata.NewPyPI(
		metadata.WithIndexURL(flagIndexURL),
		metadata.WithIndexLogger(newLogger()),
	)
	var source resolve.Source = pypi
	cleanup := pypi.Close

	if flagCacheDir != "" {
		cache, err := metadata.NewCache(source, metadata.CacheConfig{
			Dir:    flagCacheDir,
			Logger: newLogger(),
		})
		if err != nil {
			pypi.Close()
			return nil, nil, err
		}
		source = cache
		cleanup = func() {
			_ = cache.Close()
			pypi.Close()
		}
	}

	r := resolve.New(source,
		resolve.WithMaxPackages(flagMaxPackages),
		resolve.WithMaxQueue(flagMaxQueue),
		resolve.WithLogger(newLogger()),
	)
	return r, cleanup, nil
}

func newLogger() *slog.Logger {
	if !flagVerbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func loadInputs() (map[string]string, []string, error) {
	var env map[string]string
	if flagEnvFile != "" {
		raw, err := os.ReadFile(flagEnvFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read environment file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("parse environment file: %w", err)
		}
	}

	var reqs []string
	if flagReqFile != "" {
		raw, err := os.ReadFile(flagReqFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read requirements file: %w", err)
		}
		reqs = strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	}
	return env, reqs, nil
}

func report(res resolve.ResolutionResult) error {
	if !res.OK {
		for _, c := range res.Conflicts {
			fmt.Fprintln(os.Stderr, "conflict:", c)
		}
		return fmt.Errorf("no consistent plan (%d conflicts)", len(res.Conflicts))
	}

	names := make([]string, 0, len(res.Plan))
	for name := range res.Plan {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sel := res.Plan[name]
		fmt.Printf("%-40s %-10s %s\n",
			fmt.Sprintf("%s==%s", sel.Name, sel.Version), sel.Provenance, sel.PURL())
	}
	return nil
}
