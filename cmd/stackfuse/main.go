// main.go bootstraps stackfuse: it builds the root Cobra command, binds flags to env and config, and maps errors to exit codes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/example/stackfuse/internal/emit"
	"github.com/example/stackfuse/internal/loader"
	"github.com/example/stackfuse/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	exitError    = 1
	exitFindings = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if code := exitCode(err); code != 0 {
		cancel()
		os.Exit(code)
	}
}

type globalOptions struct {
	logLevel   string
	logJSON    bool
	color      string
	ledgerRoot string
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{logLevel: "info", color: "auto", ledgerRoot: "."}
	cmd := &cobra.Command{
		Use:           "stackfuse",
		Short:         "Compose deployment topologies from override fragments",
		Long:          "stackfuse merges a base service and build topology with an ordered list of fragments, validates the result and emits a deployable manifest.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level for stackfuse output (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Emit logs as JSON")
	cmd.PersistentFlags().StringVar(&g.color, "color", g.color, "Colorize reports (auto, always, never)")
	cmd.PersistentFlags().StringVar(&g.ledgerRoot, "ledger-root", g.ledgerRoot, "Directory holding the .stackfuse run ledger")

	commands := []*cobra.Command{
		newComposeCommand(g),
		newValidateCommand(g),
		newPlanCommand(g),
		newBuildPlanCommand(g),
		newGraphCommand(g),
		newDiffCommand(),
		newRunsCommand(g),
		newVersionCommand(),
	}
	cmd.AddCommand(commands...)
	cmd.Example = `  # Compose the erpnext stack with mariadb and traefik overrides
  stackfuse compose --base base.yaml --fragment mariadb.yaml --fragment traefik.yaml

  # Validate only, printing findings as JSON
  stackfuse validate --base base.yaml --fragment nginx-ssl.yaml --report-format json

  # Render the service start graph
  stackfuse graph --base base.yaml --fragment mariadb.yaml --format mermaid`
	bindViper(append([]*cobra.Command{cmd}, commands...)...)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix("STACKFUSE")
	v.AutomaticEnv()
	configFile := os.Getenv("STACKFUSE_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if err := v.BindPFlag(configKey(cmd, f), f); err != nil {
						cobra.CheckErr(err)
					}
				})
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					key := configKey(cmd, f)
					if f.Changed || !v.IsSet(key) {
						return
					}
					applyConfigValue(f, v.Get(key))
				})
			}
		}
	})
}

// commandScopeAnnotation marks flags whose meaning depends on the command, such
// as --format. Their config key is "<command>.<flag>" (env STACKFUSE_<COMMAND>_<FLAG>).
const commandScopeAnnotation = "stackfuse/command-scoped"

func scopeFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.Flags().SetAnnotation(name, commandScopeAnnotation, []string{"true"}); err != nil {
			panic(err)
		}
	}
}

func configKey(cmd *cobra.Command, f *pflag.Flag) string {
	if _, ok := f.Annotations[commandScopeAnnotation]; ok {
		return cmd.Name() + "." + f.Name
	}
	return f.Name
}

// applyConfigValue sets an unchanged flag from env or config. List values from a
// config file are appended one by one so repeatable flags keep their entries.
func applyConfigValue(f *pflag.Flag, val any) {
	if list, ok := val.([]any); ok {
		for _, item := range list {
			_ = f.Value.Set(fmt.Sprintf("%v", item))
		}
		return
	}
	s := fmt.Sprintf("%v", val)
	if s != "" {
		_ = f.Value.Set(s)
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "stackfuse"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "stackfuse"))
		add(filepath.Join(home, ".stackfuse"))
	}
	return dirs
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	var findings *pipeline.FindingsError
	if errors.As(err, &findings) {
		return exitFindings
	}
	return exitError
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var (
		malformed *loader.MalformedFragmentError
		findings  *pipeline.FindingsError
	)
	switch {
	case errors.As(err, &findings):
		fatal, _ := findings.Report.Counts()
		message = fmt.Sprintf("%d fatal finding(s); no manifest was emitted", fatal)
	case errors.As(err, &malformed):
		message = fmt.Sprintf("%s\nHint: fragments are rejected before composition; fix %s and rerun.", err, malformed.Source)
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: increase --timeout; large catalogs and policy bundles take longer to load.", err)
	case errors.Is(err, emit.ErrIncompleteTopology):
		message = fmt.Sprintf("%s\nHint: only topologies that passed validation can be emitted.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
