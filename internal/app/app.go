// Package app implements the lakegraph command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/chazu/lakegraph/internal/account"
	"github.com/chazu/lakegraph/internal/config"
	"github.com/chazu/lakegraph/internal/version"
	"github.com/chazu/lakegraph/pkg/stack"
	"github.com/chazu/lakegraph/pkg/upload"
)

// Dependencies are the collaborators commands reach outside the process with.
// Zero fields fall back to the real implementations.
type Dependencies struct {
	Out    io.Writer
	Err    io.Writer
	Getenv func(string) string

	// NewIdentity builds the STS client used to discover the account
	NewIdentity func(ctx context.Context, region, profile string) (account.IdentityAPI, error)

	// NewKubeClient connects to the cluster running the provisioning engine
	NewKubeClient func() (client.Client, error)

	// NewUploadFactory builds S3 clients for asset uploads
	NewUploadFactory func(opts upload.ClientOptions) upload.ClientFactory
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Err == nil {
		d.Err = os.Stderr
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.NewIdentity == nil {
		d.NewIdentity = account.NewSTSIdentity
	}
	if d.NewKubeClient == nil {
		d.NewKubeClient = newKubeClient
	}
	if d.NewUploadFactory == nil {
		d.NewUploadFactory = upload.NewClientFactory
	}
	return d
}

func newKubeClient() (client.Client, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return client.New(cfg, client.Options{})
}

// CLI is the command line parsed by Kong
type CLI struct {
	Config        string `short:"c" type:"path" env:"LAKEGRAPH_CONFIG" help:"Path to a stack file"`
	Account       string `short:"a" help:"Account id; defaults to $LAKEGRAPH_ACCOUNT_ID, $CDK_DEFAULT_ACCOUNT, then the caller identity"`
	Region        string `short:"r" help:"Region of the stack (default: stack file or us-east-1)"`
	AssetDir      string `name:"asset-dir" type:"path" help:"Directory uploaded into the bucket"`
	Profile       string `env:"AWS_PROFILE" help:"AWS shared config profile"`
	LookupAccount bool   `name:"lookup-account" default:"true" negatable:"" help:"Ask STS for the account when none is configured"`
	Verbose       int    `short:"v" type:"counter" help:"Increase log verbosity"`

	Render  RenderCmd  `cmd:"" help:"Print the rendered resource graph"`
	Plan    PlanCmd    `cmd:"" help:"Print the provisioning order"`
	Apply   ApplyCmd   `cmd:"" help:"Provision the stack through the cluster and upload assets"`
	Convert ConvertCmd `cmd:"" help:"Convert the transaction CSV files to Parquet"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

type (
	RenderCmd struct {
		Output string `short:"o" enum:"yaml,json,manifests" default:"yaml" help:"Output format (yaml, json, manifests)"`
	}
	PlanCmd  struct{}
	ApplyCmd struct {
		DryRun      bool          `name:"dry-run" help:"Send server-side dry runs and only list the assets"`
		Concurrency int           `default:"10" help:"Maximum nodes applied at once"`
		Timeout     time.Duration `default:"30m" help:"Overall deadline"`
		Endpoint    string        `env:"LAKEGRAPH_S3_ENDPOINT" help:"S3 endpoint override for asset uploads"`
		Pushgateway string        `env:"LAKEGRAPH_PUSHGATEWAY" help:"Push the run's metrics to this Prometheus Pushgateway URL"`
	}
	ConvertCmd struct {
		Dir string `arg:"" optional:"" type:"path" help:"Asset directory (default: the stack's asset dir)"`
	}
	VersionCmd struct{}
)

// Run parses args, executes the selected command and returns the exit code
func Run(args []string, deps Dependencies) int {
	return RunContext(context.Background(), args, deps)
}

// RunContext is Run with a caller supplied context
func RunContext(ctx context.Context, args []string, deps Dependencies) int {
	deps = deps.withDefaults()

	cli := CLI{}
	exited := false
	parser, err := kong.New(&cli,
		kong.Name("lakegraph"),
		kong.Description("Builds and provisions the datalake resource graph."),
		kong.Writers(deps.Out, deps.Err),
		kong.Exit(func(int) { exited = true }),
		kong.UsageOnError(),
	)
	if err != nil {
		return exitWithError(deps.Err, err)
	}

	kctx, err := parser.Parse(args)
	if exited {
		return 0
	}
	if err != nil {
		return exitWithError(deps.Err, err)
	}

	logger := zap.New(
		zap.WriteTo(deps.Err),
		zap.Level(zapcore.Level(-cli.Verbose)),
		zap.UseDevMode(cli.Verbose > 0),
	)
	ctrl.SetLogger(logger)
	ctx = log.IntoContext(ctx, logger)

	handler, ok := commands[kctx.Command()]
	if !ok {
		return exitWithError(deps.Err, fmt.Errorf("unknown command %q", kctx.Command()))
	}

	r := &runner{cli: &cli, deps: deps}
	if err := handler(r, ctx); err != nil {
		return exitWithError(deps.Err, err)
	}
	return 0
}

type commandHandler func(*runner, context.Context) error

var commands = map[string]commandHandler{
	"render":        (*runner).render,
	"plan":          (*runner).plan,
	"apply":         (*runner).apply,
	"convert":       (*runner).convert,
	"convert <dir>": (*runner).convert,
	"version": func(r *runner, _ context.Context) error {
		_, err := fmt.Fprintln(r.deps.Out, version.GetVersion())
		return err
	},
}

func exitWithError(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

// runner carries the parsed command line into command handlers
type runner struct {
	cli  *CLI
	deps Dependencies
}

// settings loads the stack file, if any, and overlays the global flags
func (r *runner) settings() (*config.Settings, error) {
	settings := &config.Settings{}
	if r.cli.Config != "" {
		loader, err := config.NewLoader()
		if err != nil {
			return nil, err
		}
		if settings, err = loader.LoadFile(r.cli.Config); err != nil {
			return nil, err
		}
	}

	if r.cli.Account != "" {
		settings.Stack.AccountID = r.cli.Account
	}
	if r.cli.Region != "" {
		settings.Stack.Region = r.cli.Region
	}
	if r.cli.AssetDir != "" {
		settings.Stack.AssetDir = r.cli.AssetDir
	}
	return settings, nil
}

// build resolves the account and builds the stack
func (r *runner) build(ctx context.Context) (*stack.Stack, *config.Settings, error) {
	settings, err := r.settings()
	if err != nil {
		return nil, nil, err
	}

	id, source, err := r.resolveAccount(ctx, settings.Stack)
	if err != nil {
		return nil, nil, err
	}
	settings.Stack.AccountID = id
	log.FromContext(ctx).V(1).Info("Resolved account", "account", id, "source", source)

	s, err := stack.Build(settings.Stack)
	if err != nil {
		return nil, nil, err
	}
	return s, settings, nil
}

// resolveAccount tries the flag and the environment, then the caller
// identity. An unresolved account is left empty for Build to reject.
func (r *runner) resolveAccount(ctx context.Context, cfg stack.Config) (string, string, error) {
	resolver := account.Resolver{Getenv: r.deps.Getenv}
	id, source, err := resolver.Resolve(ctx, cfg.AccountID)
	if !errors.Is(err, account.ErrUnresolved) {
		return id, source, err
	}
	if !r.cli.LookupAccount {
		return "", "", nil
	}

	identity, err := r.deps.NewIdentity(ctx, cfg.WithDefaults().Region, r.cli.Profile)
	if err != nil {
		return "", "", err
	}
	resolver.Identity = identity
	if id, source, err = resolver.Resolve(ctx, ""); err != nil {
		return "", "", fmt.Errorf("%w: %w", stack.ErrMissingAccount, err)
	}
	return id, source, nil
}
