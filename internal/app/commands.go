package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	// Cloud auth plugins for kubeconfigs using exec or oidc providers
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/chazu/lakegraph/pkg/apply"
	"github.com/chazu/lakegraph/pkg/convert"
	"github.com/chazu/lakegraph/pkg/graph"
	"github.com/chazu/lakegraph/pkg/metrics"
	"github.com/chazu/lakegraph/pkg/readiness"
	"github.com/chazu/lakegraph/pkg/stack"
	"github.com/chazu/lakegraph/pkg/upload"
)

func (r *runner) render(ctx context.Context) error {
	s, _, err := r.build(ctx)
	if err != nil {
		return err
	}
	g := s.Graph()

	var out []byte
	switch r.cli.Render.Output {
	case "json":
		out, err = json.MarshalIndent(g, "", "  ")
		out = append(out, '\n')
	case "manifests":
		out, err = manifests(g)
	default:
		out, err = yaml.Marshal(g)
	}
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	_, err = r.deps.Out.Write(out)
	return err
}

// manifests renders the managed resources as a multi-document YAML stream.
// Asset uploads are executed by the CLI and have no manifest.
func manifests(g *graph.Graph) ([]byte, error) {
	var b strings.Builder
	for i := range g.Nodes {
		obj := &g.Nodes[i].Object
		if obj.GetAPIVersion() == stack.UploadAPIVersion && obj.GetKind() == stack.UploadKind {
			continue
		}
		doc, err := yaml.Marshal(obj.Object)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", g.Nodes[i].ID, err)
		}
		b.WriteString("---\n")
		b.Write(doc)
	}
	return []byte(b.String()), nil
}

func (r *runner) plan(ctx context.Context) error {
	s, _, err := r.build(ctx)
	if err != nil {
		return err
	}
	g := s.Graph()
	dag, err := graph.BuildDAG(g)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(r.deps.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tNODE\tKIND\tNAME\tDEPENDS ON")
	for i, id := range dag.GetOrder() {
		node, _ := dag.GetNode(id)
		deps := "-"
		if len(node.DependsOn) > 0 {
			deps = strings.Join(node.DependsOn, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, id, node.Kind(), node.Object.GetName(), deps)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(r.deps.Out, "\nAccount: %s  Region: %s  Hash: %s\n", g.Metadata.Account, g.Metadata.Region, g.Metadata.RenderHash)
	for _, v := range g.Violations {
		fmt.Fprintf(r.deps.Out, "%s: %s: %s\n", strings.ToUpper(string(v.Severity)), v.Path, v.Message)
	}
	return nil
}

func (r *runner) apply(ctx context.Context) error {
	cmd := r.cli.Apply
	logger := log.FromContext(ctx)

	s, settings, err := r.build(ctx)
	if err != nil {
		return err
	}
	g := s.Graph()
	if g.HasBlockingViolations() {
		return fmt.Errorf("graph has blocking violations, run plan for details")
	}
	for _, v := range g.Violations {
		logger.Info("Policy warning", "path", v.Path, "message", v.Message)
	}

	dag, err := graph.BuildDAG(g)
	if err != nil {
		return err
	}

	kube, err := r.deps.NewKubeClient()
	if err != nil {
		return fmt.Errorf("failed to create cluster client: %w", err)
	}

	endpoint := settings.Upload.Endpoint
	if cmd.Endpoint != "" {
		endpoint = cmd.Endpoint
	}
	factory := r.deps.NewUploadFactory(upload.ClientOptions{
		Endpoint: endpoint,
		Profile:  r.cli.Profile,
	})
	uploader := upload.NewUploader(factory, upload.Options{
		Concurrency: settings.Upload.Concurrency,
		DryRun:      cmd.DryRun,
	})

	var checker graph.ReadinessChecker = readiness.NewChecker(kube)
	if cmd.DryRun {
		checker = readiness.Assumed{}
	}

	router := apply.NewRouter(apply.NewApplier(kube).WithDryRun(cmd.DryRun), uploader)
	execCfg := graph.DefaultExecutorConfig()
	execCfg.MaxConcurrency = cmd.Concurrency
	executor := graph.NewExecutor(router, checker, execCfg)

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	logger.Info("Provisioning stack", "stack", s.Name, "account", s.Account, "nodes", dag.Size(), "dryRun", cmd.DryRun)
	state, err := executor.Execute(ctx, dag)
	if err != nil {
		return err
	}

	summary := state.GetSummary()
	fmt.Fprintf(r.deps.Out, "%s in %s\n", summary, summary.Elapsed().Round(time.Millisecond))
	failures := state.Failures()
	for _, id := range dag.GetOrder() {
		if msg, failed := failures[id]; failed {
			fmt.Fprintf(r.deps.Err, "%s: %s\n", id, msg)
		}
	}

	var pushErr error
	if cmd.Pushgateway != "" {
		pushErr = metrics.Push(ctx, cmd.Pushgateway, map[string]string{"stack": s.Name})
		if pushErr != nil {
			logger.Error(pushErr, "Metrics were not pushed")
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d nodes failed", summary.Error, summary.Total)
	}
	return pushErr
}

func (r *runner) convert(ctx context.Context) error {
	dir := r.cli.Convert.Dir
	if dir == "" {
		settings, err := r.settings()
		if err != nil {
			return err
		}
		dir = settings.Stack.WithDefaults().AssetDir
	}

	outputs, err := convert.Assets(ctx, dir, convert.Options{})
	if err != nil {
		return err
	}
	for _, o := range outputs {
		fmt.Fprintf(r.deps.Out, "%s -> %s (%d rows)\n", o.Source, o.Path, o.Rows)
	}
	return nil
}
