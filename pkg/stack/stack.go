package stack

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/chazu/lakegraph/pkg/graph"
)

// GraphVersion is the format version stamped into rendered graphs
const GraphVersion = "v1alpha1"

// Stack is the typed declaration of the datalake resources for one account
type Stack struct {
	Name    string
	Account string
	Region  string

	Bucket   *StorageBucket
	Database *CatalogDatabase
	Role     *AccessRole
	Crawlers []*CrawlerJob
	Upload   *UploadJob

	graph *graph.Graph
}

// Build declares the datalake stack for cfg and renders its resource graph.
// Build is pure: equal configs produce equal graphs and the same render hash.
func Build(cfg Config) (*Stack, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := declare(cfg)
	g, err := s.render(cfg)
	if err != nil {
		return nil, err
	}
	s.graph = g
	return s, nil
}

// declare constructs the descriptors of a validated config
func declare(cfg Config) *Stack {
	bucketName := BucketName(cfg.AccountID, cfg.BucketSuffix)

	s := &Stack{
		Name:    cfg.StackName,
		Account: cfg.AccountID,
		Region:  cfg.Region,
		Bucket: &StorageBucket{
			Name:              bucketName,
			Region:            cfg.Region,
			RemovalPolicy:     cfg.RemovalPolicy,
			AutoDeleteObjects: cfg.AutoDeleteObjects,
			ExpirationDays:    cfg.LifecycleExpirationDays,
		},
		Database: &CatalogDatabase{
			Name:      cfg.DatabaseName,
			CatalogID: cfg.AccountID,
			Region:    cfg.Region,
		},
		Role: &AccessRole{
			Name:              RoleName(cfg.StackName),
			TrustPrincipal:    CrawlerTrustPrincipal,
			ManagedPolicyARNs: cfg.ManagedPolicyARNs,
		},
		Upload: &UploadJob{
			Name:      UploadName,
			SourceDir: cfg.AssetDir,
			Prefix:    cfg.AssetPrefix,
			BucketRef: NodeBucket,
		},
	}

	for _, format := range Formats {
		s.Crawlers = append(s.Crawlers, &CrawlerJob{
			ID:                 crawlerNodeID(format),
			Name:               CrawlerName(format),
			Format:             format,
			TargetPath:         CrawlerPath(bucketName, format),
			Region:             cfg.Region,
			Schedule:           cfg.CrawlerSchedule,
			SchemaChangePolicy: DefaultSchemaChangePolicy,
			RoleRef:            NodeCrawlerRole,
			DatabaseRef:        NodeDatabase,
			BucketRef:          NodeBucket,
		})
	}
	return s
}

// render turns the descriptors into a validated, hashed graph
func (s *Stack) render(cfg Config) (*graph.Graph, error) {
	rc := &renderContext{cfg: cfg, resources: make(map[string]Resource)}
	for _, r := range s.Resources() {
		rc.resources[r.NodeID()] = r
	}

	g := &graph.Graph{
		Metadata: graph.GraphMetadata{
			Name:    s.Name,
			Version: GraphVersion,
			Account: s.Account,
			Region:  s.Region,
		},
	}

	renderers := []func(*renderContext) ([]graph.Node, error){
		s.Bucket.render,
		s.Database.render,
		s.Role.render,
	}
	for _, c := range s.Crawlers {
		renderers = append(renderers, c.render)
	}
	renderers = append(renderers, s.Upload.render)

	for _, render := range renderers {
		nodes, err := render(rc)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, nodes...)
	}
	g.Violations = broadPolicyViolations(s.Role)

	if err := validateObjects(g.Nodes); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("rendered graph is invalid: %w", err)
	}
	g.SetHash()
	return g, nil
}

// validateObjects rejects objects the API server would refuse, so a bad
// name fails the build instead of a later node during apply
func validateObjects(nodes []graph.Node) error {
	for i := range nodes {
		obj := &nodes[i].Object
		if errs := validation.IsDNS1123Subdomain(obj.GetName()); len(errs) > 0 {
			return fmt.Errorf("%w: node %s object name %q: %s", ErrInvalidConfig, nodes[i].ID, obj.GetName(), strings.Join(errs, "; "))
		}
		for k, v := range obj.GetLabels() {
			if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
				return fmt.Errorf("%w: node %s label %s=%q: %s", ErrInvalidConfig, nodes[i].ID, k, v, strings.Join(errs, "; "))
			}
		}
	}
	return nil
}

// Resources returns the descriptors in declaration order
func (s *Stack) Resources() []Resource {
	out := []Resource{s.Bucket, s.Database, s.Role}
	for _, c := range s.Crawlers {
		out = append(out, c)
	}
	return append(out, s.Upload)
}

// Graph returns a copy of the rendered graph
func (s *Stack) Graph() *graph.Graph {
	return s.graph.DeepCopy()
}

// Crawler returns the crawler of a format
func (s *Stack) Crawler(format FileFormat) (*CrawlerJob, bool) {
	for _, c := range s.Crawlers {
		if c.Format == format {
			return c, true
		}
	}
	return nil, false
}
