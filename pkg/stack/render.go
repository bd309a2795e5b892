package stack

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/chazu/lakegraph/pkg/graph"
)

// Managed resource API groups of the Crossplane AWS provider
const (
	s3APIVersion   = "s3.aws.upbound.io/v1beta1"
	glueAPIVersion = "glue.aws.upbound.io/v1beta1"
	iamAPIVersion  = "iam.aws.upbound.io/v1beta1"

	// UploadAPIVersion and UploadKind identify upload descriptors, which are
	// executed against S3 directly rather than applied to the cluster
	UploadAPIVersion = "lakegraph.io/v1alpha1"
	UploadKind       = "AssetUpload"

	externalNameAnnotation = "crossplane.io/external-name"
	managedByLabel         = "app.kubernetes.io/managed-by"
	stackLabel             = "lakegraph.io/stack"
	accountLabel           = "lakegraph.io/account"
	nodeLabel              = "lakegraph.io/node"

	// readyTimeoutSeconds bounds how long a managed resource may take to become Ready
	readyTimeoutSeconds = 600
)

// renderContext carries what descriptors need to render themselves
type renderContext struct {
	cfg Config

	// resources indexes the declared descriptors by node ID
	resources map[string]Resource
}

// resolve looks up the target of a forward reference
func (rc *renderContext) resolve(from, nodeID string) (Resource, error) {
	r, found := rc.resources[nodeID]
	if !found {
		return nil, fmt.Errorf("%w: %s references %s", graph.ErrDanglingReference, from, nodeID)
	}
	return r, nil
}

// ref resolves a forward reference to a selector on the referent's object name
func (rc *renderContext) ref(from, nodeID string) (map[string]interface{}, error) {
	r, err := rc.resolve(from, nodeID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"name": kubeName(r.ResourceName())}, nil
}

// managed builds the common skeleton of a Crossplane managed resource
func (rc *renderContext) managed(nodeID, apiVersion, kind, externalName string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetAPIVersion(apiVersion)
	obj.SetKind(kind)
	obj.SetName(kubeName(externalName))
	obj.SetAnnotations(map[string]string{externalNameAnnotation: externalName})
	obj.SetLabels(rc.labels(nodeID))
	obj.Object["spec"] = map[string]interface{}{
		"forProvider": map[string]interface{}{},
		"providerConfigRef": map[string]interface{}{
			"name": rc.cfg.ProviderConfig,
		},
	}
	return obj
}

func (rc *renderContext) labels(nodeID string) map[string]string {
	return map[string]string{
		managedByLabel: "lakegraph",
		stackLabel:     rc.cfg.StackName,
		accountLabel:   rc.cfg.AccountID,
		nodeLabel:      nodeID,
	}
}

func forProvider(obj *unstructured.Unstructured) map[string]interface{} {
	return obj.Object["spec"].(map[string]interface{})["forProvider"].(map[string]interface{})
}

// managedNode wraps a managed resource with the default apply policy and
// waits for Crossplane's Ready and Synced conditions
func managedNode(id string, obj *unstructured.Unstructured, deps ...string) graph.Node {
	return graph.Node{
		ID:     id,
		Object: *obj,
		ApplyPolicy: graph.ApplyPolicy{
			Mode:           graph.ApplyModeApply,
			ConflictPolicy: graph.ConflictPolicyError,
			FieldManager:   graph.DefaultFieldManager,
		},
		DependsOn: deps,
		ReadyWhen: []graph.ReadinessPredicate{
			{Type: graph.PredicateTypeConditionMatch, ConditionType: "Synced", ConditionStatus: "True"},
			{Type: graph.PredicateTypeConditionMatch, ConditionType: "Ready", ConditionStatus: "True", Timeout: readyTimeoutSeconds},
		},
	}
}

func (b *StorageBucket) render(rc *renderContext) ([]graph.Node, error) {
	obj := rc.managed(NodeBucket, s3APIVersion, "Bucket", b.Name)
	spec := obj.Object["spec"].(map[string]interface{})
	spec["deletionPolicy"] = b.RemovalPolicy.deletionPolicy()

	fp := forProvider(obj)
	fp["region"] = b.Region
	fp["forceDestroy"] = b.AutoDeleteObjects

	nodes := []graph.Node{managedNode(NodeBucket, obj)}
	if b.ExpirationDays == 0 {
		return nodes, nil
	}

	lc := rc.managed(NodeBucketLifecycle, s3APIVersion, "BucketLifecycleConfiguration", b.Name+"-lifecycle")
	// The provider identifies the configuration by its bucket and sets the external name itself
	lc.SetAnnotations(nil)
	bucketRef, err := rc.ref(NodeBucketLifecycle, NodeBucket)
	if err != nil {
		return nil, err
	}
	lfp := forProvider(lc)
	lfp["region"] = b.Region
	lfp["bucketRef"] = bucketRef
	lfp["rule"] = []interface{}{
		map[string]interface{}{
			"id":     "expire-raw",
			"status": "Enabled",
			"filter": []interface{}{
				map[string]interface{}{"prefix": "raw/"},
			},
			"expiration": []interface{}{
				map[string]interface{}{"days": int64(b.ExpirationDays)},
			},
		},
	}
	return append(nodes, managedNode(NodeBucketLifecycle, lc, NodeBucket)), nil
}

func (d *CatalogDatabase) render(rc *renderContext) ([]graph.Node, error) {
	obj := rc.managed(NodeDatabase, glueAPIVersion, "CatalogDatabase", d.Name)
	fp := forProvider(obj)
	fp["region"] = d.Region
	fp["catalogId"] = d.CatalogID
	return []graph.Node{managedNode(NodeDatabase, obj)}, nil
}

// assumeRolePolicy is the trust policy document of the crawler role
type assumeRolePolicy struct {
	Version   string                `json:"Version"`
	Statement []assumeRoleStatement `json:"Statement"`
}

type assumeRoleStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
	Action    string            `json:"Action"`
}

func (r *AccessRole) render(rc *renderContext) ([]graph.Node, error) {
	trust, err := json.Marshal(assumeRolePolicy{
		Version: "2012-10-17",
		Statement: []assumeRoleStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": r.TrustPrincipal},
			Action:    "sts:AssumeRole",
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode trust policy: %w", err)
	}

	policies := make([]interface{}, len(r.ManagedPolicyARNs))
	for i, arn := range r.ManagedPolicyARNs {
		policies[i] = arn
	}

	obj := rc.managed(NodeCrawlerRole, iamAPIVersion, "Role", r.Name)
	fp := forProvider(obj)
	fp["assumeRolePolicy"] = string(trust)
	fp["managedPolicyArns"] = policies
	return []graph.Node{managedNode(NodeCrawlerRole, obj)}, nil
}

func (c *CrawlerJob) render(rc *renderContext) ([]graph.Node, error) {
	if err := c.SchemaChangePolicy.Validate(); err != nil {
		return nil, fmt.Errorf("crawler %s: %w", c.Name, err)
	}

	roleRef, err := rc.ref(c.ID, c.RoleRef)
	if err != nil {
		return nil, err
	}
	databaseRef, err := rc.ref(c.ID, c.DatabaseRef)
	if err != nil {
		return nil, err
	}
	// The bucket is reached through the target path; the edge only orders creation
	if _, err := rc.ref(c.ID, c.BucketRef); err != nil {
		return nil, err
	}

	obj := rc.managed(c.ID, glueAPIVersion, "Crawler", c.Name)
	fp := forProvider(obj)
	fp["region"] = c.Region
	fp["roleRef"] = roleRef
	fp["databaseNameRef"] = databaseRef
	fp["s3Target"] = []interface{}{
		map[string]interface{}{"path": c.TargetPath},
	}
	fp["schemaChangePolicy"] = []interface{}{
		map[string]interface{}{
			"updateBehavior": string(c.SchemaChangePolicy.UpdateBehavior),
			"deleteBehavior": string(c.SchemaChangePolicy.DeleteBehavior),
		},
	}
	if c.Schedule != "" {
		fp["schedule"] = c.Schedule
	}

	return []graph.Node{managedNode(c.ID, obj, c.References()...)}, nil
}

func (u *UploadJob) render(rc *renderContext) ([]graph.Node, error) {
	bucket, err := rc.resolve(NodeUpload, u.BucketRef)
	if err != nil {
		return nil, err
	}

	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetAPIVersion(UploadAPIVersion)
	obj.SetKind(UploadKind)
	obj.SetName(u.Name)
	obj.SetLabels(rc.labels(NodeUpload))
	obj.Object["spec"] = map[string]interface{}{
		"sourceDir":  u.SourceDir,
		"prefix":     u.Prefix,
		"bucketName": bucket.ResourceName(),
		"bucketRef":  map[string]interface{}{"name": kubeName(bucket.ResourceName())},
		"region":     rc.cfg.Region,
	}

	return []graph.Node{{
		ID:     NodeUpload,
		Object: *obj,
		ApplyPolicy: graph.ApplyPolicy{
			Mode:         graph.ApplyModeCreate,
			FieldManager: graph.DefaultFieldManager,
		},
		DependsOn: u.References(),
	}}, nil
}

// broadPolicyViolations flags managed policies that grant a whole service
func broadPolicyViolations(r *AccessRole) []graph.Violation {
	var out []graph.Violation
	for i, arn := range r.ManagedPolicyARNs {
		if !strings.HasSuffix(arn, "FullAccess") {
			continue
		}
		out = append(out, graph.Violation{
			Path:     fmt.Sprintf("%s.spec.forProvider.managedPolicyArns[%d]", r.NodeID(), i),
			Message:  fmt.Sprintf("%s grants full service access; prefer a policy scoped to the datalake bucket and database", arn),
			Severity: graph.ViolationSeverityWarning,
		})
	}
	return out
}
