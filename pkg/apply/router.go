package apply

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/lakegraph/pkg/graph"
	"github.com/chazu/lakegraph/pkg/metrics"
	"github.com/chazu/lakegraph/pkg/stack"
	"github.com/chazu/lakegraph/pkg/upload"
)

// AssetUploader performs the upload described by an AssetUpload descriptor
type AssetUploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
}

// Router dispatches descriptors to the engine that realizes them: uploads
// go to S3, everything else to the cluster
type Router struct {
	resources graph.Applier
	uploader  AssetUploader
}

// NewRouter creates a router over a cluster applier and an asset uploader
func NewRouter(resources graph.Applier, uploader AssetUploader) *Router {
	return &Router{resources: resources, uploader: uploader}
}

// Apply implements graph.Applier
func (r *Router) Apply(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy) error {
	if obj == nil {
		return fmt.Errorf("object cannot be nil")
	}
	if isAssetUpload(obj) {
		return r.upload(ctx, obj, policy)
	}
	if r.resources == nil {
		return fmt.Errorf("no applier configured for %s", gvkString(obj))
	}
	return r.resources.Apply(ctx, obj, policy)
}

func isAssetUpload(obj *unstructured.Unstructured) bool {
	return obj.GetAPIVersion() == stack.UploadAPIVersion && obj.GetKind() == stack.UploadKind
}

// UploadRequest decodes the spec of an AssetUpload descriptor
func UploadRequest(obj *unstructured.Unstructured) (upload.Request, error) {
	var req upload.Request
	fields := []struct {
		name     string
		dst      *string
		required bool
	}{
		{"sourceDir", &req.SourceDir, true},
		{"bucketName", &req.Bucket, true},
		{"region", &req.Region, true},
		{"prefix", &req.Prefix, false},
	}
	for _, f := range fields {
		v, found, err := unstructured.NestedString(obj.Object, "spec", f.name)
		if err != nil {
			return req, fmt.Errorf("invalid spec.%s: %w", f.name, err)
		}
		if f.required && (!found || v == "") {
			return req, fmt.Errorf("spec.%s is required", f.name)
		}
		*f.dst = v
	}
	return req, nil
}

func (r *Router) upload(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy) error {
	gvk := gvkString(obj)
	logger := log.FromContext(ctx).WithValues("gvk", gvk, "name", obj.GetName())

	if r.uploader == nil {
		return fmt.Errorf("no uploader configured for %s", obj.GetName())
	}

	req, err := UploadRequest(obj)
	if err != nil {
		return fmt.Errorf("asset upload %s: %w", obj.GetName(), err)
	}

	start := time.Now()
	result, err := r.uploader.Upload(ctx, req)
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordApply("failure", string(policy.Mode), gvk, duration)
		logger.Error(err, "Failed to upload assets")
		return fmt.Errorf("asset upload %s: %w", obj.GetName(), err)
	}

	metrics.RecordApply("success", string(policy.Mode), gvk, duration)
	logger.V(1).Info("Uploaded assets", "objects", len(result.Objects), "dryRun", result.DryRun)
	return nil
}
