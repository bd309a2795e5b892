/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	applyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lakegraph_apply_total",
		Help: "Total number of descriptor apply operations",
	}, []string{"result", "mode", "gvk"})

	applyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lakegraph_apply_duration_seconds",
		Help:    "Duration of descriptor apply operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"mode", "gvk"})

	resourcesManaged = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lakegraph_resources_managed",
		Help: "Number of distinct resources applied by lakegraph in this process",
	}, []string{"gvk"})

	// managed holds the gvk/name keys already counted by resourcesManaged
	managed   = map[string]struct{}{}
	managedMu sync.Mutex

	uploadObjects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lakegraph_upload_objects_total",
		Help: "Total number of asset objects uploaded",
	})

	uploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lakegraph_upload_bytes_total",
		Help: "Total number of asset bytes uploaded",
	})

	uploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lakegraph_upload_duration_seconds",
		Help:    "Duration of asset directory uploads",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})
)

func init() {
	// Register with controller-runtime's registry so a single handler serves everything
	metrics.Registry.MustRegister(
		applyTotal,
		applyDuration,
		resourcesManaged,
		uploadObjects,
		uploadBytes,
		uploadDuration,
	)
}

// RecordApply records an apply operation
// result: "success" or "failure"
// mode: "Apply", "Create", or "Adopt"
// gvk: GroupVersionKind as string (e.g., "s3.aws.upbound.io/v1beta1/Bucket")
func RecordApply(result, mode, gvk string, durationSeconds float64) {
	applyTotal.WithLabelValues(result, mode, gvk).Inc()
	applyDuration.WithLabelValues(mode, gvk).Observe(durationSeconds)
}

// MarkManaged counts a resource in the managed resources gauge the first
// time it is applied. Retries of the same object are not counted again.
func MarkManaged(gvk, name string) {
	key := gvk + "/" + name

	managedMu.Lock()
	defer managedMu.Unlock()
	if _, seen := managed[key]; seen {
		return
	}
	managed[key] = struct{}{}
	resourcesManaged.WithLabelValues(gvk).Inc()
}

// RecordUpload records a finished directory upload
func RecordUpload(objects int, bytes int64, durationSeconds float64) {
	uploadObjects.Add(float64(objects))
	uploadBytes.Add(float64(bytes))
	uploadDuration.Observe(durationSeconds)
}
