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
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// PushJob is the Pushgateway job a run's metrics are grouped under
const PushJob = "lakegraph"

// Push sends everything gathered by the controller-runtime registry to the
// Pushgateway at url, replacing the previous push of the same group.
// A CLI run exits before any scrape, so this is the only way out for its metrics.
func Push(ctx context.Context, url string, grouping map[string]string) error {
	pusher := push.New(url, PushJob).Gatherer(metrics.Registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
