// Package apply hands rendered descriptors to the engines that realize them.
// Managed resources are applied to the cluster with Server-Side Apply;
// asset uploads are routed to S3.
package apply
