// Package graph provides types and utilities for managing dependency graphs
// of cloud resource descriptors. It includes the Graph artifact representation,
// validation, DAG building, and the sequencing executor that hands nodes to an
// external provisioning engine in dependency order.
package graph
