// Package readiness evaluates the readiness predicates of graph nodes against
// live cluster state, typically the Ready and Synced conditions of managed resources.
package readiness
