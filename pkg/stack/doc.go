// Package stack builds the datalake resource graph: a storage bucket, a Glue
// catalog database, a crawler access role, one schema crawler per supported
// file format, and a one-time asset upload.
//
// Build is a pure function of its Config. Descriptors are rendered as
// Crossplane AWS managed resources whose cross references (role ARN, database
// name) are expressed as *Ref selectors that the provider resolves once the
// referent exists. Nothing in this package talks to a cluster or to AWS.
package stack
