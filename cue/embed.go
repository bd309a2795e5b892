// Package cue provides the embedded CUE schema of stack files.
package cue

import _ "embed"

// StackSchema is the CUE source defining #StackConfig.
//
//go:embed schema/stack.cue
var StackSchema string

// StackDefinition is the path of the stack file definition within StackSchema.
const StackDefinition = "#StackConfig"
