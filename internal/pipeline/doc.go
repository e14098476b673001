// Package pipeline declares the stage graph, the artifact naming scheme, and
// the content-hash cache rules that decide whether a stage needs to run.
package pipeline
