// Package trace contains all the types provided for tracing within the
// redline package. With tracing a user is able to pull out fine-grained
// runtime events as they happen, which is useful for gathering metrics,
// logging, performance analysis, etc...
package trace
