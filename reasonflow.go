// Package reasonflow provides a top-level convenience entry point for routing
// tasks to reasoning strategies with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/reasonflow"
//
//	e, err := reasonflow.New(reasonflow.WithConfigPath("reasonflow.yaml"))
//	defer e.Close(ctx)
//	res, err := e.Reason(ctx, reasonflow.Task{Query: "...", TaskType: "planning"}, nil)
//
// This is a thin wrapper around [quick.New]; both produce identical results.
package reasonflow

import (
	"github.com/BaSui01/reasonflow/quick"
)

// Option configures the engine created by [New].
type Option = quick.Option

// Engine routes tasks to strategies. See [quick.Engine].
type Engine = quick.Engine

// Task is one reasoning request.
type Task = quick.Task

// ErrNoModel is returned when neither the call nor the engine has a model.
var ErrNoModel = quick.ErrNoModel

// New builds an [Engine].
func New(opts ...Option) (*Engine, error) {
	return quick.New(opts...)
}

// Re-export option shortcuts so callers never need to import quick/.

// WithConfig uses a pre-built configuration.
var WithConfig = quick.WithConfig

// WithConfigPath loads configuration from a YAML file plus REASONFLOW_* env.
var WithConfigPath = quick.WithConfigPath

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithModel sets the default model.
var WithModel = quick.WithModel

// WithRetriever sets the retrieval callback used by retrieval-augmented reasoning.
var WithRetriever = quick.WithRetriever

// WithDocuments indexes documents with BM25 and uses them for retrieval.
var WithDocuments = quick.WithDocuments

// WithRegisterer registers Prometheus metrics on a custom registerer.
var WithRegisterer = quick.WithRegisterer
