// Package tracing wires Langfuse into the eino callback system so category
// generation runs are traced.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Setup returns a Langfuse callback handler and its flush function when
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are both set. The flush
// function must run before process exit. ok is false when tracing is not
// configured.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = DefaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flush, true
}

// Install registers h as a global eino callback handler. A nil handler is a
// no-op.
func Install(h callbacks.Handler) {
	if h == nil {
		return
	}
	callbacks.AppendGlobalHandlers(h)
}
