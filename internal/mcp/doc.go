// Package mcp exposes the recovery knowledge store to agents over the
// Model Context Protocol (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools are read-only: agents can list chains, read a chain's guides and
// inspect pattern scores. Text content is scrubbed for secrets before it
// is returned.
package mcp
