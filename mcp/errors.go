// ABOUTME: Sentinel errors surfaced to MCP tool callers.
package mcp

import "errors"

var (
	errMissingURL   = errors.New("url is required")
	errUnknownBuild = errors.New("build not found; submit it first")
)
