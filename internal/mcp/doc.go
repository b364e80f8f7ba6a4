// Package mcp implements the MCP server using Streamable HTTP transport.
//
// # Overview
//
// The server exposes the operation layer as MCP tools and resources over a
// single /mcp endpoint speaking JSON-RPC 2.0:
//
//   - POST: initialize, tools/list, tools/call, resources/list, resources/read
//   - DELETE: terminate a session
//
// Sessions are created on initialize and carried in the Mcp-Session-Id
// header. Notifications are accepted with 202 and no body.
//
// # Error Shape
//
// Transport problems (unknown tool, malformed params, bad JSON) surface as
// JSON-RPC errors. Operation failures (permission denials, validation
// errors, worker errors) surface as tool results with isError set, so the
// calling agent sees them as content it can react to.
//
// # Resources
//
//   - shelf://libraries: configured libraries and their grants
//   - shelf://help/list: available help topics
//   - shelf://help/{topic}: one help document as markdown
package mcp
