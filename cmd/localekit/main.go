// Command localekit detects visitor locales and serves cached translation
// bundles from the command line, over HTTP or as an MCP server.
package main

import "github.com/colthorp/localekit-go/internal/cli"

func main() {
	cli.Execute()
}
