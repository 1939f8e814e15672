// Command concierge is the shopping concierge: catalog search, multi-category
// deep research and catalog ingestion, from the CLI or over HTTP.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/54b3r/concierge-go/cmd/concierge/commands"
)

func main() {
	if err := commands.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
