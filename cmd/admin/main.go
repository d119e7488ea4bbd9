// Command admin runs operator tasks against the studyhub database: issuing persona login
// links, sweeping expired chat attachments and managing accounts.
package main

import (
	"context"
	"fmt"
	"os"

	"studyhub/internal/app"
)

func main() {
	if err := run(context.Background(), app.Bootstrap, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
