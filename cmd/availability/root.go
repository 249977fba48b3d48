package main

import (
	"context"

	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "availability", Short: "Court availability aggregator"}
	root.AddCommand(serveCmd())
	root.AddCommand(invalidateCmd())
	return root.ExecuteContext(ctx)
}
