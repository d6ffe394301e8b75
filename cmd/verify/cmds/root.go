package cmds

import (
	"context"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/verify")

var rootCmd = &cobra.Command{
	Use:          "verify",
	Short:        "Check task definitions before students see them",
	SilenceUsage: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
