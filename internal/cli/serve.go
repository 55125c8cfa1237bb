package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
)

// newServeRiskModelCmd serves the heuristic estimator over the risk model gRPC
// interface, so --estimator-addr can be exercised without a trained model.
func newServeRiskModelCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve-risk-model",
		Short: "Serve the heuristic risk estimator over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			a.logger.Info("risk model server started", "addr", lis.Addr().String(), "method", risk.AssessMethod)
			return risk.Serve(cmd.Context(), lis, risk.NewHeuristicEstimator(risk.DefaultHeuristicConfig()))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:50051", "listen address")
	return cmd
}
