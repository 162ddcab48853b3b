package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/dpsvi/internal/privacy"
)

type AccountantOptions struct {
	TargetDelta   float64
	TargetEpsilon float64
	DPScale       float64
	SamplingRatio float64
	NumIter       float64
	NumEpochs     float64
	Method        string
}

func NewAccountantCmd() *cobra.Command {
	opts := &AccountantOptions{}

	cmd := &cobra.Command{
		Use:   "accountant",
		Short: "Query the privacy accountant for a training plan",
		Long: `Compute the (epsilon, delta) differential privacy guarantee of a
training plan: a number of subsampled Gaussian mechanism releases with a
given noise multiplier and sampling ratio.`,
		Example: `  # Epsilon at delta=1e-5 for 10 epochs at 1% sampling
  dpsvi accountant --dp-scale 2.0 --sampling-ratio 0.01 --epochs 10 --delta 1e-5

  # Delta at a fixed epsilon, using the RDP accountant
  dpsvi accountant --dp-scale 2.0 --sampling-ratio 0.01 --iterations 1000 --epsilon 1.0 --method rdp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountant(opts)
		},
	}

	// Add flags
	cmd.Flags().Float64Var(&opts.TargetDelta, "delta", 0, "Target delta (computes epsilon)")
	cmd.Flags().Float64Var(&opts.TargetEpsilon, "epsilon", 0, "Target epsilon (computes delta)")
	cmd.Flags().Float64Var(&opts.DPScale, "dp-scale", 0, "Gaussian noise multiplier (required)")
	cmd.Flags().Float64Var(&opts.SamplingRatio, "sampling-ratio", 0, "Batch size divided by dataset size (required)")
	cmd.Flags().Float64Var(&opts.NumIter, "iterations", 0, "Number of training iterations")
	cmd.Flags().Float64Var(&opts.NumEpochs, "epochs", 0, "Number of epochs (alternative to --iterations)")
	cmd.Flags().StringVar(&opts.Method, "method", "fourier", "Accountant method (fourier, rdp)")

	cmd.MarkFlagRequired("dp-scale")
	cmd.MarkFlagRequired("sampling-ratio")

	return cmd
}

func runAccountant(opts *AccountantOptions) error {
	logger := logrus.New()

	iterations, err := privacy.ResolveIterationCount(opts.NumEpochs, opts.NumIter, opts.SamplingRatio)
	if err != nil {
		return err
	}

	switch {
	case opts.TargetDelta > 0:
		var eps float64
		switch opts.Method {
		case "rdp":
			eps, err = privacy.RDPEpsilon(opts.TargetDelta, opts.DPScale, opts.SamplingRatio, iterations)
		default:
			accountant := privacy.NewAccountant(nil, logger)
			eps, err = accountant.Epsilon(opts.TargetDelta, opts.DPScale, opts.SamplingRatio, 0, iterations)
		}
		if err != nil {
			return err
		}
		fmt.Printf("epsilon = %.6f at delta = %g (%s accountant, %.0f iterations)\n",
			eps, opts.TargetDelta, opts.Method, iterations)
		return nil

	case opts.TargetEpsilon > 0:
		accountant := privacy.NewAccountant(nil, logger)
		delta, err := accountant.Delta(opts.TargetEpsilon, opts.DPScale, opts.SamplingRatio, 0, iterations)
		if err != nil {
			return err
		}
		fmt.Printf("delta = %g at epsilon = %.6f (fourier accountant, %.0f iterations)\n",
			delta, opts.TargetEpsilon, iterations)
		return nil

	default:
		return fmt.Errorf("one of --delta or --epsilon must be given")
	}
}
