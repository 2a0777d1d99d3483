package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

var (
	runInput model.ContractorInput
	runFlags jobFlags
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover emails for a single contractor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runInput.RegistryNumber == "" && runInput.Name == "" {
			return eris.New("one of --registry or --name is required")
		}
		prefs, err := runFlags.preferences()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := runJob(ctx, env.Runner, []model.ContractorInput{runInput}, prefs)
		if err != nil {
			return err
		}
		if len(job.Results) == 0 {
			return eris.Errorf("job %s finished without a result", job.ID)
		}
		result := job.Results[0]

		zap.L().Info("discovery complete",
			zap.String("registry_number", result.Input.RegistryNumber),
			zap.String("stage", string(result.Stage)),
			zap.Int("candidates", len(result.Candidates)),
			zap.Float64("total_cost", result.TotalCost),
		)

		// Print result JSON to stdout
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if result.Failed() {
			return eris.Errorf("discovery failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput.RegistryNumber, "registry", "", "contractor registry (license) number")
	runCmd.Flags().StringVar(&runInput.Name, "name", "", "contractor name")
	runCmd.Flags().StringVar(&runInput.City, "city", "", "contractor city")
	runCmd.Flags().StringVar(&runInput.Phone, "phone", "", "contractor phone")
	runCmd.Flags().StringVar(&runInput.Website, "website", "", "known official website")
	runFlags.register(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}
