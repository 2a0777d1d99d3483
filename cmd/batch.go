package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/pipeline"
)

// jobFlags are the per-job preferences shared by run and batch.
type jobFlags struct {
	strictness string
	useLLM     bool
	budgetCap  float64
	allow      []string
	deny       []string
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.strictness, "strictness", string(model.StrictnessStandard), "minimum confidence kept: lenient, standard or strict")
	fs.BoolVar(&f.useLLM, "use-llm", false, "use the configured LLM for strategy and interpretation")
	fs.Float64Var(&f.budgetCap, "budget-cap", 0, "job spend ceiling in USD (0 = unlimited)")
	fs.StringSliceVar(&f.allow, "allow-domain", nil, "restrict fetched pages to these domains")
	fs.StringSliceVar(&f.deny, "deny-domain", nil, "never fetch or accept emails from these domains")
}

func (f *jobFlags) preferences() (model.Preferences, error) {
	s := model.Strictness(strings.ToLower(f.strictness))
	switch s {
	case model.StrictnessLenient, model.StrictnessStandard, model.StrictnessStrict:
	default:
		return model.Preferences{}, eris.Errorf("unknown strictness %q", f.strictness)
	}
	if f.budgetCap < 0 {
		return model.Preferences{}, eris.New("budget-cap must be >= 0")
	}
	return model.Preferences{
		UseLLM:       f.useLLM || (cfg != nil && cfg.Reasoner.UseLLM),
		AllowDomains: f.allow,
		DenyDomains:  f.deny,
		BudgetCap:    f.budgetCap,
		Strictness:   s,
	}, nil
}

var (
	batchInput  string
	batchOutput string
	batchFormat string
	batchLimit  int
	batchFlags  jobFlags
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Discover emails for every contractor in a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		prefs, err := batchFlags.preferences()
		if err != nil {
			return err
		}
		format, err := exportFormat(batchFormat, batchOutput)
		if err != nil {
			return err
		}

		inputs, err := readInputFile(batchInput, batchLimit)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			zap.L().Info("no contractors in input file", zap.String("path", batchInput))
			return nil
		}

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := runJob(ctx, env.Runner, inputs, prefs)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if batchOutput != "" && batchOutput != "-" {
			f, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "batch: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := writeResults(out, format, job.Results); err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("processed", job.Processed),
			zap.Int("failed", job.Failed),
			zap.Float64("total_cost", job.TotalCost),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "contractor CSV file (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output path (default stdout)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "", "output format: csv, xlsx or json (default from output extension, else csv)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of contractors to process (0 = all)")
	batchFlags.register(batchCmd.Flags())
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

func readInputFile(path string, limit int) ([]model.ContractorInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open input")
	}
	defer f.Close() //nolint:errcheck

	inputs, err := pipeline.ReadInputs(f)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read %s", path)
	}
	if limit > 0 && len(inputs) > limit {
		inputs = inputs[:limit]
	}
	return inputs, nil
}

// exportFormat resolves the output format from the flag or the output
// file's extension.
func exportFormat(flag, output string) (string, error) {
	format := strings.ToLower(flag)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	}
	switch format {
	case "", "csv":
		return "csv", nil
	case "xlsx", "json":
		return format, nil
	default:
		return "", eris.Errorf("unsupported output format %q", format)
	}
}

func writeResults(w io.Writer, format string, results []model.EntityResult) error {
	switch format {
	case "xlsx":
		return pipeline.WriteXLSX(w, results)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "batch: encode json")
	default:
		return pipeline.WriteCSV(w, results)
	}
}

// runJob submits inputs, logs the job's progress feed and waits for it to
// finish. If ctx is cancelled the job is cancelled and its partial results
// are still returned.
func runJob(ctx context.Context, runner *pipeline.Runner, inputs []model.ContractorInput, prefs model.Preferences) (*model.Job, error) {
	id, err := runner.Submit(ctx, inputs, prefs)
	if err != nil {
		return nil, eris.Wrap(err, "submit job")
	}
	sub, err := runner.Subscribe(id, true)
	if err != nil {
		return nil, eris.Wrap(err, "subscribe to job")
	}
	defer sub.Close()

	go logProgress(sub.Events())

	job, err := runner.Wait(ctx, id)
	if err == nil {
		return job, nil
	}

	zap.L().Warn("interrupted, cancelling job", zap.String("job_id", id))
	if cErr := runner.Cancel(id); cErr != nil {
		return nil, eris.Wrap(cErr, "cancel job")
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return runner.Wait(waitCtx, id)
}

func logProgress(ch <-chan model.ProgressEvent) {
	for ev := range ch {
		fields := []zap.Field{
			zap.String("component", ev.Component),
			zap.String("stage", string(ev.Stage)),
		}
		if ev.RegistryNumber != "" {
			fields = append(fields, zap.String("registry_number", ev.RegistryNumber))
		}
		switch ev.Severity {
		case model.SeverityError:
			zap.L().Error(ev.Summary, fields...)
		case model.SeverityWarning:
			zap.L().Warn(ev.Summary, fields...)
		default:
			zap.L().Info(ev.Summary, fields...)
		}
	}
}
