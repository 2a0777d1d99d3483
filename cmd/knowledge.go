package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/knowledge"
)

var pruneOlderThan time.Duration

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect and maintain the knowledge store",
}

var knowledgeShowCmd = &cobra.Command{
	Use:   "show <registry-number>",
	Short: "Print the cached contractor record and emails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openKnowledge(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return showKnowledge(cmd.Context(), st, cmd.OutOrStdout(), args[0])
	},
}

var knowledgePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached records not verified recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openKnowledge(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		age := pruneOlderThan
		if age <= 0 {
			age = days(cfg.Knowledge.StaleAfterDays)
		}
		_, err = pruneKnowledge(cmd.Context(), st, time.Now().Add(-age))
		return err
	},
}

func init() {
	knowledgePruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "age cutoff, e.g. 720h (default knowledge.stale_after_days)")
	knowledgeCmd.AddCommand(knowledgeShowCmd, knowledgePruneCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func openKnowledge(ctx context.Context) (knowledge.Store, error) {
	if err := cfg.Validate("knowledge"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

type knowledgeView struct {
	Contractor *knowledge.ContractorRecord `json:"contractor"`
	Emails     []knowledge.EmailRecord     `json:"emails"`
}

func showKnowledge(ctx context.Context, st knowledge.Store, w io.Writer, registryNumber string) error {
	rec, err := st.GetContractor(ctx, registryNumber)
	if err != nil {
		return eris.Wrap(err, "knowledge: get contractor")
	}
	emails, err := st.GetEmails(ctx, registryNumber)
	if err != nil {
		return eris.Wrap(err, "knowledge: get emails")
	}
	if rec == nil && len(emails) == 0 {
		return eris.Errorf("knowledge: nothing stored for %s", registryNumber)
	}
	if emails == nil {
		emails = []knowledge.EmailRecord{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(knowledgeView{Contractor: rec, Emails: emails})
}

func pruneKnowledge(ctx context.Context, st knowledge.Store, cutoff time.Time) (int, error) {
	n, err := st.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "knowledge: prune")
	}
	zap.L().Info("knowledge store pruned", zap.Int("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
