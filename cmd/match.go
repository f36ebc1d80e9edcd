package main

import (
	"fmt"

	"talent-radar/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var matchPosting uint

var matchCmd = &cobra.Command{
	Use:   "match [candidate-id...]",
	Short: "Score candidates against their posting requirements",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && matchPosting == 0 {
			return fmt.Errorf("pass candidate ids or --posting")
		}
		ids := make([]uint, 0, len(args))
		for _, arg := range args {
			id, err := parseID(arg, "candidate id")
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, cleanup, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		if matchPosting != 0 {
			cands, err := a.store.ListCandidates(cmd.Context(), matchPosting)
			if err != nil {
				return err
			}
			for _, c := range cands {
				if c.ExtractState == model.ExtractDone {
					ids = append(ids, c.ID)
				}
			}
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, id := range ids {
			res, err := a.engine.Match(cmd.Context(), id)
			if err != nil {
				failed++
				log.Error("match failed", zap.Uint("candidate_id", id), zap.Error(err))
				continue
			}
			fmt.Fprintf(out, "candidate %d: %.2f%% %s", id, res.Percentage, res.Bucket)
			if res.Partial {
				fmt.Fprintf(out, " (%s)", res.Message)
			}
			fmt.Fprintln(out)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d candidates failed", failed, len(ids))
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().UintVarP(&matchPosting, "posting", "p", 0, "match every extracted candidate of the posting")
	rootCmd.AddCommand(matchCmd)
}
