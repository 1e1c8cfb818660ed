package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dexhub/planted-dating-app/engine"
	"github.com/Dexhub/planted-dating-app/precompute"
	"github.com/Dexhub/planted-dating-app/rank"
)

var (
	topK       int
	candidates []string
	filterExpr string
	batchLimit int
	waitJob    bool
	waitFor    time.Duration
)

var scoreCmd = &cobra.Command{
	Use:   "score <user-a> <user-b>",
	Short: "Print the compatibility score of two users",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			s, err := e.Score(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"user_a": args[0], "user_b": args[1], "score": s})
		})
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <user>",
	Short: "Print the top-k ranked candidates for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			res, err := e.Recommend(ctx, rank.Request{
				UserID:       args[0],
				CandidateIDs: candidates,
				TopK:         topK,
				Filter:       filterExpr,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		})
	},
}

var warmCmd = &cobra.Command{
	Use:   "warm <user>",
	Short: "Precompute and cache the ranked list of one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			id, err := e.Warm(args[0])
			if err != nil {
				return err
			}
			return reportJob(ctx, cmd, e, id)
		})
	},
}

var warmBatchCmd = &cobra.Command{
	Use:   "warm-batch",
	Short: "Precompute ranked lists for the most recently active users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			id, err := e.WarmBatch(batchLimit)
			if err != nil {
				return err
			}
			return reportJob(ctx, cmd, e, id)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print engine health and counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"health": e.Health(ctx), "stats": e.Stats()})
		})
	},
}

func init() {
	recommendCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of matches (0 uses ranker.default_top_k)")
	recommendCmd.Flags().StringSliceVar(&candidates, "candidates", nil, "Explicit candidate ids (default: active users)")
	recommendCmd.Flags().StringVar(&filterExpr, "filter", "", "CEL filter over user and candidate attributes")

	warmBatchCmd.Flags().IntVar(&batchLimit, "limit", 0, "Number of active users to warm (0 uses ranker.max_candidates)")
	for _, c := range []*cobra.Command{warmCmd, warmBatchCmd} {
		c.Flags().BoolVar(&waitJob, "wait", true, "Wait for the job to finish before exiting")
		c.Flags().DurationVar(&waitFor, "timeout", 5*time.Minute, "Maximum time to wait for the job")
	}

	rootCmd.AddCommand(scoreCmd, recommendCmd, warmCmd, warmBatchCmd, healthCmd)
}

func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

// reportJob 打印任务状态；--wait 时轮询直到任务结束或超时。
func reportJob(ctx context.Context, cmd *cobra.Command, e *engine.Engine, id string) error {
	st, _ := e.JobStatus(id)
	if waitJob {
		deadline := time.Now().Add(waitFor)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for !st.Finished() {
			if time.Now().After(deadline) {
				return fmt.Errorf("job %s still %s after %s", id, st.State, waitFor)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			st, _ = e.JobStatus(id)
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
		return err
	}
	if st.State == precompute.StateFailed {
		return fmt.Errorf("job %s failed: %s", id, st.Error)
	}
	return nil
}
