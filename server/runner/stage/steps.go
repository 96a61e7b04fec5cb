package stage

import (
	"context"
	"fmt"
	"time"
)

// DefaultStepNames is the fixed ACS extractor pipeline, in execution order.
var DefaultStepNames = []string{"extract", "analyze", "match", "generate"}

// ACS areas reported as weak or strong, split on answer ratio.
var (
	weakAreaCodes   = []string{"PA.I.A.K1", "PA.I.B.K2", "PA.IV.A.K1"}
	strongAreaCodes = []string{"PA.II.A.K1", "PA.III.B.K2"}
)

// DefaultRegistry returns the simulated ACS extractor work functions.
// Real extraction and matching plug in here later; the status-tracking
// contract around them stays the same. Each function sleeps for delay to
// model external work and observes ctx while doing so.
func DefaultRegistry(delay time.Duration) map[string]StepFunc {
	return map[string]StepFunc{
		"extract": func(ctx context.Context, exec *Execution) (string, error) {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			exec.Result.TotalQuestions = 15 * len(exec.InputRefs)
			return fmt.Sprintf("extracted %d questions from %d files", exec.Result.TotalQuestions, len(exec.InputRefs)), nil
		},
		"analyze": func(ctx context.Context, exec *Execution) (string, error) {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			exec.Result.CorrectAnswers = exec.Result.TotalQuestions * 4 / 5
			exec.Result.IncorrectAnswers = exec.Result.TotalQuestions - exec.Result.CorrectAnswers
			return fmt.Sprintf("analyzed %d answers", exec.Result.TotalQuestions), nil
		},
		"match": func(ctx context.Context, exec *Execution) (string, error) {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			exec.Result.WeakAreas = append([]string(nil), weakAreaCodes...)
			exec.Result.StrongAreas = append([]string(nil), strongAreaCodes...)
			return fmt.Sprintf("matched %d ACS areas", len(exec.Result.WeakAreas)+len(exec.Result.StrongAreas)), nil
		},
		"generate": func(ctx context.Context, exec *Execution) (string, error) {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			if exec.Result.TotalQuestions > 0 {
				exec.Result.OverallScore = float64(exec.Result.CorrectAnswers) / float64(exec.Result.TotalQuestions) * 100
			}
			return "study plan generated", nil
		},
	}
}

// sleep waits for d or returns early with the context's error.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
