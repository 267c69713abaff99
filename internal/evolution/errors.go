package evolution

import (
	"errors"
	"fmt"
)

// ErrDegenerateRewards marks an iteration whose rewards all tied. The update
// for that iteration is zero; training continues.
var ErrDegenerateRewards = errors.New("population rewards have zero variance")

// ConfigurationError reports an invalid hyperparameter
type ConfigurationError struct {
	Field string
	Value any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// NonFiniteRewardError reports a NaN or infinite reward. Member is -1 for
// the unperturbed progress evaluation.
type NonFiniteRewardError struct {
	Iteration int
	Member    int
	Value     float64
}

func (e *NonFiniteRewardError) Error() string {
	if e.Member < 0 {
		return fmt.Sprintf("iteration %d: reward of current weights is %v", e.Iteration, e.Value)
	}
	return fmt.Sprintf("iteration %d: reward of population member %d is %v", e.Iteration, e.Member, e.Value)
}

// EvaluationError wraps a failure returned by the reward function
type EvaluationError struct {
	Iteration int
	Member    int
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("iteration %d: evaluating population member %d: %v", e.Iteration, e.Member, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
