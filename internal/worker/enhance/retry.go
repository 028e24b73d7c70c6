package enhance

import (
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
	// MaxAttempts はこの回数失敗すると仕上げを諦める。
	MaxAttempts = 5
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 1回目の失敗で1分、以降2倍ずつ増加し、最大1時間。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// FailureState は失敗を記録する際の状態。
type FailureState struct {
	Attempts int
	Status   model.EnhancementStatus
	NextAt   time.Time
}

// NextFailureState は失敗後の状態を決める。上限に達した場合はfailedとなり再実行しない。
func NextFailureState(previousAttempts int, now time.Time) FailureState {
	attempts := previousAttempts + 1
	if attempts >= MaxAttempts {
		return FailureState{Attempts: attempts, Status: model.EnhancementFailed, NextAt: now}
	}
	return FailureState{
		Attempts: attempts,
		Status:   model.EnhancementPending,
		NextAt:   now.Add(CalculateBackoff(attempts)),
	}
}
