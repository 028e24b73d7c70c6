// Package reward は感謝エントリの連続記録と、それによって解放される報酬を計算する。
package reward

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
)

// Milestone は報酬が解放される連続日数。
type Milestone struct {
	Key  string
	Days int
}

// Milestones は報酬の一覧。連続日数の昇順。
var Milestones = []Milestone{
	{Key: "sprout", Days: 3},
	{Key: "bloom", Days: 7},
	{Key: "rainbow", Days: 14},
	{Key: "sun", Days: 30},
	{Key: "constellation", Days: 100},
}

// Summary は連続記録と報酬の状態。
type Summary struct {
	Streak  model.Streak
	Rewards []model.Reward
	// EnteredToday は本日（ユーザーのタイムゾーン）の感謝エントリがあるか。
	EnteredToday bool
}

// EntrySource は感謝エントリの作成日時を返すインターフェース。
type EntrySource interface {
	GratitudeEntryTimes(ctx context.Context, userID string) ([]time.Time, error)
}

// UserFinder はユーザーを取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service は報酬のサービス層。
type Service struct {
	entries EntrySource
	users   UserFinder
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(entries EntrySource, users UserFinder) *Service {
	return &Service{entries: entries, users: users, now: time.Now}
}

// Get はユーザーの連続記録と報酬を返す。
func (s *Service) Get(ctx context.Context, userID string) (*Summary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	times, err := s.entries.GratitudeEntryTimes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("感謝エントリの取得に失敗しました: %w", err)
	}
	summary := Compute(times, user.TimezoneOffsetMinutes, s.now())
	return &summary, nil
}

// Compute はエントリの作成日時から連続記録と報酬を計算する。
// 日付の区切りはUTCからoffsetMinutesずらしたローカル日付で判定する。
// 本日のエントリがまだなくても、昨日まで続いていれば連続記録は途切れていないものとする。
func Compute(times []time.Time, offsetMinutes int, now time.Time) Summary {
	loc := time.FixedZone("user", offsetMinutes*60)
	days := make(map[int64]bool, len(times))
	for _, t := range times {
		days[dayNumber(t, loc)] = true
	}

	today := dayNumber(now, loc)
	current := 0
	start := today
	if !days[today] {
		start = today - 1
	}
	for d := start; days[d]; d-- {
		current++
	}

	longest, run := 0, 0
	var prev int64
	for _, d := range sortedDays(days) {
		if run > 0 && d == prev+1 {
			run++
		} else {
			run = 1
		}
		prev = d
		if run > longest {
			longest = run
		}
	}

	rewards := make([]model.Reward, len(Milestones))
	for i, m := range Milestones {
		r := model.Reward{Key: m.Key, Days: m.Days, Unlocked: longest >= m.Days}
		if !r.Unlocked {
			r.Remaining = m.Days - current
		}
		rewards[i] = r
	}

	return Summary{
		Streak:       model.Streak{Current: current, Longest: longest, Total: len(times)},
		Rewards:      rewards,
		EnteredToday: days[today],
	}
}

// dayNumber はローカル日付をUNIX紀元からの日数で返す。
func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func sortedDays(days map[int64]bool) []int64 {
	out := make([]int64, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
