package reward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
)

var baseNow = time.Date(2026, 5, 20, 3, 0, 0, 0, time.UTC)

// daysAgo はnowから指定日数前のUTC正午の時刻列を返す。
func daysAgo(days ...int) []time.Time {
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = time.Date(2026, 5, 20-d, 12, 0, 0, 0, time.UTC)
	}
	return out
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name         string
		times        []time.Time
		wantCurrent  int
		wantLongest  int
		enteredToday bool
	}{
		{"エントリなし", nil, 0, 0, false},
		{"昨日まで3日連続", daysAgo(1, 2, 3), 3, 3, false},
		{"今日を含む連続", daysAgo(0, 1, 2, 3), 4, 4, true},
		{"一昨日で途切れた", daysAgo(2, 3, 4, 5, 6), 0, 5, false},
		{"同じ日の複数エントリ", daysAgo(0, 0, 1), 2, 2, true},
		{"過去の最長記録", daysAgo(0, 5, 6, 7, 8, 9, 10, 11), 1, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 5, 20, 23, 0, 0, 0, time.UTC)
			got := Compute(tt.times, 0, now)
			if got.Streak.Current != tt.wantCurrent {
				t.Errorf("Current = %d, want %d", got.Streak.Current, tt.wantCurrent)
			}
			if got.Streak.Longest != tt.wantLongest {
				t.Errorf("Longest = %d, want %d", got.Streak.Longest, tt.wantLongest)
			}
			if got.Streak.Total != len(tt.times) {
				t.Errorf("Total = %d, want %d", got.Streak.Total, len(tt.times))
			}
			if got.EnteredToday != tt.enteredToday {
				t.Errorf("EnteredToday = %v, want %v", got.EnteredToday, tt.enteredToday)
			}
		})
	}
}

func TestCompute_TimezoneOffset(t *testing.T) {
	// UTC 2026-05-19 16:00 は JST(+9) では 2026-05-20 01:00
	entry := time.Date(2026, 5, 19, 16, 0, 0, 0, time.UTC)
	now := time.Date(2026, 5, 20, 2, 0, 0, 0, time.UTC)

	jst := Compute([]time.Time{entry}, 9*60, now)
	if !jst.EnteredToday || jst.Streak.Current != 1 {
		t.Errorf("JSTでは今日のエントリとして扱われるべき: %+v", jst)
	}

	utc := Compute([]time.Time{entry}, 0, now)
	if utc.EnteredToday {
		t.Error("UTCでは昨日のエントリとして扱われるべき")
	}
	if utc.Streak.Current != 1 {
		t.Errorf("昨日のエントリで連続記録は維持されるべき: %d", utc.Streak.Current)
	}

	// UTC-5 ではまだ 2026-05-19 21:00 なので同じく今日
	ny := Compute([]time.Time{entry}, -5*60, now)
	if !ny.EnteredToday {
		t.Error("UTC-5では今日のエントリとして扱われるべき")
	}
}

func TestCompute_Rewards(t *testing.T) {
	var days []int
	for i := 0; i < 7; i++ {
		days = append(days, i)
	}
	got := Compute(daysAgo(days...), 0, time.Date(2026, 5, 20, 23, 0, 0, 0, time.UTC))

	want := map[string]struct {
		unlocked  bool
		remaining int
	}{
		"sprout":        {true, 0},
		"bloom":         {true, 0},
		"rainbow":       {false, 7},
		"sun":           {false, 23},
		"constellation": {false, 93},
	}
	if len(got.Rewards) != len(Milestones) {
		t.Fatalf("報酬数 = %d", len(got.Rewards))
	}
	for _, r := range got.Rewards {
		w := want[r.Key]
		if r.Unlocked != w.unlocked || r.Remaining != w.remaining {
			t.Errorf("%s: unlocked=%v remaining=%d, want unlocked=%v remaining=%d",
				r.Key, r.Unlocked, r.Remaining, w.unlocked, w.remaining)
		}
	}
}

func TestCompute_UnlockedRewardsStayUnlocked(t *testing.T) {
	// 過去に3日連続を達成していれば、現在途切れていても解放済み
	got := Compute(daysAgo(10, 11, 12), 0, baseNow)
	if got.Streak.Current != 0 {
		t.Errorf("Current = %d, want 0", got.Streak.Current)
	}
	if !got.Rewards[0].Unlocked {
		t.Error("sprout は解放済みであるべき")
	}
	if got.Rewards[1].Remaining != 7 {
		t.Errorf("bloom の残り日数 = %d, want 7", got.Rewards[1].Remaining)
	}
}

type mockEntries struct {
	times []time.Time
	err   error
}

func (m *mockEntries) GratitudeEntryTimes(ctx context.Context, userID string) ([]time.Time, error) {
	return m.times, m.err
}

type mockUsers struct {
	user *model.User
}

func (m *mockUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.user, nil
}

func TestService_Get(t *testing.T) {
	svc := NewService(&mockEntries{times: daysAgo(0, 1)}, &mockUsers{user: &model.User{ID: "u"}})
	svc.now = func() time.Time { return time.Date(2026, 5, 20, 23, 0, 0, 0, time.UTC) }

	got, err := svc.Get(context.Background(), "u")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if got.Streak.Current != 2 {
		t.Errorf("Current = %d, want 2", got.Streak.Current)
	}
}

func TestService_Get_Errors(t *testing.T) {
	svc := NewService(&mockEntries{}, &mockUsers{})
	_, err := svc.Get(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("USER_NOT_FOUND を期待: %v", err)
	}

	svc = NewService(&mockEntries{err: errors.New("db down")}, &mockUsers{user: &model.User{ID: "u"}})
	if _, err := svc.Get(context.Background(), "u"); err == nil {
		t.Error("エントリ取得の失敗はエラーになるべき")
	}
}
