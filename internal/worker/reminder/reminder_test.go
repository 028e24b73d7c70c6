package reminder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/paintedminds/paintedminds/internal/line"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

type mockAccounts struct {
	repository.LineAccountRepository
	targets  []repository.ReminderTarget
	gotLimit int
	err      error
}

func (m *mockAccounts) ListReminderTargets(_ context.Context, limit int) ([]repository.ReminderTarget, error) {
	m.gotLimit = limit
	return m.targets, m.err
}

type mockPusher struct {
	sent   map[string]string
	failTo string
}

func (m *mockPusher) Push(_ context.Context, to string, msgs ...line.OutboundMessage) error {
	if to == m.failTo {
		return errors.New("push failed")
	}
	m.sent[to] = msgs[0].Text
	return nil
}

type countRecorder struct{ total int }

func (r *countRecorder) RecordRemindersSent(count int) { r.total += count }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestJob_RunOnce_SendsLocalizedReminders(t *testing.T) {
	accounts := &mockAccounts{targets: []repository.ReminderTarget{
		{UserID: "u1", LineUserID: "U1", Language: model.LanguageJapanese},
		{UserID: "u2", LineUserID: "U2", Language: model.LanguageEnglish},
		{UserID: "u3", LineUserID: "U3", Language: model.LanguageThai},
	}}
	pusher := &mockPusher{sent: map[string]string{}, failTo: "U3"}
	var buf bytes.Buffer
	rec := &countRecorder{}
	job := NewJob(accounts, pusher, newTestLogger(&buf), Config{MaxPerRun: 10, PushesPerSecond: 1000, Recorder: rec})

	sent, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if sent != 2 {
		t.Errorf("送信件数 = %d, want 2", sent)
	}
	if rec.total != 2 {
		t.Errorf("記録された送信件数 = %d, want 2", rec.total)
	}
	if accounts.gotLimit != 10 {
		t.Errorf("取得件数の上限 = %d, want 10", accounts.gotLimit)
	}
	if pusher.sent["U1"] != line.Translate(model.LanguageJapanese, line.MsgReminder) {
		t.Errorf("U1への送信 = %q", pusher.sent["U1"])
	}
	if pusher.sent["U2"] != line.Translate(model.LanguageEnglish, line.MsgReminder) {
		t.Errorf("U2への送信 = %q", pusher.sent["U2"])
	}
}

func TestJob_RunOnce_ListError(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockAccounts{err: errors.New("db down")}, &mockPusher{}, newTestLogger(&buf), DefaultConfig())
	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Error("取得エラーは返されるべき")
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		now  time.Time
		hour int
		want time.Time
	}{
		{time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), 11, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), 11, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), 11, time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := NextRun(tt.now, tt.hour); !got.Equal(tt.want) {
			t.Errorf("NextRun(%v, %d) = %v, want %v", tt.now, tt.hour, got, tt.want)
		}
	}
}
