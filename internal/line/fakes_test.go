package line

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memAccounts は一意制約を再現するインメモリのLINE連携リポジトリ。
type memAccounts struct {
	mu        sync.Mutex
	accounts  []*model.LineAccount
	createErr error
}

func (m *memAccounts) FindByLineUserID(_ context.Context, lineUserID string) (*model.LineAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.LineUserID == lineUserID {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByUserID(_ context.Context, userID string) (*model.LineAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.UserID == userID {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) Create(_ context.Context, account *model.LineAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, a := range m.accounts {
		if a.UserID == account.UserID || a.LineUserID == account.LineUserID {
			return repository.ErrDuplicate
		}
	}
	c := *account
	m.accounts = append(m.accounts, &c)
	return nil
}

func (m *memAccounts) deleteWhere(match func(*model.LineAccount) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.accounts {
		if match(a) {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return true
		}
	}
	return false
}

func (m *memAccounts) DeleteByUserID(_ context.Context, userID string) (bool, error) {
	return m.deleteWhere(func(a *model.LineAccount) bool { return a.UserID == userID }), nil
}

func (m *memAccounts) DeleteByLineUserID(_ context.Context, lineUserID string) (bool, error) {
	return m.deleteWhere(func(a *model.LineAccount) bool { return a.LineUserID == lineUserID }), nil
}

func (m *memAccounts) ListReminderTargets(_ context.Context, _ int) ([]repository.ReminderTarget, error) {
	return nil, nil
}

func (m *memAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// memTokens はインメモリの連携コードリポジトリ。
type memTokens struct {
	mu        sync.Mutex
	tokens    map[string]model.LinkToken
	deleteErr error
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]model.LinkToken)}
}

func (m *memTokens) Create(_ context.Context, token *model.LinkToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.Token]; ok {
		return repository.ErrDuplicate
	}
	m.tokens[token.Token] = *token
	return nil
}

func (m *memTokens) Find(_ context.Context, token string) (*model.LinkToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memTokens) Delete(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	if _, ok := m.tokens[token]; !ok {
		return false, nil
	}
	delete(m.tokens, token)
	return true, nil
}

func (m *memTokens) DeleteByIssuer(_ context.Context, userID, lineUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.tokens {
		if (userID != "" && t.UserID == userID) || (lineUserID != "" && t.LineUserID == lineUserID) {
			delete(m.tokens, k)
		}
	}
	return nil
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// fakeClock はテスト用の進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockMessenger は送信内容を記録するMessengerのモック。
type mockMessenger struct {
	mu        sync.Mutex
	replies   []sentReply
	pushes    []sentReply
	profileFn func(userID string) (*Profile, error)
	replyErr  error
}

type sentReply struct {
	to   string
	msgs []OutboundMessage
}

func (m *mockMessenger) Reply(_ context.Context, replyToken string, msgs ...OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, sentReply{to: replyToken, msgs: msgs})
	return m.replyErr
}

func (m *mockMessenger) Push(_ context.Context, to string, msgs ...OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, sentReply{to: to, msgs: msgs})
	return nil
}

func (m *mockMessenger) Profile(_ context.Context, userID string) (*Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(userID)
	}
	return &Profile{UserID: userID, DisplayName: "テストユーザー"}, nil
}

func (m *mockMessenger) replyTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.replies {
		for _, msg := range r.msgs {
			out = append(out, msg.Text)
		}
	}
	return out
}
