package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/paintedminds/paintedminds/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	updatePreferencesFn func(ctx context.Context, id string, language model.Language, offset int) error
	deleteByIDFn        func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) UpdatePreferences(ctx context.Context, id string, language model.Language, offset int) error {
	if m.updatePreferencesFn != nil {
		return m.updatePreferencesFn(ctx, id, language, offset)
	}
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

type mockPaths struct {
	paths []string
	err   error
}

func (m *mockPaths) ListStoragePathsByUserID(ctx context.Context, userID string) ([]string, error) {
	return m.paths, m.err
}

type mockObjects struct {
	deleted []string
	err     error
}

func (m *mockObjects) Delete(ctx context.Context, keys ...string) error {
	m.deleted = append(m.deleted, keys...)
	return m.err
}

type mockLine struct {
	called bool
}

func (m *mockLine) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	m.called = true
	return true, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func existingUser() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com", Language: model.LanguageEnglish}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error { return nil },
	}
}

// --- テスト ---

// TestService_Withdraw は退会処理が全関連データを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var order []string
	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		order = append(order, "user")
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			order = append(order, "sessions")
			return nil
		},
	}
	paths := &mockPaths{paths: []string{"drawings/u/a.png", "drawings/u/a_thumb.png"}}
	objects := &mockObjects{}
	line := &mockLine{}

	svc := NewService(userRepo, sessionRepo, paths, objects, line, newTestLogger())

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if !line.called {
		t.Error("expected LINE link to be deleted")
	}
	if !reflect.DeepEqual(order, []string{"sessions", "user"}) {
		t.Errorf("delete order = %v", order)
	}
	if !reflect.DeepEqual(objects.deleted, paths.paths) {
		t.Errorf("deleted objects = %v, want %v", objects.deleted, paths.paths)
	}
}

// TestService_Withdraw_ObjectDeleteFailureIsLogged は画像削除の失敗で退会が失敗しないことを検証する。
func TestService_Withdraw_ObjectDeleteFailureIsLogged(t *testing.T) {
	sessionRepo := &mockSessionRepo{deleteByUserIDFn: func(ctx context.Context, userID string) error { return nil }}
	objects := &mockObjects{err: errors.New("s3 down")}
	svc := NewService(existingUser(), sessionRepo, &mockPaths{paths: []string{"k"}}, objects, &mockLine{}, newTestLogger())

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("画像削除の失敗は退会を止めないべき: %v", err)
	}
}

// TestService_Withdraw_PathListError は画像一覧の取得失敗で何も削除しないことを検証する。
func TestService_Withdraw_PathListError(t *testing.T) {
	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		t.Error("ユーザーは削除されるべきではない")
		return nil
	}
	svc := NewService(userRepo, nil, &mockPaths{err: errors.New("db down")}, &mockObjects{}, nil, newTestLogger())

	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, nil, nil, newTestLogger())

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("USER_NOT_FOUND を期待しましたが %v でした", err)
	}
}

func TestService_UpdatePreferences(t *testing.T) {
	var gotLang model.Language
	var gotOffset int
	userRepo := existingUser()
	userRepo.updatePreferencesFn = func(ctx context.Context, id string, language model.Language, offset int) error {
		gotLang, gotOffset = language, offset
		return nil
	}
	svc := NewService(userRepo, nil, nil, nil, nil, newTestLogger())

	lang := "ja-JP"
	offset := 540
	user, err := svc.UpdatePreferences(context.Background(), "user-1", PreferencesInput{Language: &lang, TimezoneOffsetMinutes: &offset})
	if err != nil {
		t.Fatalf("UpdatePreferences returned error: %v", err)
	}
	if gotLang != model.LanguageJapanese || gotOffset != 540 {
		t.Errorf("saved = %s/%d, want ja/540", gotLang, gotOffset)
	}
	if user.Language != model.LanguageJapanese || user.TimezoneOffsetMinutes != 540 {
		t.Errorf("user = %+v", user)
	}
}

func TestService_UpdatePreferences_KeepsUnsetFields(t *testing.T) {
	var gotLang model.Language
	userRepo := existingUser()
	userRepo.updatePreferencesFn = func(ctx context.Context, id string, language model.Language, offset int) error {
		gotLang = language
		return nil
	}
	svc := NewService(userRepo, nil, nil, nil, nil, newTestLogger())

	offset := -300
	if _, err := svc.UpdatePreferences(context.Background(), "user-1", PreferencesInput{TimezoneOffsetMinutes: &offset}); err != nil {
		t.Fatal(err)
	}
	if gotLang != model.LanguageEnglish {
		t.Errorf("言語は変更されないべき: %s", gotLang)
	}
}

func TestService_UpdatePreferences_InvalidInput(t *testing.T) {
	svc := NewService(existingUser(), nil, nil, nil, nil, newTestLogger())

	lang := "fr"
	offset := 15 * 60
	tests := []struct {
		name string
		in   PreferencesInput
	}{
		{"未対応の言語", PreferencesInput{Language: &lang}},
		{"範囲外のタイムゾーン", PreferencesInput{TimezoneOffsetMinutes: &offset}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdatePreferences(context.Background(), "user-1", tt.in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
				t.Errorf("INVALID_INPUT を期待しましたが %v でした", err)
			}
		})
	}
}
