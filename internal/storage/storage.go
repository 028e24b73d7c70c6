// Package storage は描いた絵の画像ファイルをオブジェクトストレージに保存する。
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Store は画像オブジェクトの保存先。
type Store interface {
	// Put はデータを保存し、公開URLを返す。
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete は指定キーのオブジェクトを削除する。存在しないキーはエラーにしない。
	Delete(ctx context.Context, keys ...string) error
	// PublicURL はキーの公開URLを返す。
	PublicURL(key string) string
}

// DrawingKeys は1枚の絵に属するオブジェクトのキー。同じULIDを共有する。
type DrawingKeys struct {
	Image     string
	Thumbnail string
	Enhanced  string
}

// NewDrawingKeys はユーザーの新しい絵のキーを生成する。extは元画像の拡張子。
func NewDrawingKeys(userID, ext string) DrawingKeys {
	base := path.Join("drawings", userID, ulid.Make().String())
	return DrawingKeys{
		Image:     base + "." + ext,
		Thumbnail: base + "_thumb.png",
		Enhanced:  base + "_enhanced.png",
	}
}

// EnhancedKeyFor は元画像のキーから強化画像のキーを導出する。
func EnhancedKeyFor(imageKey string) string {
	return strings.TrimSuffix(imageKey, path.Ext(imageKey)) + "_enhanced.png"
}

// validateKey はパストラバーサルを含むキーを拒否する。
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid object key %q: must be a clean relative path", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("invalid object key %q: must not contain dot segments", key)
		}
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// MemoryStore はプロセス内にオブジェクトを保持するStore。開発環境とテストで使う。
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]Object
}

// Object はMemoryStoreに保存されたオブジェクト。
type Object struct {
	Data        []byte
	ContentType string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]Object)}
}

// Put はオブジェクトを保存する。
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return m.PublicURL(key), nil
}

// Delete はオブジェクトを削除する。
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

// PublicURL はキーの公開URLを返す。
func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

// Get は保存されたオブジェクトを返す。
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len は保存されているオブジェクト数を返す。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
