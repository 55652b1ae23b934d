// Package session は接続中クライアントのセッション管理を提供します。
package session

import "sync"

// Registry は現在接続中のセッションIDの集合です。
// 接続/切断ハンドラーから書き込まれ、ワーカーが生存確認のために参照します。
type Registry struct {
	mu   sync.RWMutex
	live map[string]struct{}
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		live: make(map[string]struct{}),
	}
}

// Register はセッションを登録します。登録済みの場合は何もしません。
func (r *Registry) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[id] = struct{}{}
}

// Deregister はセッションを削除します。
// キュー内に残っている当該セッションのジョブは、このあと実行されずに破棄されます。
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// IsLive はセッションが接続中かどうかを返します。
func (r *Registry) IsLive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[id]
	return ok
}

// Len は接続中のセッション数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
