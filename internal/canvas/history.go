package canvas

// DefaultHistoryLimit は履歴に保持するスナップショットの上限。
const DefaultHistoryLimit = 20

// History はスナップショットの上限付きUndo/Redoスタック。
// indexは空のときのみ-1で、それ以外は常に有効なスナップショットを指す。
type History struct {
	limit     int
	snapshots []Snapshot
	index     int
}

// NewHistory は上限limitの履歴を生成する。limitが1未満の場合はDefaultHistoryLimitを使用する。
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, index: -1}
}

// Push は現在位置より後ろのスナップショットを破棄してから追加する。
// 上限を超えた場合は最も古いものを削除する。
func (h *History) Push(s Snapshot) {
	h.snapshots = append(h.snapshots[:h.index+1], s.Clone())
	h.index++
	if over := len(h.snapshots) - h.limit; over > 0 {
		h.snapshots = append([]Snapshot(nil), h.snapshots[over:]...)
		h.index -= over
	}
}

// Undo は位置を1つ戻し、そのスナップショットを返す。先頭では何もせずfalseを返す。
func (h *History) Undo() (Snapshot, bool) {
	if h.index <= 0 {
		return Snapshot{}, false
	}
	h.index--
	return h.snapshots[h.index].Clone(), true
}

// Redo は位置を1つ進め、そのスナップショットを返す。末尾では何もせずfalseを返す。
func (h *History) Redo() (Snapshot, bool) {
	if h.index >= len(h.snapshots)-1 {
		return Snapshot{}, false
	}
	h.index++
	return h.snapshots[h.index].Clone(), true
}

// Current は現在位置のスナップショットを返す。
func (h *History) Current() (Snapshot, bool) {
	if h.index < 0 {
		return Snapshot{}, false
	}
	return h.snapshots[h.index].Clone(), true
}

// Index は現在位置を返す。
func (h *History) Index() int { return h.index }

// Len は保持しているスナップショット数を返す。
func (h *History) Len() int { return len(h.snapshots) }

// CanUndo はUndo可能かを返す。
func (h *History) CanUndo() bool { return h.index > 0 }

// CanRedo はRedo可能かを返す。
func (h *History) CanRedo() bool { return h.index >= 0 && h.index < len(h.snapshots)-1 }
