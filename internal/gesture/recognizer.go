// Package gesture はタッチ入力をピンチ・パン・ダブルタップ・描画パススルーに分類する。
// 分類結果のズーム倍率のクランプやダブルタップ時のリセットは利用側の責務とする。
package gesture

import (
	"math"
	"time"
)

// DoubleTapWindow は1回目のタッチダウンからダブルタップとみなす最大間隔。
const DoubleTapWindow = 300 * time.Millisecond

// EventKind は分類済みイベントの種別を表す。
type EventKind int

const (
	// EventPress は描画用のポインタダウン。
	EventPress EventKind = iota
	// EventDrag は描画用のポインタ移動。
	EventDrag
	// EventRelease は描画用のポインタアップ。
	EventRelease
	// EventCancel は進行中の描画パススルーの中断。
	EventCancel
	// EventPan は1本指移動の差分。
	EventPan
	// EventPinchStart はピンチ開始。
	EventPinchStart
	// EventPinch はピンチ中の倍率（開始時の指間距離に対する比）。
	EventPinch
	// EventPinchEnd はピンチ終了。
	EventPinchEnd
	// EventDoubleTap はダブルタップ。
	EventDoubleTap
)

var kindNames = [...]string{
	EventPress:      "press",
	EventDrag:       "drag",
	EventRelease:    "release",
	EventCancel:     "cancel",
	EventPan:        "pan",
	EventPinchStart: "pinch_start",
	EventPinch:      "pinch",
	EventPinchEnd:   "pinch_end",
	EventDoubleTap:  "double_tap",
}

// String はイベント種別名を返す。
func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event は分類済みの入力イベント。座標は画面座標。
type Event struct {
	Kind  EventKind
	X, Y  float64
	DX    float64
	DY    float64
	Scale float64
	At    time.Time
}

// Touch は1本の指の位置を表す。
type Touch struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Recognizer はタッチ列をイベントに分類する状態機械。並行利用は想定しない。
//
// 1本指のPressは指が動くまで保留する。動かずに離れたタップはダブルタップの
// 1回目かもしれないため、次のタッチダウンかFlushまでPress/Releaseを保留する。
type Recognizer struct {
	window time.Duration

	pinching  bool
	startDist float64

	// passThrough は描画用のPress/Drag/Releaseを流している間true。
	passThrough bool
	// suppressed はダブルタップ後、指が離れるまでパンと描画を抑止する。
	suppressed bool

	// pending は未発行のPress。指が動いた時点で発行する。
	pending *Event
	// held は動かずに離れたタップのPress/Release。
	held []Event

	hasLast      bool
	lastX, lastY float64
	lastTapDown  time.Time
}

// NewRecognizer はRecognizerを生成する。
func NewRecognizer() *Recognizer {
	return &Recognizer{window: DoubleTapWindow}
}

// Pinching はピンチ中かを返す。
func (r *Recognizer) Pinching() bool { return r.pinching }

// TouchStart は指が置かれた後の全タッチを受け取り、イベントを返す。
func (r *Recognizer) TouchStart(touches []Touch, at time.Time) []Event {
	switch {
	case len(touches) >= 2:
		events := r.takeHeld()
		switch {
		case r.pending != nil:
			r.pending = nil
			r.passThrough = false
		case r.passThrough:
			events = append(events, Event{Kind: EventCancel, At: at})
			r.passThrough = false
		}
		if !r.pinching {
			r.pinching = true
			r.startDist = distance(touches[0], touches[1])
			events = append(events, Event{Kind: EventPinchStart, Scale: 1, At: at})
		}
		r.hasLast = false
		return events

	case len(touches) == 1:
		if r.pinching {
			return nil
		}
		t := touches[0]
		r.lastX, r.lastY, r.hasLast = t.X, t.Y, true

		if !r.lastTapDown.IsZero() {
			if d := at.Sub(r.lastTapDown); d >= 0 && d <= r.window {
				r.lastTapDown = time.Time{}
				r.held = nil
				r.pending = nil
				r.suppressed = true
				r.passThrough = false
				return []Event{{Kind: EventDoubleTap, X: t.X, Y: t.Y, At: at}}
			}
		}
		events := r.takeHeld()
		r.lastTapDown = at
		r.suppressed = false
		r.passThrough = true
		r.pending = &Event{Kind: EventPress, X: t.X, Y: t.Y, At: at}
		return events
	}
	return nil
}

// Flush は保留中のタップを確定して返す。atがダブルタップ期間内なら何も返さない。
// atがゼロ値の場合は期間に関わらず確定する。
func (r *Recognizer) Flush(at time.Time) []Event {
	if len(r.held) == 0 {
		return nil
	}
	if !at.IsZero() && at.Sub(r.lastTapDown) <= r.window {
		return nil
	}
	return r.takeHeld()
}

func (r *Recognizer) takeHeld() []Event {
	events := r.held
	r.held = nil
	return events
}

// TouchMove は移動後の全タッチを受け取り、イベントを返す。
func (r *Recognizer) TouchMove(touches []Touch, at time.Time) []Event {
	if r.pinching {
		if len(touches) < 2 || r.startDist <= 0 {
			return nil
		}
		return []Event{{Kind: EventPinch, Scale: distance(touches[0], touches[1]) / r.startDist, At: at}}
	}
	if len(touches) != 1 {
		return nil
	}

	t := touches[0]
	defer func() { r.lastX, r.lastY, r.hasLast = t.X, t.Y, true }()
	if r.suppressed {
		return nil
	}

	var events []Event
	if r.pending != nil {
		events = append(events, *r.pending)
		r.pending = nil
	}
	if r.hasLast {
		events = append(events, Event{Kind: EventPan, X: t.X, Y: t.Y, DX: t.X - r.lastX, DY: t.Y - r.lastY, At: at})
	}
	if r.passThrough {
		events = append(events, Event{Kind: EventDrag, X: t.X, Y: t.Y, At: at})
	}
	return events
}

// TouchEnd は指が離れた後に残っているタッチを受け取り、イベントを返す。
func (r *Recognizer) TouchEnd(remaining []Touch, at time.Time) []Event {
	if r.pinching {
		if len(remaining) >= 2 {
			return nil
		}
		r.pinching = false
		r.startDist = 0
		r.hasLast = false
		if len(remaining) == 1 {
			r.lastX, r.lastY, r.hasLast = remaining[0].X, remaining[0].Y, true
		}
		return []Event{{Kind: EventPinchEnd, At: at}}
	}
	if len(remaining) > 0 {
		return nil
	}

	var events []Event
	switch {
	case r.pending != nil:
		r.held = []Event{*r.pending, {Kind: EventRelease, X: r.lastX, Y: r.lastY, At: at}}
		r.pending = nil
	case r.passThrough:
		events = append(events, Event{Kind: EventRelease, X: r.lastX, Y: r.lastY, At: at})
	}
	r.passThrough = false
	r.suppressed = false
	r.hasLast = false
	return events
}

func distance(a, b Touch) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
