package gesture

import (
	"fmt"
	"sync"
	"time"
)

// Phase は生の入力イベントの段階を表す。
type Phase int

const (
	// PhaseStart は指またはポインタが置かれた。
	PhaseStart Phase = iota
	// PhaseMove は移動した。
	PhaseMove
	// PhaseEnd は離れた。
	PhaseEnd
)

// ParsePhase は "start" / "move" / "end" を解析する。
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "start", "down":
		return PhaseStart, nil
	case "move":
		return PhaseMove, nil
	case "end", "up", "cancel":
		return PhaseEnd, nil
	}
	return 0, fmt.Errorf("unknown input phase: %q", s)
}

// Handler は分類済みイベントを受け取る関数。
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Router は唯一の入力キャプチャ層。タッチ入力はRecognizerで分類し、
// マウスポインタ入力はそのままPress/Drag/Releaseとして全購読者に配信する。
type Router struct {
	mu          sync.Mutex
	recognizer  *Recognizer
	subscribers []subscriber
	nextID      int
	pointerDown bool
}

// NewRouter はRouterを生成する。recognizerがnilの場合は新規に生成する。
func NewRouter(recognizer *Recognizer) *Router {
	if recognizer == nil {
		recognizer = NewRecognizer()
	}
	return &Router{recognizer: recognizer}
}

// Subscribe はハンドラを登録し、登録解除関数を返す。解除関数は複数回呼んでも安全。
func (r *Router) Subscribe(h Handler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subscribers = append(r.subscribers, subscriber{id: id, fn: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range r.subscribers {
				if s.id == id {
					r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers は登録中のハンドラ数を返す。
func (r *Router) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Touch はタッチ入力を分類して配信する。touchesは各段階の後に画面上に残っている指。
func (r *Router) Touch(phase Phase, touches []Touch, at time.Time) {
	r.mu.Lock()
	var events []Event
	switch phase {
	case PhaseStart:
		events = r.recognizer.TouchStart(touches, at)
	case PhaseMove:
		events = r.recognizer.TouchMove(touches, at)
	case PhaseEnd:
		events = r.recognizer.TouchEnd(touches, at)
	}
	r.mu.Unlock()

	r.dispatch(events)
}

// Pointer はマウスポインタ入力をそのまま配信する。
func (r *Router) Pointer(phase Phase, x, y float64, at time.Time) {
	r.mu.Lock()
	// マウス入力の前に保留中のタップを確定する
	events := r.recognizer.Flush(time.Time{})
	switch phase {
	case PhaseStart:
		r.pointerDown = true
		events = append(events, Event{Kind: EventPress, X: x, Y: y, At: at})
	case PhaseMove:
		if r.pointerDown {
			events = append(events, Event{Kind: EventDrag, X: x, Y: y, At: at})
		}
	case PhaseEnd:
		if r.pointerDown {
			r.pointerDown = false
			events = append(events, Event{Kind: EventRelease, X: x, Y: y, At: at})
		}
	}
	r.mu.Unlock()

	r.dispatch(events)
}

// Flush は保留中のタップをダブルタップ期間が過ぎていれば配信する。
// atがゼロ値の場合は期間に関わらず配信する。
func (r *Router) Flush(at time.Time) {
	r.mu.Lock()
	events := r.recognizer.Flush(at)
	r.mu.Unlock()

	r.dispatch(events)
}

func (r *Router) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	subs := append([]subscriber(nil), r.subscribers...)
	r.mu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}
