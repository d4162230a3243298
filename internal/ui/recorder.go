package ui

import "sync"

// Call is one recorded Presenter interaction.
type Call struct {
	Op     string
	Kind   ModalKind
	Params any
	Text   string
	Toast  ToastKind
}

// Recorder is a headless Presenter that records every call. Scripted
// results are handed to modals of a kind in order; unscripted modals stay
// open until CloseAllModals.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	scripted  map[ModalKind][]ModalResult
	open      []chan ModalResult
	onDismiss func()
	uri       string
}

func NewRecorder() *Recorder {
	return &Recorder{scripted: make(map[ModalKind][]ModalResult)}
}

var _ Presenter = (*Recorder)(nil)

// Script queues res for the next modal of kind.
func (r *Recorder) Script(kind ModalKind, res ModalResult) {
	r.mu.Lock()
	r.scripted[kind] = append(r.scripted[kind], res)
	r.mu.Unlock()
}

func (r *Recorder) OpenModal(kind ModalKind, params any) <-chan ModalResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "open", Kind: kind, Params: params})
	ch := make(chan ModalResult, 1)
	if q := r.scripted[kind]; len(q) > 0 {
		ch <- q[0]
		r.scripted[kind] = q[1:]
		return ch
	}
	r.open = append(r.open, ch)
	return ch
}

func (r *Recorder) CloseAllModals() {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "close_all"})
	open := r.open
	r.open = nil
	r.mu.Unlock()
	for _, ch := range open {
		ch <- ModalResult{}
	}
}

func (r *Recorder) ShowURI(uri string, onDismiss func()) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "show_uri", Text: uri})
	r.uri = uri
	r.onDismiss = onDismiss
	r.mu.Unlock()
}

func (r *Recorder) CloseURI() {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "close_uri"})
	r.uri = ""
	r.onDismiss = nil
	r.mu.Unlock()
}

// DismissURI simulates the user abandoning the shown URI.
func (r *Recorder) DismissURI() {
	r.mu.Lock()
	fn := r.onDismiss
	r.onDismiss = nil
	r.uri = ""
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Recorder) Toast(kind ToastKind, text string) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "toast", Toast: kind, Text: text})
	r.mu.Unlock()
}

// URI returns the URI currently on screen.
func (r *Recorder) URI() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uri
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many recorded calls match op and, for opens, kind.
func (r *Recorder) Count(op string, kind ModalKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && (kind == "" || c.Kind == kind) {
			n++
		}
	}
	return n
}

// Toasts returns recorded toast texts of kind.
func (r *Recorder) Toasts(kind ToastKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == "toast" && c.Toast == kind {
			out = append(out, c.Text)
		}
	}
	return out
}
