package ui

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Terminal renders interactions as plain text. Selection modals read a line
// from In; everything else is write-only.
//
// One goroutine owns In for the Terminal's lifetime and hands lines to the
// selection that is currently open. A line typed while no selection is open
// waits for the next one.
type Terminal struct {
	out      io.Writer
	in       *bufio.Reader
	lines    chan lineRead
	readOnce sync.Once
	logger   zerolog.Logger

	mu        sync.Mutex
	open      map[string]chan ModalResult
	cancel    map[string]chan struct{}
	onDismiss func()
	uriShown  bool
}

type lineRead struct {
	line string
	err  error
}

func NewTerminal(out io.Writer, in io.Reader) *Terminal {
	return &Terminal{
		out:    out,
		in:     bufio.NewReader(in),
		lines:  make(chan lineRead),
		logger: logging.Component("ui.terminal"),
		open:   make(map[string]chan ModalResult),
		cancel: make(map[string]chan struct{}),
	}
}

var _ Presenter = (*Terminal)(nil)

func (t *Terminal) OpenModal(kind ModalKind, params any) <-chan ModalResult {
	id := uuid.NewString()
	ch := make(chan ModalResult, 1)
	t.mu.Lock()
	t.open[id] = ch
	t.mu.Unlock()
	t.logger.Debug().Str("modal", string(kind)).Str("id", id).Msg("open")

	switch p := params.(type) {
	case PairingSelectParams:
		t.printf("Choose a wallet connection:\n")
		for i, opt := range p.Pairings {
			name := opt.Name
			if name == "" {
				name = "(unnamed wallet)"
			}
			t.printf("  [%d] %s  %s\n", i+1, name, opt.URL)
		}
		t.printf("  [n] new connection\n> ")
		stop := make(chan struct{})
		t.mu.Lock()
		t.cancel[id] = stop
		t.mu.Unlock()
		t.readOnce.Do(func() { go t.readLines() })
		go t.readSelection(id, p, stop)
	case ConnectingParams:
		t.printf("Waiting for %s to approve the session...\n", nameOr(p.Name, "wallet"))
	case RequestParams:
		t.printf("Sent %s to %s. Confirm it in your wallet.\n", p.Method, nameOr(p.PeerName, "wallet"))
		go t.followRequest(id, p)
	default:
		t.printf("[%s]\n", kind)
	}
	return ch
}

// CloseAllModals dismisses every open modal. Pending selections stop
// waiting for input without consuming a line.
func (t *Terminal) CloseAllModals() {
	t.mu.Lock()
	open, cancel := t.open, t.cancel
	t.open = make(map[string]chan ModalResult)
	t.cancel = make(map[string]chan struct{})
	t.mu.Unlock()
	for _, stop := range cancel {
		close(stop)
	}
	for _, ch := range open {
		ch <- ModalResult{}
	}
}

func (t *Terminal) ShowURI(uri string, onDismiss func()) {
	t.mu.Lock()
	t.onDismiss = onDismiss
	t.uriShown = true
	t.mu.Unlock()
	t.printf("Scan or open this URI in your wallet:\n\n  %s\n\n", uri)
}

func (t *Terminal) CloseURI() {
	t.mu.Lock()
	t.onDismiss = nil
	t.uriShown = false
	t.mu.Unlock()
}

// DismissURI abandons the displayed URI as if the user closed it.
func (t *Terminal) DismissURI() {
	t.mu.Lock()
	fn := t.onDismiss
	t.onDismiss = nil
	t.uriShown = false
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Terminal) Toast(kind ToastKind, text string) {
	if kind == ToastError {
		t.printf("error: %s\n", text)
		return
	}
	t.printf("%s\n", text)
}

// readLines feeds In to lines until it fails. The final read carries the
// error and every later receive sees a closed channel.
func (t *Terminal) readLines() {
	defer close(t.lines)
	for {
		line, err := t.in.ReadString('\n')
		t.lines <- lineRead{line: line, err: err}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) readSelection(id string, p PairingSelectParams, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	default:
	}
	var read lineRead
	select {
	case r, ok := <-t.lines:
		if !ok {
			r = lineRead{err: io.EOF}
		}
		read = r
	case <-stop:
		return
	}
	line, err := read.line, read.err
	choice := strings.TrimSpace(line)
	var res ModalResult
	switch {
	case err != nil && choice == "":
		res = ModalResult{Err: err}
	case strings.EqualFold(choice, "n"):
		res = ModalResult{Confirmed: true, Value: ""}
	default:
		n, convErr := strconv.Atoi(choice)
		if convErr != nil || n < 1 || n > len(p.Pairings) {
			res = ModalResult{}
			break
		}
		res = ModalResult{Confirmed: true, Value: p.Pairings[n-1].Topic}
	}
	t.resolve(id, res)
}

func (t *Terminal) followRequest(id string, p RequestParams) {
	r, ok := <-p.Resolved
	if !ok {
		return
	}
	switch r.Outcome {
	case OutcomeSuccess:
		t.printf("%s: done\n", p.Method)
	case OutcomePending:
		t.printf("%s: waiting for more signatures\n", p.Method)
	case OutcomeRejected:
		t.printf("%s: rejected in wallet\n", p.Method)
	default:
		t.printf("%s: failed: %v\n", p.Method, r.Err)
	}
	t.resolve(id, ModalResult{Confirmed: r.Outcome != OutcomeFailed && r.Outcome != OutcomeRejected, Value: r.Outcome, Err: r.Err})
}

func (t *Terminal) resolve(id string, res ModalResult) {
	t.mu.Lock()
	ch, ok := t.open[id]
	delete(t.open, id)
	delete(t.cancel, id)
	t.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// URIShown reports whether a pairing URI is on screen.
func (t *Terminal) URIShown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uriShown
}
