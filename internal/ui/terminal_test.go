package ui

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/testutil/testlog"
)

func waitResult(t *testing.T, ch <-chan ModalResult) ModalResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for modal result")
	}
	return ModalResult{}
}

func TestTerminalPairingSelection(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminal(&out, strings.NewReader("2\n"))
	ch := term.OpenModal(ModalPairingSelect, PairingSelectParams{Pairings: []PairingOption{
		{Topic: "t-new", Name: "Newest"},
		{Topic: "t-old", Name: "Older"},
	}})
	res := waitResult(t, ch)
	if !res.Confirmed || res.Value != "t-old" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(out.String(), "[1] Newest") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestTerminalPairingSelectionNewAndInvalid(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	res := waitResult(t, NewTerminal(&out, strings.NewReader("n\n")).OpenModal(ModalPairingSelect, PairingSelectParams{}))
	if !res.Confirmed || res.Value != "" {
		t.Fatalf("unexpected new-pairing result: %+v", res)
	}
	res = waitResult(t, NewTerminal(&out, strings.NewReader("9\n")).OpenModal(ModalPairingSelect, PairingSelectParams{}))
	if res.Confirmed {
		t.Fatalf("out of range choice must dismiss: %+v", res)
	}
}

func TestTerminalURIDismissOnlyFromUser(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminal(&out, strings.NewReader(""))
	dismissed := 0
	term.ShowURI("wc:abc@2", func() { dismissed++ })
	if !term.URIShown() {
		t.Fatalf("expected uri to be shown")
	}
	term.CloseURI()
	term.DismissURI()
	if dismissed != 0 {
		t.Fatalf("programmatic close triggered dismiss")
	}
	term.ShowURI("wc:def@2", func() { dismissed++ })
	term.DismissURI()
	if dismissed != 1 || term.URIShown() {
		t.Fatalf("unexpected dismiss state: dismissed=%d shown=%v", dismissed, term.URIShown())
	}
}

func TestTerminalRequestFollowsResolution(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminal(&out, strings.NewReader(""))
	resolved := make(chan RequestResolution, 1)
	ch := term.OpenModal(ModalRequest, RequestParams{PeerName: "Wallet", Method: "stellar_signXDR", Resolved: resolved})
	resolved <- RequestResolution{Outcome: OutcomePending}
	res := waitResult(t, ch)
	if !res.Confirmed || res.Value != OutcomePending {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTerminalCloseAllResolvesOpenModals(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminal(&out, strings.NewReader(""))
	ch := term.OpenModal(ModalConnecting, ConnectingParams{Name: "Wallet"})
	term.CloseAllModals()
	if res := waitResult(t, ch); res.Confirmed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTerminalClosedSelectionLeavesInputForNext(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	r, w := io.Pipe()
	defer w.Close()
	term := NewTerminal(&out, r)
	params := PairingSelectParams{Pairings: []PairingOption{{Topic: "t-a", Name: "A"}}}

	first := term.OpenModal(ModalPairingSelect, params)
	term.CloseAllModals()
	if res := waitResult(t, first); res.Confirmed {
		t.Fatalf("closed selection must be dismissed: %+v", res)
	}

	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(w, "1\n")
		written <- err
	}()
	second := term.OpenModal(ModalPairingSelect, params)
	res := waitResult(t, second)
	if !res.Confirmed || res.Value != "t-a" {
		t.Fatalf("line typed after close must reach the next selection: %+v", res)
	}
	if err := <-written; err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
}
