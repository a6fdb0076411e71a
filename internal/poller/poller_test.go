package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/screenlink/screenlink/internal/api"
	"github.com/screenlink/screenlink/internal/metrics"
	"github.com/screenlink/screenlink/internal/signal"
)

type fakeInbox struct {
	mu      sync.Mutex
	batches [][]signal.Message
	errs    []error
	calls   int
}

func (f *fakeInbox) Inbox(ctx context.Context) ([]signal.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

type collectHandler struct {
	kinds []signal.Kind
	ch    chan signal.Message
}

func (h *collectHandler) Kinds() []signal.Kind { return h.kinds }
func (h *collectHandler) HandleMessage(_ context.Context, msg signal.Message) {
	h.ch <- msg
}

type collectBatcher struct {
	kinds []signal.Kind
	ch    chan []signal.Message
}

func (h *collectBatcher) Kinds() []signal.Kind { return h.kinds }
func (h *collectBatcher) HandleBatch(_ context.Context, msgs []signal.Message) {
	h.ch <- msgs
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		panic("unreachable")
	}
}

func TestCycle_RoutesByKind(t *testing.T) {
	inbox := &fakeInbox{batches: [][]signal.Message{{
		{FromUserID: "u2", Type: signal.KindOffer, Payload: signal.SDPPayload("v=0")},
		{FromUserID: "u3", Type: signal.KindAnswer, Payload: signal.SDPPayload("v=0")},
	}}}
	offers := &collectHandler{kinds: []signal.Kind{signal.KindOffer}, ch: make(chan signal.Message, 4)}
	answers := &collectHandler{kinds: []signal.Kind{signal.KindAnswer}, ch: make(chan signal.Message, 4)}

	p := New(Config{Fetcher: inbox})
	p.Register(offers)
	p.Register(answers)
	p.cycle(context.Background())

	if got := recv(t, offers.ch); got.FromUserID != "u2" {
		t.Fatalf("offer handler got message from %q, want u2", got.FromUserID)
	}
	if got := recv(t, answers.ch); got.FromUserID != "u3" {
		t.Fatalf("answer handler got message from %q, want u3", got.FromUserID)
	}
}

func TestCycle_UnknownKindDoesNotStopProcessing(t *testing.T) {
	inbox := &fakeInbox{batches: [][]signal.Message{{
		{FromUserID: "u2", Type: signal.Kind("future_thing")},
		{FromUserID: "u2", Type: signal.KindOffer, Payload: signal.SDPPayload("v=0")},
	}}}
	offers := &collectHandler{kinds: []signal.Kind{signal.KindOffer}, ch: make(chan signal.Message, 4)}
	reg := metrics.New()

	p := New(Config{Fetcher: inbox, Metrics: reg})
	p.Register(offers)
	p.cycle(context.Background())

	if got := recv(t, offers.ch); got.Type != signal.KindOffer {
		t.Fatalf("offer handler got kind %q", got.Type)
	}
	if got := reg.Get(metrics.DropReasonUnknownKind); got != 1 {
		t.Fatalf("unknown-kind drop counter = %d, want 1", got)
	}
}

func TestCycle_AuthErrorFiresCallback(t *testing.T) {
	inbox := &fakeInbox{errs: []error{&api.AuthError{Status: http.StatusUnauthorized}}}
	reg := metrics.New()
	var fired int
	p := New(Config{
		Fetcher:       inbox,
		Metrics:       reg,
		OnAuthExpired: func() { fired++ },
	})

	p.cycle(context.Background())

	if fired != 1 {
		t.Fatalf("OnAuthExpired fired %d times, want 1", fired)
	}
	if got := reg.Get(metrics.EventAuthExpired); got != 1 {
		t.Fatalf("auth-expired counter = %d, want 1", got)
	}
	if got := reg.Get(metrics.EventPollCycle); got != 0 {
		t.Fatalf("failed cycle counted as success: %d", got)
	}
}

func TestCycle_TransientErrorIsAbsorbed(t *testing.T) {
	inbox := &fakeInbox{
		errs: []error{errors.New("connection refused")},
		batches: [][]signal.Message{
			nil,
			{{FromUserID: "u2", Type: signal.KindOffer, Payload: signal.SDPPayload("v=0")}},
		},
	}
	offers := &collectHandler{kinds: []signal.Kind{signal.KindOffer}, ch: make(chan signal.Message, 4)}
	var fired int

	p := New(Config{Fetcher: inbox, OnAuthExpired: func() { fired++ }})
	p.Register(offers)
	p.cycle(context.Background())
	p.cycle(context.Background())

	if fired != 0 {
		t.Fatalf("transient error must not fire OnAuthExpired, fired %d times", fired)
	}
	if got := recv(t, offers.ch); got.FromUserID != "u2" {
		t.Fatalf("second cycle not processed, got from %q", got.FromUserID)
	}
}

func TestCycle_BatchHandlerSeesEmptyCycle(t *testing.T) {
	inbox := &fakeInbox{batches: [][]signal.Message{
		{
			{FromUserID: "u2", Type: signal.KindRequestScreenShare},
			{FromUserID: "u2", Type: signal.KindOffer, Payload: signal.SDPPayload("v=0")},
		},
		{},
	}}
	batcher := &collectBatcher{
		kinds: []signal.Kind{signal.KindRequestScreenShare},
		ch:    make(chan []signal.Message, 4),
	}

	p := New(Config{Fetcher: inbox})
	p.RegisterBatch(batcher)

	p.cycle(context.Background())
	first := recv(t, batcher.ch)
	if len(first) != 1 || first[0].Type != signal.KindRequestScreenShare {
		t.Fatalf("first batch = %+v, want one request_screen_share", first)
	}

	p.cycle(context.Background())
	second := recv(t, batcher.ch)
	if second == nil || len(second) != 0 {
		t.Fatalf("empty cycle must deliver an empty batch, got %+v", second)
	}
}

func TestRegister_DuplicateKindPanics(t *testing.T) {
	p := New(Config{Fetcher: &fakeInbox{}})
	p.Register(&collectHandler{kinds: []signal.Kind{signal.KindOffer}, ch: make(chan signal.Message, 1)})

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration must panic")
		}
	}()
	p.Register(&collectHandler{kinds: []signal.Kind{signal.KindOffer}, ch: make(chan signal.Message, 1)})
}

func TestRun_StopsOnCancel(t *testing.T) {
	inbox := &fakeInbox{}
	p := New(Config{Fetcher: inbox, Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	inbox.mu.Lock()
	calls := inbox.calls
	inbox.mu.Unlock()
	if calls == 0 {
		t.Fatal("Run never polled the inbox")
	}
}
