package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/subvoice/internal/orchestrator/fadequeue"
)

type mockTranslator struct {
	mu      sync.Mutex
	calls   []string
	fn      func(ctx context.Context, text string) (string, error)
	active  int
	maxSeen int
}

func (m *mockTranslator) Translate(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()
	if m.fn != nil {
		return m.fn(ctx, text)
	}
	return "[" + text + "]", nil
}

func collect(t *testing.T, q *fadequeue.Queue[Result], n int) []Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make([]Result, 0, n)
	for len(out) < n {
		r, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("got %d results, want %d: %v", len(out), n, err)
		}
		out = append(out, r)
	}
	return out
}

func TestTranslatesSubmittedText(t *testing.T) {
	tr := &mockTranslator{}
	out := fadequeue.New[Result](10)
	d := New(tr, out, Config{Workers: 2})
	d.Start(context.Background())
	defer d.Stop()

	for _, s := range []string{"a", "b", "c"} {
		d.Submit(context.Background(), s)
	}
	results := collect(t, out, 3)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Source + "=" + r.Text
	}
	sort.Strings(got)
	want := []string{"a=[a]", "b=[b]", "c=[c]"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("results = %v, want %v", got, want)
			break
		}
	}
	if st := d.Stats(); st.Submitted != 3 || st.Translated != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	tr := &mockTranslator{fn: func(ctx context.Context, text string) (string, error) {
		started <- struct{}{}
		<-release
		return text, nil
	}}
	out := fadequeue.New[Result](10)
	d := New(tr, out, Config{Workers: 3})
	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 3; i++ {
		d.Submit(context.Background(), "t")
	}
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("only %d translations started concurrently", i)
		}
	}
	close(release)
	collect(t, out, 3)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.maxSeen != 3 {
		t.Errorf("max concurrent = %d, want 3", tr.maxSeen)
	}
}

func TestFailuresAndEmptyAreDropped(t *testing.T) {
	tr := &mockTranslator{fn: func(ctx context.Context, text string) (string, error) {
		switch text {
		case "fail":
			return "", errors.New("provider 500")
		case "blank":
			return "", nil
		}
		return text, nil
	}}
	out := fadequeue.New[Result](10)
	d := New(tr, out, Config{Workers: 1})
	d.Start(context.Background())
	defer d.Stop()

	d.Submit(context.Background(), "fail")
	d.Submit(context.Background(), "blank")
	d.Submit(context.Background(), "ok")

	if r := collect(t, out, 1); r[0].Text != "ok" {
		t.Errorf("result = %+v, want ok", r[0])
	}
	tr.mu.Lock()
	calls := len(tr.calls)
	tr.mu.Unlock()
	if calls != 3 {
		t.Errorf("translator called %d times, want 3 (no retries)", calls)
	}
	if st := d.Stats(); st.Failed != 1 || st.Empty != 1 || st.Translated != 1 {
		t.Errorf("Stats = %+v, want 1 failed 1 empty 1 translated", st)
	}
}

func TestTimeoutPerTranslation(t *testing.T) {
	tr := &mockTranslator{fn: func(ctx context.Context, text string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := New(tr, fadequeue.New[Result](1), Config{Workers: 1, Timeout: 5 * time.Millisecond})
	d.Start(context.Background())
	d.Submit(context.Background(), "slow")

	deadline := time.Now().Add(time.Second)
	for d.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	if d.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", d.Stats().Failed)
	}
}

func TestSubmitWhileStopped(t *testing.T) {
	tr := &mockTranslator{}
	d := New(tr, fadequeue.New[Result](1), Config{})
	d.Submit(context.Background(), "early")
	if d.Stats().Submitted != 0 {
		t.Error("text submitted before Start should be dropped")
	}

	d.Start(context.Background())
	d.Start(context.Background())
	d.Stop()
	d.Stop()
	d.Submit(context.Background(), "late")
	if d.Backlog() != 0 {
		t.Errorf("Backlog = %d, want 0", d.Backlog())
	}
}

func TestStopCancelsInFlight(t *testing.T) {
	entered := make(chan struct{})
	tr := &mockTranslator{fn: func(ctx context.Context, text string) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := New(tr, fadequeue.New[Result](1), Config{Workers: 1, Timeout: time.Hour})
	d.Start(context.Background())
	d.Submit(context.Background(), "x")
	<-entered

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the in-flight translation")
	}
}
