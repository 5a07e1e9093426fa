package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunDrainsInOrderOnCancel(t *testing.T) {
	var order []string
	started := make(chan struct{})
	r := NewLifecycleRunner(Hooks{
		OnStart: func(ctx context.Context) error { close(started); return nil },
		OnStop:  func() { order = append(order, "stop") },
	}, time.Second, []Drainer{
		DrainFunc(func() error { order = append(order, "gateway"); return nil }),
		nil,
		DrainFunc(func() error { order = append(order, "client"); return nil }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	<-started
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return")
	}
	if got := strings.Join(order, ","); got != "gateway,client,stop" {
		t.Fatalf("unexpected drain order %q", got)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on second run, got %v", err)
	}
}

func TestStartFailureStillDrains(t *testing.T) {
	drained := false
	boom := errors.New("boom")
	r := NewLifecycleRunner(Hooks{
		OnStart: func(ctx context.Context) error { return boom },
	}, time.Second, []Drainer{DrainFunc(func() error { drained = true; return nil })})
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if !drained || r.State() != StateStopped {
		t.Fatalf("expected drain after failed start, drained=%v state=%s", drained, r.State())
	}
}

func TestDrainTimeoutAndErrors(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(Hooks{}, 20*time.Millisecond, []Drainer{
		DrainFunc(func() error { <-block; return nil }),
	})
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}

	failing := errors.New("close failed")
	r = NewLifecycleRunner(Hooks{}, time.Second, []Drainer{DrainFunc(func() error { return failing })})
	if err := r.Stop(); !errors.Is(err, failing) {
		t.Fatalf("expected joined drain error, got %v", err)
	}
}

func TestBannerWritesTitle(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "VOXLINK")
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("expected version line, got %q", buf.String())
	}
	PrintBanner(nil, "VOXLINK")
}
