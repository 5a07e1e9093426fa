// Package runner drives a voxlink process through start, run and drain.
package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run around the main wait. A failing OnStart aborts Run before the
// process is marked running; drainers still run.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func()
}

// Drainer is anything that must finish in-flight work on shutdown, such as
// the gateway server or a voice client.
type Drainer interface {
	Drain() error
}

// DrainFunc adapts a plain function to Drainer.
type DrainFunc func() error

func (f DrainFunc) Drain() error { return f() }

var Version = "dev"

// PrintBanner writes the startup banner to w. Nil w disables it.
func PrintBanner(w io.Writer, title string) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"" + title + "\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
