// Package core is the driver bring-up registry: it brings the platform
// adapters, clock controller, event bus, EP0 dispatcher and streaming
// supervisor up in the dependency order the rest of this module requires
// (platform before clock/events, clock/events before stream, stream before
// usbctl, whose dispatcher is built over the supervisor), the same role the
// teacher's top-level periph.go
// registry plays for host drivers.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Component is one piece of the bring-up graph.
type Component interface {
	// String returns the component's name, unique across the registry.
	String() string
	// Prerequisites lists component names that must finish Init
	// successfully before this one starts.
	Prerequisites() []string
	// Init brings the component up. Returning an error fails bring-up for
	// this component and every component that (transitively) depends on it.
	Init(ctx context.Context) error
}

// State records which components finished, in initialization order, and
// which failed.
type State struct {
	Initialized []string
	Failed      map[string]error
}

var (
	mu       sync.Mutex
	byName   = map[string]Component{}
	order    []string
)

// Register adds a component to the registry. It is an error to register
// two components under the same name. Register does not check whether Init
// has already run; a later Init brings up every registered component again.
func Register(c Component) error {
	mu.Lock()
	defer mu.Unlock()
	name := c.String()
	if _, ok := byName[name]; ok {
		return fmt.Errorf("core: component %q already registered", name)
	}
	byName[name] = c
	order = append(order, name)
	return nil
}

// MustRegister calls Register and panics on error, for use from a package
// init() function.
func MustRegister(c Component) {
	if err := Register(c); err != nil {
		panic(err)
	}
}

// stages groups the registered components into dependency-ordered stages:
// every component in stage N depends only on components in stages < N, so
// an entire stage can be brought up concurrently.
func stages() ([][]Component, error) {
	remaining := map[string][]string{}
	for _, name := range order {
		remaining[name] = append([]string(nil), byName[name].Prerequisites()...)
		for _, dep := range remaining[name] {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("core: %q depends on unregistered component %q", name, dep)
			}
		}
	}

	var out [][]Component
	done := map[string]bool{}
	for len(remaining) > 0 {
		var stage []string
		for name, deps := range remaining {
			ready := true
			for _, dep := range deps {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, name)
			}
		}
		if len(stage) == 0 {
			return nil, fmt.Errorf("core: dependency cycle among %v", keys(remaining))
		}
		sort.Strings(stage)
		var comps []Component
		for _, name := range stage {
			comps = append(comps, byName[name])
			done[name] = true
			delete(remaining, name)
		}
		out = append(out, comps)
	}
	return out, nil
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Init brings up every registered component in dependency order. Within a
// stage, components initialize concurrently via errgroup; a failure in one
// component of a stage still lets its stage-mates finish (errgroup cancels
// ctx, but each Init is expected to treat ctx cancellation as "give up
// cleanly", not "corrupt shared state"), and aborts before starting the
// next stage.
func Init(ctx context.Context) (*State, error) {
	mu.Lock()
	defer mu.Unlock()

	stgs, err := stages()
	if err != nil {
		return nil, err
	}

	state := &State{Failed: map[string]error{}}
	for _, stage := range stgs {
		grp, gctx := errgroup.WithContext(ctx)
		results := make([]error, len(stage))
		for i, c := range stage {
			i, c := i, c
			grp.Go(func() error {
				results[i] = c.Init(gctx)
				return results[i]
			})
		}
		_ = grp.Wait() // per-component errors are collected below regardless

		anyFailed := false
		for i, c := range stage {
			if results[i] != nil {
				state.Failed[c.String()] = results[i]
				anyFailed = true
			} else {
				state.Initialized = append(state.Initialized, c.String())
			}
		}
		if anyFailed {
			return state, fmt.Errorf("core: bring-up failed: %v", state.Failed)
		}
	}
	return state, nil
}

// Reset clears the registry. It exists for tests that need a clean
// registry between cases; production code (cmd/sddcsim) registers each
// component exactly once and never calls it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	byName = map[string]Component{}
	order = nil
}
