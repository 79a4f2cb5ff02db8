// Package health evaluates a readiness graph of named dependency checks.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EvaluateTimeout bounds one /readyz evaluation.
const EvaluateTimeout = 2 * time.Second

// Check reports nil when the dependency is usable.
type Check func(ctx context.Context) error

// Static reports a fixed outcome; used for components that are ready once constructed.
func Static(err error) Check {
	return func(context.Context) error { return err }
}

// Node is one dependency in the graph. It is healthy when its own check and
// every child are healthy.
type Node struct {
	Name  string
	Check Check
	Deps  []*Node
}

// NewReadyGraph returns the root node that services hang readiness checks on.
func NewReadyGraph() *Node {
	return &Node{Name: "ready"}
}

// Add appends a named dependency node to n and returns the created node.
func (n *Node) Add(name string, check Check) *Node {
	child := &Node{Name: name, Check: check}
	n.Deps = append(n.Deps, child)
	return child
}

type Result struct {
	Name    string   `json:"name"`
	Healthy bool     `json:"healthy"`
	Error   string   `json:"error,omitempty"`
	TookMS  int64    `json:"took_ms"`
	Deps    []Result `json:"deps,omitempty"`
}

// Dep returns the direct dependency result with the given name.
func (r Result) Dep(name string) (Result, bool) {
	for _, d := range r.Deps {
		if d.Name == name {
			return d, true
		}
	}
	return Result{}, false
}

// Evaluate runs n's check and all of its dependencies concurrently. Every
// node reports, so one failing dependency never hides the state of another.
// Deps keep the order they were added in.
func Evaluate(ctx context.Context, n *Node) Result {
	start := time.Now()
	res := Result{Name: n.Name, Healthy: true}

	var wg sync.WaitGroup
	if len(n.Deps) > 0 {
		res.Deps = make([]Result, len(n.Deps))
		for i, d := range n.Deps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res.Deps[i] = Evaluate(ctx, d)
			}()
		}
	}

	if n.Check != nil {
		if err := run(ctx, n.Check); err != nil {
			res.Healthy = false
			res.Error = err.Error()
		}
	}
	wg.Wait()

	for _, d := range res.Deps {
		if !d.Healthy {
			res.Healthy = false
		}
	}
	res.TookMS = time.Since(start).Milliseconds()
	return res
}

func run(ctx context.Context, c Check) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check panicked: %v", p)
		}
	}()
	return c(ctx)
}

// Handler serves the evaluated graph as JSON, 200 when healthy and 503 otherwise.
// While serving() returns false it answers 503 without running any check.
func Handler(root *Node, serving func() bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serving != nil && !serving() {
			writeResult(w, Result{Name: root.Name, Error: "not serving"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), EvaluateTimeout)
		defer cancel()
		writeResult(w, Evaluate(ctx, root))
	})
}

// Livez answers 200 for as long as the process can serve HTTP at all.
func Livez() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, Result{Name: "live", Healthy: true})
	})
}

func writeResult(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json")
	if !res.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}
