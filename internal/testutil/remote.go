package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"histsync/internal/remote"
)

// Call is one request seen by FakeRemote.
type Call struct {
	Method string
	Path   string
	Body   any
}

// Handler produces the reply for a call. A nil reply leaves out untouched.
type Handler func(call Call) (any, error)

type route struct {
	method string
	prefix string
	h      Handler
}

// FakeRemote is a scripted history API. Routes match on method and path
// prefix; the most recently added match wins. Unmatched calls fail with a
// 404 FetchError. Replies reach the caller through a JSON round trip, as
// they would over the wire. Safe for concurrent use.
type FakeRemote struct {
	mu     sync.Mutex
	routes []route
	calls  []Call
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{}
}

// Handle routes calls matching method and prefix to h.
func (f *FakeRemote) Handle(method, prefix string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{method: method, prefix: prefix, h: h})
}

// Reply answers calls matching method and prefix with reply.
func (f *FakeRemote) Reply(method, prefix string, reply any) {
	f.Handle(method, prefix, func(Call) (any, error) { return reply, nil })
}

// Fail answers calls matching method and prefix with a FetchError carrying
// status.
func (f *FakeRemote) Fail(method, prefix string, status int) {
	f.Handle(method, prefix, func(c Call) (any, error) {
		return nil, &remote.FetchError{Method: c.Method, URL: c.Path, StatusCode: status, Err: errors.New(http.StatusText(status))}
	})
}

func (f *FakeRemote) Get(ctx context.Context, path string, out any) error {
	return f.Send(ctx, http.MethodGet, path, nil, out)
}

func (f *FakeRemote) Send(ctx context.Context, method, path string, body, out any) error {
	call := Call{Method: method, Path: path, Body: body}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var h Handler
	for i := len(f.routes) - 1; i >= 0; i-- {
		r := f.routes[i]
		if r.method == method && strings.HasPrefix(path, r.prefix) {
			h = r.h
			break
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &remote.FetchError{Method: method, URL: path, Err: err}
	}
	if h == nil {
		return &remote.FetchError{Method: method, URL: path, StatusCode: http.StatusNotFound, Err: errors.New("no route")}
	}

	reply, err := h(call)
	if err != nil {
		return err
	}
	if reply == nil || out == nil {
		return nil
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Calls returns the recorded calls matching method and prefix. An empty
// method matches any method.
func (f *FakeRemote) Calls(method, prefix string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if (method == "" || c.Method == method) && strings.HasPrefix(c.Path, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount is len(Calls(method, prefix)).
func (f *FakeRemote) CallCount(method, prefix string) int {
	return len(f.Calls(method, prefix))
}
