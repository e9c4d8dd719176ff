package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Ready states of a Request.
const (
	ReadyStateUnsent = iota
	ReadyStateOpened
	ReadyStateLoading
	ReadyStateDone
)

// Transport performs a request off the loop.
type Transport func(ctx context.Context, method, url string, body []byte) (status int, response []byte, err error)

// HTTPTransport sends requests with client (http.DefaultClient when nil).
func HTTPTransport(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
		}
		return resp.StatusCode, data, nil
	}
}

// SendFunc starts req.
type SendFunc func(req *Request, body []byte)

// RequestProto holds the patchable request methods.
type RequestProto struct {
	Send *Method[SendFunc]
}

func newRequestProto() *RequestProto {
	return &RequestProto{
		Send: newMethod("send", SendFunc(send)),
	}
}

// RequestError is the failure delivered to a request's OnError slot.
type RequestError struct {
	Method string
	URL    string
	Err    error

	own bool
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// OwnRequest reports whether the request was issued by the capture pipeline
// itself (see Request.MarkOwn).
func (e *RequestError) OwnRequest() bool { return e.own }

// Slot names a late-assigned callback property of a Request.
type Slot struct {
	Name     string
	Listener *Listener
}

// Request is an asynchronous request with callback properties that may be
// assigned any time before Send.
type Request struct {
	realm  *Realm
	method string
	url    string
	own    bool

	OnLoad             Listener
	OnError            Listener
	OnProgress         Listener
	OnReadyStateChange Listener

	mu         sync.Mutex
	readyState int
	status     int
	response   []byte
	err        error
}

// NewRequest creates an unsent request.
func (r *Realm) NewRequest(method, url string) *Request {
	return &Request{realm: r, method: method, url: url}
}

// MarkOwn flags the request as issued by the capture pipeline. Its failures
// carry the own-request marker.
func (q *Request) MarkOwn() *Request {
	q.own = true
	return q
}

// Slots returns the callback properties in a fixed order.
func (q *Request) Slots() []Slot {
	return []Slot{
		{Name: "onload", Listener: &q.OnLoad},
		{Name: "onerror", Listener: &q.OnError},
		{Name: "onprogress", Listener: &q.OnProgress},
		{Name: "onreadystatechange", Listener: &q.OnReadyStateChange},
	}
}

// Send starts the request through the request prototype.
func (q *Request) Send(body []byte) {
	q.realm.requestProto.Send.Get()(q, body)
}

// ReadyState returns the current ready state.
func (q *Request) ReadyState() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyState
}

// Status returns the response status code.
func (q *Request) Status() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Response returns the response body.
func (q *Request) Response() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.response
}

// Err returns the failure, if any.
func (q *Request) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func send(q *Request, body []byte) {
	q.setState(ReadyStateOpened, 0, nil, nil)
	transport := q.realm.transport
	q.realm.background(func(ctx context.Context) func() {
		status, response, err := transport(ctx, q.method, q.url, body)
		return func() { q.complete(status, response, err) }
	})
}

func (q *Request) setState(state, status int, response []byte, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.readyState = state
	q.status = status
	q.response = response
	q.err = err
}

// complete runs on the loop. Callback slots are read at this point, so
// assignments made after Send still take effect.
func (q *Request) complete(status int, response []byte, err error) {
	if err != nil {
		reqErr := &RequestError{Method: q.method, URL: q.url, Err: err, own: q.own}
		q.setState(ReadyStateDone, status, nil, reqErr)
		q.fire(q.OnReadyStateChange, "readystatechange", nil)
		q.fire(q.OnError, "error", reqErr)
		return
	}

	q.setState(ReadyStateLoading, status, nil, nil)
	q.fire(q.OnReadyStateChange, "readystatechange", nil)
	q.fire(q.OnProgress, "progress", len(response))

	q.setState(ReadyStateDone, status, response, nil)
	q.fire(q.OnReadyStateChange, "readystatechange", nil)
	q.fire(q.OnLoad, "load", response)
}

func (q *Request) fire(l Listener, eventType string, data any) {
	if l == nil {
		return
	}
	q.realm.dispatch(l, &Event{Type: eventType, Target: q, Data: data})
}
