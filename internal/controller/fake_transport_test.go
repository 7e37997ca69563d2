package controller

import (
	"context"
	"sync"

	"zwave-controller-core/internal/security"
	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/valuestore"
	"zwave-controller-core/internal/zwave"
)

// fakeTransport is a minimal in-memory Transport, grounded on the
// teacher's memStore test fake (internal/coordinator/device_manager_test.go):
// hand-written, implements the real interface, no mocking library.
type fakeTransport struct {
	mu sync.Mutex

	responses map[zwave.FunctionType][]transport.Response
	errs      map[zwave.FunctionType][]error
	sent      []transport.Request

	handlers map[zwave.FunctionType]transport.RequestHandler
	oneShot  map[zwave.FunctionType]bool

	rejectCalls []func(transport.Transaction) bool

	secMgr *security.Manager
	vdb    valuestore.Factory
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[zwave.FunctionType][]transport.Response),
		errs:      make(map[zwave.FunctionType][]error),
		handlers:  make(map[zwave.FunctionType]transport.RequestHandler),
		oneShot:   make(map[zwave.FunctionType]bool),
	}
}

// queueResponse appends a canned response for the next SendMessage of ft.
func (f *fakeTransport) queueResponse(ft zwave.FunctionType, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[ft] = append(f.responses[ft], transport.Response{FunctionType: ft, Payload: payload})
	f.errs[ft] = append(f.errs[ft], nil)
}

func (f *fakeTransport) queueError(ft zwave.FunctionType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[ft] = append(f.responses[ft], transport.Response{})
	f.errs[ft] = append(f.errs[ft], err)
}

func (f *fakeTransport) SendMessage(ctx context.Context, req transport.Request, opts transport.SendOptions) (transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)

	resps := f.responses[req.FunctionType]
	errs := f.errs[req.FunctionType]
	if len(resps) == 0 {
		return transport.Response{FunctionType: req.FunctionType}, nil
	}
	resp := resps[0]
	err := errs[0]
	f.responses[req.FunctionType] = resps[1:]
	f.errs[req.FunctionType] = errs[1:]
	if err != nil {
		return transport.Response{}, err
	}
	return resp, nil
}

func (f *fakeTransport) RegisterRequestHandler(ft zwave.FunctionType, handler transport.RequestHandler, oneShot bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[ft] = handler
	f.oneShot[ft] = oneShot
}

func (f *fakeTransport) UnregisterRequestHandler(ft zwave.FunctionType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, ft)
	delete(f.oneShot, ft)
}

func (f *fakeTransport) RejectTransactions(predicate func(transport.Transaction) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectCalls = append(f.rejectCalls, predicate)
}

func (f *fakeTransport) SecurityManager() *security.Manager { return f.secMgr }
func (f *fakeTransport) ValueDB() valuestore.Factory         { return f.vdb }
func (f *fakeTransport) Timeouts() transport.Timeouts        { return transport.Timeouts{} }

// deliver simulates an unsolicited or callback report arriving for ft,
// dispatching to whatever handler is currently registered.
func (f *fakeTransport) deliver(ft zwave.FunctionType, payload []byte) transport.HandlerResult {
	f.mu.Lock()
	handler, ok := f.handlers[ft]
	oneShot := f.oneShot[ft]
	f.mu.Unlock()
	if !ok {
		return transport.NotHandled
	}
	result := handler(context.Background(), transport.Response{FunctionType: ft, Payload: payload})
	if result == transport.Handled && oneShot {
		f.UnregisterRequestHandler(ft)
	}
	return result
}

func (f *fakeTransport) rejectCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rejectCalls)
}
