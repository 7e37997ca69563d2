package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"zwave-controller-core/internal/security"
	"zwave-controller-core/internal/valuestore"
	"zwave-controller-core/internal/zwave"
)

// Z-Wave serial API framing bytes. Exact byte-level framing/checksumming
// is explicitly out of scope as specified behavior (spec §1 non-goals);
// these constants exist only so SerialTransport has something concrete to
// drive go.bug.st/serial with.
const (
	frameSOF byte = 0x01
	frameACK byte = 0x06
	frameNAK byte = 0x15
	frameCAN byte = 0x18

	frameTypeRequest  byte = 0x00
	frameTypeResponse byte = 0x01
)

const (
	defaultAckTimeout    = 1600 * time.Millisecond
	defaultByteTimeout   = 150 * time.Millisecond
	defaultExpire        = 10 * time.Second
	maxFrameRetries      = 3
	unsolicitedQueueSize = 64
)

// SerialTransport implements Transport over a serial-attached Z-Wave
// stick. Grounded on the teacher's NRF52840NCP (internal/ncp/nrf52840.go):
// a pending-response map keyed by a correlation id, an ACK channel,
// write-with-retry, and a background read loop that dispatches both
// responses and unsolicited reports. Unsolicited-report handlers run on a
// dedicated goroutine fed by unsolicitedCh rather than on the read loop
// itself, so a handler's own blocking SendMessage calls (spec §4.2's
// sequential Done-status commit) can still have their responses read off
// the wire while the handler waits on them.
type SerialTransport struct {
	port   serial.Port
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex
	ackCh   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan Response
	txByID    map[string]Transaction

	handlerMu sync.RWMutex
	handlers  map[zwave.FunctionType]RequestHandler
	oneShot   map[zwave.FunctionType]bool

	unsolicitedCh chan Response

	secMgr   *security.Manager
	valueDB  valuestore.Factory
	timeouts Timeouts

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	supported   map[zwave.FunctionType]struct{}
	supportedMu sync.RWMutex

	supportCheckEnabled atomic.Bool
}

// NewSerialTransport opens portName and starts the background read loop.
func NewSerialTransport(portName string, baud int, secMgr *security.Manager, vdb valuestore.Factory, logger *slog.Logger) (*SerialTransport, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	t := &SerialTransport{
		port:          port,
		reader:        bufio.NewReader(port),
		logger:        logger,
		ackCh:         make(chan struct{}, 1),
		pending:       make(map[string]chan Response),
		txByID:        make(map[string]Transaction),
		handlers:      make(map[zwave.FunctionType]RequestHandler),
		oneShot:       make(map[zwave.FunctionType]bool),
		unsolicitedCh: make(chan Response, unsolicitedQueueSize),
		secMgr:        secMgr,
		valueDB:       vdb,
		timeouts:      Timeouts{Ack: defaultAckTimeout, Byte: defaultByteTimeout},
		done:          make(chan struct{}),
		supported:     make(map[zwave.FunctionType]struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	t.wg.Add(1)
	go t.unsolicitedDispatchLoop()
	return t, nil
}

// SetSupportedFunctionTypes records the capability set so SupportCheck can
// fail fast (spec §3, §4.1).
func (t *SerialTransport) SetSupportedFunctionTypes(fts []zwave.FunctionType) {
	t.supportedMu.Lock()
	defer t.supportedMu.Unlock()
	t.supported = make(map[zwave.FunctionType]struct{}, len(fts))
	for _, ft := range fts {
		t.supported[ft] = struct{}{}
	}
}

// SetTimeouts updates the ack/byte timeouts (spec §4.1 "SetSerialApiTimeouts").
func (t *SerialTransport) SetTimeouts(timeouts Timeouts) {
	t.timeouts = timeouts
}

func (t *SerialTransport) isSupported(ft zwave.FunctionType) bool {
	t.supportedMu.RLock()
	defer t.supportedMu.RUnlock()
	if len(t.supported) == 0 {
		// Capability set not populated yet (pre-interview); SupportCheck
		// cannot be enforced meaningfully, so let the call through — the
		// controller layer is responsible for DriverNotReady semantics
		// (spec §4.1's "Failure semantics").
		return true
	}
	_, ok := t.supported[ft]
	return ok
}

func (t *SerialTransport) SecurityManager() *security.Manager { return t.secMgr }
func (t *SerialTransport) ValueDB() valuestore.Factory         { return t.valueDB }
func (t *SerialTransport) Timeouts() Timeouts                  { return t.timeouts }

// SendMessage implements Transport.
func (t *SerialTransport) SendMessage(ctx context.Context, req Request, opts SendOptions) (Response, error) {
	if opts.SupportCheck && !t.isSupported(req.FunctionType) {
		return Response{}, fmt.Errorf("function type 0x%02X not supported by stick", req.FunctionType)
	}

	expire := opts.Expire
	if expire <= 0 {
		expire = defaultExpire
	}
	ctx, cancel := context.WithTimeout(ctx, expire)
	defer cancel()

	txID := uuid.NewString()
	ch := make(chan Response, 1)

	t.pendingMu.Lock()
	t.pending[txID] = ch
	t.txByID[txID] = Transaction{ID: txID, FunctionType: req.FunctionType, CreatedAt: time.Now()}
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, txID)
		delete(t.txByID, txID)
		t.pendingMu.Unlock()
	}()

	frame := encodeFrame(frameTypeRequest, byte(req.FunctionType), req.Payload)
	if err := t.writeWithACK(ctx, frame); err != nil {
		return Response{}, fmt.Errorf("send 0x%02X: %w", req.FunctionType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("send 0x%02X: transaction rejected", req.FunctionType)
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("send 0x%02X: %w", req.FunctionType, ctx.Err())
	case <-t.done:
		return Response{}, fmt.Errorf("transport closed")
	}
}

// RegisterRequestHandler implements Transport.
func (t *SerialTransport) RegisterRequestHandler(ft zwave.FunctionType, handler RequestHandler, oneShot bool) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handlers[ft] = handler
	t.oneShot[ft] = oneShot
}

// UnregisterRequestHandler implements Transport.
func (t *SerialTransport) UnregisterRequestHandler(ft zwave.FunctionType) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	delete(t.handlers, ft)
	delete(t.oneShot, ft)
}

// RejectTransactions implements Transport.
func (t *SerialTransport) RejectTransactions(predicate func(Transaction) bool) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, tx := range t.txByID {
		if predicate(tx) {
			if ch, ok := t.pending[id]; ok {
				close(ch)
				delete(t.pending, id)
			}
			delete(t.txByID, id)
		}
	}
}

// Close shuts down the read loop and the serial port.
func (t *SerialTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
	return t.port.Close()
}

func (t *SerialTransport) writeWithACK(ctx context.Context, frame []byte) error {
	for attempt := 0; attempt <= maxFrameRetries; attempt++ {
		t.writeMu.Lock()
		_, err := t.port.Write(frame)
		t.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}

		timer := time.NewTimer(t.timeouts.Ack)
		select {
		case <-t.ackCh:
			timer.Stop()
			return nil
		case <-timer.C:
			t.logger.Warn("serial ACK timeout", "attempt", attempt+1)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-t.done:
			timer.Stop()
			return fmt.Errorf("transport closed")
		}
	}
	return fmt.Errorf("ACK timeout after %d attempts", maxFrameRetries+1)
}

func (t *SerialTransport) readLoop() {
	defer t.wg.Done()
	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		select {
		case <-t.done:
			return
		default:
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				select {
				case <-time.After(backoff):
				case <-t.done:
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			select {
			case <-t.done:
				return
			default:
				t.logger.Error("serial read error", "err", err)
				return
			}
		}
		backoff = 10 * time.Millisecond

		switch b {
		case frameACK:
			select {
			case t.ackCh <- struct{}{}:
			default:
			}
		case frameNAK, frameCAN:
			t.logger.Warn("serial frame rejected by stick", "byte", fmt.Sprintf("0x%02X", b))
		case frameSOF:
			t.handleFrame()
		}
	}
}

func (t *SerialTransport) handleFrame() {
	length, err := t.reader.ReadByte()
	if err != nil {
		return
	}
	if length < 2 {
		return
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return
	}
	// Drain and ignore the checksum byte; checksumming is out of scope.
	_, _ = t.reader.ReadByte()

	// Always ACK a well-formed frame.
	t.writeMu.Lock()
	_, _ = t.port.Write([]byte{frameACK})
	t.writeMu.Unlock()

	frameType := body[0]
	funcID := zwave.FunctionType(body[1])
	payload := append([]byte(nil), body[2:]...)
	resp := Response{FunctionType: funcID, Payload: payload}

	if frameType == frameTypeResponse {
		t.dispatchResponse(resp)
		return
	}
	t.enqueueUnsolicited(resp)
}

// dispatchResponse delivers a direct reply to the oldest pending
// transaction for its function type, matching the teacher's TSN-keyed
// hlPending map (here collapsed to function-type matching since exact
// frame correlation fields are out of scope).
func (t *SerialTransport) dispatchResponse(resp Response) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	var oldestID string
	var oldest Transaction
	for id, tx := range t.txByID {
		if tx.FunctionType == resp.FunctionType && (oldestID == "" || tx.CreatedAt.Before(oldest.CreatedAt)) {
			oldestID, oldest = id, tx
		}
	}
	if oldestID != "" {
		if ch, ok := t.pending[oldestID]; ok {
			ch <- resp
		}
		delete(t.pending, oldestID)
		delete(t.txByID, oldestID)
		return
	}
	// No pending transaction: treat as unsolicited.
	t.dispatchUnsolicitedLocked(resp)
}

func (t *SerialTransport) dispatchUnsolicited(resp Response) {
	t.handlerMu.RLock()
	handler, ok := t.handlers[resp.FunctionType]
	oneShot := t.oneShot[resp.FunctionType]
	t.handlerMu.RUnlock()
	if !ok {
		return
	}
	result := handler(context.Background(), resp)
	if result == Handled && oneShot {
		t.UnregisterRequestHandler(resp.FunctionType)
	}
}

// unsolicitedDispatchLoop runs every unsolicited-report handler on its own
// goroutine, one at a time in receipt order, decoupled from readLoop.
// Handlers like the controller's AddNodeToNetwork Done commit send further
// requests and block on their responses (spec §4.2's "sequential" commit);
// those responses only ever arrive via readLoop, so a handler cannot be
// allowed to run on readLoop itself without deadlocking against its own
// outgoing sends. This still satisfies spec §5's "each report's handler
// runs to completion before the next begins," since this loop processes
// unsolicitedCh strictly one entry at a time.
func (t *SerialTransport) unsolicitedDispatchLoop() {
	defer t.wg.Done()
	for {
		select {
		case resp := <-t.unsolicitedCh:
			t.dispatchUnsolicited(resp)
		case <-t.done:
			return
		}
	}
}

// enqueueUnsolicited hands resp to unsolicitedDispatchLoop without running
// any handler inline, so the caller (readLoop, or dispatchResponse while
// holding pendingMu) never blocks on handler execution.
func (t *SerialTransport) enqueueUnsolicited(resp Response) {
	select {
	case t.unsolicitedCh <- resp:
	case <-t.done:
	}
}

func (t *SerialTransport) dispatchUnsolicitedLocked(resp Response) {
	// Called with pendingMu held; unsolicitedDispatchLoop only needs
	// unsolicitedCh/handlerMu, so handing off here is safe from a
	// lock-ordering standpoint.
	t.enqueueUnsolicited(resp)
}

func encodeFrame(frameType, funcID byte, payload []byte) []byte {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, frameType, funcID)
	body = append(body, payload...)

	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, frameSOF, byte(len(body)))
	frame = append(frame, body...)
	frame = append(frame, checksum(frame[1:]))
	return frame
}

func checksum(data []byte) byte {
	var c byte = 0xFF
	for _, b := range data {
		c ^= b
	}
	return c
}
