package controller

import (
	"context"
	"errors"
	"time"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/zwave"
)

const s0StepExpiry = 10 * time.Second

// s0ConfirmationInfo is the HKDF "info" parameter binding the derived
// confirmation key to the network-key-set step specifically, so it can't
// be replayed against a different S0 derivation that might reuse the same
// nonce material.
const s0ConfirmationInfo = "s0-network-key-confirmation"

// secureBootstrapS0 is the Security Bootstrap component (C5). Never
// rethrows (spec §4.3): every failure path marks the node insecure and
// returns without reporting an error to the caller, matching the teacher's own-error-swallowing
// style in optional bootstrap steps (internal/coordinator/coordinator.go's
// "logger.Warn(...); continue" pattern for non-fatal setup).
func (c *Controller) secureBootstrapS0(ctx context.Context, n *node.Node, assumeSecure bool, includeController bool) {
	secMgr := c.transport.SecurityManager()
	if secMgr == nil {
		n.SetSecure(false)
		return
	}
	if !assumeSecure && !n.SupportsCC(zwave.CCSecurity) {
		return
	}

	if assumeSecure && !n.SupportsCC(zwave.CCSecurity) {
		// Replace-failed flows never receive a NIF (spec §4.3 step 1).
		n.AddCC(zwave.CCSecurity, 1)
	}

	err := c.runS0Exchange(ctx, n, secMgr, includeController)
	if err != nil {
		n.SetSecure(false)
		n.RemoveCC(zwave.CCSecurity)
		c.logger.Warn("S0 bootstrap failed", "node", n.ID(), "reason", categorizeS0Error(err))
		return
	}
	n.SetSecure(true)
}

func (c *Controller) runS0Exchange(ctx context.Context, n *node.Node, secMgr securityManager, includeController bool) error {
	opts := transport.SendOptions{SupportCheck: false, Expire: s0StepExpiry}

	// Query security scheme; result discarded (spec §4.3 step 2).
	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSendData, Payload: s0Frame(zwave.CCSecurity, 0x04, nil)}, opts); err != nil {
		return err
	}

	// Request a nonce with storeAsFreeNonce.
	nonceResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSendData, Payload: s0Frame(zwave.CCSecurity, 0x40, nil)}, opts)
	if err != nil {
		return err
	}
	secMgr.StoreAsFreeNonce(n.ID(), nonceResp.Payload)

	// Set the network key, authenticated by an HKDF-derived confirmation
	// key so the receiving node can verify the key came from the holder of
	// the network key without the key itself ever crossing the wire
	// unwrapped (spec §4.3 "set the network key").
	nonce, ok := secMgr.TakeFreeNonce(n.ID())
	if !ok {
		return errDroppedMessage
	}
	keyPayload, err := secMgr.Encrypt(nonce, secMgr.NetworkKey())
	if err != nil {
		return err
	}
	confirmKey, err := secMgr.ConfirmationKey(nonce, s0ConfirmationInfo)
	if err != nil {
		return err
	}
	setKeyPayload := append(append([]byte(nil), keyPayload...), confirmKey...)
	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSendData, Payload: s0Frame(zwave.CCSecurity, 0x06, setKeyPayload)}, opts); err != nil {
		return err
	}

	if includeController {
		if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSendData, Payload: s0Frame(zwave.CCSecurity, 0x08, nil)}, opts); err != nil {
			return err
		}
	}
	return nil
}

// securityManager is the narrow slice of internal/security.Manager's API
// the S0 exchange actually drives; declared as an interface here so tests
// can substitute a fake without a real network key.
type securityManager interface {
	StoreAsFreeNonce(nodeID uint8, nonce []byte)
	TakeFreeNonce(nodeID uint8) ([]byte, bool)
	NetworkKey() []byte
	Encrypt(nonce, plaintext []byte) ([]byte, error)
	ConfirmationKey(nonce []byte, info string) ([]byte, error)
}

var errDroppedMessage = errors.New("no free nonce available; message dropped")

// categorizeS0Error buckets a bootstrap failure into the log-suffix
// categories spec §4.3 calls for: expired timer, dropped message, node
// timeout, or other.
func categorizeS0Error(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "expired timer"
	case errors.Is(err, errDroppedMessage):
		return "dropped message"
	case isNodeTimeoutErr(err):
		return "node timeout"
	default:
		return "other: " + err.Error()
	}
}

func isNodeTimeoutErr(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == ErrNodeTimeout
}

// s0Frame wraps cmd/subcmd/payload into a SendData payload targeting the
// Security CC. Exact S0 framing is out of scope (spec §1 non-goals); this
// only needs to be a stable shape the fake transport in tests can parse.
func s0Frame(cc zwave.CommandClass, subcmd byte, payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, byte(cc), subcmd)
	out = append(out, payload...)
	return out
}
