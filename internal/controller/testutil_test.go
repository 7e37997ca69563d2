package controller

import (
	"log/slog"
	"os"

	"zwave-controller-core/internal/zwave"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestController wires a Controller around ft with an already-ready
// Identity, matching how every state machine test wants to start past
// the interview (the interview orchestrator itself is tested separately
// in interview_test.go).
func newTestController(ft *fakeTransport) *Controller {
	c := New(ft, nil, nil, nil, discardLogger())
	c.identity.SetSerialAPICaps("1.0", 1, 2, 3, []zwave.FunctionType{
		zwave.FuncAddNodeToNetwork,
		zwave.FuncRemoveNodeFromNetwork,
		zwave.FuncReplaceFailedNode,
		zwave.FuncRemoveFailedNode,
		zwave.FuncAssignSUCReturnRoute,
		zwave.FuncRequestNodeNeighborUpd,
		zwave.FuncDeleteReturnRoute,
		zwave.FuncAssignReturnRoute,
		zwave.FuncHardReset,
		zwave.FuncSendData,
	})
	c.identity.SetIDs(0xCAFEBABE, 1)
	c.identity.MarkReady()
	return c
}
