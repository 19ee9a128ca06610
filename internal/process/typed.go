package process

import (
	"context"
	"time"

	"github.com/mattjoyce/celergeo/internal/protocol"
)

// exitAfterEOF is how long an absent response waits for the child's exit
// status so the resulting error can carry it.
const exitAfterEOF = time.Second

// CommunicateModel encodes request, exchanges it, and decodes the reply as T.
//
// A reply shaped like an exception payload is returned as
// *protocol.RemoteError. A missing reply is a *ProtocolError that carries
// the exit status when the child has exited.
func CommunicateModel[T any](ctx context.Context, h *Handle, request any) (T, error) {
	line, err := roundTrip(ctx, h, request)
	if err != nil {
		var zero T
		return zero, err
	}
	return protocol.DecodeResult[T](line)
}

// CommunicateJSON is the untyped form of CommunicateModel. Any JSON value is
// accepted except an exception payload, which becomes *protocol.RemoteError.
func CommunicateJSON(ctx context.Context, h *Handle, request any) (any, error) {
	line, err := roundTrip(ctx, h, request)
	if err != nil {
		return nil, err
	}
	if dump, derr := protocol.Decode[protocol.ExceptionDump](line); derr == nil {
		return nil, &protocol.RemoteError{Dump: dump}
	}
	return protocol.Decode[any](line)
}

func roundTrip(ctx context.Context, h *Handle, request any) (string, error) {
	line, err := protocol.Encode(request)
	if err != nil {
		return "", err
	}

	resp, ok, err := h.Communicate(ctx, line)
	if err != nil {
		return "", err
	}
	if !ok {
		h.Wait(exitAfterEOF)
		perr := h.protocolError("missing output")
		h.logger.Error("child produced no response", "exited", perr.Exited, "exit_code", perr.ExitCode)
		return "", perr
	}
	return resp, nil
}
