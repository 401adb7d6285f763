// Package bridge exposes an advertising session to a UI layer as the
// "ble_channel" method channel.
package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/pal-beacon/beacon"
	"github.com/user/pal-beacon/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChannelName is the method channel the UI calls into.
const ChannelName = "ble_channel"

const tag = "Bridge"

// Method names
const (
	MethodStartBle = "startBle"
	MethodStopBle  = "stopBle"
	MethodStatus   = "status"
)

// Error codes returned to the caller
const (
	CodeMissingArgument  = "ERR"
	CodeUnsupported      = "UNSUPPORTED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeEncoding         = "ENCODING"
	CodeAlreadyActive    = "ALREADY_ACTIVE"
	CodeStopFailed       = "STOP_FAILED"
	CodeInternal         = "INTERNAL"
)

// MethodCall is one invocation from the UI.
type MethodCall struct {
	Method    string
	Arguments *structpb.Struct
}

// Argument returns the string argument key. ok is false when it is absent
// or not a string.
func (c MethodCall) Argument(key string) (string, bool) {
	if c.Arguments == nil {
		return "", false
	}
	v, ok := c.Arguments.GetFields()[key]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

// Error is a structured failure: code, message, no details.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is exactly one of a value, an error or not-implemented.
type Result struct {
	Value          *structpb.Value
	Err            *Error
	NotImplemented bool
}

func success(v *structpb.Value) Result { return Result{Value: v} }

func failure(code, message string) Result {
	return Result{Err: &Error{Code: code, Message: message}}
}

// Handler dispatches method calls onto one session.
type Handler struct {
	session *beacon.Session
}

func NewHandler(session *beacon.Session) *Handler {
	return &Handler{session: session}
}

// Handle runs call and always produces a Result. A panic while handling
// is reported as INTERNAL.
func (h *Handler) Handle(call MethodCall) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(tag, "❌ %s panicked: %v", call.Method, r)
			res = failure(CodeInternal, fmt.Sprint(r))
		}
	}()

	switch call.Method {
	case MethodStartBle:
		return h.startBle(call)
	case MethodStopBle:
		return h.stopBle()
	case MethodStatus:
		return h.status()
	}
	logger.Debug(tag, "method %q not implemented", call.Method)
	return Result{NotImplemented: true}
}

func (h *Handler) startBle(call MethodCall) Result {
	sid, ok := call.Argument("sid")
	if !ok || strings.TrimSpace(sid) == "" {
		logger.Warn(tag, "⚠️  startBle() without sid")
		return failure(CodeMissingArgument, "Missing SID")
	}
	logger.Info(tag, "startBle() called with sid=%s", sid)

	if err := h.session.Start(sid); err != nil {
		code := startErrorCode(err)
		logger.Error(tag, "❌ startBle(%s) failed: %v (%s)", sid, err, code)
		return failure(code, err.Error())
	}
	return success(structpb.NewStringValue("started"))
}

func (h *Handler) stopBle() Result {
	logger.Info(tag, "stopBle() called")
	if err := h.session.Stop(); err != nil {
		logger.Error(tag, "❌ stopBle() failed: %v", err)
		return failure(CodeStopFailed, err.Error())
	}
	return success(structpb.NewStringValue("stopped"))
}

func (h *Handler) status() Result {
	st := h.session.Status()
	fields := map[string]*structpb.Value{
		"state":  structpb.NewStringValue(st.State.String()),
		"reason": structpb.NewStringValue(st.Reason.String()),
		"sid":    structpb.NewStringValue(st.Identifier),
	}
	if st.Err != nil {
		fields["error"] = structpb.NewStringValue(st.Err.Error())
	}
	return success(structpb.NewStructValue(&structpb.Struct{Fields: fields}))
}

func startErrorCode(err error) string {
	var encErr *beacon.EncodingError
	switch {
	case errors.As(err, &encErr):
		return CodeEncoding
	case errors.Is(err, beacon.ErrAlreadyActive):
		return CodeAlreadyActive
	case errors.Is(err, beacon.ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, beacon.ErrPermissionDenied):
		return CodePermissionDenied
	}
	return CodeInternal
}
