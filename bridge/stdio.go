package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/user/pal-beacon/beacon"
	"github.com/user/pal-beacon/logger"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxLineLen = 64 * 1024

// Server speaks the method channel as newline-delimited JSON objects:
//
//	-> {"id":1,"method":"startBle","arguments":{"sid":"ABC"}}
//	<- {"id":1,"result":"started"}
//	<- {"id":2,"error":{"code":"ERR","message":"Missing SID"}}
//	<- {"id":3,"notImplemented":true}
//	<- {"event":{"state":"Active","reason":"None","sid":"ABC"}}
//
// Session transitions are pushed as event lines as soon as the session emits
// them. They are not ordered against responses: the Starting event caused by
// a startBle call may be written before or after its "started" response.
// Lines never interleave.
type Server struct {
	handler *Handler
	session *beacon.Session

	mu sync.Mutex
	w  io.Writer
}

func NewServer(session *beacon.Session) *Server {
	return &Server{
		handler: NewHandler(session),
		session: session,
	}
}

// Serve reads requests from r and writes responses and events to w until r
// hits EOF or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()

	events, unsubscribe := s.session.Subscribe(16)
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		for ev := range events {
			s.write(eventMessage(ev))
		}
	}()
	defer func() {
		unsubscribe()
		<-pushed
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 4096), maxLineLen)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	logger.Info(tag, "🔌 Serving %s on stdio", ChannelName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("bridge: read request: %w", err)
			}
			logger.Info(tag, "🔌 Input closed")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			s.write(s.dispatch(line))
		}
	}
}

func (s *Server) dispatch(line []byte) *structpb.Struct {
	req := &structpb.Struct{}
	if err := protojson.Unmarshal(line, req); err != nil {
		logger.Warn(tag, "⚠️  Malformed request: %v", err)
		return errorMessage(nil, &Error{Code: CodeMissingArgument, Message: "Malformed request"})
	}
	logger.DebugJSON(tag, "request", req)

	fields := req.GetFields()
	id := fields["id"]
	call := MethodCall{
		Method:    fields["method"].GetStringValue(),
		Arguments: fields["arguments"].GetStructValue(),
	}

	res := s.handler.Handle(call)
	switch {
	case res.Err != nil:
		return errorMessage(id, res.Err)
	case res.NotImplemented:
		return message(id, "notImplemented", structpb.NewBoolValue(true))
	}
	return message(id, "result", res.Value)
}

func (s *Server) write(msg *structpb.Struct) {
	b, err := protojson.Marshal(msg)
	if err != nil {
		logger.Error(tag, "❌ Failed to marshal reply: %v", err)
		return
	}
	logger.DebugJSON(tag, "reply", msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		logger.Warn(tag, "⚠️  Write failed: %v", err)
	}
}

func message(id *structpb.Value, key string, v *structpb.Value) *structpb.Struct {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{key: v}}
	if id != nil {
		msg.Fields["id"] = id
	}
	return msg
}

func errorMessage(id *structpb.Value, e *Error) *structpb.Struct {
	return message(id, "error", structpb.NewStructValue(&structpb.Struct{
		Fields: map[string]*structpb.Value{
			"code":    structpb.NewStringValue(e.Code),
			"message": structpb.NewStringValue(e.Message),
		},
	}))
}

func eventMessage(ev beacon.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"state":  structpb.NewStringValue(ev.State.String()),
		"reason": structpb.NewStringValue(ev.Reason.String()),
		"sid":    structpb.NewStringValue(ev.Identifier),
	}
	if ev.Err != nil {
		fields["error"] = structpb.NewStringValue(ev.Err.Error())
	}
	return message(nil, "event", structpb.NewStructValue(&structpb.Struct{Fields: fields}))
}
