package jsonrpc2

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"unicode"
)

var _ Handler = &Server{}

// Server contains the method registry.
type Server struct {
	mu       sync.RWMutex
	registry map[string]Method
}

// Register adds valid methods from the receiver to the registry with the given
// prefix. Method names are lowercased.
func (s *Server) Register(prefix string, receiver interface{}) error {
	methods, err := Methods(receiver)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == nil {
		s.registry = map[string]Method{}
	}

	var buf bytes.Buffer
	for name, m := range methods {
		buf.WriteString(prefix)
		buf.WriteRune(unicode.ToLower(rune(name[0])))
		buf.WriteString(name[1:])
		s.registry[buf.String()] = m
		buf.Reset()
	}
	return nil
}

// RegisterMethod adds a single method of receiver under the given name.
func (s *Server) RegisterMethod(name string, receiver interface{}, methodName string) error {
	m, err := MethodByName(receiver, methodName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == nil {
		s.registry = map[string]Method{}
	}
	s.registry[name] = *m
	return nil
}

// Methods returns the registered method names.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.registry))
	for name := range s.registry {
		names = append(names, name)
	}
	return names
}

// Handle calls the registered method for a request. Notifications are
// executed but get no response.
func (s *Server) Handle(ctx context.Context, msg *Message) *Message {
	if msg.Request == nil {
		if !msg.HasID() {
			return nil
		}
		return newResponse(msg.ID, nil, &ErrResponse{
			Code:    ErrCodeInvalidRequest,
			Message: "invalid request: missing method",
		})
	}
	resp := s.handle(ctx, msg)
	if !msg.HasID() {
		if resp.Error != nil {
			logger.Printf("Notification %s failed: %s", msg.Method, resp.Error)
		}
		return nil
	}
	return resp
}

func (s *Server) handle(ctx context.Context, msg *Message) *Message {
	s.mu.RLock()
	m, ok := s.registry[msg.Method]
	s.mu.RUnlock()
	if !ok {
		return newResponse(msg.ID, nil, &ErrResponse{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
	}
	args, err := m.Args(msg.Params)
	if err != nil {
		return newResponse(msg.ID, nil, &ErrResponse{
			Code:    ErrCodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %s", err),
		})
	}
	res, err := m.Call(ctx, args)
	if err != nil {
		return newResponse(msg.ID, nil, toErrResponse(err, ErrCodeInternal))
	}
	return newResponse(msg.ID, res, nil)
}
