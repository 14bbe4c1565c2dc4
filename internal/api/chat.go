package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/grantdesk/internal/agent"
	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/stream"
)

const (
	// maxChatBody caps the chat request body.
	maxChatBody = 1 << 20
	// sinkBuffer is how many events may queue ahead of a slow client.
	sinkBuffer = 64
	// streamWriteTimeout is the write deadline, reset after every event.
	streamWriteTimeout = 120 * time.Second
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	AgentID        string             `json:"agentId"`
	ConversationID string             `json:"conversationId,omitempty"`
	UserID         string             `json:"userId,omitempty"`
	Message        string             `json:"message"`
	Attachments    []agent.Attachment `json:"attachments,omitempty"`
}

// validate converts the body to an agent request, or explains why it
// cannot be served.
func (c ChatRequest) validate() (agent.Request, error) {
	id, err := agents.Parse(c.AgentID)
	if err != nil {
		return agent.Request{}, err
	}
	if strings.TrimSpace(c.Message) == "" && len(c.Attachments) == 0 {
		return agent.Request{}, agent.ErrEmptyMessage
	}
	for _, a := range c.Attachments {
		if a.Name == "" || (a.Path == "" && a.URL == "") {
			return agent.Request{}, errors.New("attachments need a name and a path or url")
		}
	}
	return agent.Request{
		AgentID:        id,
		ConversationID: c.ConversationID,
		UserID:         c.UserID,
		Message:        c.Message,
		Attachments:    c.Attachments,
	}, nil
}

// handleChat runs one turn and streams its events as newline-delimited
// JSON. The agent loop produces into a bounded channel sink; this
// handler drains it. A client that stops reading cancels the request
// context, which ends the turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := body.validate()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sink := stream.NewChanSink(sinkBuffer)
	runErr := make(chan error, 1)
	go func() {
		defer sink.Close()
		_, err := s.runner.Run(ctx, req, sink)
		runErr <- err
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	enc := stream.NewEncoder(w)
	written := 0
	var writeErr error
	for ev := range sink.Events() {
		if writeErr != nil {
			continue // drain so the producer can finish
		}
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
		if writeErr = enc.Encode(ev); writeErr == nil {
			writeErr = rc.Flush()
		}
		if writeErr != nil {
			s.logger.Debug("client stream write failed", "error", writeErr)
			continue
		}
		written++
	}

	err = <-runErr
	if err == nil {
		return
	}
	var terr *agent.TurnError
	if errors.As(err, &terr) {
		// Already reported to the client as an error event.
		return
	}
	var wrongAgent *agent.ErrConversationAgent
	if errors.As(err, &wrongAgent) && written == 0 {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("chat turn failed", "agent", req.AgentID, "error", err)
	if written == 0 {
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
	}
}
