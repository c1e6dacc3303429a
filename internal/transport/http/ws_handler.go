package http

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

const (
	msgParticipants = "participants"
	msgPong         = "pong"
	msgError        = "error"
)

// watchParticipants streams attempt lifecycle events of one quiz to an
// admin. The first message is a participants snapshot; clients may send
// {"type":"refresh"} for a new one or {"type":"ping"}.
func (s *Server) watchParticipants(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	caller := callerFrom(c)
	snapshot, err := s.catalog.ListParticipants(ctx, caller, quizID)
	if err != nil {
		s.fail(c, err)
		return
	}

	// Subscribe before upgrading so no event between snapshot and stream is lost.
	updates, cancel := s.feed.Subscribe(quizID)
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Int64("quiz_id", quizID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		disconnected := s.metrics.WatcherConnected()
		defer disconnected()
	}
	log := s.log.With().Int64("quiz_id", quizID).Int64("user_id", caller.UserID).Logger()
	log.Info().Msg("participants watcher connected")
	defer log.Info().Msg("participants watcher disconnected")

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				// Unblocks the read loop below.
				_ = conn.Close()
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		case <-closeSignals:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				if !push(outboundMessage[any]{Type: string(event.Type), Payload: event}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push(outboundMessage[any]{Type: msgParticipants, Payload: snapshot})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ping":
			push(outboundMessage[any]{Type: msgPong, Payload: struct{}{}})
		case "refresh":
			attempts, err := s.catalog.ListParticipants(ctx, caller, quizID)
			if err != nil {
				push(outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: err.Error()}})
				continue
			}
			push(outboundMessage[any]{Type: msgParticipants, Payload: attempts})
		default:
			push(outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
