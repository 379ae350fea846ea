package session

import (
	"time"

	"github.com/antoniostano/dyadchat/internal/protocol"
)

// MessageCap is the number of messages that closes a question's chat.
func (s *Session) MessageCap() int { return 2 * s.MaxTurns }

func (s *Session) Turn() string { return s.turn }

func (s *Session) ChatClosed() bool { return s.chatClosed }

func (s *Session) MessageCount() int { return s.count }

// SendMessage admits text from identity when the chat is open and identity
// holds the turn. Rejections come back as turn:wait or chat:closed to the
// sender. The message that reaches the cap is accepted and closes the chat.
func (s *Session) SendMessage(identity, text string, now time.Time) (Outcome, bool, error) {
	var o Outcome
	role, ok := s.roles[identity]
	if !ok {
		return o, false, ErrUnknownParticipant
	}
	if s.state != StateActive || s.chatClosed || s.count >= s.MessageCap() {
		o.send(identity, protocol.NewSignal(protocol.TypeChatClosed))
		return o, false, nil
	}
	if s.turn != identity {
		o.send(identity, protocol.NewSignal(protocol.TypeTurnWait))
		return o, false, nil
	}

	s.messages = append(s.messages, Message{Identity: identity, Role: role, Text: text, At: now})
	s.count++
	partner := s.Partner(identity)
	s.turn = partner
	o.send(partner, protocol.ChatRelay{Type: protocol.TypeChatMessage, Text: text, ServerTS: now.UnixMilli()})
	o.send(partner, protocol.NewSignal(protocol.TypeTurnYou))
	o.send(identity, protocol.NewSignal(protocol.TypeTurnWait))

	if s.count >= s.MessageCap() {
		s.logger.Info("turn cap reached, chat closed", "question", s.index+1, "messages", s.count)
		o.merge(s.closeChat(protocol.TypeChatClosed, now))
	}
	return o, true, nil
}

// EarlyTerminate lets the answerer close the chat before the cap.
func (s *Session) EarlyTerminate(identity string, now time.Time) (Outcome, error) {
	role, ok := s.roles[identity]
	if !ok {
		return Outcome{}, ErrUnknownParticipant
	}
	if role != RoleAnswerer {
		return Outcome{}, ErrNotAnswerer
	}
	if s.state != StateActive {
		return Outcome{}, ErrNotActive
	}
	if s.chatClosed {
		return Outcome{}, nil
	}
	s.logger.Info("chat ended early by answerer", "question", s.index+1, "messages", s.count)
	return s.closeChat(protocol.TypeEarlyTermination, now), nil
}

// Typing forwards a presence hint to the partner while the chat is open.
func (s *Session) Typing(identity string, t protocol.MessageType) Outcome {
	var o Outcome
	if _, ok := s.roles[identity]; !ok || s.state != StateActive || s.chatClosed {
		return o
	}
	o.send(s.Partner(identity), protocol.NewSignal(t))
	return o
}

// closeChat broadcasts event and auto-answers for every participant whose
// view carries no question, which may settle the question.
func (s *Session) closeChat(event protocol.MessageType, now time.Time) Outcome {
	var o Outcome
	s.chatClosed = true
	for _, p := range s.seats {
		o.send(p.Identity, protocol.NewSignal(event))
	}
	for _, p := range s.seats {
		if s.hasQuestion(p.Role) || s.answers[p.Role] != nil {
			continue
		}
		s.answers[p.Role] = &Answer{Identity: p.Identity, Role: p.Role, At: now, Auto: true}
		s.logger.Info("auto-answered for participant without question", "identity", p.Identity, "role", p.Role)
	}
	o.merge(s.checkSettled())
	return o
}

func (s *Session) turnFor(identity string) protocol.Signal {
	switch {
	case s.chatClosed || s.state != StateActive:
		return protocol.NewSignal(protocol.TypeChatClosed)
	case s.turn == identity:
		return protocol.NewSignal(protocol.TypeTurnYou)
	default:
		return protocol.NewSignal(protocol.TypeTurnWait)
	}
}
