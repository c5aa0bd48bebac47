package protocol

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ArnBdev/OneAgent-sub002/errors"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// SendMessage routes msg to its target and returns the target's response.
// The returned Response is never nil. Validation and lookup failures leave
// every conversation log untouched.
//
// A missing ID or Timestamp is filled in.
func (s *Service) SendMessage(ctx context.Context, msg message.Message) *message.Response {
	start := s.now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = start
	}

	ctx, span := s.tracer.StartSpan(ctx, "protocol.send_message",
		telemetry.AttrAgent.String(msg.SourceAgent),
		telemetry.AttrTarget.String(msg.TargetAgent),
		telemetry.AttrMessageType.String(string(msg.Type)))

	resp, delivered := s.deliver(ctx, msg, start)

	code := resp.ErrorCode()
	var spanErr error
	if resp.Error != nil {
		spanErr = resp.Error
	}
	s.tracer.EndSpan(span, string(code), spanErr)
	s.logger.MessageRouted(msg.ID, msg.SourceAgent, msg.TargetAgent, resp.Metadata.ProcessingTime, string(code))
	if s.metrics != nil {
		result := "ok"
		if code != "" {
			result = string(code)
		}
		s.metrics.Messages.WithLabelValues(string(msg.Type), result).Inc()
		s.metrics.MessageDuration.Observe(resp.Metadata.ProcessingTime.Seconds())
	}

	if delivered != nil {
		for _, o := range s.observersSnapshot() {
			o.OnDelivered(ctx, *delivered, *resp)
		}
	}
	return resp
}

// deliver runs the routing pipeline. It returns the delivered message on
// success so observers can be notified outside the recover scope.
func (s *Service) deliver(ctx context.Context, msg message.Message, start time.Time) (resp *message.Response, delivered *message.Message) {
	defer func() {
		if e := errors.Recover(recover()); e != nil {
			resp = s.failed(msg.ID, e)
			delivered = nil
		}
	}()

	if err := msg.Validate(); err != nil {
		return s.failed(msg.ID, errors.As(err)), nil
	}
	if v := s.content.Validate(msg.Content); !v.Valid {
		return s.failed(msg.ID, errors.ValidationFailed(v.Reason,
			errors.WithAgentID(msg.SourceAgent))), nil
	}
	msg.Metadata.Validated = true

	target, err := s.resolve(msg.TargetAgent)
	if err != nil {
		return s.failed(msg.ID, err), nil
	}

	text, genErr := s.generate(ctx, prompt(msg, target))
	if genErr != nil {
		return s.failed(msg.ID, errors.WrapWithCode(genErr, errors.ErrCodeProcessingError,
			"response generation failed", errors.WithAgentID(msg.TargetAgent))), nil
	}

	r := &message.Response{
		MessageID: msg.ID,
		Success:   true,
		Content:   text,
		Metadata: message.ResponseMetadata{
			ProcessingTime:          s.now().Sub(start),
			QualityScore:            clampQuality(target.QualityScore),
			ConstitutionalCompliant: s.content.Validate(text).Valid,
		},
		Timestamp: s.now(),
	}

	convIDs := []string{msg.Metadata.ConversationID}
	if msg.Metadata.ConversationID == "" {
		convIDs = s.convs.OpenFor(msg.SourceAgent, msg.TargetAgent)
	}
	for _, id := range convIDs {
		if err := s.convs.LogExchange(id, msg, *r); err != nil {
			// The log may have ended between OpenFor and LogExchange.
			s.logger.Debug("exchange_not_logged", map[string]interface{}{
				"conversation": id,
				"error":        err.Error(),
			})
		}
	}
	s.enqueue(msg)
	return r, &msg
}

// resolve looks up the target under its agent lock.
func (s *Service) resolve(agentID string) (*registry.AgentRegistration, *errors.Error) {
	unlock := s.lock(agentID)
	defer unlock()

	reg, err := s.getAgent(agentID)
	if err != nil {
		return nil, errors.As(err)
	}
	return reg, nil
}

func (s *Service) generate(ctx context.Context, p string) (text string, err error) {
	defer func() {
		if e := errors.Recover(recover()); e != nil {
			err = e
		}
	}()

	return s.gen.Generate(ctx, p)
}

func (s *Service) failed(messageID string, err *errors.Error) *message.Response {
	if err == nil {
		err = errors.ProcessingError("delivery failed")
	}
	resp := message.Failed(messageID, err)
	resp.Timestamp = s.now()
	return resp
}

func prompt(msg message.Message, target *registry.AgentRegistration) string {
	return fmt.Sprintf("[%s] %s -> %s (%s): %s",
		msg.Type, msg.SourceAgent, target.AgentID, target.AgentType, msg.Content)
}

func clampQuality(q float64) float64 {
	return math.Max(0, math.Min(100, q))
}
