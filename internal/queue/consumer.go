package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/your-org/fdclock/pkg/dto"
)

var ErrInvalidCommand = errors.New("invalid control command")

// Session is the part of the kiosk a control command can drive.
type Session interface {
	Start() error
	Stop() error
	SetThreshold(t float32) error
}

// Consumer executes control commands received on a core NATS subject.
type Consumer struct {
	nc      *nats.Conn
	session Session
	sub     *nats.Subscription
}

func NewConsumer(nc *nats.Conn, session Session) *Consumer {
	return &Consumer{nc: nc, session: session}
}

// Subscribe starts handling commands on subject. Requests with a reply
// subject get a dto.ControlReply.
func (c *Consumer) Subscribe(subject string) error {
	sub, err := c.nc.Subscribe(subject, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.sub = sub
	slog.Info("control consumer started", "subject", subject)
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	err := c.Execute(msg.Data)
	if err != nil {
		slog.Warn("control command failed", "subject", msg.Subject, "error", err)
	}
	if msg.Reply == "" {
		return
	}

	reply := dto.ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if rerr := msg.Respond(data); rerr != nil {
		slog.Warn("control reply failed", "error", rerr)
	}
}

// Execute decodes and runs one command.
func (c *Consumer) Execute(data []byte) error {
	cmd, err := ParseCommand(data)
	if err != nil {
		return err
	}

	slog.Info("control command", "action", cmd.Action)
	switch cmd.Action {
	case "start":
		return c.session.Start()
	case "stop":
		return c.session.Stop()
	default:
		return c.session.SetThreshold(*cmd.Threshold)
	}
}

// ParseCommand validates a control payload.
func ParseCommand(data []byte) (dto.ControlCommand, error) {
	var cmd dto.ControlCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	switch cmd.Action {
	case "start", "stop":
	case "set_threshold":
		if cmd.Threshold == nil {
			return cmd, fmt.Errorf("%w: set_threshold needs a threshold", ErrInvalidCommand)
		}
	default:
		return cmd, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}
	return cmd, nil
}

func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
}
