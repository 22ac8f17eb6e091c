// Package notify is the single entry point for surfacing failures: it
// normalizes heterogeneous error shapes into one notice, makes them visible
// in the timeline, and escalates fatal codes.
package notify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/confscout/chatsync/internal/protocol"
)

// Severity of a notice.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Notice is the normalized shape of a reported failure.
type Notice struct {
	Message  string
	Severity Severity
	Step     string
	Code     string
	Details  *protocol.ErrorDetails
}

// Warning wraps a message so Report surfaces it with warning severity.
type Warning struct {
	Text string
}

func (w Warning) Error() string { return w.Text }

// Options controls how a report is surfaced.
type Options struct {
	// StopLoading halts the timeline's loading state.
	StopLoading bool
	// Fatal raises the global fatal flag regardless of the error code.
	Fatal bool
}

// TimelineSink is the slice of the timeline the center writes notices to.
type TimelineSink interface {
	AppendNotice(severity, message string)
	StopLoading()
}

// ConnectionControl lets the center tear down a rejected session.
type ConnectionControl interface {
	ForceFatal()
}

// Center classifies and surfaces errors raised by the other components.
// Not internally locked; the engine serializes all calls.
type Center struct {
	log      *slog.Logger
	timeline TimelineSink
	conn     ConnectionControl
	fatal    bool
}

// NewCenter creates an unbound center. Bind wires the collaborators at
// composition time.
func NewCenter(log *slog.Logger) *Center {
	return &Center{log: log}
}

// Bind attaches the timeline sink and connection control.
func (c *Center) Bind(timeline TimelineSink, conn ConnectionControl) {
	c.timeline = timeline
	c.conn = conn
}

// Fatal reports whether the global fatal flag is raised. While raised,
// further chat interaction is blocked.
func (c *Center) Fatal() bool { return c.fatal }

// ClearFatal lowers the flag after a successful re-authentication.
func (c *Center) ClearFatal() { c.fatal = false }

// Report normalizes err, appends a visible notice to the timeline, and
// escalates fatal and auth-class codes.
func (c *Center) Report(err any, opts Options) {
	n := Normalize(err)
	c.log.Error("reported", "message", n.Message, "severity", n.Severity, "code", n.Code, "step", n.Step)

	if c.timeline != nil {
		c.timeline.AppendNotice(string(n.Severity), n.Message)
		if opts.StopLoading {
			c.timeline.StopLoading()
		}
	}

	if opts.Fatal || protocol.IsFatalCode(n.Code) {
		c.fatal = true
	}
	if protocol.IsAuthCode(n.Code) && c.conn != nil {
		c.conn.ForceFatal()
	}
}

// Normalize maps the error shapes that reach the center onto one Notice:
// plain errors, structured server errors, and ad hoc message values.
func Normalize(err any) Notice {
	switch v := err.(type) {
	case Notice:
		return v
	case protocol.ChatErrorEvent:
		return noticeFromChatError(v)
	case *protocol.ChatErrorEvent:
		return noticeFromChatError(*v)
	case Warning:
		return Notice{Message: v.Text, Severity: SeverityWarning}
	case error:
		var w Warning
		if errors.As(v, &w) {
			return Notice{Message: w.Text, Severity: SeverityWarning}
		}
		return Notice{Message: v.Error(), Severity: SeverityError}
	case string:
		return Notice{Message: v, Severity: SeverityError}
	default:
		return Notice{Message: fmt.Sprintf("%v", v), Severity: SeverityError}
	}
}

func noticeFromChatError(ev protocol.ChatErrorEvent) Notice {
	msg := ev.Message
	if msg == "" {
		msg = "the assistant reported an error"
	}
	return Notice{
		Message:  msg,
		Severity: SeverityError,
		Step:     ev.Step,
		Code:     ev.Code,
		Details:  ev.Details,
	}
}
