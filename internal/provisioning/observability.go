package provisioning

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"
)

// Observer receives structured events during provisioning.
type Observer interface {
	// Printf emits a free-form progress line.
	Printf(format string, v ...any)

	// Event emits a structured phase event.
	Event(event Event)
}

// Event is one structured provisioning event.
type Event struct {
	Type      EventType
	Phase     string
	Message   string
	Timestamp time.Time
}

// EventType classifies provisioning events.
type EventType string

// Phase lifecycle events.
const (
	EventPhaseStarted   EventType = "phase.started"
	EventPhaseCompleted EventType = "phase.completed"
	EventPhaseFailed    EventType = "phase.failed"
)

// ConsoleObserver writes events through the standard log package. Used by
// the interactive CLI path.
type ConsoleObserver struct{}

// NewConsoleObserver creates a console-based observer.
func NewConsoleObserver() *ConsoleObserver {
	return &ConsoleObserver{}
}

// Printf implements Observer.
func (o *ConsoleObserver) Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// Event implements Observer.
func (o *ConsoleObserver) Event(event Event) {
	if event.Message != "" {
		log.Printf("[%s] %s: %s", event.Phase, event.Type, event.Message)
		return
	}
	log.Printf("[%s] %s", event.Phase, event.Type)
}

// ZapObserver routes events into a structured logger. Used by the background
// worker path.
type ZapObserver struct {
	log *zap.Logger
}

// NewZapObserver creates an observer over the given logger.
func NewZapObserver(log *zap.Logger) *ZapObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapObserver{log: log}
}

// Printf implements Observer.
func (o *ZapObserver) Printf(format string, v ...any) {
	o.log.Info(fmt.Sprintf(format, v...))
}

// Event implements Observer.
func (o *ZapObserver) Event(event Event) {
	fields := []zap.Field{
		zap.String("phase", event.Phase),
		zap.String("event", string(event.Type)),
	}
	if event.Message != "" {
		fields = append(fields, zap.String("detail", event.Message))
	}
	switch event.Type {
	case EventPhaseFailed:
		o.log.Error("provisioning phase failed", fields...)
	default:
		o.log.Info("provisioning phase", fields...)
	}
}
