package stream

import (
	"context"

	"job-status-stream/internal/entity"
)

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// Transport opens an authenticated, job-scoped server-push channel.
// Open must honour ctx cancellation while the handshake is in flight.
type Transport interface {
	Open(ctx context.Context, jobID entity.JobID, token string) (Conn, error)
}

// Conn is an open channel. Recv blocks until the next frame, ctx ends or the channel
// fails; Close may be called concurrently with Recv and more than once.
type Conn interface {
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

// TokenSource supplies the bearer token for the transport and the disconnect API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Notifier tells the backend that the client stopped listening to jobs.
type Notifier interface {
	Disconnect(ctx context.Context, jobID entity.JobID) error
	DisconnectBatch(ctx context.Context, jobIDs []entity.JobID) error
}

// Observer receives updates for one subscription. Callbacks for one subscription are
// never invoked concurrently.
type Observer interface {
	OnUpdate(entity.StatusUpdate)
	OnError(error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Update func(entity.StatusUpdate)
	Error  func(error)
}

func (o ObserverFuncs) OnUpdate(u entity.StatusUpdate) {
	if o.Update != nil {
		o.Update(u)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Recorder receives every accepted update after fan-out. Record must not block.
type Recorder interface {
	Record(entity.StatusUpdate)
}
