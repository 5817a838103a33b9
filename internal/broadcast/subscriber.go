package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 256
)

var (
	errSubscriberClosed  = errors.New("subscriber closed")
	errSubscriberFaulted = errors.New("subscriber faulted")
	errSendBufferFull    = errors.New("send buffer full")
)

// Conn is the part of *websocket.Conn the broadcaster writes to.
// WriteControl and Close may be called concurrently with WriteMessage.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscriber is one registered connection with its own writer goroutine.
type Subscriber struct {
	id           uuid.UUID
	connection   Conn
	writeTimeout time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	onFault      func(s *Subscriber, reason string, err error)

	alive   atomic.Bool
	faulted atomic.Bool
}

func newSubscriber(id uuid.UUID, connection Conn, writeTimeout time.Duration, bufferSize int, onFault func(*Subscriber, string, error)) *Subscriber {
	s := &Subscriber{
		id:           id,
		connection:   connection,
		writeTimeout: writeTimeout,
		sendChannel:  make(chan []byte, bufferSize),
		doneChannel:  make(chan struct{}),
		onFault:      onFault,
	}
	s.alive.Store(true)
	s.wg.Add(1)
	go s.run()
	return s
}

// ID returns the subscriber's registry id.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// IsAlive reports whether the subscriber acknowledged the last probe and
// has not faulted.
func (s *Subscriber) IsAlive() bool {
	return s.alive.Load() && !s.faulted.Load()
}

func (s *Subscriber) run() {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.sendChannel:
			_ = s.connection.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.fault("write_failed", err)
				return
			}
		case <-s.doneChannel:
			return
		}
	}
}

// send enqueues an already serialized frame. It never blocks: a closed or
// faulted subscriber is skipped, a full buffer faults the subscriber.
func (s *Subscriber) send(data []byte) error {
	select {
	case <-s.doneChannel:
		return errSubscriberClosed
	default:
	}

	if s.faulted.Load() {
		return errSubscriberFaulted
	}

	select {
	case s.sendChannel <- data:
		return nil
	default:
		s.fault("buffer_full", errSendBufferFull)
		return errSendBufferFull
	}
}

func (s *Subscriber) ping() error {
	return s.connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

func (s *Subscriber) markAlive() {
	if s.faulted.Load() {
		return
	}
	s.alive.Store(true)
}

func (s *Subscriber) markPending() {
	s.alive.Store(false)
}

// fault marks the subscriber as not writable. The monitor evicts it on its
// next sweep; a later pong does not revive it.
func (s *Subscriber) fault(reason string, err error) {
	if !s.faulted.CompareAndSwap(false, true) {
		return
	}
	s.alive.Store(false)
	slog.Debug("Subscriber faulted", "subscriber_id", s.id.String(), "reason", reason, "error", err)
	if s.onFault != nil {
		s.onFault(s, reason, err)
	}
}

func (s *Subscriber) stop() {
	s.stopOnce.Do(func() {
		close(s.doneChannel)
		_ = s.connection.Close()
	})
	s.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (s *Subscriber) stopGraceful(reason string) {
	s.stopOnce.Do(func() {
		close(s.doneChannel)

		// The writer must be gone before the close frame goes out.
		s.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = s.connection.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(s.writeTimeout))
		_ = s.connection.Close()
	})
	s.wg.Wait()
}
