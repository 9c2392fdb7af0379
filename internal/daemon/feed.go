package daemon

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/forgehive/colony/pkg/events"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedSendBuffer   = 64
)

// Feed streams runtime events to websocket subscribers so UI layers never
// have to poll. A subscriber that cannot keep up is dropped.
type Feed struct {
	bus    *events.Bus
	logger zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]chan feedFrame
}

type feedFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

// NewFeed creates a feed bound to the bus.
func NewFeed(bus *events.Bus, logger zerolog.Logger) *Feed {
	return &Feed{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local daemon surface, same-origin enforcement is not useful.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]chan feedFrame),
	}
}

// Start subscribes the feed to the bus.
func (f *Feed) Start() {
	f.bus.Subscribe(func(e events.Event) {
		f.broadcast(feedFrame{
			Event: events.Name(e),
			Data:  e,
			At:    time.Now(),
		})
	})
}

// Stop disconnects all subscribers.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
}

func (f *Feed) broadcast(frame feedFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		select {
		case ch <- frame:
		default:
			f.logger.Warn().Str("client", id).Msg("Dropping slow event feed subscriber")
			close(ch)
			delete(f.clients, id)
		}
	}
}

// ServeHTTP upgrades the connection and streams frames until the client
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id, _ := gonanoid.New()
	ch := make(chan feedFrame, feedSendBuffer)

	f.mu.Lock()
	f.clients[id] = ch
	f.mu.Unlock()

	f.logger.Debug().Str("client", id).Msg("Event feed subscriber connected")

	defer func() {
		f.mu.Lock()
		if _, ok := f.clients[id]; ok {
			close(ch)
			delete(f.clients, id)
		}
		f.mu.Unlock()
		_ = conn.Close()
		f.logger.Debug().Str("client", id).Msg("Event feed subscriber disconnected")
	}()

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	for frame := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}
