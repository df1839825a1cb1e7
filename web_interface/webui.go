package web_interface

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

// Message types pushed to dashboard clients
const (
	TypeSnapshot = "strategy_update"
	TypeLog      = "log"
	TypeEquity   = "equity_update"
	TypeInitial  = "dashboard_update"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EquityData is the periodic account update
type EquityData struct {
	Equity float64   `json:"equity"`
	Time   time.Time `json:"time"`
}

// WebUI fans strategy snapshots, log lines and equity out to websocket clients
type WebUI struct {
	Logger logging.LoggerInterface
	// Initial builds the payload a client receives right after connecting
	Initial func() interface{}

	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	dropped    atomic.Uint64
}

type client struct {
	ui   *WebUI
	conn *websocket.Conn
	send chan Message
}

// NewWebUI creates a new WebUI instance
func NewWebUI(logger logging.LoggerInterface, initial func() interface{}) *WebUI {
	return &WebUI{
		Logger:  logger,
		Initial: initial,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Broadcast queues msg for every client without blocking. It reports false
// when the queue is full and the message was dropped.
func (w *WebUI) Broadcast(msg Message) bool {
	select {
	case w.broadcast <- msg:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// PublishSnapshot is suitable as a strategy OnUpdate callback
func (w *WebUI) PublishSnapshot(s models.StrategySnapshot) {
	w.Broadcast(Message{Type: TypeSnapshot, Data: s})
}

// PublishEquity pushes an account equity update
func (w *WebUI) PublishEquity(equity float64, at time.Time) {
	w.Broadcast(Message{Type: TypeEquity, Data: EquityData{Equity: equity, Time: at}})
}

// LogHook streams log entries to clients
func (w *WebUI) LogHook() logging.Hook {
	return func(e logging.Entry) {
		w.Broadcast(Message{Type: TypeLog, Data: e})
	}
}

// ClientCount returns the number of connected clients
func (w *WebUI) ClientCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.clients)
}

// Dropped returns how many broadcasts were discarded because the queue was full
func (w *WebUI) Dropped() uint64 {
	return w.dropped.Load()
}

// ServeHTTP upgrades the request and registers the client. Run must be
// active for the client to be served.
func (w *WebUI) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Logger.Warning("WebSocket upgrade error: %v", err)
		return
	}
	c := &client{ui: w, conn: conn, send: make(chan Message, 64)}
	if w.Initial != nil {
		c.send <- Message{Type: TypeInitial, Data: w.Initial()}
	}
	select {
	case w.register <- c:
	case <-time.After(writeWait):
		w.Logger.Warning("WebSocket hub not running, closing client %s", conn.RemoteAddr())
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
