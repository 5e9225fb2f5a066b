package utility

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub of open plan streams: Map[StreamID] -> Connection
var (
	Clients   = make(map[string]*websocket.Conn)
	ClientsMu sync.Mutex // Mutex to prevent race conditions
	Upgrader  = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Allow CORS for development
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// RegisterClient records an open stream connection.
func RegisterClient(streamID string, conn *websocket.Conn) {
	ClientsMu.Lock()
	defer ClientsMu.Unlock()
	Clients[streamID] = conn
	log.Info().Str("stream_id", streamID).Msg("WebSocket Client Connected")
}

// UnregisterClient forgets a stream (when the client goes away).
func UnregisterClient(streamID string) {
	ClientsMu.Lock()
	defer ClientsMu.Unlock()
	if _, ok := Clients[streamID]; ok {
		delete(Clients, streamID)
		log.Info().Str("stream_id", streamID).Msg("WebSocket Client Disconnected")
	}
}

// ActiveClients returns the number of open streams.
func ActiveClients() int {
	ClientsMu.Lock()
	defer ClientsMu.Unlock()
	return len(Clients)
}

// CloseAll sends a going-away close frame to every open stream. Used on shutdown.
func CloseAll() {
	ClientsMu.Lock()
	defer ClientsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for id, conn := range Clients {
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			log.Warn().Err(err).Str("stream_id", id).Msg("Failed to send WS close, dropping client")
		}
		conn.Close()
		delete(Clients, id)
	}
}
