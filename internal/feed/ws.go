package feed

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig describes the WebSocket ingest endpoint the handheld streams to.
type WSConfig struct {
	Listen string
	Path   string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The device connects from whatever origin its runtime reports.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WS runs an HTTP server with a single WebSocket endpoint. Every text
// message is one JSON Sample envelope.
type WS struct {
	cfg WSConfig
	box *Mailbox
	srv *http.Server
}

func NewWS(cfg WSConfig, box *Mailbox) *WS {
	return &WS{cfg: cfg, box: box}
}

func (w *WS) Start(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("feed: ws is nil")
	}
	listen := strings.TrimSpace(w.cfg.Listen)
	if listen == "" {
		return fmt.Errorf("feed: ws listen address is empty")
	}
	path := w.cfg.Path
	if strings.TrimSpace(path) == "" {
		path = "/ws/sensors"
	}

	mux := http.NewServeMux()
	mux.Handle(path, w.Handler())

	w.srv = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  0, // long-lived stream
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("feed: ws listening on %s%s", listen, path)
		if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("feed: ws server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.srv.Shutdown(shutCtx)
	}()
	return nil
}

// Handler exposes the ingest endpoint for embedding in another mux.
func (w *WS) Handler() http.Handler {
	return http.HandlerFunc(w.handleConn)
}

func (w *WS) handleConn(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("feed: ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer func() { _ = conn.Close() }()

	log.Printf("feed: ws device connected from %s", r.RemoteAddr)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("feed: ws read from %s: %v", r.RemoteAddr, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s, err := DecodeSample(data)
		if err != nil {
			log.Printf("feed: ws bad sample from %s: %v", r.RemoteAddr, err)
			continue
		}
		if err := w.box.Offer(time.Now().UTC(), s); err != nil {
			log.Printf("feed: ws offer: %v", err)
		}
	}
}
