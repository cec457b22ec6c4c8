package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSIngest(t *testing.T) {
	box := NewMailbox()
	w := NewWS(WSConfig{}, box)

	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	msgs := []string{
		`{"type":"gyro","rate_rad":-0.25}`,
		`{"type":"compass","heading_deg":87.5}`,
		`not json`,
		`{"type":"fix","lat_deg":53.3490,"lon_deg":-6.2600,"accuracy_m":3.0}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// The server consumes asynchronously; poll until the fix lands.
	deadline := time.Now().Add(2 * time.Second)
	var got Batch
	for time.Now().Before(deadline) {
		b := box.Drain()
		if b.Angular != nil {
			got.Angular = b.Angular
		}
		if b.Magnetic != nil {
			got.Magnetic = b.Magnetic
		}
		if b.Fix != nil {
			got.Fix = b.Fix
		}
		if got.Fix != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got.Angular == nil || got.Angular.RateRad != -0.25 {
		t.Fatalf("gyro=%+v", got.Angular)
	}
	if got.Magnetic == nil || got.Magnetic.HeadingDeg != 87.5 {
		t.Fatalf("compass=%+v", got.Magnetic)
	}
	if got.Fix == nil || got.Fix.AccuracyM != 3.0 {
		t.Fatalf("fix=%+v", got.Fix)
	}
}
