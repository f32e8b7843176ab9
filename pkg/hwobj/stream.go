package hwobj

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// SignalStream forwards emitted signals to websocket clients as JSON.
type SignalStream struct {
	emitter  *Emitter
	upgrader websocket.Upgrader
	logger   log.FieldLogger
}

func NewSignalStream(emitter *Emitter, logger log.FieldLogger) *SignalStream {
	return &SignalStream{
		emitter: emitter,
		logger:  logger,
	}
}

func (s *SignalStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Failed to upgrade signal stream: %v", err)
		return
	}
	defer conn.Close()

	sub := s.emitter.Subscribe()
	defer sub.Unsubscribe()

	s.logger.Debugf("Signal stream client connected: %s", r.RemoteAddr)

	// Drain incoming frames so we notice when the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case sig := <-sub.Channel():
			if err := conn.WriteJSON(sig); err != nil {
				s.logger.Debugf("Signal stream write failed: %v", err)
				return
			}
		case <-done:
			s.logger.Debugf("Signal stream client disconnected: %s", r.RemoteAddr)
			return
		}
	}
}
