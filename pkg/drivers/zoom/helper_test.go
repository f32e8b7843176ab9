package zoom

import (
	"io"

	log "github.com/sirupsen/logrus"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}
