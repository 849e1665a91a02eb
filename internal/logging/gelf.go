package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON slog handler that ships records to a
// Graylog input over UDP. The returned closer releases the socket.
func NewGELFHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("gelf writer %s: %w", addr, err)
	}
	return newWriterHandler(w, level), w, nil
}

func newWriterHandler(w io.Writer, level string) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
}
