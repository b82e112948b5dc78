package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// Boundary separates parts of the MJPEG response.
const Boundary = "frame"

// ContentType is the response content type of an MJPEG stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

const partHeader = "--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n"

// WritePart writes one complete part for payload in a single Write.
func WritePart(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(partHeader)+len(payload)+2)
	buf = append(buf, partHeader...)
	buf = append(buf, payload...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// ServeMJPEG copies frames from c to w until ctx ends, the consumer is
// closed or a write fails. It does not close c.
func ServeMJPEG(ctx context.Context, w http.ResponseWriter, c *Consumer) error {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for {
		f, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrConsumerClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if len(f.JPEG) == 0 {
			continue
		}
		if err := WritePart(w, f.JPEG); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
}

// ServeHTTP streams the hub to one client as multipart MJPEG.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := h.Subscribe()
	defer c.Close()

	h.logger.Info("Video client connected", "consumer_id", c.ID(), "remote", r.RemoteAddr)
	if err := ServeMJPEG(r.Context(), w, c); err != nil {
		h.logger.Debug("Video client write ended", "consumer_id", c.ID(), "error", err)
	}
	h.logger.Info("Video client disconnected", "consumer_id", c.ID(), "dropped", c.Dropped())
}
