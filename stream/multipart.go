package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	partHeader  = "--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
	partTrailer = "\r\n"
)

// WriteChunk writes one JPEG as a single multipart part:
//
//	--frame\r\n
//	Content-Type: image/jpeg\r\n
//	\r\n
//	<jpeg>\r\n
func WriteChunk(w io.Writer, jpeg []byte) error {
	chunk := make([]byte, 0, len(partHeader)+len(jpeg)+len(partTrailer))
	chunk = append(chunk, partHeader...)
	chunk = append(chunk, jpeg...)
	chunk = append(chunk, partTrailer...)

	_, err := w.Write(chunk)
	return err
}

// FrameRate returns the instantaneous rate for a frame completed at now when
// the previous one completed at prev. Non-positive intervals give 0.
func FrameRate(prev, now time.Time) float64 {
	dt := now.Sub(prev).Seconds()
	if dt <= 0 {
		return 0.0
	}
	return 1.0 / dt
}

// flush pushes buffered bytes to the client. Writers that cannot flush are
// not an error.
func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// setWriteDeadline bounds the next writes. Writers without deadline support
// are left unbounded.
func setWriteDeadline(rc *http.ResponseController, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := rc.SetWriteDeadline(time.Now().Add(d)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// ErrorResponse is the JSON body of every non-stream error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendErrorResponse writes an ErrorResponse with the given status.
func SendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
