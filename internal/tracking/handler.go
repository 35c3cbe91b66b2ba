package tracking

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumamail/pipeline/internal/domain"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventPublisher abstracts the intake path so the handler works with the
// Redis queue in production and a direct sink in queue-less deployments.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event)
}

// DirectPublisher processes events synchronously through the consumer.
type DirectPublisher struct{ Consumer *Consumer }

// Publish handles the event inline on the request goroutine.
func (d DirectPublisher) Publish(ctx context.Context, evt Event) {
	if err := d.Consumer.ProcessDirect(ctx, evt); err != nil {
		log.Printf("[Tracking] direct process: %v", err)
	}
}

// Handler serves the tracking endpoints.
type Handler struct {
	signer *Signer
	pub    EventPublisher
}

// NewHandler creates a tracking Handler.
func NewHandler(signer *Signer, pub EventPublisher) *Handler {
	return &Handler{signer: signer, pub: pub}
}

// Routes returns the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open", h.HandleOpen)
	r.Get("/track/click", h.HandleClick)
	r.Get("/track/unsubscribe", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an opened event and serves the pixel. The pixel is
// served even on a bad signature: a broken image in a recipient's mail
// client helps nobody, and the event is simply not recorded.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaign")
	recipientID := r.URL.Query().Get("recipient")
	sig := r.URL.Query().Get("sig")

	if campaignID == "" || recipientID == "" || !h.signer.VerifyPair(campaignID, recipientID, sig) {
		h.servePixel(w)
		return
	}

	h.pub.Publish(r.Context(), Event{
		Type:        domain.EventOpened,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		IPAddress:   realIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   time.Now().UTC(),
	})
	h.servePixel(w)
}

// HandleClick records a clicked event and redirects to the original URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	campaignID := q.Get("campaign")
	recipientID := q.Get("recipient")
	target := q.Get("url")
	sig := q.Get("sig")

	if campaignID == "" || recipientID == "" || target == "" ||
		!h.signer.VerifyClick(campaignID, recipientID, target, sig) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.pub.Publish(r.Context(), Event{
		Type:        domain.EventClicked,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		LinkURL:     target,
		IPAddress:   realIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   time.Now().UTC(),
	})
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe records an unsubscribed event and confirms.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaign")
	recipientID := r.URL.Query().Get("recipient")
	sig := r.URL.Query().Get("sig")

	if campaignID == "" || recipientID == "" || !h.signer.VerifyPair(campaignID, recipientID, sig) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.pub.Publish(r.Context(), Event{
		Type:        domain.EventUnsubscribed,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		IPAddress:   realIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from this sender.</p>
	</body></html>`))
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
