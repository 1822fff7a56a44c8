package wa

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc         Service
	verifyToken string
}

func NewHandler(svc Service, verifyToken string) *Handler {
	return &Handler{svc: svc, verifyToken: verifyToken}
}

// HandleVerify — Meta subscription handshake: echo hub.challenge when
// the verify token matches.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// metaEnvelope — the slice of the Cloud API payload we care about.
// Status-only deliveries carry no messages and are just acknowledged.
type metaEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text *struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// HandleWebhook — вход от Meta. Ack fast, never block on the AI:
// delivery is at-least-once, the dedup gate downstream handles replays.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload metaEnvelope
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	now := time.Now()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					log.Printf("[wa] skipping non-text message id=%s type=%s", msg.ID, msg.Type)
					continue
				}
				h.svc.HandleIncoming(Event{
					EventID:    msg.ID,
					UserID:     msg.From,
					Text:       msg.Text.Body,
					ReceivedAt: now,
				})
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// HandleClearContext — administrative reset of a user's session.
func (h *Handler) HandleClearContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "missing userID", http.StatusBadRequest)
		return
	}

	if err := h.svc.ClearContext(r.Context(), userID); err != nil {
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
