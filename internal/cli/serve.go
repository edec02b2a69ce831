package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/backend/sqlite"
	"github.com/parleychat/parley/internal/backend/wschannel"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the durable store and push hub server",
		Long: `Serve the conversation backend: the sqlite message store, the
websocket push hub at /ws, a JSON API for creates, tombstones, and
history, and Prometheus metrics at /metrics.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "server config", err)
	}
	setLogLevel(cfg.LogLevel)

	hub := wschannel.NewHub()
	store, err := sqlite.Open(cfg.Server.DBPath, sqlite.WithPublisher(hub))
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: newServerMux(store, hub),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.ListenAddr, "db", cfg.Server.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "server", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	// Websockets are hijacked connections; Shutdown does not touch them.
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	return nil
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetLogLoggerLevel(l)
}

// newServerMux assembles the backend's HTTP surface.
func newServerMux(store *sqlite.Store, hub *wschannel.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/messages", handleCreate(store))
	mux.HandleFunc("POST /api/tombstone", handleTombstone(store))
	mux.HandleFunc("GET /api/history", handleHistory(store))
	return mux
}

type createRequest struct {
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Text           string    `json:"text"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	AuthoredAt     time.Time `json:"authored_at"`
}

type createResponse struct {
	ID         string    `json:"id"`
	AuthoredAt time.Time `json:"authored_at"`
}

type tombstoneRequest struct {
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	AuthorID       string `json:"author_id"`
}

type historyEntry struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	Text       string    `json:"text"`
	Attachment string    `json:"attachment_url,omitempty"`
	ReplyToID  string    `json:"reply_to_id,omitempty"`
	AuthoredAt time.Time `json:"authored_at"`
	Deleted    bool      `json:"deleted"`
}

func handleCreate(store *sqlite.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if req.ConversationID == "" || req.AuthorID == "" {
			writeAPIError(w, http.StatusBadRequest, "conversation_id and author_id are required")
			return
		}
		if req.Text == "" && req.AttachmentURL == "" {
			writeAPIError(w, http.StatusBadRequest, "message requires text or an attachment")
			return
		}
		if req.AuthoredAt.IsZero() {
			req.AuthoredAt = time.Now().UTC()
		}

		res, err := store.Create(r.Context(), backend.CreateRequest{
			ConversationID: req.ConversationID,
			AuthorID:       req.AuthorID,
			Text:           req.Text,
			AttachmentURL:  req.AttachmentURL,
			ReplyToID:      req.ReplyToID,
			AuthoredAt:     req.AuthoredAt,
		})
		if err != nil {
			writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, createResponse{ID: res.ID, AuthoredAt: res.AuthoredAt})
	}
}

func handleTombstone(store *sqlite.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tombstoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := store.Tombstone(r.Context(), req.ConversationID, req.ID, req.AuthorID); err != nil {
			writeChatError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(store *sqlite.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation")
		if conversationID == "" {
			writeAPIError(w, http.StatusBadRequest, "missing conversation parameter")
			return
		}
		msgs, err := store.History(r.Context(), conversationID)
		if err != nil {
			writeChatError(w, err)
			return
		}
		entries := make([]historyEntry, 0, len(msgs))
		for _, m := range msgs {
			entry := historyEntry{
				ID:         m.ID.Value(),
				AuthorID:   m.AuthorID,
				Text:       m.Text,
				AuthoredAt: m.AuthoredAt,
				Deleted:    m.Visibility == chat.VisibilityDeletedPermanently,
			}
			if m.Attachment != nil {
				entry.Attachment = m.Attachment.URL
			}
			if m.ReplyTo != nil {
				entry.ReplyToID = m.ReplyTo.ID.Value()
			}
			entries = append(entries, entry)
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// writeChatError maps the error taxonomy onto HTTP status codes.
func writeChatError(w http.ResponseWriter, err error) {
	var ce *chat.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case chat.ErrCodeNotFound:
			writeAPIError(w, http.StatusNotFound, ce.Message)
			return
		case chat.ErrCodeAuthorization:
			writeAPIError(w, http.StatusForbidden, ce.Message)
			return
		case chat.ErrCodeValidation:
			writeAPIError(w, http.StatusBadRequest, ce.Message)
			return
		}
	}
	slog.Error("request failed", "error", err)
	writeAPIError(w, http.StatusInternalServerError, "internal error")
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
