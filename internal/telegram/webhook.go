package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
)

// UpdateHandler обрабатывает одно обновление.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// NewWebhookRouter принимает обновления на POST /{token} и отвечает на
// GET /healthz.
func NewWebhookRouter(token string, handler UpdateHandler, log *slog.Logger) *mux.Router {
	if log == nil {
		log = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/"+token, func(w http.ResponseWriter, req *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			log.Warn("decode webhook update", "err", err)
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		// Продолжения движка живут дольше запроса, поэтому контекст не
		// отменяется после ответа.
		handler.HandleUpdate(context.WithoutCancel(req.Context()), update)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodPost)

	return r
}

// ServeWebhook запускает сервер вебхука до отмены ctx.
func ServeWebhook(ctx context.Context, addr string, router http.Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("webhook server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
