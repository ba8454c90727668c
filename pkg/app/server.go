package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mholloway/tideline/pkg/util"
)

// Server runs the HTTP surface the rendering layer talks to: snapshot
// reads plus the user-initiated mutations (refresh, load more, gap
// fill, mark seen). Only fetch failures surface as errors (502 with a
// retryable body); stream and cache failures are absorbed internally.
func Server() error {
	slog.Info("starting server")

	app, err := NewApp()
	if err != nil {
		return util.WrapErr("failed to create app", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := make(map[string]*Session, len(app.Config.Feeds))
	for _, feed := range app.Config.Feeds {
		session := NewSession(app, feed)
		if err := session.ColdStart(ctx); err != nil {
			// Serve the cached snapshot; the client can retry.
			slog.Warn(util.WrapErr("initial load failed", err).Error(), "feed", feed)
		}
		sessions[feed] = session
		defer session.Close()
	}

	// One physical stream connection carries every subscription; the
	// sessions have no visibility into the multiplexing.
	client := NewStreamClient(app.Config, app.Config.Feeds)
	go client.Run(ctx)
	go func() {
		for message := range client.Events() {
			if session := sessions[message.Feed]; session != nil {
				session.Handle(ctx, message)
			}
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	lookup := func(w http.ResponseWriter, r *http.Request) *Session {
		session := sessions[chi.URLParam(r, "feed")]
		if session == nil {
			http.Error(w, "unknown feed", http.StatusNotFound)
		}
		return session
	}

	router.Get("/feeds/{feed}", func(w http.ResponseWriter, r *http.Request) {
		session := lookup(w, r)
		if session == nil {
			return
		}
		writeJSON(w, APITimelineResponse{
			Feed:         session.Feed(),
			Entries:      session.Snapshot(),
			Unread:       session.UnreadCount(),
			ResumeMarker: string(session.ResumeMarker()),
		})
	})

	router.Post("/feeds/{feed}/refresh", func(w http.ResponseWriter, r *http.Request) {
		session := lookup(w, r)
		if session == nil {
			return
		}
		if err := session.Refresh(r.Context()); err != nil {
			writeFetchError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/feeds/{feed}/more", func(w http.ResponseWriter, r *http.Request) {
		session := lookup(w, r)
		if session == nil {
			return
		}
		if err := session.LoadMore(r.Context()); err != nil {
			writeFetchError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/feeds/{feed}/gaps/{gap}", func(w http.ResponseWriter, r *http.Request) {
		session := lookup(w, r)
		if session == nil {
			return
		}
		err := session.FillGap(r.Context(), chi.URLParam(r, "gap"))
		if errors.Is(err, ErrGapGone) {
			http.Error(w, "gap no longer exists", http.StatusNotFound)
			return
		}
		if err != nil {
			writeFetchError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/feeds/{feed}/seen", func(w http.ResponseWriter, r *http.Request) {
		session := lookup(w, r)
		if session == nil {
			return
		}
		session.MarkSeen()
		w.WriteHeader(http.StatusNoContent)
	})

	slog.Info("starting server", "port", app.Config.ServerPort)
	return http.ListenAndServe(fmt.Sprintf(":%s", app.Config.ServerPort), router)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeFetchError reports a failed user-initiated fetch. Existing
// content is untouched; the client shows a retry affordance.
func writeFetchError(w http.ResponseWriter, err error) {
	slog.Warn(util.WrapErr("fetch failed", err).Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(APIErrorResponse{
		Error:     "upstream fetch failed",
		Retryable: true,
	})
}
