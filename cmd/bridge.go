// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Thermoquad/meridian/pkg/bootflag"
	"github.com/Thermoquad/meridian/pkg/protocol"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/gorilla/websocket"
)

// Bridge serves the file-transfer protocol over WebSocket, the status
// record as CBOR, and the button gestures. Binary messages carry command
// bytes in and whole framed responses out. One session runs at a time
// because the store has a single read handle.
type Bridge struct {
	Session  protocol.Config
	System   *system.System
	Buttons  *bootflag.Buttons
	Username string
	Password string
	Logger   *slog.Logger

	upgrader websocket.Upgrader
	busy     sync.Mutex
}

// Handler returns the bridge's routes
func (b *Bridge) Handler() http.Handler {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.auth(b.serveWS))
	mux.HandleFunc("/status", b.auth(b.serveStatus))
	mux.HandleFunc("/button", b.auth(b.serveButton))
	return mux
}

func (b *Bridge) auth(next http.HandlerFunc) http.HandlerFunc {
	if b.Username == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(b.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(b.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="meridian"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	if !b.busy.TryLock() {
		http.Error(w, "another session is active", http.StatusConflict)
		return
	}
	defer b.busy.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := b.Logger.With("component", "bridge", "remote", r.RemoteAddr)
	logger.Info("bridge session opened")
	session := protocol.NewSession(b.Session)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("bridge session closed", "reason", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		for _, resp := range session.Feed(data) {
			if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
				logger.Warn("bridge write failed", "error", err)
				return
			}
		}
	}
}

func (b *Bridge) serveStatus(w http.ResponseWriter, r *http.Request) {
	body, err := b.System.Snapshot().MarshalCBOR()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(body)
}

func (b *Bridge) serveButton(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if b.Buttons == nil {
		http.Error(w, "no buttons", http.StatusNotFound)
		return
	}
	switch r.URL.Query().Get("gesture") {
	case "short":
		b.Buttons.Short()
	case "long":
		b.Buttons.Long()
	case "verylong":
		if err := b.Buttons.VeryLong(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	default:
		http.Error(w, "gesture must be short, long or verylong", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
