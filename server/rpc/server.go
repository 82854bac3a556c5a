/*
 * Copyright 2024 The Canopy Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package rpc provides the websocket transport of the server: the
// space channel for structural page-tree messages and the document
// channel for live editing.
package rpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/server/backend"
	"github.com/canopyhq/canopy/server/documents"
	"github.com/canopyhq/canopy/server/logging"
	"github.com/canopyhq/canopy/server/spaces"
)

// Server accepts websocket connections and feeds their messages to the
// protocol handlers through the backend's dispatch loop.
type Server struct {
	conf       *Config
	be         *backend.Backend
	httpServer *http.Server
	upgrader   websocket.Upgrader

	logger logging.Logger
}

// NewServer creates a new instance of Server.
func NewServer(conf *Config, be *backend.Backend) (*Server, error) {
	s := &Server{
		conf: conf,
		be:   be,
		upgrader: websocket.Upgrader{
			// origin checks belong to the gateway in front of this server
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.New("rpc"),
	}

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/spaces", s.serveSpaces)
	serveMux.HandleFunc("/documents", s.serveDocuments)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: serveMux,
	}

	return s, nil
}

// Start starts this server by opening the rpc port.
func (s *Server) Start() error {
	go func() {
		s.logger.Infof("serving RPC on %d", s.conf.Port)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server ListenAndServe: %v", err)
		}
	}()
	return nil
}

// Shutdown shuts down this server.
func (s *Server) Shutdown(graceful bool) {
	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("HTTP server Shutdown: %v", err)
		}
		return
	}

	if err := s.httpServer.Close(); err != nil {
		s.logger.Errorf("HTTP server close: %v", err)
	}
}

// serveSpaces handles one connection of the space channel. The first
// frame must be a subscribe carrying the space id and auth token; after
// that every frame is a structural message processed on the dispatch
// loop.
func (s *Server) serveSpaces(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("upgrade space connection: %v", err)
		return
	}
	if s.conf.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.conf.MaxMessageBytes)
	}

	c := newConn(ws, s.conf.ParsePingInterval())
	defer c.Close()
	sc := &spaceConn{c}

	_ = sc.Emit(events.SpaceEvent{Type: events.Welcome})

	first := &types.ClientMessage{}
	if err := ws.ReadJSON(first); err != nil {
		return
	}
	if first.Type != types.MessageSubscribe {
		_ = sc.Emit(events.SpaceEvent{Type: events.Error, Message: "Expected subscribe message"})
		return
	}

	subscribe := types.SubscribePayload{}
	if err := types.UnmarshalPayload(first.Payload, &subscribe); err != nil {
		_ = sc.Emit(events.SpaceEvent{Type: events.Error, Message: "Received invalid message"})
		return
	}

	claims, err := verifyToken(s.be.Config.SecretKey, subscribe.AuthToken)
	if err != nil {
		_ = sc.Emit(events.SpaceEvent{Type: events.Error, Message: "Unable to authenticate connection"})
		return
	}

	ctx := logging.With(r.Context(), logging.New("spaces", logging.NewField("userId", claims.UserID)))

	sub := s.be.PubSub.Subscribe(ctx, claims.UserID, subscribe.SpaceID)
	defer s.be.PubSub.Unsubscribe(ctx, subscribe.SpaceID, sub)

	go func() {
		for event := range sub.Events() {
			if err := sc.Emit(event); err != nil {
				return
			}
		}
	}()

	handler := spaces.NewHandler(
		sc,
		claims.UserID,
		subscribe.SpaceID,
		s.be.DB,
		s.be.Registry,
		s.be.PubSub,
		s.be.Resolver,
	)
	handler.SetMetrics(s.be.Metrics)

	_ = sc.Emit(events.SpaceEvent{Type: events.Subscribed})
	s.logger.Debugf("space connection %s subscribed; userId: %s", c.ID(), claims.UserID)

	for {
		msg := &types.ClientMessage{}
		if err := ws.ReadJSON(msg); err != nil {
			s.logger.Debugf("read from %s: %v", c.ID(), err)
			return
		}

		if err := s.be.Dispatcher.Submit(ctx, func() {
			_ = handler.HandleMessage(ctx, msg)
			s.observeRooms()
		}); err != nil {
			return
		}
	}
}

// serveDocuments handles one connection of the document editing
// channel. The connection is authenticated at upgrade time through the
// token query parameter.
func (s *Server) serveDocuments(w http.ResponseWriter, r *http.Request) {
	claims, err := verifyToken(s.be.Config.SecretKey, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unable to authenticate connection", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("upgrade document connection: %v", err)
		return
	}
	if s.conf.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.conf.MaxMessageBytes)
	}

	c := newConn(ws, s.conf.ParsePingInterval())
	defer c.Close()
	dc := &docConn{c}

	ctx := logging.With(r.Context(), logging.New("documents", logging.NewField("userId", claims.UserID)))

	var handler *documents.Handler
	if err := s.be.Dispatcher.Submit(ctx, func() {
		handler = documents.NewHandler(dc, claims.UserID, claims.UserName, s.be.Registry, s.be.DB, s.be.Resolver)
		handler.SetMetrics(s.be.Metrics)
		handler.SetSaveInterval(s.be.Config.DocumentSaveInterval)
	}); err != nil {
		return
	}

	defer func() {
		_ = s.be.Dispatcher.Submit(context.Background(), func() {
			handler.OnDisconnect()
			s.observeRooms()
		})
	}()

	for {
		msg := &types.DocClientMessage{}
		if err := ws.ReadJSON(msg); err != nil {
			s.logger.Debugf("read from %s: %v", c.ID(), err)
			return
		}

		if err := s.be.Dispatcher.Submit(ctx, func() {
			if err := handler.HandleMessage(ctx, msg); err != nil {
				s.logger.Warnf("handle %s message from %s: %v", msg.Type, c.ID(), err)
			}
			s.observeRooms()
		}); err != nil {
			return
		}
	}
}

// observeRooms updates the room gauges. It must run on the dispatch
// loop since it reads the registry.
func (s *Server) observeRooms() {
	if s.be.Metrics == nil {
		return
	}
	s.be.Metrics.ObserveOpenRooms(s.be.Registry.Len())
	s.be.Metrics.ObserveRoomParticipants(s.be.Registry.ParticipantCount())
}
