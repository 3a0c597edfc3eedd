package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/jordanhubbard/chorus/internal/persona"
)

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the store and bus are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	checks := map[string]string{}
	ready := true

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			checks["store"] = err.Error()
			ready = false
		} else {
			checks["store"] = "ok"
		}
	}
	if s.bus != nil {
		if err := s.bus.Health(); err != nil {
			checks["bus"] = err.Error()
			ready = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type createPersonaRequest struct {
	persona.Persona
	// DeriveAlias asks the server to derive a mention alias from the
	// display name, resolving collisions with ordinal suffixes.
	DeriveAlias bool `json:"derive_alias"`
}

// handlePersonas handles GET (list) and POST (create).
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.aliases.Personas())

	case http.MethodPost:
		var req createPersonaRequest
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.FullName == "" {
			s.respondError(w, http.StatusBadRequest, "full_name is required")
			return
		}
		if claims := claimsFrom(r.Context()); claims != nil && req.AddedBy == "" {
			req.AddedBy = claims.UserID
		}

		if err := s.aliases.AddPersona(&req.Persona); err != nil {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}

		derived := ""
		if req.DeriveAlias {
			name := req.DisplayName
			if name == "" {
				name = req.FullName
			}
			alias, err := s.aliases.DeriveAlias(name, req.FullName)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			derived = alias
		}

		if s.store != nil {
			if err := s.store.UpsertPersona(r.Context(), &req.Persona); err != nil {
				log.Printf("[api] failed to persist persona %s: %v", req.FullName, err)
				s.respondError(w, http.StatusInternalServerError, "failed to persist persona")
				return
			}
			for _, a := range req.Aliases {
				if err := s.store.SaveAlias(r.Context(), persona.NormalizeAlias(a), req.FullName); err != nil {
					log.Printf("[api] failed to persist alias %s: %v", a, err)
				}
			}
			if derived != "" {
				if err := s.store.SaveAlias(r.Context(), derived, req.FullName); err != nil {
					log.Printf("[api] failed to persist derived alias %s: %v", derived, err)
				}
			}
		}

		s.respondJSON(w, http.StatusCreated, map[string]interface{}{
			"persona":       req.Persona,
			"derived_alias": derived,
		})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePersona handles GET and DELETE for a single persona.
func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	name := s.extractID(r.URL.Path, "/api/v1/personas")
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "persona name is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p := s.aliases.Persona(name)
		if p == nil {
			s.respondError(w, http.StatusNotFound, "persona not found")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"persona": p,
			"aliases": s.aliases.Aliases(name),
		})

	case http.MethodDelete:
		removed := s.aliases.RemovePersona(name)
		if s.store != nil {
			if _, err := s.store.DeletePersona(r.Context(), name); err != nil {
				log.Printf("[api] failed to delete persona %s from store: %v", name, err)
			}
		}
		if !removed {
			s.respondError(w, http.StatusNotFound, "persona not found")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]bool{"removed": true})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type registerAliasRequest struct {
	Alias       string `json:"alias"`
	PersonaName string `json:"persona_name"`
	Reassign    bool   `json:"reassign"`
}

// handleAliases handles GET (list for ?persona=) and POST (register).
func (s *Server) handleAliases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("persona")
		if name == "" {
			s.respondError(w, http.StatusBadRequest, "persona query parameter is required")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"persona": name,
			"aliases": s.aliases.Aliases(name),
		})

	case http.MethodPost:
		var req registerAliasRequest
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Alias == "" || req.PersonaName == "" {
			s.respondError(w, http.StatusBadRequest, "alias and persona_name are required")
			return
		}

		if err := s.aliases.RegisterAlias(req.Alias, req.PersonaName, req.Reassign); err != nil {
			if _, ok := err.(*persona.ErrAliasCollision); ok {
				s.respondError(w, http.StatusConflict, err.Error())
				return
			}
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		norm := persona.NormalizeAlias(req.Alias)
		if s.store != nil {
			if err := s.store.SaveAlias(r.Context(), norm, req.PersonaName); err != nil {
				log.Printf("[api] failed to persist alias %s: %v", norm, err)
			}
		}
		s.respondJSON(w, http.StatusCreated, map[string]string{"alias": norm, "persona_name": req.PersonaName})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAlias handles DELETE for a single alias.
func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alias := s.extractID(r.URL.Path, "/api/v1/aliases")
	if alias == "" {
		s.respondError(w, http.StatusBadRequest, "alias is required")
		return
	}

	removed := s.aliases.UnregisterAlias(alias)
	if s.store != nil {
		if _, err := s.store.DeleteAlias(r.Context(), persona.NormalizeAlias(alias)); err != nil {
			log.Printf("[api] failed to delete alias %s from store: %v", alias, err)
		}
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "alias not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

type activateChannelRequest struct {
	PersonaName string `json:"persona_name"`
}

// handleChannel handles POST/DELETE /api/v1/channels/{id}/activation.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "activation" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	channelID := parts[0]

	actorID := ""
	if claims := claimsFrom(r.Context()); claims != nil {
		actorID = claims.UserID
	}

	switch r.Method {
	case http.MethodPost:
		var req activateChannelRequest
		if err := s.parseJSON(r, &req); err != nil || req.PersonaName == "" {
			s.respondError(w, http.StatusBadRequest, "persona_name is required")
			return
		}
		if !s.router.ActivateChannel(channelID, req.PersonaName, actorID) {
			s.respondError(w, http.StatusForbidden, "activation refused")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"channel_id": channelID, "persona_name": req.PersonaName})

	case http.MethodDelete:
		if !s.router.DeactivateChannel(channelID) {
			s.respondError(w, http.StatusNotFound, "no activation for channel")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]bool{"removed": true})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type autoResponseRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSession handles
//
//	DELETE /api/v1/sessions/{user}/{channel}
//	PUT    /api/v1/sessions/{user}/auto-response
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	userID := parts[0]

	switch {
	case r.Method == http.MethodPut && parts[1] == "auto-response":
		var req autoResponseRequest
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.router.SetAutoResponse(userID, req.Enabled)
		s.respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})

	case r.Method == http.MethodDelete:
		if !s.router.ClearSession(userID, parts[1]) {
			s.respondError(w, http.StatusNotFound, "no session for user/channel")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBlackouts lists active blackout windows.
func (s *Server) handleBlackouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.router.BlackoutSnapshot())
}

// handleBusStats reports message bus statistics.
func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bus == nil {
		s.respondError(w, http.StatusServiceUnavailable, "bus not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.bus.Stats())
}
