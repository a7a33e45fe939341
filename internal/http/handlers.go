// Package httpapi exposes the booking engine over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-booking/internal/auth"
	"github.com/example/taxi-booking/internal/blob"
	"github.com/example/taxi-booking/internal/booking"
	"github.com/example/taxi-booking/internal/geocode"
	"github.com/example/taxi-booking/internal/models"
)

type Deps struct {
	Engine   *booking.Engine
	Verifier *auth.Verifier
	Geocoder geocode.Provider
	// Blobs is set when avatars are kept in process; they are then served
	// under /blobs.
	Blobs          *blob.Memory
	AvatarMaxBytes int64
	Logger         *slog.Logger
}

type Server struct {
	engine         *booking.Engine
	verifier       *auth.Verifier
	geocoder       geocode.Provider
	blobs          *blob.Memory
	avatarMaxBytes int64
	logger         *slog.Logger
	mux            *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		engine:         d.Engine,
		verifier:       d.Verifier,
		geocoder:       d.Geocoder,
		blobs:          d.Blobs,
		avatarMaxBytes: d.AvatarMaxBytes,
		logger:         d.Logger,
		mux:            mux.NewRouter(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.avatarMaxBytes <= 0 {
		s.avatarMaxBytes = 5 << 20
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.blobs != nil {
		s.mux.HandleFunc("/blobs/{bucket}/{path:.+}", s.handleBlob).Methods("GET")
	}

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/auth/signout", s.handleSignOut).Methods("POST")
	api.HandleFunc("/me", s.handleMe).Methods("GET")
	api.HandleFunc("/me/role", s.handleSelectRole).Methods("POST")
	api.HandleFunc("/me/availability", s.handleAvailability).Methods("POST")
	api.HandleFunc("/me/avatar", s.handleAvatar).Methods("POST")
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/drivers/recommended", s.handleRecommended).Methods("GET")
	api.HandleFunc("/drivers/me/summary", s.handleDriverSummary).Methods("GET")
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides", s.handleBook).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id:[0-9]+}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/pay", s.handlePay).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/rides/{id:[0-9]+}/rate", s.handleRate).Methods("POST")
	if s.geocoder != nil {
		api.HandleFunc("/geocode/reverse", s.handleReverseGeocode).Methods("GET")
		api.HandleFunc("/geocode/search", s.handleSearchPlaces).Methods("GET")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func session(r *http.Request) auth.Session {
	sess, _ := auth.FromContext(r.Context())
	return sess
}

func rideID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.verifier.SignOut(r.Context(), session(r).Token); err != nil {
		s.logger.ErrorContext(r.Context(), "signout_failed", "error", err)
		writeError(w, http.StatusBadGateway, "collaborator", "could not sign out, try again")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session(r).Profile)
}

func (s *Server) handleSelectRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role models.Role `json:"role"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := s.engine.SelectRole(r.Context(), session(r), body.Role)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Available *bool `json:"available"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Available == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "available is required", Code: "validation", Field: "available"})
		return
	}
	p, err := s.engine.SetAvailability(r.Context(), session(r), *body.Available)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	// one byte over the limit is enough for the engine to reject it
	data, err := io.ReadAll(io.LimitReader(r.Body, s.avatarMaxBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}
	p, err := s.engine.UploadAvatar(r.Context(), session(r), data)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, contentType, ok := s.blobs.Get(vars["bucket"], vars["path"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Dashboard(r.Context(), session(r))
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.engine.RecommendedDrivers(r.Context(), session(r))
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) handleDriverSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.DriverSummary(r.Context(), session(r))
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if sess.Profile.Role == models.RoleCustomer {
		rides, err := s.engine.CustomerHistory(r.Context(), sess)
		if err != nil {
			s.writeEngineError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
		return
	}
	rides, err := s.engine.ListRides(r.Context(), sess)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req booking.BookRequest
	if !decode(w, r, &req) {
		return
	}
	ride, err := s.engine.Book(r.Context(), session(r), req)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", booking.ErrRideNotFound.Error())
		return
	}
	ride, err := s.engine.Get(r.Context(), session(r), id)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.Complete)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.Pay)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.Cancel)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.transition(w, r, func(ctx context.Context, sess auth.Session, id int64) (models.Ride, error) {
		return s.engine.Rate(ctx, sess, id, body.Rating, body.Feedback)
	})
}

type transitionFunc func(ctx context.Context, s auth.Session, rideID int64) (models.Ride, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	id, ok := rideID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", booking.ErrRideNotFound.Error())
		return
	}
	ride, err := op(r.Context(), session(r), id)
	if err != nil {
		s.writeEngineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || geocode.ValidateCoordinates(lat, lon) != nil {
		writeError(w, http.StatusBadRequest, "validation", "lat and lon must be valid coordinates")
		return
	}
	addr, err := s.geocoder.ReverseGeocode(r.Context(), lat, lon)
	if err != nil {
		s.writeGeocodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *Server) handleSearchPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := s.geocoder.SearchPlaces(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeGeocodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"places": places})
}

func (s *Server) writeGeocodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrEmptyQuery), errors.Is(err, geocode.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, geocode.ErrNoResult):
		writeError(w, http.StatusNotFound, "not_found", "no address found")
	default:
		s.logger.ErrorContext(r.Context(), "geocode_failed", "error", err)
		writeError(w, http.StatusBadGateway, "collaborator", "address lookup unavailable, try again")
	}
}
