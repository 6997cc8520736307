package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/gorilla/mux"
)

// DayResponse is the body of GET /api/v1/days/{date}.
type DayResponse struct {
	Date  string           `json:"date"`
	Slots []model.SlotView `json:"slots"`
}

// ReserveRequest is the body of POST .../reservation.
type ReserveRequest struct {
	Service string `json:"service"`
}

// ComboResponse holds both halves of a combo booking.
type ComboResponse struct {
	Reservations []model.Reservation `json:"reservations"`
}

func (s *Server) handleGetDay(w http.ResponseWriter, r *http.Request) {
	date, err := s.pathDate(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	views, err := s.days.ListDay(r.Context(), date)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DayResponse{Date: date, Slots: views})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	var req ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	res, err := s.reservations.Reserve(r.Context(), actor, date, index, req.Service)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleReserveCombo(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	first, second, err := s.reservations.ReserveCombo(r.Context(), actor, date, index)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ComboResponse{Reservations: []model.Reservation{first, second}})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	acceptFee := false
	if v := r.URL.Query().Get("acceptFee"); v != "" {
		if acceptFee, err = strconv.ParseBool(v); err != nil {
			s.writeEngineError(w, r, fmt.Errorf("%w: acceptFee must be true or false", model.ErrInvalidInput))
			return
		}
	}

	out, err := s.reservations.Cancel(r.Context(), actor, date, index, acceptFee)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	list, err := s.reservations.ListUserReservations(r.Context(), actor.ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// pathDate validates the {date} variable in the shop's time zone and
// returns it in canonical form, the key days are stored under.
func (s *Server) pathDate(r *http.Request) (string, error) {
	day, err := model.ParseDate(mux.Vars(r)["date"], s.days.Location())
	if err != nil {
		return "", err
	}
	return model.FormatDate(day), nil
}

func (s *Server) pathSlot(r *http.Request) (string, int, error) {
	date, err := s.pathDate(r)
	if err != nil {
		return "", 0, err
	}
	raw := mux.Vars(r)["index"]
	index, err := strconv.Atoi(raw)
	if err != nil || !model.ValidIndex(index) {
		return "", 0, fmt.Errorf("%w: got %q", model.ErrInvalidIndex, raw)
	}
	return date, index, nil
}

// decodeJSON reads an optional JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body", model.ErrInvalidInput)
	}
	return nil
}
