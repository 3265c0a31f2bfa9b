// Package httpapi exposes the controller's command surface over HTTP
// for the external UI.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/blackfin-labs/arpcut/internal/controller"
	"github.com/blackfin-labs/arpcut/internal/registry"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Quitter is invoked by the /quit handler after the response has been
// flushed and recover_all has completed. In production it stops the
// HTTP server and exits the process; tests substitute a no-op.
type Quitter func()

// Server adapts a Controller to the HTTP command surface.
type Server struct {
	ctrl  *controller.Controller
	log   *zap.Logger
	quit  Quitter
}

// NewServer constructs a Server. quit is called at the end of the
// /quit handler, after recover_all has completed.
func NewServer(ctrl *controller.Controller, log *zap.Logger, quit Quitter) *Server {
	return &Server{ctrl: ctrl, log: log, quit: quit}
}

// Router builds the gorilla/mux router exposing the command surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/get_targets", s.handleGetTargets).Methods(http.MethodGet)
	r.HandleFunc("/get_status/{ip}", s.handleGetStatus).Methods(http.MethodGet)
	r.HandleFunc("/action/{ip}", s.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/quit", s.handleQuit).Methods(http.MethodPost)
	r.HandleFunc("/get_info", s.handleGetInfo).Methods(http.MethodGet)
	r.HandleFunc("/set_info", s.handleSetInfo).Methods(http.MethodPost)
	return r
}

// corsMiddleware attaches the Access-Control-Allow-Origin header every
// response must carry.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type targetRow struct {
	IP     string `json:"IP Address"`
	MAC    string `json:"MAC Address"`
	Status string `json:"Status"`
}

func rowStatus(s registry.Status) string {
	if s == registry.Cut {
		return "Cut"
	}
	return "Normal"
}

func (s *Server) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ScanTargets(r.Context()); err != nil {
		s.log.Error("scan failed", zap.Error(err))
	}
	hosts := s.ctrl.GetTargets()
	rows := make([]targetRow, 0, len(hosts))
	for _, h := range hosts {
		rows = append(rows, targetRow{IP: h.IP.String(), MAC: h.MAC.String(), Status: rowStatus(h.Status)})
	}
	writeJSON(w, http.StatusOK, rows)
}

type statusResp struct {
	Target string `json:"Target"`
	Status string `json:"Status"`
}

func parseIP(w http.ResponseWriter, raw string) (net.IP, bool) {
	ip := net.ParseIP(raw)
	if ip == nil || ip.To4() == nil {
		writeJSON(w, http.StatusBadRequest, statusResp{Target: raw, Status: "Target Not Found"})
		return nil, false
	}
	return ip.To4(), true
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["ip"]
	ip, ok := parseIP(w, raw)
	if !ok {
		return
	}
	if err := s.ctrl.ScanTargets(r.Context()); err != nil {
		s.log.Error("scan failed", zap.Error(err))
	}
	host := s.ctrl.GetHost(ip)
	if host.Status == registry.NotExist {
		writeJSON(w, http.StatusNotFound, statusResp{Target: raw, Status: "Target Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Target: raw, Status: rowStatus(host.Status)})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["ip"]
	ip, ok := parseIP(w, raw)
	if !ok {
		return
	}

	status, err := s.ctrl.Action(ip)
	if err != nil {
		if errors.Is(err, controller.ErrNoInterface) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.log.Error("action failed", zap.String("ip", raw), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch status {
	case controller.TargetNotFound:
		writeJSON(w, http.StatusNotFound, statusResp{Target: raw, Status: "Target Not Found"})
	case controller.CutSuccess:
		writeJSON(w, http.StatusOK, statusResp{Target: raw, Status: "Cut"})
	case controller.RecoverSuccess:
		writeJSON(w, http.StatusOK, statusResp{Target: raw, Status: "Recovered"})
	}
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	go func() {
		s.ctrl.RecoverAll()
		if s.quit != nil {
			s.quit()
		}
	}()
}

type infoResp struct {
	Atk string `json:"atk"`
	Def string `json:"def"`
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResp{
		Atk: strconv.Itoa(s.ctrl.GetAtk()),
		Def: strconv.Itoa(s.ctrl.GetDef()),
	})
}

func (s *Server) handleSetInfo(w http.ResponseWriter, r *http.Request) {
	var req infoResp
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, controller.ErrMalformedRequest.Error(), http.StatusBadRequest)
		return
	}
	atk, err := strconv.Atoi(req.Atk)
	if err != nil {
		http.Error(w, controller.ErrMalformedRequest.Error(), http.StatusBadRequest)
		return
	}
	def, err := strconv.Atoi(req.Def)
	if err != nil {
		http.Error(w, controller.ErrMalformedRequest.Error(), http.StatusBadRequest)
		return
	}
	s.ctrl.SetAtk(atk)
	s.ctrl.SetDef(def)
	writeJSON(w, http.StatusOK, req)
}
