package adminhttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/bavix/btscan/internal/auth"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/metrics"
	"github.com/bavix/btscan/internal/session"
	"github.com/bavix/btscan/internal/version"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
}

type statusResponse struct {
	Backend  string `json:"backend"`
	Enabled  bool   `json:"enabled"`
	Scanning bool   `json:"scanning"`
	Devices  int    `json:"devices"`
	Clients  int    `json:"ws_clients"`
	Error    string `json:"error,omitempty"`
}

type scanResponse struct {
	Outcome session.ScanOutcome `json:"outcome"`
	Message string              `json:"message,omitempty"`
}

type actionResponse struct {
	Action  session.Action `json:"action"`
	Address string         `json:"address"`
}

type serverInfoDTO struct {
	version.Info

	Backend string `json:"backend"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, devices.Views(s.ctl.Snapshot()))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	rec, found := s.ctl.Lookup(address)
	if !found {
		writeError(w, r, customerrors.ErrDeviceNotFoundWithAddress(address))

		return
	}

	render.JSON(w, r, rec.View())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	action, err := s.ctl.SelectDevice(r.Context(), address, confirmed(r))
	if err != nil {
		if errors.Is(err, customerrors.ErrConfirmationRequired) {
			render.Status(r, http.StatusPreconditionRequired)
			render.JSON(w, r, errorResponse{Error: err.Error(), Message: session.TextUnbondConfirm, Action: string(action)})

			return
		}

		writeError(w, r, err)

		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, actionResponse{Action: action, Address: address})
}

func (s *Server) handleBond(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	if err := s.ctl.RequestBond(r.Context(), address); err != nil {
		writeError(w, r, err)

		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, actionResponse{Action: session.ActionBond, Address: address})
}

func (s *Server) handleUnbond(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	if !confirmed(r) {
		render.Status(r, http.StatusPreconditionRequired)
		render.JSON(w, r, errorResponse{
			Error:   customerrors.ErrConfirmationRequired.Error(),
			Message: session.TextUnbondConfirm,
			Action:  string(session.ActionUnbond),
		})

		return
	}

	if err := s.ctl.RequestUnbond(r.Context(), address); err != nil {
		writeError(w, r, err)

		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("address", address).
		Str("subject", auth.Subject(r.Context())).
		Msg("unbond requested over http")

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, actionResponse{Action: session.ActionUnbond, Address: address})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.ctl.Scan(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	resp := scanResponse{Outcome: outcome}
	if outcome == session.ScanEnabled {
		resp.Message = session.TextEnabled
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Backend:  s.backend,
		Scanning: s.ctl.Scanning(),
		Devices:  len(s.ctl.Snapshot()),
		Clients:  s.hub.Clients(),
	}

	enabled, err := s.ctl.Enabled(r.Context())
	if err != nil {
		resp.Error = err.Error()
	}

	resp.Enabled = enabled

	render.JSON(w, r, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := metrics.GatherStats(metrics.Service())
	if err != nil {
		writeError(w, r, err)

		return
	}

	render.JSON(w, r, stats)
}

// handleHealth provides health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !metrics.IsReady() {
		status = "starting"
	}

	render.JSON(w, r, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	info.Version = s.version
	info.BuildTime = s.buildTime

	render.JSON(w, r, serverInfoDTO{
		Info:    info,
		Backend: s.backend,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func addressParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := devices.NormalizeAddress(mux.Vars(r)["address"])
	if err := devices.ValidateAddress(address); err != nil {
		writeError(w, r, err)

		return "", false
	}

	return address, true
}

func confirmed(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("confirm"))

	return err == nil && v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, customerrors.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, customerrors.ErrDeviceAddressRequired),
		errors.Is(err, customerrors.ErrMACAddressInvalid):
		return http.StatusBadRequest
	case errors.Is(err, customerrors.ErrPreconditionViolation):
		return http.StatusConflict
	case errors.Is(err, customerrors.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, customerrors.ErrEnableRequestDeclined),
		errors.Is(err, customerrors.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
