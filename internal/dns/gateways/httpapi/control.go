package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/services/controller"
)

// ControlService is the lifecycle the control surface drives.
// *controller.Controller satisfies it.
type ControlService interface {
	Start(httpAddr, udpBind string) controller.Status
	Stop() controller.Status
	State() controller.State
	Snapshot() controller.Snapshot
}

// ControlOptions configures the control surface.
type ControlOptions struct {
	Service ControlService
	// Validator must have the bind_addr tag registered; see config.NewValidator.
	Validator *validator.Validate
	// DefaultHTTPAddr and DefaultUDPBind fill fields a start request omits.
	DefaultHTTPAddr string
	DefaultUDPBind  string
	Logger          log.Logger
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	HTTPAddr string `json:"http_addr" validate:"required,bind_addr"`
	UDPBind  string `json:"udp_bind" validate:"required,bind_addr"`
}

// ControlResponse is the body of every /start and /stop response.
type ControlResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

type controlHandler struct {
	svc      ControlService
	validate *validator.Validate
	defaults StartRequest
	logger   log.Logger
}

// NewControlHandler routes POST /start, POST /stop and GET /status.
func NewControlHandler(opts ControlOptions) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("control handler requires a service")
	}
	if opts.Validator == nil {
		return nil, errors.New("control handler requires a validator")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h := &controlHandler{
		svc:      opts.Service,
		validate: opts.Validator,
		defaults: StartRequest{HTTPAddr: opts.DefaultHTTPAddr, UDPBind: opts.DefaultUDPBind},
		logger:   opts.Logger.With(map[string]any{"component": "control"}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", h.start)
	mux.HandleFunc("POST /stop", h.stop)
	mux.HandleFunc("GET /status", h.status)
	return mux, nil
}

func (h *controlHandler) start(w http.ResponseWriter, r *http.Request) {
	req := h.defaults
	err := decodeRequest(w, r, &req, map[string]func(string){
		"http_addr": func(v string) { req.HTTPAddr = v },
		"udp_bind":  func(v string) { req.UDPBind = v },
	})
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.logger.Warn(map[string]any{"http_addr": req.HTTPAddr, "udp_bind": req.UDPBind, "error": err.Error()}, "Rejected start request")
		h.respond(w, controller.StatusInvalidAddress)
		return
	}
	h.respond(w, h.svc.Start(req.HTTPAddr, req.UDPBind))
}

func (h *controlHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.Stop())
}

func (h *controlHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.svc.Snapshot())
}

func (h *controlHandler) respond(w http.ResponseWriter, st controller.Status) {
	writeJSON(w, h.logger, st.HTTPStatus(), ControlResponse{
		Status: st.String(),
		State:  h.svc.State().String(),
	})
}
