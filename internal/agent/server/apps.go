package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/funai-studio/runtime-agent/internal/agent/audit"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

const (
	statusDeployed       = "DEPLOYED"
	statusFailed         = "FAILED"
	statusStopped        = "STOPPED"
	statusAlreadyStopped = "ALREADY_STOPPED"

	maxBodyBytes = 1 << 20
	actor        = "orchestrator"
)

type deployRequest struct {
	UserID        string `json:"userId"`
	AppID         string `json:"appId"`
	Image         string `json:"image"`
	ContainerPort *int   `json:"containerPort"`
	BasePath      string `json:"basePath"`
}

type deployResponse struct {
	AppID         string   `json:"appId"`
	ContainerName string   `json:"containerName"`
	ContainerID   string   `json:"containerId,omitempty"`
	Status        string   `json:"status"`
	State         string   `json:"state"`
	Replaced      bool     `json:"replaced"`
	Warnings      []string `json:"warnings,omitempty"`
}

type deployFailure struct {
	AppID      string `json:"appId"`
	Status     string `json:"status"`
	Code       string `json:"code"`
	Error      string `json:"error"`
	RolledBack bool   `json:"rolledBack,omitempty"`
}

type stopRequest struct {
	UserID string `json:"userId"`
	AppID  string `json:"appId"`
}

type stopResponse struct {
	AppID         string `json:"appId"`
	ContainerName string `json:"containerName"`
	Status        string `json:"status"`
}

type statusResponse struct {
	AppID         string `json:"appId"`
	ContainerName string `json:"containerName"`
	State         string `json:"state"`
	Exists        bool   `json:"exists"`
	Running       bool   `json:"running"`
	Image         string `json:"image,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeBody reads a JSON request body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (req deployRequest) validate() (int, error) {
	if req.UserID == "" || req.AppID == "" || req.Image == "" {
		return 0, errors.New("userId, appId and image are required")
	}
	port := 0
	if req.ContainerPort != nil {
		port = *req.ContainerPort
		if port < 1 || port > 65535 {
			return 0, fmt.Errorf("containerPort %d out of range 1-65535", port)
		}
	}
	if req.BasePath != "" && req.BasePath != runtime.RoutePrefix(req.AppID) {
		return 0, fmt.Errorf("basePath must be %s", runtime.RoutePrefix(req.AppID))
	}
	return port, nil
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	port, err := req.validate()
	if err != nil {
		s.failDeploy(ctx, w, req.AppID, &runtime.DeployError{AppID: req.AppID, Step: runtime.StepValidate, Err: err})
		return
	}

	res, err := s.opts.Lifecycle.Deploy(ctx, runtime.DeployRequest{
		AppID:  req.AppID,
		UserID: req.UserID,
		Image:  req.Image,
		Port:   port,
	})
	if err != nil {
		s.failDeploy(ctx, w, req.AppID, err)
		return
	}

	s.opts.Recorder.Record(ctx, audit.Outcome{
		Action: "app.deploy",
		Actor:  actor,
		AppID:  req.AppID,
		Result: store.ResultSuccess,
		Payload: map[string]any{
			"user_id":  req.UserID,
			"image":    req.Image,
			"replaced": res.Replaced,
		},
		Notify:  true,
		Kind:    audit.KindAppDeployed,
		Message: fmt.Sprintf("deployed %s as %s", req.Image, res.ContainerName),
	})

	if s.opts.AfterDeploy != nil {
		go s.opts.AfterDeploy(context.WithoutCancel(ctx))
	}

	writeJSON(w, http.StatusOK, deployResponse{
		AppID:         res.AppID,
		ContainerName: res.ContainerName,
		ContainerID:   res.ContainerID,
		Status:        statusDeployed,
		State:         string(res.State),
		Replaced:      res.Replaced,
		Warnings:      res.Warnings,
	})
}

func (s *Server) failDeploy(ctx context.Context, w http.ResponseWriter, appID string, err error) {
	body := deployFailure{AppID: appID, Status: statusFailed, Code: "deploy-failed", Error: err.Error()}
	code := http.StatusInternalServerError

	var de *runtime.DeployError
	switch {
	case errors.As(err, &de):
		body.Code = de.Code()
		body.RolledBack = de.RolledBack
		switch de.Step {
		case runtime.StepValidate:
			code = http.StatusBadRequest
		case runtime.StepPull:
			code = http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
		body.Code = "busy"
	}

	slog.Warn("deploy failed", "app_id", appID, "code", body.Code, "err", err)
	s.opts.Recorder.Record(ctx, audit.Outcome{
		Action:  "app.deploy",
		Actor:   actor,
		AppID:   appID,
		Result:  store.ResultError,
		Payload: map[string]any{"code": body.Code, "rolled_back": body.RolledBack},
		Err:     err,
		Notify:  code != http.StatusBadRequest,
		Kind:    audit.KindAppDeployFailed,
		Message: err.Error(),
	})
	writeJSON(w, code, body)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := runtime.ValidateAppID(req.AppID); err != nil {
		writeError(w, http.StatusBadRequest, "validate-failed", err.Error())
		return
	}
	ctx := r.Context()

	res, err := s.opts.Lifecycle.Stop(ctx, req.AppID)
	if err != nil {
		slog.Error("stop failed", "app_id", req.AppID, "err", err)
		s.opts.Recorder.Record(ctx, audit.Outcome{
			Action:  "app.stop",
			Actor:   actor,
			AppID:   req.AppID,
			Result:  store.ResultError,
			Err:     err,
			Notify:  true,
			Kind:    audit.KindError,
			Message: "stop failed: " + err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "stop-failed", err.Error())
		return
	}

	status, result := statusStopped, store.ResultSuccess
	if res.AlreadyStopped {
		status, result = statusAlreadyStopped, store.ResultNoop
	}
	s.opts.Recorder.Record(ctx, audit.Outcome{
		Action:  "app.stop",
		Actor:   actor,
		AppID:   req.AppID,
		Result:  result,
		Payload: map[string]any{"user_id": req.UserID},
		Notify:  !res.AlreadyStopped,
		Kind:    audit.KindAppStopped,
		Message: "stopped " + res.ContainerName,
	})
	writeJSON(w, http.StatusOK, stopResponse{
		AppID:         req.AppID,
		ContainerName: res.ContainerName,
		Status:        status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("appId")
	if err := runtime.ValidateAppID(appID); err != nil {
		writeError(w, http.StatusBadRequest, "validate-failed", err.Error())
		return
	}
	st, err := s.opts.Lifecycle.Status(r.Context(), appID)
	if err != nil {
		slog.Error("status failed", "app_id", appID, "err", err)
		writeError(w, http.StatusInternalServerError, "status-failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		AppID:         appID,
		ContainerName: st.ContainerName,
		State:         string(st.State),
		Exists:        st.Exists(),
		Running:       st.State == runtime.StateRunning,
		Image:         st.Image,
	})
}
