package apiserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

// commandEnvelope is the POST /commands request body: a type tag plus
// whatever fields that command needs.
type commandEnvelope struct {
	Type string `json:"type"`

	DeviceID  string  `json:"deviceId,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	Enabled   bool    `json:"enabled,omitempty"`
	Name      string  `json:"name,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Immediate bool    `json:"immediate,omitempty"`

	Sequence   *types.SequenceDefinition `json:"sequence,omitempty"`
	SequenceID string                    `json:"sequenceId,omitempty"`

	Parameter   string            `json:"parameter,omitempty"`
	RepeatMode  types.RepeatMode  `json:"repeatMode,omitempty"`
	RepeatCount int               `json:"repeatCount,omitempty"`

	Script   *types.TriggerScript `json:"script,omitempty"`
	ScriptID string               `json:"scriptId,omitempty"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// handleCommands dispatches every client→server command in the §6 catalog.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd commandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, labberr.Precondition("decode", "", "malformed command body"))
		return
	}

	ctx := r.Context()

	switch cmd.Type {
	case "getDevices":
		s.sessions.GetDevices()
		writeOK(w)

	case "scan":
		if err := s.sessions.Scan(ctx); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "subscribe":
		sess, err := s.sessions.GetSession(cmd.DeviceID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		sess.Subscribe(clientID(r))
		writeOK(w)

	case "unsubscribe":
		sess, err := s.sessions.GetSession(cmd.DeviceID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		sess.Unsubscribe(clientID(r))
		writeOK(w)

	case "setMode":
		s.withSession(w, cmd.DeviceID, func(do sessionDoer) error { return do.SetMode(ctx, cmd.Mode) })

	case "setOutput":
		s.withSession(w, cmd.DeviceID, func(do sessionDoer) error { return do.SetOutput(ctx, cmd.Enabled) })

	case "setValue":
		s.withSession(w, cmd.DeviceID, func(do sessionDoer) error {
			return do.SetValue(ctx, cmd.Name, cmd.Value, cmd.Immediate)
		})

	case "sequenceLibraryList":
		defs, err := s.seqMgr.List()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]types.SequenceDefinition{"sequences": defs})

	case "sequenceLibrarySave":
		if cmd.Sequence == nil {
			writeError(w, http.StatusBadRequest, labberr.Precondition("sequenceLibrarySave", "", "missing sequence"))
			return
		}
		id, err := s.seqMgr.Save(*cmd.Sequence)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	case "sequenceLibraryUpdate":
		if cmd.Sequence == nil {
			writeError(w, http.StatusBadRequest, labberr.Precondition("sequenceLibraryUpdate", "", "missing sequence"))
			return
		}
		updated := *cmd.Sequence
		if err := s.seqMgr.Update(updated.ID, func(types.SequenceDefinition) (types.SequenceDefinition, error) {
			return updated, nil
		}); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "sequenceLibraryDelete":
		if err := s.seqMgr.Delete(cmd.SequenceID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "sequenceRun":
		state, err := s.seqMgr.Run(ctx, types.SequenceRunConfig{
			SequenceID:  cmd.SequenceID,
			DeviceID:    cmd.DeviceID,
			Parameter:   cmd.Parameter,
			RepeatMode:  cmd.RepeatMode,
			RepeatCount: cmd.RepeatCount,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case "sequenceAbort":
		if err := s.seqMgr.Abort(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "sequencePause":
		if err := s.seqMgr.Pause(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "sequenceResume":
		if err := s.seqMgr.Resume(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "triggerScriptLibraryList":
		scripts, err := s.trigMgr.List()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]types.TriggerScript{"scripts": scripts})

	case "triggerScriptLibrarySave":
		if cmd.Script == nil {
			writeError(w, http.StatusBadRequest, labberr.Precondition("triggerScriptLibrarySave", "", "missing script"))
			return
		}
		id, err := s.trigMgr.Save(*cmd.Script)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	case "triggerScriptLibraryUpdate":
		if cmd.Script == nil {
			writeError(w, http.StatusBadRequest, labberr.Precondition("triggerScriptLibraryUpdate", "", "missing script"))
			return
		}
		updated := *cmd.Script
		if err := s.trigMgr.Update(updated.ID, func(types.TriggerScript) (types.TriggerScript, error) {
			return updated, nil
		}); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "triggerScriptLibraryDelete":
		if err := s.trigMgr.Delete(cmd.ScriptID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "triggerScriptRun":
		state, err := s.trigMgr.Start(ctx, cmd.ScriptID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case "triggerScriptStop":
		if err := s.trigMgr.Stop(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "triggerScriptPause":
		if err := s.trigMgr.Pause(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	case "triggerScriptResume":
		if err := s.trigMgr.Resume(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeOK(w)

	default:
		writeError(w, http.StatusBadRequest, labberr.Precondition("command", cmd.Type, "unknown command type"))
	}
}

// sessionDoer is the subset of devicesession.Session's command surface the
// command dispatcher needs; defined here so withSession doesn't have to
// import devicesession just to name the concrete type.
type sessionDoer interface {
	SetMode(ctx context.Context, name string) error
	SetOutput(ctx context.Context, enabled bool) error
	SetValue(ctx context.Context, name string, value float64, immediate bool) error
}

func (s *Server) withSession(w http.ResponseWriter, deviceID string, fn func(sessionDoer) error) {
	sess, err := s.sessions.GetSession(deviceID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := fn(sess); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeOK(w)
}

func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func statusFor(err error) int {
	switch {
	case labberr.IsNotFound(err):
		return http.StatusNotFound
	case labberr.IsPrecondition(err):
		return http.StatusBadRequest
	case labberr.IsState(err):
		return http.StatusConflict
	case labberr.IsPersistence(err):
		return http.StatusInternalServerError
	case labberr.IsTransport(err), labberr.IsProtocol(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Message: err.Error()}
	if e := labberr.As(err); e != nil {
		resp.Code = e.Kind.String()
		resp.Retryable = e.Kind == labberr.KindTransport
	} else {
		resp.Code = "internal"
	}
	writeJSON(w, status, resp)
}
