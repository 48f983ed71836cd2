package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// handleListSpeakers returns every known speaker, sorted by identity.
func (s *Server) handleListSpeakers(w http.ResponseWriter, _ *http.Request) {
	speakers := s.control.ListSpeakers()
	writeJSON(w, http.StatusOK, map[string]any{
		"speakers": speakers,
		"count":    len(speakers),
	})
}

// handleGetSpeaker returns the snapshot for one speaker.
func (s *Server) handleGetSpeaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sp, err := s.control.GetSpeaker(id)
	if err != nil {
		if errors.Is(err, speaker.ErrUnknownSpeaker) {
			writeNotFound(w, "unknown speaker: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

// handleForgetSpeaker retires a speaker without waiting for discovery.
func (s *Server) handleForgetSpeaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.control.Forget(id); err != nil {
		if errors.Is(err, speaker.ErrUnknownSpeaker) {
			writeNotFound(w, "unknown speaker: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand issues a control command against one speaker.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd kef.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid command payload: "+err.Error())
		return
	}
	if err := validateCommand(cmd); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	err := s.control.IssueCommand(r.Context(), id, cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"identity": id,
			"command":  string(cmd.Type),
			"status":   "accepted",
		})
	case errors.Is(err, speaker.ErrUnknownSpeaker):
		writeNotFound(w, "unknown speaker: "+id)
	case errors.Is(err, kef.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, kef.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, kef.ErrConnectFailed), errors.Is(err, kef.ErrConnectionReset),
		errors.Is(err, kef.ErrHTTPStatus), errors.Is(err, kef.ErrSessionClosed):
		writeError(w, http.StatusBadGateway, ErrCodeGateway, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// validateCommand rejects commands the device could never act on before
// any network exchange happens.
func validateCommand(cmd kef.Command) error {
	switch cmd.Type {
	case kef.CmdSetPower:
		if cmd.Power != kef.PowerOn && cmd.Power != kef.PowerStandby {
			return errors.New("power must be \"on\" or \"standby\"")
		}
	case kef.CmdSetSource:
		switch cmd.Source {
		case kef.SourceWifi, kef.SourceBluetooth, kef.SourceUsb, kef.SourceOptical, kef.SourceTV:
		default:
			return errors.New("unrecognised source: " + string(cmd.Source))
		}
	case kef.CmdSetVolume:
		if cmd.Volume < 0 || cmd.Volume > 100 {
			return errors.New("volume must be between 0 and 100")
		}
	case kef.CmdToggleMute:
	default:
		return errors.New("unrecognised command type: " + string(cmd.Type))
	}
	return nil
}
