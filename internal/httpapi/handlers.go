package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"bianzi/internal/service"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("startSession decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.StartSession(req)
	if err != nil {
		h.writeServiceError(w, "startSession", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) selectOption(w http.ResponseWriter, r *http.Request) {
	var req service.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("selectOption decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.Select(req)
	if err != nil {
		h.writeServiceError(w, "selectOption", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) advanceSession(w http.ResponseWriter, r *http.Request) {
	var req service.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("advanceSession decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.Advance(req)
	if err != nil {
		h.writeServiceError(w, "advanceSession", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	var req service.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("resetSession decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.ResetSession(req)
	if err != nil {
		h.writeServiceError(w, "resetSession", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sessionSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	resp, err := h.svc.Summary(sessionID)
	if err != nil {
		h.writeServiceError(w, "sessionSummary", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) wordBank(w http.ResponseWriter, r *http.Request) {
	grade, ok := parseGrade(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Bank(grade)
	if err != nil {
		h.writeServiceError(w, "wordBank", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) regenerateBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grade int `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("regenerateBank decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.RegenerateBank(req.Grade)
	if err != nil {
		// The settings panel shows this message verbatim, so the raw
		// upstream error is passed through here.
		h.writeServiceError(w, "regenerateBank", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bank": resp,
		"sync": h.svc.SyncStatus(),
	})
}

func (h *Handler) resetBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grade int `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("resetBank decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.ResetBank(req.Grade)
	if err != nil {
		h.writeServiceError(w, "resetBank", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) syncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SyncStatus())
}

func (h *Handler) wordImage(w http.ResponseWriter, r *http.Request) {
	grade, ok := parseGrade(w, r)
	if !ok {
		return
	}
	word := strings.TrimSpace(r.URL.Query().Get("word"))

	image, err := h.svc.ImageForWord(grade, word)
	if err != nil {
		h.writeServiceError(w, "wordImage", err)
		return
	}
	w.Header().Set("Content-Type", image.MIME)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image.Data)
}

func (h *Handler) shareImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grade int    `json:"grade"`
		Word  string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("shareImage decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	url, err := h.svc.ShareImage(req.Grade, req.Word)
	if err != nil {
		h.writeServiceError(w, "shareImage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) voiceSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.VoiceSettingsView())
}

func (h *Handler) setVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voice string `json:"voice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("setVoice decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.SetVoice(req.Voice)
	if err != nil {
		h.writeServiceError(w, "setVoice", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) speak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("speak decode error: %v", err)
		writeError(w, http.StatusBadRequest, "请求体格式不正确")
		return
	}

	resp, err := h.svc.Speak(req.Text)
	if err != nil {
		h.writeServiceError(w, "speak", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidGrade),
		errors.Is(err, service.ErrOptionNotOffered),
		errors.Is(err, service.ErrNotInFeedback),
		errors.Is(err, service.ErrWordRequired),
		errors.Is(err, service.ErrTextRequired),
		errors.Is(err, service.ErrVoiceUnknown):
		log.Printf("%s bad request: err=%v", op, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		log.Printf("%s not found: err=%v", op, err)
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSyncRunning):
		log.Printf("%s conflict: err=%v", op, err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBankGenerate):
		log.Printf("%s upstream failure: err=%v", op, err)
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, service.ErrLLMUnavailable), errors.Is(err, service.ErrBankEmpty):
		log.Printf("%s unavailable: err=%v", op, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("%s internal error: err=%v", op, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseGrade(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("grade"))
	grade, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "grade 必须是数字")
		return 0, false
	}
	return grade, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
