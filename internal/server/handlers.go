package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emberassist/ember/internal/interpret"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/phrasebank"
	"github.com/emberassist/ember/internal/settings"
	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

const (
	// maxJSONBody bounds JSON request bodies. Interpret requests carry
	// base64 WAV, so the limit is generous.
	maxJSONBody = 16 << 20

	// maxEnrollMemory is the in-memory budget for parsing enrollment
	// multipart uploads; larger parts spill to disk.
	maxEnrollMemory = 32 << 20
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.String("error", err.Error()))
	}
}

// decodeJSON reads the request body into v, rejecting oversized payloads.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// userParam returns the required "user" query parameter or writes a 400.
func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return "", false
	}
	return user, true
}

// ─── Interpretation ──────────────────────────────────────────────────────────

// interpretRequest is the JSON body for POST /api/v1/interpret. Exactly one
// of Text or AudioWAV must be set; AudioWAV is a base64-encoded WAV file.
type interpretRequest struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text,omitempty"`
	AudioWAV []byte `json:"audio_wav,omitempty"`
}

// interpretResponse mirrors the pipeline result.
type interpretResponse struct {
	Heard             string                `json:"heard"`
	Corrected         string                `json:"corrected"`
	CorrectionApplied bool                  `json:"correction_applied"`
	Interpretation    *types.Interpretation `json:"interpretation"`
}

// handleInterpret handles POST /api/v1/interpret.
func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	if s.deps.Interpreter == nil {
		http.Error(w, "interpretation is not configured", http.StatusServiceUnavailable)
		return
	}

	var req interpretRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasAudio := len(req.AudioWAV) > 0
	if hasText == hasAudio {
		http.Error(w, "provide exactly one of text or audio_wav", http.StatusBadRequest)
		return
	}

	var (
		res *interpret.Result
		err error
	)
	if hasAudio {
		clip, decErr := audio.DecodeWAV(req.AudioWAV)
		if decErr != nil {
			http.Error(w, "audio_wav is not a valid WAV file: "+decErr.Error(), http.StatusBadRequest)
			return
		}
		res, err = s.deps.Interpreter.Process(r.Context(), req.UserID, clip)
	} else {
		res, err = s.deps.Interpreter.ProcessText(r.Context(), req.UserID, req.Text)
	}
	if err != nil {
		if errors.Is(err, interpret.ErrNoSpeech) {
			http.Error(w, "no speech detected", http.StatusUnprocessableEntity)
			return
		}
		observe.Logger(r.Context()).Error("interpretation failed",
			"user_id", req.UserID, "error", err.Error())
		http.Error(w, "interpretation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, interpretResponse{
		Heard:             res.Heard,
		Corrected:         res.Corrected,
		CorrectionApplied: res.CorrectionApplied,
		Interpretation:    res.Interpretation,
	})
}

// ─── Speech ──────────────────────────────────────────────────────────────────

// speakRequest is the JSON body for POST /api/v1/speak.
type speakRequest struct {
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// handleSpeak handles POST /api/v1/speak: one-shot synthesis returning a
// complete WAV file.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesizer == nil {
		http.Error(w, "speech synthesis is not configured", http.StatusServiceUnavailable)
		return
	}

	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	clip, err := s.deps.Synthesizer.Speak(r.Context(), req.UserID, req.Text, req.VoiceID)
	if err != nil {
		observe.Logger(r.Context()).Error("synthesis failed",
			"user_id", req.UserID, "error", err.Error())
		http.Error(w, "synthesis failed", http.StatusBadGateway)
		return
	}

	wav := audio.EncodeWAV(clip)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	_, _ = w.Write(wav)
}

// ─── Phrase bank ─────────────────────────────────────────────────────────────

// phraseRequest is the JSON body for POST /api/v1/phrases.
type phraseRequest struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// handleListPhrases handles GET /api/v1/phrases?user=.
func (s *Server) handleListPhrases(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	phrases, err := s.deps.Phrases.List(r.Context(), user)
	if err != nil {
		http.Error(w, "failed to list phrases", http.StatusInternalServerError)
		return
	}
	if phrases == nil {
		phrases = []types.Phrase{}
	}
	writeJSON(w, http.StatusOK, phrases)
}

// handleAddPhrase handles POST /api/v1/phrases.
func (s *Server) handleAddPhrase(w http.ResponseWriter, r *http.Request) {
	var req phraseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	phrase, err := s.deps.Phrases.Add(r.Context(), req.UserID, req.Text, req.Category)
	if err != nil {
		if errors.Is(err, phrasebank.ErrEmptyPhrase) {
			http.Error(w, "text must not be empty", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to save phrase", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, phrase)
}

// handleDeletePhrase handles DELETE /api/v1/phrases/{id}?user=.
func (s *Server) handleDeletePhrase(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if err := s.deps.Phrases.Delete(r.Context(), user, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "phrase not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete phrase", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// suggestionResponse is one entry of the suggest endpoint's response.
type suggestionResponse struct {
	Phrase types.Phrase `json:"phrase"`
	Score  float64      `json:"score"`
}

// handleSuggestPhrases handles GET /api/v1/phrases/suggest?user=&q=&limit=.
func (s *Server) handleSuggestPhrases(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	suggestions, err := s.deps.Phrases.Suggest(r.Context(), user, q, limit)
	if err != nil {
		http.Error(w, "failed to compute suggestions", http.StatusInternalServerError)
		return
	}
	out := make([]suggestionResponse, 0, len(suggestions))
	for _, sg := range suggestions {
		out = append(out, suggestionResponse{Phrase: sg.Phrase, Score: sg.Score})
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Settings ────────────────────────────────────────────────────────────────

// handleGetSettings handles GET /api/v1/settings/{user}. Unknown users get
// the defaults, never a 404.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	prefs, err := s.deps.Settings.Get(r.Context(), user)
	if err != nil {
		// Get degrades to defaults; the error only reports the store state.
		observe.Logger(r.Context()).Warn("settings read degraded",
			"user_id", user, "error", err.Error())
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handlePutSettings handles PUT /api/v1/settings/{user}. The body is a
// partial patch; absent fields keep their stored values. Unknown fields are
// rejected so typos do not silently drop a preference.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var patch settings.Patch
	if err := dec.Decode(&patch); err != nil {
		http.Error(w, "invalid settings patch: "+err.Error(), http.StatusBadRequest)
		return
	}

	prefs, err := s.deps.Settings.Update(r.Context(), user, patch)
	if err != nil {
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// ─── Contacts ────────────────────────────────────────────────────────────────

// contactRequest is the JSON body for POST /api/v1/contacts.
type contactRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	PushoverKey string `json:"pushover_key,omitempty"`
	Priority    int    `json:"priority"`
}

// handleListContacts handles GET /api/v1/contacts?user=.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	contacts, err := s.deps.Contacts.List(r.Context(), user)
	if err != nil {
		http.Error(w, "failed to list contacts", http.StatusInternalServerError)
		return
	}
	if contacts == nil {
		contacts = []types.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

// handleAddContact handles POST /api/v1/contacts.
func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.Phone == "" && req.PushoverKey == "" {
		http.Error(w, "contact needs a phone number or a pushover key", http.StatusBadRequest)
		return
	}

	contact := types.Contact{
		UserID:      req.UserID,
		Name:        strings.TrimSpace(req.Name),
		Phone:       req.Phone,
		PushoverKey: req.PushoverKey,
		Priority:    req.Priority,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.deps.Contacts.Add(r.Context(), contact)
	if err != nil {
		http.Error(w, "failed to save contact", http.StatusInternalServerError)
		return
	}
	contact.ID = id
	writeJSON(w, http.StatusCreated, contact)
}

// handleDeleteContact handles DELETE /api/v1/contacts/{id}?user=.
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if err := s.deps.Contacts.Delete(r.Context(), user, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "contact not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete contact", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Voice enrollment ────────────────────────────────────────────────────────

// enrollResponse is the JSON body returned from POST /api/v1/voice/enroll.
type enrollResponse struct {
	ClonedVoiceID string    `json:"cloned_voice_id"`
	DisplayName   string    `json:"display_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// handleVoiceEnroll handles POST /api/v1/voice/enroll. The body is
// multipart/form-data with "user_id" and "display_name" fields and one or
// more "sample" file parts containing WAV recordings.
func (s *Server) handleVoiceEnroll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enroller == nil {
		http.Error(w, "voice enrollment is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(maxEnrollMemory); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	userID := r.FormValue("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	if displayName == "" {
		displayName = userID
	}

	files := r.MultipartForm.File["sample"]
	if len(files) == 0 {
		http.Error(w, "at least one sample file is required", http.StatusBadRequest)
		return
	}
	samples := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read sample %q", fh.Filename), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read sample %q", fh.Filename), http.StatusBadRequest)
			return
		}
		samples = append(samples, data)
	}

	rec, err := s.deps.Enroller.Enroll(r.Context(), userID, displayName, samples)
	if err != nil {
		if errors.Is(err, tts.ErrCloningUnsupported) {
			http.Error(w, "the configured voice provider cannot clone voices", http.StatusNotImplemented)
			return
		}
		observe.Logger(r.Context()).Error("voice enrollment failed",
			"user_id", userID, "error", err.Error())
		http.Error(w, "voice enrollment failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, enrollResponse{
		ClonedVoiceID: rec.ClonedVoiceID,
		DisplayName:   rec.DisplayName,
		CreatedAt:     rec.CreatedAt,
	})
}
