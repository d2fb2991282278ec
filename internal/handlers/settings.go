package handlers

import (
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"autoclipper/internal/httpx"
	"autoclipper/internal/logx"
	"autoclipper/internal/settings"
	"autoclipper/internal/telemetry"
)

type settingsResponse struct {
	Values map[string]string `json:"values"`
}

type settingsUpdateRequest struct {
	Values map[string]any `json:"values"`
}

type apiKeyRequest struct {
	Provider string `json:"provider" validate:"required,oneof=openrouter openai"`
	APIKey   string `json:"api_key" validate:"required,min=8"`
}

func (s *Server) getSettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := s.Settings.All(r.Context())
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		respondJSON(w, http.StatusOK, settingsResponse{Values: values})
	}
}

func (s *Server) updateSettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowWrite(w, r) {
			return
		}
		var req settingsUpdateRequest
		if herr := decodeJSON(r, &req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		if len(req.Values) == 0 {
			httpx.Write(w, r, httpx.BadRequest("no settings provided"))
			return
		}
		var unknown []string
		flat := make(map[string]string, len(req.Values))
		for key, value := range req.Values {
			if !settings.KnownKey(key) {
				unknown = append(unknown, key)
				continue
			}
			flat[key] = stringifySetting(value)
		}
		if len(unknown) > 0 {
			httpx.Write(w, r, httpx.BadRequest(fmt.Sprintf("unsupported settings keys: %s", strings.Join(unknown, ", "))))
			return
		}
		if err := s.Settings.SetMany(r.Context(), flat); err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		values, err := s.Settings.All(r.Context())
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		respondJSON(w, http.StatusOK, settingsResponse{Values: values})
	}
}

func (s *Server) setAPIKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowWrite(w, r) {
			return
		}
		var req apiKeyRequest
		if herr := decodeJSON(r, &req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		if herr := validatePayload(&req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}

		encrypted, err := s.Keys.EncryptString(req.APIKey)
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		settingKey := "ENCRYPTED_" + strings.ToUpper(req.Provider)
		if err := s.Settings.Set(r.Context(), settingKey, encrypted); err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		if err := s.Secrets.Set(r.Context(), "apikey."+req.Provider, []byte(req.APIKey)); err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		telemetry.Event("api_key_updated", map[string]string{
			"provider": req.Provider,
			"key":      logx.Secret(req.APIKey),
		})
		respondJSON(w, http.StatusOK, map[string]string{"message": req.Provider + " API key updated"})
	}
}

func stringifySetting(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
