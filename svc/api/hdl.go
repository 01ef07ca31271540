package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"rujukan/cfg"
	"rujukan/pkg/domain"
	"rujukan/svc/svc"
	"rujukan/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

// JSON escaping can more than double the encoded size of some content.
const jsonOverhead = 4096

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}
type CreateReq struct {
	Content    string `json:"content"`
	Title      string `json:"title,omitempty"`
	Expiration string `json:"expiration,omitempty"`
}
type CreateResp struct {
	ID          string     `json:"id"`
	DeleteToken string     `json:"delete_token"`
	URL         string     `json:"url"`
	ExpiresAt   *time.Time `json:"expires_at"`
}
type PasteResp struct {
	*domain.Paste
	DeleteToken string `json:"delete_token,omitempty"`
}
type ExpirationsResp struct {
	Default     string              `json:"default"`
	Expirations []domain.Expiration `json:"expirations"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}
	limit := h.cfg.MaxPasteSize*2 + jsonOverhead
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		case err == io.EOF:
			log.Warn().Msg("empty request body")
		default:
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	expiration, ok := domain.LookupExpiration(expirationKey(req.Expiration))
	if !ok && req.Expiration != "" {
		log.Debug().Str("expiration", req.Expiration).Msg("unknown expiration, using default")
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Content:    req.Content,
		Title:      sanitizeTitle(req.Title),
		Expiration: expiration,
	})
	if err != nil {
		if domain.Status(err) < http.StatusInternalServerError {
			log.Warn().Err(err).Msg("paste rejected")
		} else {
			log.Error().Err(err).Msg("failed to create paste")
		}
		writeErr(w, err, requestID)
		return
	}
	h.paste.Stash(r.Context(), util.GetSessionID(r.Context()), paste)
	w.Header().Set("Location", h.pasteURL(paste.ID))
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:          paste.ID,
		DeleteToken: paste.DeleteToken,
		URL:         h.pasteURL(paste.ID),
		ExpiresAt:   paste.ExpiresAt,
	})
}
func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		limit = n
	}
	out, err := h.paste.Recent(r.Context(), limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list recent failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(out)
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, token, err := h.paste.View(r.Context(), util.GetSessionID(r.Context()), id)
	if err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		}
		writeErr(w, err, requestID)
		return
	}
	if token != "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	log.Debug().Str("paste_id", id).Bool("token_revealed", token != "").Msg("paste retrieved")
	json.NewEncoder(w).Encode(PasteResp{Paste: paste, DeleteToken: token})
}
func (h *Hdl) RawPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			hlog.FromRequest(r).Error().Err(err).Str("paste_id", id).Msg("raw get failed")
		}
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, paste.Content)
}

// RevealToken lets a creator hand a delete link to another browser: the
// token is stashed for this session and shown on the next view.
func (h *Hdl) RevealToken(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	token := chi.URLParam(r, "token")
	err := h.paste.RememberToken(r.Context(), util.GetSessionID(r.Context()), id, token)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	http.Redirect(w, r, "/pastes/"+id, http.StatusSeeOther)
}
func (h *Hdl) DeletePasteLink(w http.ResponseWriter, r *http.Request) {
	h.deletePaste(w, r, chi.URLParam(r, "token"))
}
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	h.deletePaste(w, r, r.Header.Get("X-Delete-Token"))
}
func (h *Hdl) deletePaste(w http.ResponseWriter, r *http.Request, token string) {
	id := chi.URLParam(r, "id")
	requestID := util.GetRequestID(r.Context())
	if err := h.paste.Delete(r.Context(), util.GetSessionID(r.Context()), id, token); err != nil {
		if !errors.Is(err, domain.ErrDeleteFailed) {
			hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("failed to delete paste")
		}
		writeErr(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}
func (h *Hdl) GetExpirations(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(ExpirationsResp{
		Default:     domain.DefaultExpirationKey,
		Expirations: domain.Expirations,
	})
}
func (h *Hdl) pasteURL(id string) string {
	if h.cfg.BaseURL != "" {
		return h.cfg.BaseURL + "/pastes/" + id
	}
	return "/pastes/" + id
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 && statusCode != http.StatusServiceUnavailable {
		errorMsg = domain.ErrInternalServer.Msg
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

// sanitizeTitle drops invalid UTF-8 and control characters and trims
// surrounding space. Anything else, markup included, is kept as typed.
func sanitizeTitle(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// expirationKey folds compatibility forms (fullwidth digits and letters) and
// case so "１Ｄ" selects the same preset as "1d".
func expirationKey(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}
