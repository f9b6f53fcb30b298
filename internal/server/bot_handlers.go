package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/telemock/internal/actions"
	"github.com/edgard/telemock/internal/bus"
	"github.com/edgard/telemock/internal/filestore"
)

// handleGetMe returns the bot's own synthetic user.
func (s *Server) handleGetMe(c *gin.Context) {
	b, _ := s.state.GetOrCreate(botToken(c))
	respondOK(c, b.User)
}

type getUpdatesRequest struct {
	// Offset is the first update_id the caller wants back; everything
	// below it is acknowledged.
	Offset  int64 `form:"offset" json:"offset"`
	Limit   int   `form:"limit" json:"limit"`
	Timeout int   `form:"timeout" json:"timeout"`
}

func (s *Server) handleGetUpdates(c *gin.Context) {
	token := botToken(c)

	var req getUpdatesRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}

	// Push and pull are exclusive per bot.
	if _, _, ok := s.state.WebhookTarget(token); ok {
		respondErr(c, http.StatusConflict,
			"Conflict: can't use getUpdates method while webhook is active; use deleteWebhook to delete the webhook first")
		return
	}

	// The wire offset names the first id to return; the bus offset is
	// the last id acknowledged.
	offset := req.Offset - 1
	if offset < 0 {
		offset = 0
	}
	limit := req.Limit
	if limit <= 0 || limit > s.cfg.Updates.DefaultLimit {
		limit = s.cfg.Updates.DefaultLimit
	}
	timeout := time.Duration(req.Timeout) * time.Second
	if timeout > s.cfg.Updates.MaxLongPoll {
		timeout = s.cfg.Updates.MaxLongPoll
	}

	// The signal is taken before the pull so an append landing between
	// the two is never missed.
	sig := s.state.AppendSignal(token)
	stored := s.state.Pull(token, offset, limit, bus.RoleUser)
	if len(stored) == 0 && timeout > 0 {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
	wait:
		for {
			select {
			case <-c.Request.Context().Done():
				break wait
			case <-deadline.C:
				break wait
			case <-sig:
			}
			sig = s.state.AppendSignal(token)
			stored = s.state.Pull(token, offset, limit, bus.RoleUser)
			if len(stored) > 0 {
				break
			}
		}
	}

	result := make([]models.Update, 0, len(stored))
	for _, su := range stored {
		result = append(result, su.Update)
	}
	respondOK(c, result)
}

type setWebhookRequest struct {
	URL                string   `form:"url" json:"url"`
	SecretToken        string   `form:"secret_token" json:"secret_token"`
	MaxConnections     int      `form:"max_connections" json:"max_connections"`
	AllowedUpdates     []string `form:"allowed_updates" json:"allowed_updates"`
	IPAddress          string   `form:"ip_address" json:"ip_address"`
	DropPendingUpdates bool     `form:"drop_pending_updates" json:"drop_pending_updates"`
}

func (s *Server) handleSetWebhook(c *gin.Context) {
	token := botToken(c)

	var req setWebhookRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}

	// An empty url is how the Bot API spells "remove the webhook".
	if req.URL == "" {
		had := s.state.DeleteWebhook(token, req.DropPendingUpdates)
		if had {
			respondOKDesc(c, true, "Webhook was deleted")
		} else {
			respondOKDesc(c, true, "Webhook is already deleted")
		}
		return
	}

	s.state.SetWebhook(token, bus.WebhookParams{
		URL:                req.URL,
		SecretToken:        req.SecretToken,
		MaxConnections:     req.MaxConnections,
		AllowedUpdates:     req.AllowedUpdates,
		IPAddress:          req.IPAddress,
		DropPendingUpdates: req.DropPendingUpdates,
	})
	s.engine.WebhookChanged(token)
	respondOKDesc(c, true, "Webhook was set")
}

type deleteWebhookRequest struct {
	DropPendingUpdates bool `form:"drop_pending_updates" json:"drop_pending_updates"`
}

func (s *Server) handleDeleteWebhook(c *gin.Context) {
	token := botToken(c)

	var req deleteWebhookRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}

	if s.state.DeleteWebhook(token, req.DropPendingUpdates) {
		respondOKDesc(c, true, "Webhook was deleted")
	} else {
		respondOKDesc(c, true, "Webhook is already deleted")
	}
}

func (s *Server) handleGetWebhookInfo(c *gin.Context) {
	respondOK(c, s.state.WebhookInfo(botToken(c)))
}

type sendMessageRequest struct {
	ChatID           int64                  `form:"chat_id" json:"chat_id"`
	Text             string                 `form:"text" json:"text"`
	ParseMode        string                 `form:"parse_mode" json:"parse_mode"`
	Entities         []models.MessageEntity `form:"-" json:"entities"`
	ReplyToMessageID int                    `form:"reply_to_message_id" json:"reply_to_message_id"`
	ReplyMarkup      json.RawMessage        `form:"-" json:"reply_markup"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	token := botToken(c)

	var req sendMessageRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if req.ChatID == 0 {
		respondErr(c, http.StatusBadRequest, "Bad Request: chat_id is empty")
		return
	}
	if req.Text == "" {
		respondErr(c, http.StatusBadRequest, "Bad Request: message text is empty")
		return
	}

	msg := s.state.CreateMessage(token, bus.MessageParams{
		ChatID:           req.ChatID,
		Text:             req.Text,
		Entities:         req.Entities,
		ReplyMarkup:      parseMarkup(req.ReplyMarkup, c),
		ReplyToMessageID: req.ReplyToMessageID,
	})
	s.state.Append(token, bus.RoleBot, models.Update{Message: msg})
	respondOK(c, msg)
}

type editMessageTextRequest struct {
	ChatID      int64           `form:"chat_id" json:"chat_id"`
	MessageID   int             `form:"message_id" json:"message_id"`
	Text        string          `form:"text" json:"text"`
	ReplyMarkup json.RawMessage `form:"-" json:"reply_markup"`
}

func (s *Server) handleEditMessageText(c *gin.Context) {
	token := botToken(c)

	var req editMessageTextRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if req.Text == "" {
		respondErr(c, http.StatusBadRequest, "Bad Request: message text is empty")
		return
	}

	msg, err := s.state.EditMessageText(token, req.ChatID, req.MessageID, req.Text, parseMarkup(req.ReplyMarkup, c))
	if err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: message to edit not found")
		return
	}
	s.state.Append(token, bus.RoleBot, models.Update{EditedMessage: msg})
	respondOK(c, msg)
}

type deleteMessageRequest struct {
	ChatID    int64 `form:"chat_id" json:"chat_id"`
	MessageID int   `form:"message_id" json:"message_id"`
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	token := botToken(c)

	var req deleteMessageRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if !s.state.DeleteMessage(token, req.ChatID, req.MessageID) {
		respondErr(c, http.StatusBadRequest, "Bad Request: message to delete not found")
		return
	}
	respondOK(c, true)
}

type sendChatActionRequest struct {
	ChatID int64  `form:"chat_id" json:"chat_id"`
	Action string `form:"action" json:"action"`
}

func (s *Server) handleSendChatAction(c *gin.Context) {
	token := botToken(c)

	var req sendChatActionRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if req.ChatID == 0 {
		respondErr(c, http.StatusBadRequest, "Bad Request: chat_id is empty")
		return
	}
	if !actions.Valid[req.Action] {
		respondErr(c, http.StatusBadRequest, "Bad Request: wrong parameter action in request")
		return
	}

	s.tracker.Set(token, req.ChatID, req.Action)
	respondOK(c, true)
}

type answerCallbackQueryRequest struct {
	CallbackQueryID string `form:"callback_query_id" json:"callback_query_id"`
	Text            string `form:"text" json:"text"`
	ShowAlert       bool   `form:"show_alert" json:"show_alert"`
	URL             string `form:"url" json:"url"`
}

func (s *Server) handleAnswerCallbackQuery(c *gin.Context) {
	token := botToken(c)

	var req answerCallbackQueryRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if req.CallbackQueryID == "" {
		respondErr(c, http.StatusBadRequest, "Bad Request: query is empty")
		return
	}

	s.state.RecordAnsweredCallback(token, bus.AnsweredCallback{
		CallbackQueryID: req.CallbackQueryID,
		Text:            req.Text,
		ShowAlert:       req.ShowAlert,
		URL:             req.URL,
		AnsweredAt:      time.Now().UTC(),
	})
	respondOK(c, true)
}

type sendFileRequest struct {
	ChatID  int64  `form:"chat_id" json:"chat_id"`
	Caption string `form:"caption" json:"caption"`
}

// storedFile is the filestore result a media handler attaches to the
// outgoing message.
type storedFile struct {
	ID       string
	UniqueID string
	Name     string
	MimeType string
	Size     int64
}

// handleSendMedia is the shared path of all multipart media methods:
// read the upload from the named field, store it, attach the wire type
// and append the resulting message as a bot update.
func (s *Server) handleSendMedia(c *gin.Context, field, defaultMime string, attach func(*bus.MessageParams, storedFile)) {
	token := botToken(c)

	var req sendFileRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}
	if req.ChatID == 0 {
		respondErr(c, http.StatusBadRequest, "Bad Request: chat_id is empty")
		return
	}

	content, filename, mimeType, ok := readUpload(c, field, defaultMime)
	if !ok {
		respondErr(c, http.StatusBadRequest, "Bad Request: there is no "+field+" in the request")
		return
	}

	fileID, uniqueID, err := s.files.Put(c.Request.Context(), content, filename, mimeType)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, "Internal Server Error: failed to store file")
		return
	}

	p := bus.MessageParams{ChatID: req.ChatID, Caption: req.Caption}
	attach(&p, storedFile{
		ID:       fileID,
		UniqueID: uniqueID,
		Name:     filename,
		MimeType: mimeType,
		Size:     int64(len(content)),
	})
	msg := s.state.CreateMessage(token, p)
	s.state.Append(token, bus.RoleBot, models.Update{Message: msg})
	respondOK(c, msg)
}

func (s *Server) handleSendDocument(c *gin.Context) {
	s.handleSendMedia(c, "document", "application/octet-stream", func(p *bus.MessageParams, f storedFile) {
		p.Document = &models.Document{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleSendPhoto(c *gin.Context) {
	s.handleSendMedia(c, "photo", "image/jpeg", func(p *bus.MessageParams, f storedFile) {
		p.Photo = photoSizes(f.ID, f.UniqueID, int(f.Size))
	})
}

func (s *Server) handleSendAudio(c *gin.Context) {
	s.handleSendMedia(c, "audio", "audio/mpeg", func(p *bus.MessageParams, f storedFile) {
		p.Audio = &models.Audio{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleSendVideo(c *gin.Context) {
	s.handleSendMedia(c, "video", "video/mp4", func(p *bus.MessageParams, f storedFile) {
		p.Video = &models.Video{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleSendVoice(c *gin.Context) {
	s.handleSendMedia(c, "voice", "audio/ogg", func(p *bus.MessageParams, f storedFile) {
		p.Voice = &models.Voice{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleSendAnimation(c *gin.Context) {
	s.handleSendMedia(c, "animation", "video/mp4", func(p *bus.MessageParams, f storedFile) {
		p.Animation = &models.Animation{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

type getFileRequest struct {
	FileID string `form:"file_id" json:"file_id"`
}

func (s *Server) handleGetFile(c *gin.Context) {
	var req getFileRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}

	f, err := s.files.Get(c.Request.Context(), req.FileID)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			respondErr(c, http.StatusBadRequest, "Bad Request: invalid file_id")
			return
		}
		respondErr(c, http.StatusInternalServerError, "Internal Server Error: failed to load file")
		return
	}

	respondOK(c, models.File{
		FileID:       f.FileID,
		FileUniqueID: f.FileUniqueID,
		FileSize:     f.Size(),
		// File paths are flat: the id is the path.
		FilePath: f.FileID,
	})
}

// handleFileDownload serves the raw bytes for GET /file/bot<token>/<file_id>.
func (s *Server) handleFileDownload(c *gin.Context, fileID string) {
	f, err := s.files.Get(c.Request.Context(), fileID)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			respondErr(c, http.StatusNotFound, "Not Found")
			return
		}
		respondErr(c, http.StatusInternalServerError, "Internal Server Error: failed to load file")
		return
	}
	c.Data(http.StatusOK, f.MimeType, f.Content)
}

// parseMarkup accepts reply_markup as a JSON body field or as a
// JSON-encoded form field, returning nil when the request carries no
// usable markup. Malformed markup is ignored, not rejected.
func parseMarkup(raw json.RawMessage, c *gin.Context) *models.InlineKeyboardMarkup {
	if len(raw) == 0 {
		if v := c.PostForm("reply_markup"); v != "" {
			raw = json.RawMessage(v)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	var m models.InlineKeyboardMarkup
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return &m
}

// readUpload pulls the named multipart file out of the request.
func readUpload(c *gin.Context, field, defaultMime string) (content []byte, filename, mimeType string, ok bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", "", false
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", "", false
	}
	defer f.Close()

	content, err = io.ReadAll(f)
	if err != nil {
		return nil, "", "", false
	}
	mimeType = fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = defaultMime
	}
	return content, fh.Filename, mimeType, true
}

// photoSizes fabricates the size variants the Bot API reports for an
// uploaded photo. All variants point at the same stored content.
func photoSizes(fileID, uniqueID string, size int) []models.PhotoSize {
	dims := []int{90, 320, 800}
	out := make([]models.PhotoSize, 0, len(dims))
	for _, d := range dims {
		out = append(out, models.PhotoSize{
			FileID:       fileID,
			FileUniqueID: uniqueID,
			Width:        d,
			Height:       d,
			FileSize:     size,
		})
	}
	return out
}
