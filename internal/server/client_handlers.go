package server

// The /client surface is the test-harness side of the mock: it injects
// user activity into a bot's update stream and inspects what the bot
// produced. It reuses the Bot API envelope so harness code can share a
// response decoder.

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/telemock/internal/actions"
	"github.com/edgard/telemock/internal/bus"
	"github.com/edgard/telemock/internal/filestore"
)

// clientUser is the caller-supplied identity of the simulated user.
type clientUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// model converts to the wire user, defaulting to a fixed test identity
// when the caller gave none.
func (u *clientUser) model() *models.User {
	if u == nil || u.ID == 0 {
		return &models.User{ID: 1, FirstName: "Test", LastName: "User", Username: "testuser"}
	}
	return &models.User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

// clientToken validates the bot_token parameter common to all client
// requests. On failure it writes the error response and returns false.
func clientToken(c *gin.Context, token string) bool {
	if _, err := bus.ParseToken(token); err != nil {
		respondErr(c, http.StatusBadRequest, "invalid bot_token: expected <bot_id>:<secret>")
		return false
	}
	return true
}

type clientSendMessageRequest struct {
	BotToken string      `json:"bot_token" form:"bot_token"`
	ChatID   int64       `json:"chat_id" form:"chat_id"`
	Text     string      `json:"text" form:"text"`
	From     *clientUser `json:"from_user" form:"-"`
}

func (s *Server) handleClientSendMessage(c *gin.Context) {
	var req clientSendMessageRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}
	if req.ChatID == 0 || req.Text == "" {
		respondErr(c, http.StatusBadRequest, "chat_id and text are required")
		return
	}

	msg := s.state.CreateMessage(req.BotToken, bus.MessageParams{
		ChatID: req.ChatID,
		From:   req.From.model(),
		Text:   req.Text,
	})
	su := s.state.Append(req.BotToken, bus.RoleUser, models.Update{Message: msg})
	respondOK(c, su.Update)
}

type clientSendCommandRequest struct {
	BotToken string      `json:"bot_token" form:"bot_token"`
	ChatID   int64       `json:"chat_id" form:"chat_id"`
	Command  string      `json:"command" form:"command"`
	From     *clientUser `json:"from_user" form:"-"`
}

func (s *Server) handleClientSendCommand(c *gin.Context) {
	var req clientSendCommandRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}
	if req.ChatID == 0 || !strings.HasPrefix(req.Command, "/") {
		respondErr(c, http.StatusBadRequest, "chat_id is required and command must start with '/'")
		return
	}

	// The bot_command entity spans "/name" up to the first space.
	length := len(req.Command)
	if i := strings.IndexByte(req.Command, ' '); i > 0 {
		length = i
	}

	msg := s.state.CreateMessage(req.BotToken, bus.MessageParams{
		ChatID: req.ChatID,
		From:   req.From.model(),
		Text:   req.Command,
		Entities: []models.MessageEntity{{
			Type:   models.MessageEntityTypeBotCommand,
			Offset: 0,
			Length: length,
		}},
	})
	su := s.state.Append(req.BotToken, bus.RoleUser, models.Update{Message: msg})
	respondOK(c, su.Update)
}

type clientSendCallbackRequest struct {
	BotToken     string      `json:"bot_token" form:"bot_token"`
	ChatID       int64       `json:"chat_id" form:"chat_id"`
	MessageID    int         `json:"message_id" form:"message_id"`
	CallbackData string      `json:"callback_data" form:"callback_data"`
	From         *clientUser `json:"from_user" form:"-"`
}

func (s *Server) handleClientSendCallback(c *gin.Context) {
	var req clientSendCallbackRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}

	msg, err := s.state.GetMessage(req.BotToken, req.ChatID, req.MessageID)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "message not found")
		return
	}

	cq := &models.CallbackQuery{
		ID:   s.state.NextCallbackQueryID(req.BotToken),
		From: *req.From.model(),
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: msg,
		},
		ChatInstance: strconv.FormatInt(req.ChatID, 10),
		Data:         req.CallbackData,
	}
	su := s.state.Append(req.BotToken, bus.RoleUser, models.Update{CallbackQuery: cq})
	respondOK(c, su.Update)
}

type clientSendFileRequest struct {
	BotToken string      `json:"bot_token" form:"bot_token"`
	ChatID   int64       `json:"chat_id" form:"chat_id"`
	Content  string      `json:"content" form:"content"` // base64
	Filename string      `json:"filename" form:"filename"`
	MimeType string      `json:"mime_type" form:"mime_type"`
	Caption  string      `json:"caption" form:"caption"`
	From     *clientUser `json:"from_user" form:"-"`
}

// handleClientSendMedia is the shared path of the media injection
// endpoints: store the decoded content, attach the wire type and append
// the message as a user update.
func (s *Server) handleClientSendMedia(c *gin.Context, defaultMime string, attach func(*bus.MessageParams, storedFile)) {
	req, content, ok := s.clientStoreFile(c, defaultMime)
	if !ok {
		return
	}

	fileID, uniqueID, err := s.files.Put(c.Request.Context(), content, req.Filename, req.MimeType)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, "failed to store file")
		return
	}

	p := bus.MessageParams{
		ChatID:  req.ChatID,
		From:    req.From.model(),
		Caption: req.Caption,
	}
	attach(&p, storedFile{
		ID:       fileID,
		UniqueID: uniqueID,
		Name:     req.Filename,
		MimeType: req.MimeType,
		Size:     int64(len(content)),
	})
	msg := s.state.CreateMessage(req.BotToken, p)
	su := s.state.Append(req.BotToken, bus.RoleUser, models.Update{Message: msg})
	respondOK(c, su.Update)
}

func (s *Server) handleClientSendDocument(c *gin.Context) {
	s.handleClientSendMedia(c, "application/octet-stream", func(p *bus.MessageParams, f storedFile) {
		p.Document = &models.Document{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleClientSendPhoto(c *gin.Context) {
	s.handleClientSendMedia(c, "image/jpeg", func(p *bus.MessageParams, f storedFile) {
		p.Photo = photoSizes(f.ID, f.UniqueID, int(f.Size))
	})
}

func (s *Server) handleClientSendAudio(c *gin.Context) {
	s.handleClientSendMedia(c, "audio/mpeg", func(p *bus.MessageParams, f storedFile) {
		p.Audio = &models.Audio{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleClientSendVideo(c *gin.Context) {
	s.handleClientSendMedia(c, "video/mp4", func(p *bus.MessageParams, f storedFile) {
		p.Video = &models.Video{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleClientSendVoice(c *gin.Context) {
	s.handleClientSendMedia(c, "audio/ogg", func(p *bus.MessageParams, f storedFile) {
		p.Voice = &models.Voice{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

func (s *Server) handleClientSendAnimation(c *gin.Context) {
	s.handleClientSendMedia(c, "video/mp4", func(p *bus.MessageParams, f storedFile) {
		p.Animation = &models.Animation{
			FileID:       f.ID,
			FileUniqueID: f.UniqueID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			FileSize:     f.Size,
		}
	})
}

// clientStoreFile binds and validates the shared send-file request,
// decoding the base64 content. A false return means the response has
// already been written.
func (s *Server) clientStoreFile(c *gin.Context, defaultMime string) (*clientSendFileRequest, []byte, bool) {
	var req clientSendFileRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	if !clientToken(c, req.BotToken) {
		return nil, nil, false
	}
	if req.ChatID == 0 {
		respondErr(c, http.StatusBadRequest, "chat_id is required")
		return nil, nil, false
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "content is not valid base64")
		return nil, nil, false
	}
	if req.MimeType == "" {
		req.MimeType = defaultMime
	}
	return &req, content, true
}

type clientGetUpdatesRequest struct {
	BotToken string `form:"bot_token" json:"bot_token"`
	ChatID   int64  `form:"chat_id" json:"chat_id"`
}

// handleClientGetUpdates returns the bot-produced updates, optionally
// narrowed to one chat. Reading never consumes anything.
func (s *Server) handleClientGetUpdates(c *gin.Context) {
	var req clientGetUpdatesRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}

	out := make([]models.Update, 0)
	for _, su := range s.state.History(req.BotToken) {
		if su.Role != bus.RoleBot {
			continue
		}
		if req.ChatID != 0 && updateChatID(su.Update) != req.ChatID {
			continue
		}
		out = append(out, su.Update)
	}
	respondOK(c, out)
}

// historyEntry is the introspection shape of one stored update,
// including delivery bookkeeping the wire update does not carry.
type historyEntry struct {
	Seq      int64             `json:"seq"`
	Role     bus.Role          `json:"role"`
	State    bus.DeliveryState `json:"state"`
	Attempts int               `json:"attempts"`
	Update   models.Update     `json:"update"`
}

func (s *Server) handleClientGetUpdatesHistory(c *gin.Context) {
	var req clientGetUpdatesRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}

	hist := s.state.History(req.BotToken)
	out := make([]historyEntry, 0, len(hist))
	for _, su := range hist {
		out = append(out, historyEntry{
			Seq:      su.Seq,
			Role:     su.Role,
			State:    su.State,
			Attempts: su.Attempts,
			Update:   su.Update,
		})
	}
	respondOK(c, out)
}

func (s *Server) handleClientGetMedia(c *gin.Context) {
	f, err := s.files.Get(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			respondErr(c, http.StatusNotFound, "file not found")
			return
		}
		respondErr(c, http.StatusInternalServerError, "failed to load file")
		return
	}
	c.Data(http.StatusOK, f.MimeType, f.Content)
}

type clientChatActionsRequest struct {
	BotToken string `form:"bot_token" json:"bot_token"`
	ChatID   int64  `form:"chat_id" json:"chat_id"`
}

func (s *Server) handleClientGetChatActions(c *gin.Context) {
	var req clientChatActionsRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}

	out := make([]actions.Entry, 0, 1)
	if e, ok := s.tracker.Active(req.BotToken, req.ChatID); ok {
		out = append(out, e)
	}
	respondOK(c, out)
}

func (s *Server) handleClientGetAllChatActions(c *gin.Context) {
	var req clientChatActionsRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}

	out := s.tracker.AllActive(req.BotToken)
	if out == nil {
		out = []actions.Entry{}
	}
	respondOK(c, out)
}

func (s *Server) handleClientGetAnsweredCallbacks(c *gin.Context) {
	var req clientGetUpdatesRequest
	if err := bindRequest(c, &req); err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if !clientToken(c, req.BotToken) {
		return
	}
	respondOK(c, s.state.AnsweredCallbacks(req.BotToken))
}

// handleClientReset wipes every bot's state and all chat actions.
// Stored files are kept; their ids are unique and harmless.
func (s *Server) handleClientReset(c *gin.Context) {
	s.state.Reset()
	s.tracker.Reset()
	respondOK(c, true)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// updateChatID extracts the chat an update belongs to, or 0.
func updateChatID(u models.Update) int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.EditedMessage != nil:
		return u.EditedMessage.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message.Message != nil:
		return u.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}
