package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/chat"
)

func chatResponse(ch *chat.Context) ChatResponse {
	r := ChatResponse{
		ID:       ch.ID(),
		Object:   "chat",
		Busy:     ch.Busy(),
		Messages: ch.Messages(),
	}
	if d, ok := ch.Model(); ok {
		m := modelResponse(d)
		r.Model = &m
	}
	if r.Messages == nil {
		r.Messages = []chat.Message{}
	}
	return r
}

func (s *Server) handleCreateChat(c *echo.Context) error {
	req, err := decodeOptionalJSON[CreateChatRequest](c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ch := s.cfg.Chats.Create()
	if req.ModelID != "" {
		if err := s.selectModel(ch, req.ModelID); err != nil {
			_ = s.cfg.Chats.Delete(ch.ID())
			return writeDomainError(c, err)
		}
	}
	return c.JSON(http.StatusCreated, chatResponse(ch))
}

func (s *Server) handleGetChat(c *echo.Context) error {
	ch, err := s.cfg.Chats.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse(ch))
}

func (s *Server) handleDeleteChat(c *echo.Context) error {
	id := c.Param("id")
	if err := s.cfg.Chats.Delete(id); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "chat.deleted", Deleted: true})
}

func (s *Server) handleSelectModel(c *echo.Context) error {
	ch, err := s.cfg.Chats.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	req, err := decodeJSON[SelectModelRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := s.selectModel(ch, req.ModelID); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse(ch))
}

func (s *Server) selectModel(ch *chat.Context, ref string) error {
	d, err := s.cfg.Catalog.Find(ref)
	if err != nil {
		return err
	}
	return ch.SelectModel(d)
}

// handleSendMessage starts a turn. With stream=true the reply is sent as
// fragment events followed by one done event; otherwise the finished message
// is returned as JSON.
func (s *Server) handleSendMessage(c *echo.Context) error {
	ch, err := s.cfg.Chats.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	req, err := decodeJSON[MessageRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	kind := s.cfg.Accelerator
	if req.Accelerator != "" {
		if kind, err = backend.Normalize(req.Accelerator); err != nil {
			return writeBadRequest(c, err.Error())
		}
	}

	ctx := c.Request().Context()
	var writer *SSEStreamWriter
	if req.Stream != nil && *req.Stream {
		if writer, err = NewSSEStreamWriter(c); err != nil {
			return writeBadRequest(c, err.Error())
		}
	}

	turn, err := ch.Send(ctx, req.Content, kind)
	if err != nil {
		return writeDomainError(c, err)
	}
	sessionID := turn.Session().ID()

	if writer == nil {
		err := turn.Run(ctx, nil)
		resp := messageResponse(ch.ID(), turn)
		if err != nil {
			status, _ := classify(err)
			return c.JSON(status, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}

	for frag, err := range turn.Fragments(ctx) {
		if err != nil {
			break
		}
		if werr := writer.Fragment(sessionID, frag); werr != nil {
			s.log.Debug("client went away", "chat", ch.ID(), "session", sessionID, "error", werr)
			return nil
		}
	}
	if err := writer.Done(messageResponse(ch.ID(), turn)); err != nil {
		s.log.Debug("write done event", "chat", ch.ID(), "error", err)
	}
	return nil
}

func (s *Server) handleStop(c *echo.Context) error {
	ch, err := s.cfg.Chats.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	ch.Stop()
	return c.JSON(http.StatusAccepted, chatResponse(ch))
}
