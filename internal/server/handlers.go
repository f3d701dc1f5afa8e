package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"piesta-gateway/internal/models"
	"piesta-gateway/internal/refine"
	"piesta-gateway/internal/store"
	"piesta-gateway/internal/translator"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type modelEntry struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Family   string `json:"family"`
	Fallback string `json:"fallback,omitempty"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (s *Server) handleModels(c echo.Context) error {
	list := modelList{Object: "list", Data: []modelEntry{}}
	for _, m := range s.svc.Router.Models() {
		list.Data = append(list.Data, modelEntry{
			ID:       m.ID,
			Object:   "model",
			Family:   string(m.Family),
			Fallback: m.Fallback,
		})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCompare(c echo.Context) error {
	var req translator.CompareRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}

	cmp, explicit := req.ToCompare()
	creds := s.credentials(c, explicit)
	ctx := c.Request().Context()

	if c.QueryParam("stream") != "true" {
		results, err := s.svc.Fanout.Compare(ctx, cmp, creds)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, translator.FromResults(results))
	}

	ch, err := s.svc.Fanout.Stream(ctx, cmp, creds)
	if err != nil {
		return toHTTPError(err)
	}
	flusher, err := startSSE(c)
	if err != nil {
		return err
	}

	writer := c.Response().Writer
	completed, failed := 0, 0
	for r := range ch {
		completed++
		if r.Err != nil {
			failed++
		}
		event := translator.StreamResult{Target: r.Target, CompareEntry: translator.FromResult(r)}
		if err := writeSSEEvent(writer, "result", event); err != nil {
			slog.Error("failed to write SSE event", "event", "result", "target", r.Target, "err", err)
			return nil
		}
		flusher.Flush()
	}

	if err := writeSSEEvent(writer, "done", map[string]int{"completed": completed, "failed": failed}); err != nil {
		slog.Error("failed to write SSE event", "event", "done", "err", err)
		return nil
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}

	resp, err := s.svc.Dispatcher.Dispatch(c.Request().Context(), req.ToRequest(), s.credentials(c, models.Credentials{}))
	if err != nil {
		return toHTTPError(err)
	}
	if resp == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    "upstream_error",
		}
	}

	out := translator.FromResponse(resp)
	if !req.Stream {
		return c.JSON(http.StatusOK, out)
	}

	// The envelope is complete before streaming starts, so it goes out as a
	// single chunk.
	flusher, err := startSSE(c)
	if err != nil {
		return err
	}
	writer := c.Response().Writer
	if err := writeSSEEvent(writer, "", out); err != nil {
		slog.Error("failed to write SSE chunk", "err", err)
		return nil
	}
	if _, err := writer.Write([]byte("data: [DONE]\n\n")); err != nil {
		slog.Error("failed to write SSE terminator", "err", err)
		return nil
	}
	flusher.Flush()
	return nil
}

type refineRequest struct {
	Prompt      string `json:"prompt"`
	TaskType    string `json:"task_type"`
	TargetModel string `json:"target_model"`
}

func (s *Server) handleRefine(c echo.Context) error {
	var req refineRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}

	creds := s.credentials(c, models.Credentials{})
	result, err := s.svc.Refiner.Refine(c.Request().Context(), refine.Request{
		Prompt:      req.Prompt,
		TaskType:    req.TaskType,
		TargetModel: req.TargetModel,
	}, creds.For(models.FamilyChat))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type trustCheckRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Context string `json:"context"`
}

func (s *Server) handleTrustCheck(c echo.Context) error {
	var req trustCheckRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest("content is required")
	}
	return c.JSON(http.StatusOK, s.svc.Trust.Check(req.Content, req.Model, req.Context))
}

func (s *Server) handleHistoryGet(c echo.Context) error {
	ctx := c.Request().Context()
	if id := c.QueryParam("id"); id != "" {
		chat, err := s.svc.History.Get(ctx, id)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, chat)
	}

	chats, err := s.svc.History.List(ctx)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, chats)
}

// History actions accepted by POST /v1/chat/history.
const (
	actionCreate     = "create"
	actionUpdate     = "update"
	actionAddMessage = "addMessage"
)

type historyRequest struct {
	Action   string          `json:"action"`
	ChatData json.RawMessage `json:"chatData"`
}

type addMessageData struct {
	ChatID  string        `json:"chatId"`
	Message store.Message `json:"message"`
}

func (s *Server) handleHistoryPost(c echo.Context) error {
	var req historyRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}
	if len(req.ChatData) == 0 {
		return badRequest("chatData is required")
	}

	ctx := c.Request().Context()
	var (
		chat store.Chat
		err  error
	)
	switch req.Action {
	case actionCreate:
		var draft store.Chat
		if err := json.Unmarshal(req.ChatData, &draft); err != nil {
			return badRequest("invalid chatData: " + err.Error())
		}
		chat, err = s.svc.History.Create(ctx, draft)
	case actionUpdate:
		var draft store.Chat
		if err := json.Unmarshal(req.ChatData, &draft); err != nil {
			return badRequest("invalid chatData: " + err.Error())
		}
		if draft.ID == "" {
			return badRequest("chatData.id is required")
		}
		chat, err = s.svc.History.Update(ctx, draft.ID, draft)
	case actionAddMessage:
		var data addMessageData
		if err := json.Unmarshal(req.ChatData, &data); err != nil {
			return badRequest("invalid chatData: " + err.Error())
		}
		chat, err = s.svc.History.AddMessage(ctx, data.ChatID, data.Message)
	default:
		return badRequest("invalid action")
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, chat)
}

func (s *Server) handleHistoryDelete(c echo.Context) error {
	ctx := c.Request().Context()
	switch id := c.QueryParam("id"); id {
	case "":
		return badRequest("chat id required")
	case "all":
		if err := s.svc.History.Clear(ctx); err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "All chats cleared successfully"})
	default:
		if err := s.svc.History.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Chat deleted successfully"})
	}
}
