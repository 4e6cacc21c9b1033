package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/pipeline"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid create session request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.sessions.CreateSession(c.Request().Context(), pipeline.CreateRequest{
		UserID:       uid,
		AIModel:      req.AIModel,
		AnalysisMode: req.AnalysisMode,
		KeepVideo:    req.KeepVideo,
		StorageType:  req.StorageType,
	})
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleListSessions(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	list, err := s.sessions.ListSessions(c.Request().Context(), uid)
	if err != nil {
		return apiError(err)
	}
	out := make([]SessionResponse, 0, len(list))
	for _, sess := range list {
		out = append(out, toSessionResponse(sess))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return err
	}
	total, analyzed, err := s.sessions.ChunkCounts(c.Request().Context(), sess.ID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, SessionStatusResponse{
		SessionResponse: toSessionResponse(sess),
		TotalChunks:     total,
		AnalyzedChunks:  analyzed,
	})
}

func (s *Server) handleUpdateTitle(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return err
	}
	var req UpdateTitleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := s.sessions.UpdateTitle(c.Request().Context(), sess.ID, req.Title)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(updated))
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(c.Request().Context(), sess.ID); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleConfig(c echo.Context) error {
	cfg := s.sessions.ClientConfig()
	return c.JSON(http.StatusOK, ConfigResponse{
		WindowSize:               cfg.WindowSize,
		WindowStep:               cfg.WindowStep,
		MinWindowSize:            cfg.MinWindowSize,
		RecommendedChunkDuration: cfg.RecommendedChunkDuration,
	})
}

func (s *Server) handleRecords(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return err
	}
	recs, err := s.sessions.Records(c.Request().Context(), sess.ID)
	if err != nil {
		return apiError(err)
	}
	out := make([]RecordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, toRecordResponse(r, sess.KeepVideo))
	}
	return c.JSON(http.StatusOK, out)
}

// handleUploadChunk accepts a multipart chunk with form fields chunkIndex,
// duration and isLast and a file field "file". The chunk is written to
// scratch space and queued; processing happens in the background.
func (s *Server) handleUploadChunk(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return err
	}
	ctx := logging.WithSessionID(c.Request().Context(), sess.ID)

	index, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "chunkIndex must be an integer")
	}
	declared := 0.0
	if v := c.FormValue("duration"); v != "" {
		if declared, err = strconv.ParseFloat(v, 64); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "duration must be a number")
		}
	}
	isLast := false
	if v := c.FormValue("isLast"); v != "" {
		if isLast, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "isLast must be a boolean")
		}
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	path, err := s.sessions.PrepareChunk(ctx, sess.ID, index)
	if err != nil {
		return apiError(err)
	}
	if err := saveUpload(fh, path); err != nil {
		s.logger.Error(ctx, "failed to save chunk", zap.Int("chunk_index", index), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save chunk")
	}

	err = s.sessions.SubmitChunk(ctx, pipeline.ChunkJob{
		SessionID:        sess.ID,
		ChunkIndex:       index,
		LocalPath:        path,
		DeclaredDuration: declared,
		IsLast:           isLast,
	})
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusAccepted, ChunkAccepted{SessionID: sess.ID, ChunkIndex: index, Status: "accepted"})
}

// saveUpload writes the upload to dst, which must not exist yet. A partly
// written file is removed; a file that already existed is left alone.
func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("write chunk file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close chunk file: %w", err)
	}
	return nil
}
