// handlers.go - HTTP handlers for recognition, batch jobs, configuration and QR codes

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	"github.com/bosocmputer/glm_ocr_desk/internal/app"
	"github.com/bosocmputer/glm_ocr_desk/internal/batch"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/bosocmputer/glm_ocr_desk/internal/qr"
	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "glm-ocr-desk",
		"version": s.version,
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Status())
}

func (s *Server) modelInfoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Engine().Info())
}

// loadModelHandler starts loading in the background and answers 202; with
// ?wait=true it blocks until the model is ready or failed.
func (s *Server) loadModelHandler(c *gin.Context) {
	if c.Query("wait") == "true" {
		if err := s.app.LoadModel(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.app.Status())
		return
	}
	s.app.LoadInBackground(s.baseCtx)
	c.JSON(http.StatusAccepted, s.app.Status())
}

func (s *Server) unloadModelHandler(c *gin.Context) {
	if err := s.app.UnloadModel(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.app.Status())
}

// readImage returns the uploaded image: the multipart field "file" or, for any
// other content type, the raw request body.
func (s *Server) readImage(c *gin.Context) (data []byte, source string, err error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, "", err
			}
			return nil, "", apperrors.NewInvalidArgumentError("multipart upload must contain a \"file\" field")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", apperrors.NewIOError("read_upload", fh.Filename, err)
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, "", apperrors.NewIOError("read_upload", fh.Filename, err)
		}
		return data, fh.Filename, nil
	}

	data, err = io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", err
	}
	return data, c.Query("source"), nil
}

// param reads a form field, falling back to the query string.
func param(c *gin.Context, name string) string {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if v := c.PostForm(name); v != "" {
			return v
		}
	}
	return c.Query(name)
}

func recognizeRequest(c *gin.Context, source string) (app.RecognizeRequest, error) {
	req := app.RecognizeRequest{
		Source:       source,
		PromptType:   ocr.PromptType(param(c, "prompt_type")),
		OutputFormat: ocr.OutputFormat(param(c, "output_format")),
	}
	if v := param(c, "max_new_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, apperrors.NewInvalidArgumentError(fmt.Sprintf("max_new_tokens must be a positive integer, got %q", v))
		}
		req.MaxNewTokens = n
	}
	return req, nil
}

func (s *Server) recognizeHandler(c *gin.Context) {
	data, source, err := s.readImage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	req, err := recognizeRequest(c, source)
	if err != nil {
		s.respondError(c, err)
		return
	}

	rec, err := s.app.Recognize(c.Request.Context(), data, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// clipboardHandler recognizes pasted bytes. Pasting something that is not an
// image is not an error.
func (s *Server) clipboardHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	req, err := recognizeRequest(c, "clipboard")
	if err != nil {
		s.respondError(c, err)
		return
	}

	rec, err := s.app.RecognizeClipboard(c.Request.Context(), data, req)
	if errors.Is(err, app.ErrNoImage) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "no_image",
			"message": "clipboard does not contain an image",
		})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// batchRequest is the body of POST /api/v1/batch. Omitted fields take the
// configured defaults.
type batchRequest struct {
	Directory      string   `json:"directory"`
	Files          []string `json:"files"`
	Recursive      *bool    `json:"recursive"`
	PromptType     string   `json:"prompt_type"`
	OutputFormat   string   `json:"output_format"`
	OutputDir      string   `json:"output_dir"`
	FilenameFormat string   `json:"filename_format"`
	DateFormat     string   `json:"date_format"`
	MaxNewTokens   int      `json:"max_new_tokens"`
}

func (s *Server) startBatchHandler(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.NewInvalidArgumentError("invalid batch request: "+err.Error()).
			WithHint(`send {"directory": "...", "output_dir": "..."} or {"files": [...]}`))
		return
	}

	opts := batch.Options{
		Directory:      req.Directory,
		Files:          req.Files,
		PromptType:     ocr.PromptType(req.PromptType),
		OutputFormat:   ocr.OutputFormat(req.OutputFormat),
		OutputDir:      req.OutputDir,
		FilenameFormat: req.FilenameFormat,
		DateFormat:     req.DateFormat,
		MaxNewTokens:   req.MaxNewTokens,
	}
	if req.Recursive != nil {
		opts.Recursive = *req.Recursive
	} else if settings, err := s.app.Settings(); err == nil {
		opts.Recursive = settings.Batch.Recursive
	}

	snap, err := s.app.StartBatch(opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) listBatchesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.app.Jobs().List()})
}

func (s *Server) getBatchHandler(c *gin.Context) {
	snap, ok := s.app.Jobs().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found", "message": "no batch job with id " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelBatchHandler(c *gin.Context) {
	id := c.Param("id")
	if !s.app.Jobs().Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found", "message": "no batch job with id " + id})
		return
	}
	snap, _ := s.app.Jobs().Get(id)
	c.JSON(http.StatusOK, snap)
}

// getConfigHandler returns the whole configuration, or one value with ?path=.
func (s *Server) getConfigHandler(c *gin.Context) {
	store := s.app.Store()
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusOK, gin.H{"path": store.Path(), "config": store.AllSettings()})
		return
	}
	value := store.Get(path, nil)
	if value == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_path", "message": "no configuration value at " + path})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "value": value})
}

type configUpdate struct {
	Values map[string]any `json:"values" binding:"required"`
	Save   bool           `json:"save"`
}

// putConfigHandler sets dotted paths. File-only paths are refused and the
// change is rolled back when the result does not validate. Model settings
// apply on the next load.
func (s *Server) putConfigHandler(c *gin.Context) {
	var req configUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.NewInvalidArgumentError("invalid configuration update: "+err.Error()).
			WithHint(`send {"values": {"ocr.prompt_type": "table_recognition"}, "save": true}`))
		return
	}

	store := s.app.Store()
	localOnly := store.GetBool("model.use_local_only", false)
	if v, ok := req.Values["model.use_local_only"].(bool); ok && v {
		localOnly = true
	}
	previous := make(map[string]any, len(req.Values))
	for path := range req.Values {
		if err := configs.RemoteEditable(path, localOnly); err != nil {
			s.respondError(c, err)
			return
		}
		old := store.Get(path, nil)
		if old == nil {
			s.respondError(c, apperrors.NewInvalidArgumentError("unknown configuration path "+path))
			return
		}
		previous[path] = old
	}

	for path, value := range req.Values {
		if err := store.Set(path, value); err != nil {
			s.respondError(c, err)
			return
		}
	}
	if _, err := store.Settings(); err != nil {
		for path, old := range previous {
			_ = store.Set(path, old)
		}
		s.respondError(c, err)
		return
	}
	if req.Save {
		if err := store.Save(); err != nil {
			s.respondError(c, err)
			return
		}
	}

	s.logger.Info("configuration updated", "paths", len(req.Values), "saved", req.Save)
	c.JSON(http.StatusOK, gin.H{"config": store.AllSettings(), "saved": req.Save})
}

func (s *Server) resetConfigHandler(c *gin.Context) {
	store := s.app.Store()
	store.Reset()
	if c.Query("save") == "true" {
		if err := store.Save(); err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"config": store.AllSettings()})
}

func (s *Server) qrDecodeHandler(c *gin.Context) {
	data, source, err := s.readImage(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.app.RecognizeQR(c.Request.Context(), data, source)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) qrEncodeHandler(c *gin.Context) {
	size := qr.DefaultSize
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(c, apperrors.NewInvalidArgumentError(fmt.Sprintf("size must be an integer, got %q", v)))
			return
		}
		size = n
	}
	png, err := qr.Encode(c.Query("text"), size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) historyHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.app.Recent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
