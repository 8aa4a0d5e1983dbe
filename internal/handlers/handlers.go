package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/face-redact/internal/redactor"
)

// MaxUploadSize caps request images at 15 MB, the limit the detection
// providers put on inline image bytes.
const MaxUploadSize = 15 << 20

type redactRequest struct {
	ImageBase64         string  `json:"image_base64"`
	BlurStrength        int     `json:"blur_strength"`
	Mode                string  `json:"mode"`
	PixelateBlocks      int     `json:"pixelate_blocks"`
	MaxRetries          int     `json:"max_retries"`
	TimeoutMS           int     `json:"timeout_ms"`
	ConfidenceThreshold float32 `json:"confidence_threshold"`
	OutputFormat        string  `json:"output_format"`
}

type redactResponse struct {
	RequestID     string `json:"request_id"`
	FacesRedacted int    `json:"faces_redacted"`
	Format        string `json:"format"`
	ImageBase64   string `json:"image_base64"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware leaves the API open.
func RegisterRoutes(router *gin.Engine, red *redactor.Redactor, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/redact", func(c *gin.Context) {
		if strings.HasPrefix(c.ContentType(), "application/json") {
			redactJSON(c, red)
			return
		}
		redactMultipart(c, red)
	})

	api.GET("/redactions/:id", func(c *gin.Context) {
		log, err := red.GetLog(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, log)
	})

	api.GET("/redactions/:id/duplicates", func(c *gin.Context) {
		report, err := red.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    report.Request,
			"duplicates": report.Duplicates,
		})
	})

	api.GET("/stats", func(c *gin.Context) {
		summary, err := red.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// redactMultipart handles a form upload and answers with the raw
// redacted image.
func redactMultipart(c *gin.Context, red *redactor.Redactor) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image exceeds %d bytes", MaxUploadSize)})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	opts, err := optionsFromValues(c.PostForm)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_kind": string(redactor.KindConfiguration), "error": err.Error()})
		return
	}

	result, err := red.Redact(c.Request.Context(), data, opts)
	if err != nil {
		respondRedactError(c, err)
		return
	}

	c.Header("X-Request-ID", result.RequestID)
	c.Header("X-Faces-Redacted", strconv.Itoa(result.FacesRedacted))
	c.Data(http.StatusOK, "image/"+result.Format, result.Image)
}

// redactJSON handles the base64 envelope convention.
func redactJSON(c *gin.Context, red *redactor.Redactor) {
	var req redactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ImageBase64 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is required"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_kind": string(redactor.KindDecode), "error": "image_base64 is not valid base64"})
		return
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image exceeds %d bytes", MaxUploadSize)})
		return
	}

	opts := redactor.Options{
		BlurStrength:        req.BlurStrength,
		Mode:                req.Mode,
		PixelateBlocks:      req.PixelateBlocks,
		MaxRetries:          req.MaxRetries,
		Timeout:             time.Duration(req.TimeoutMS) * time.Millisecond,
		ConfidenceThreshold: req.ConfidenceThreshold,
		OutputFormat:        req.OutputFormat,
	}

	result, err := red.Redact(c.Request.Context(), data, opts)
	if err != nil {
		respondRedactError(c, err)
		return
	}

	c.JSON(http.StatusOK, redactResponse{
		RequestID:     result.RequestID,
		FacesRedacted: result.FacesRedacted,
		Format:        result.Format,
		ImageBase64:   base64.StdEncoding.EncodeToString(result.Image),
	})
}

// optionsFromValues parses the optional form/query parameters.
func optionsFromValues(get func(string) string) (redactor.Options, error) {
	var opts redactor.Options
	var err error

	if opts.BlurStrength, err = intValue(get, "blur_strength"); err != nil {
		return opts, err
	}
	if opts.PixelateBlocks, err = intValue(get, "pixelate_blocks"); err != nil {
		return opts, err
	}
	if opts.MaxRetries, err = intValue(get, "max_retries"); err != nil {
		return opts, err
	}
	timeoutMS, err := intValue(get, "timeout_ms")
	if err != nil {
		return opts, err
	}
	opts.Timeout = time.Duration(timeoutMS) * time.Millisecond

	if raw := get("confidence_threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return opts, fmt.Errorf("confidence_threshold: %w", err)
		}
		opts.ConfidenceThreshold = float32(threshold)
	}
	opts.Mode = get("mode")
	opts.OutputFormat = get("output_format")
	return opts, nil
}

func intValue(get func(string) string, name string) (int, error) {
	raw := get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return value, nil
}

// respondRedactError maps pipeline failure kinds onto HTTP statuses.
func respondRedactError(c *gin.Context, err error) {
	kind := redactor.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case redactor.KindDecode, redactor.KindEncode, redactor.KindConfiguration:
		status = http.StatusBadRequest
	case redactor.KindDetection:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error_kind": string(kind), "error": err.Error()})
}

func respondLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, redactor.ErrNoRepository):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit log is not enabled"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "redaction not found"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "redaction not found"})
	}
}
