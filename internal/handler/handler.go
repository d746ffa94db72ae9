package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/domain"
	"github.com/erarta/api.c0r.ai/internal/metrics"
	"github.com/erarta/api.c0r.ai/internal/service"
)

const (
	MsgMissingFields  = "Missing photo or user_id"
	MsgPhotoNotFile   = "Photo must be a File upload (multipart/form-data)"
	MsgFileTooLarge   = "File too large"
	MsgAnalysisFailed = "Analysis failed"

	// Parts above this size spill to temp files during multipart parsing.
	multipartMemory = 32 << 20

	// Room for boundaries, part headers and the user_id field on top of the photo.
	multipartOverhead = 1 << 20
)

type Handler struct {
	service       service.AnalysisService
	log           *zap.Logger
	maxUploadSize int64
}

func NewHandler(service service.AnalysisService, maxUploadSize int64, log *zap.Logger) *Handler {
	return &Handler{
		service:       service,
		log:           log,
		maxUploadSize: maxUploadSize,
	}
}

type submission struct {
	userID string
	photo  *multipart.FileHeader
}

func (h *Handler) Analyze(c *gin.Context) {
	sub, msg := h.readSubmission(c)
	if msg != "" {
		metrics.AnalysesTotal.WithLabelValues(string(domain.KindValidation)).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	image, err := readPhoto(sub.photo)
	if err != nil {
		h.log.Error("Failed to read photo", zap.String("user_id", sub.userID), zap.Error(err))
		metrics.AnalysesTotal.WithLabelValues(string(domain.KindUnknown)).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgAnalysisFailed})
		return
	}

	estimate, err := h.service.Analyze(c.Request.Context(), sub.userID, image)
	if err != nil {
		h.logFailure(sub.userID, err)
		metrics.AnalysesTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgAnalysisFailed})
		return
	}

	metrics.AnalysesTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{"kbzhu": estimate})
}

// readSubmission returns the client-facing message when the form is not acceptable.
func (h *Handler) readSubmission(c *gin.Context) (submission, string) {
	limit := h.maxUploadSize + multipartOverhead
	if c.Request.ContentLength > limit {
		return submission{}, MsgFileTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	r := c.Request

	// ErrNotMultipart still leaves url-encoded fields parsed into PostForm.
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return submission{}, MsgFileTooLarge
		}
		h.log.Warn("Failed to parse form", zap.Error(err))
		return submission{}, MsgMissingFields
	}

	userID := strings.TrimSpace(r.PostForm.Get("user_id"))

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File["photo"]
	}
	hasPhoto := (len(files) > 0 && files[0].Size > 0) || r.PostForm.Get("photo") != ""

	if !hasPhoto || userID == "" {
		return submission{}, MsgMissingFields
	}
	if len(files) == 0 {
		return submission{}, MsgPhotoNotFile
	}
	if files[0].Size > h.maxUploadSize {
		return submission{}, MsgFileTooLarge
	}

	return submission{userID: userID, photo: files[0]}, ""
}

func readPhoto(header *multipart.FileHeader) (domain.UploadedImage, error) {
	file, err := header.Open()
	if err != nil {
		return domain.UploadedImage{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.UploadedImage{}, err
	}

	return domain.UploadedImage{
		Data:      data,
		MediaType: header.Header.Get("Content-Type"),
		Filename:  header.Filename,
	}, nil
}

func (h *Handler) logFailure(userID string, err error) {
	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	}

	var stepErr *service.StepError
	if errors.As(err, &stepErr) {
		fields = append(fields, zap.String("step", stepErr.Step), zap.String("object_id", stepErr.ObjectID))
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.StatusCode != 0 {
		fields = append(fields, zap.Int("upstream_status", domainErr.StatusCode))
	}

	h.log.Error("Analysis failed", fields...)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}
