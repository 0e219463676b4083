package handler

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/middleware"
	"gigchat/internal/usecase"
	"gigchat/pkg/errors"
	"gigchat/pkg/response"
)

type AttachmentHandler struct {
	attachments *usecase.AttachmentUseCase
}

func NewAttachmentHandler(attachments *usecase.AttachmentUseCase) *AttachmentHandler {
	return &AttachmentHandler{
		attachments: attachments,
	}
}

// Upload stores one multipart file and returns the attachment descriptor a
// subsequent send references.
func (h *AttachmentHandler) Upload(c echo.Context) error {
	session := middleware.SessionFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.BadRequest("A file part is required", err))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Unable to read uploaded file", err))
	}
	defer file.Close()

	attachment, err := h.attachments.Upload(
		c.Request().Context(),
		session,
		file,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, attachment)
}
