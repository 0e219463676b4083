package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigchat/internal/domain/entity"
	"gigchat/pkg/errors"
)

// AttachmentUseCase uploads message attachments to object storage and
// returns the descriptor a send references. An upload never followed by a
// send is an orphan; cleanup is an external concern.
type AttachmentUseCase struct {
	uploader ObjectUploader
	maxSize  int64
}

func NewAttachmentUseCase(uploader ObjectUploader, maxSize int64) *AttachmentUseCase {
	return &AttachmentUseCase{
		uploader: uploader,
		maxSize:  maxSize,
	}
}

// Upload stores the stream under a path namespaced by the uploading user,
// with a collision-resistant object name. Size and mime type on the returned
// descriptor are read back from storage, never trusted from the caller. On
// failure only the upload needs retrying, not the whole message.
func (uc *AttachmentUseCase) Upload(ctx context.Context, session *Session, file io.Reader, fileName, mimeType string) (*entity.Attachment, error) {
	if err := session.require(); err != nil {
		return nil, err
	}
	if fileName == "" {
		return nil, errors.BadRequest("File name is required", nil)
	}

	if uc.maxSize > 0 {
		file = io.LimitReader(file, uc.maxSize+1)
	}

	objectName := uc.objectName(session.UserID, fileName)

	url, size, storedMime, err := uc.uploader.Upload(ctx, file, objectName, mimeType)
	if err != nil {
		if errors.Is(err, "UPLOAD_FAILED") {
			return nil, err
		}
		return nil, errors.UploadFailed("Attachment upload failed", err)
	}
	if uc.maxSize > 0 && size > uc.maxSize {
		return nil, errors.BadRequest(fmt.Sprintf("Attachment exceeds %d bytes", uc.maxSize), nil)
	}

	attachmentType := "file"
	if strings.HasPrefix(storedMime, "image/") {
		attachmentType = "image"
	}

	return &entity.Attachment{
		ID:       uuid.New().String(),
		Type:     attachmentType,
		URL:      url,
		FileName: fileName,
		FileSize: size,
		MimeType: storedMime,
	}, nil
}

// objectName builds chat/{user}/{timestamp}-{random}{ext}. The uuid suffix
// makes collisions for same-second uploads a non-issue.
func (uc *AttachmentUseCase) objectName(userID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("chat/%s/%s-%s%s", userID, time.Now().UTC().Format("20060102150405"), uuid.New().String(), ext)
}
