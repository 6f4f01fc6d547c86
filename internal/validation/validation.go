package validation

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MaxFileSize = 10 << 20 // 10mb
)

var AllowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"image/bmp":       true,
	"image/tiff":      true,
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

var validate = validator.New()

// ValidateUpload checks the artifact of a submission. The MIME type is
// sniffed from content; when the sniffed type is not on the allowlist, the
// declared type is used instead if it is (e.g. a DOCX that sniffs as a zip).
func ValidateUpload(data []byte, declaredMime, filename string) (string, ValidationErrors) {
	var errors ValidationErrors

	if len(data) == 0 {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: "file is empty",
		})
		return "", errors
	}

	if int64(len(data)) > MaxFileSize {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s exceeds maximum size of %d bytes", filename, MaxFileSize),
		})
		return "", errors
	}

	detected := mimetype.Detect(data).String()
	// strip parameters like "; charset=utf-8"
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = strings.TrimSpace(detected[:i])
	}

	mime := detected
	if !AllowedMimeTypes[mime] && AllowedMimeTypes[declaredMime] {
		mime = declaredMime
	}

	if !AllowedMimeTypes[mime] {
		errors = append(errors, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s has unsupported content type: %s", filename, detected),
		})
		return "", errors
	}

	return mime, errors
}

// WebhookRequest is the attach-webhook body.
type WebhookRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// ValidateWebhook checks a webhook subscription request.
func ValidateWebhook(req WebhookRequest) ValidationErrors {
	var errors ValidationErrors

	if err := validate.Struct(req); err != nil {
		errors = append(errors, ValidationError{
			Field:   "url",
			Message: "a valid http(s) URL is required",
		})
		return errors
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "url",
			Message: "webhook URL must use http or https",
		})
	}
	return errors
}
