package usecase

import (
	"mime"
	"net/http"
	"strings"
)

// MaxImageBytes is the largest image accepted from users or fed to a model.
const MaxImageBytes = 10 << 20

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// validateImage checks an image in the order empty, size, type and returns
// its normalized content type. The type comes from the bytes. A declared
// type only counts when it names something other than JPEG or PNG, which
// rejects the image.
func validateImage(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", newError(ErrorInvalidInput, "empty_image", nil)
	}
	if len(data) > MaxImageBytes {
		return "", newError(ErrorUnsupportedMedia, "image_too_large", nil)
	}
	if ct := normalizeContentType(declared); ct != "" && !isGenericType(ct) && !isSupportedImage(ct) {
		return "", newError(ErrorUnsupportedMedia, "unsupported_image_type", nil)
	}
	ct := normalizeContentType(http.DetectContentType(data))
	if !isSupportedImage(ct) {
		return "", newError(ErrorUnsupportedMedia, "unsupported_image_type", nil)
	}
	return ct, nil
}

// isGenericType reports content types that say nothing about the payload.
func isGenericType(ct string) bool {
	return ct == "application/octet-stream" || ct == "binary/octet-stream"
}

func normalizeContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(ct))
	if err != nil {
		return ""
	}
	if mediaType == "image/jpg" || mediaType == "image/pjpeg" {
		return "image/jpeg"
	}
	return mediaType
}

func isSupportedImage(ct string) bool {
	_, ok := imageExtensions[ct]
	return ok
}

func imageExtension(ct string) string {
	if ext, ok := imageExtensions[ct]; ok {
		return ext
	}
	return "jpg"
}
