package relay

import "errors"

// Stage sentinels. Pipeline errors wrap one of these together with the cause,
// so callers can classify with errors.Is and operators still see the detail.
var (
	ErrCredential = errors.New("credential acquisition failed")
	ErrDownload   = errors.New("attachment download failed")
	ErrExtraction = errors.New("text extraction failed")
	ErrBackend    = errors.New("backend call failed")
)

// Fixed user-facing replies. Error detail never reaches the user.
const (
	AttachmentFailureReply = "❌ Failed to process the uploaded PDF."
	BackendFailureReply    = "⚠️ Backend error occurred."
)

// StageOf names the stage err failed in, or "ok" for a nil error.
func StageOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrBackend):
		return "backend"
	default:
		return "unknown"
	}
}
