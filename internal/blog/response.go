package blog

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/bsimic/blogbox/pkg"
)

// apiResponse is the envelope wrapping every payload served by the
// posts API. Token is reserved for a future auth flow and is always
// serialized as null for now.
type apiResponse struct {
	Success    bool         `json:"success"`
	StatusCode int          `json:"statusCode"`
	Message    string       `json:"message"`
	Data       any          `json:"data"`
	Pagination *Pagination  `json:"pagination,omitempty"`
	Request    *requestInfo `json:"request,omitempty"`
	Token      *string      `json:"token"`
}

// requestInfo echoes caller details back in development, to ease
// debugging from the frontend side.
type requestInfo struct {
	IP     string `json:"ip"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

type responseWriter struct {
	devMode bool
}

func (rw *responseWriter) writeResponse(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	message string,
	data any,
	pagination *Pagination,
) {
	resp := apiResponse{
		Success:    statusCode < http.StatusBadRequest,
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
		Pagination: pagination,
	}

	if rw.devMode {
		clientIP, err := pkg.ReadUserIP(r)
		if err != nil {
			clientIP = r.RemoteAddr
		}
		resp.Request = &requestInfo{
			IP:     clientIP,
			Method: r.Method,
			Path:   r.URL.Path,
		}
	}

	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("marshal posts api response: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, statusCode)
}

func (rw *responseWriter) writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	rw.writeResponse(w, r, statusCode, message, nil, nil)
}
