// Package apienvelope is the {ok, data, error} JSON envelope shared by
// internal/adminapi's gin handlers and internal/adminclient's resty
// calls. Grounded verbatim on lib/connector's connector.go (Receive[T]/
// ReceiveEmpty) and handler.go (RespOK/RespErr).
package apienvelope

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
)

// Error is returned by Receive/ReceiveEmpty when the envelope reports
// ok=false or the HTTP layer itself failed.
type Error struct {
	Code    int
	Message string
	Path    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("apienvelope: request %s failed (code %d): %s", e.Path, e.Code, e.Message)
}

// RespOK writes a successful envelope.
func RespOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, &struct {
		OK   bool `json:"ok"`
		Data any  `json:"data,omitempty"`
	}{OK: true, Data: data})
}

// RespErr writes a failed envelope at the given status code.
func RespErr(c *gin.Context, code int, format string, values ...any) {
	c.JSON(code, &struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}{OK: false, Error: fmt.Sprintf(format, values...)})
}

// Receive executes r against path/method and decodes the {ok,data,error}
// envelope into a *T, or returns *Error when ok is false.
func Receive[T any](r *resty.Request, path string, method string) (*T, error) {
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
		Data  *T     `json:"data,omitempty"`
	}
	r.SetResult(&result)
	r.SetError(&result)
	resp, err := r.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !result.OK {
		return nil, &Error{Code: resp.StatusCode(), Message: result.Error, Path: path}
	}
	return result.Data, nil
}

// ReceiveEmpty is Receive for endpoints that return no data payload.
func ReceiveEmpty(r *resty.Request, path string, method string) error {
	_, err := Receive[struct{}](r, path, method)
	return err
}
