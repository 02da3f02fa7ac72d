package intake

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leadpipe/pkg/errors"
)

// unbounceDataField is the form field Unbounce uses for the JSON copy of a
// submission.
const unbounceDataField = "data.json"

const maxBodyBytes = 1 << 20

// readJSONObject decodes the request body as a JSON object.
func readJSONObject(c *gin.Context) (map[string]interface{}, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return decodeObject(body)
}

// bodyError classifies a body read failure for the response.
func bodyError(err error, message string) *errors.Error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.ErrPayloadTooLarge.WithCause(err)
	}
	return errors.ErrValidation.WithCause(err).WithMessage(message)
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	return payload, nil
}

// readUnbounce accepts a JSON body or an Unbounce form post. In a form post
// the data.json field wins; otherwise the form fields themselves are used.
func readUnbounce(c *gin.Context) (map[string]interface{}, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
	default:
		return readJSONObject(c)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := parseForm(c.Request, mediaType); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	if raw := c.Request.PostForm.Get(unbounceDataField); raw != "" {
		return decodeObject([]byte(raw))
	}

	payload := make(map[string]interface{}, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) == 1 {
			payload[key] = values[0]
			continue
		}
		list := make([]interface{}, len(values))
		for i, v := range values {
			list[i] = v
		}
		payload[key] = list
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty form")
	}
	return payload, nil
}

func parseForm(r *http.Request, mediaType string) error {
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxBodyBytes)
	}
	return r.ParseForm()
}
