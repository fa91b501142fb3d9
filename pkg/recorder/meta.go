package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// maxBody bounds how much of a request body is copied into the trace.
const maxBody = 1 << 20

// MetaFromRequest snapshots path, method, command, headers and submitted
// parameters of r. The command is the "cmd" parameter, if any.
// JSON and urlencoded bodies are peeked and put back whole, so the handler
// still reads exactly what the client sent. Bodies over maxBody are not parsed.
func MetaFromRequest(r *http.Request) RequestMeta {
	meta := RequestMeta{
		Path:    r.URL.Path,
		Method:  r.Method,
		Headers: make(map[string]string, len(r.Header)),
		Form:    make(map[string]any),
	}

	for name, values := range r.Header {
		meta.Headers[name] = strings.Join(values, ", ")
	}

	values := r.URL.Query()

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		if body, ok := peekBody(r); ok {
			var payload map[string]any
			if json.Unmarshal(body, &payload) == nil {
				for k, v := range payload {
					meta.Form[k] = v
				}
			}
		}
	case "application/x-www-form-urlencoded":
		if body, ok := peekBody(r); ok {
			if posted, err := url.ParseQuery(string(body)); err == nil {
				for k, v := range posted {
					values[k] = append(v, values[k]...)
				}
			}
		}
	}

	for k, v := range values {
		if _, set := meta.Form[k]; !set {
			meta.Form[k] = flatten(v)
		}
	}

	for k, v := range meta.Form {
		meta.Form[k] = Sanitize(v)
	}
	switch cmd := meta.Form["cmd"].(type) {
	case nil:
	case string:
		meta.Command = cmd
	default:
		meta.Command = fmt.Sprint(cmd)
	}
	return meta
}

// replayBody serves the peeked prefix and then the rest of the original body.
type replayBody struct {
	io.Reader
	io.Closer
}

// peekBody reads up to maxBody bytes of r's body and puts them back in front
// of whatever was not read. ok is false when the body is missing, failed to
// read or is longer than maxBody.
func peekBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	prefix, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	r.Body = replayBody{
		Reader: io.MultiReader(bytes.NewReader(prefix), r.Body),
		Closer: r.Body,
	}
	if err != nil || len(prefix) > maxBody {
		return nil, false
	}
	return prefix, true
}

func flatten(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	return append([]string(nil), values...)
}

// Sanitize turns v into something encoding/json can always serialize.
// Values of unknown type are stringified.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int64, int32, uint, uint64, uint32:
		return val
	case float64, float32:
		if _, err := json.Marshal(val); err != nil {
			return fmt.Sprint(val)
		}
		return val
	case []string:
		return val
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Sanitize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Sanitize(e)
		}
		return out
	default:
		return fmt.Sprint(val)
	}
}
