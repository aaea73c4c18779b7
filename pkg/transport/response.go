package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is the outcome of one Horizon API exchange. The body is fully
// read and the underlying connection released before it is returned.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the response has a 2xx status code.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the response body into v. Numbers are decoded as
// json.Number so integer datasource ids survive round-trips unchanged.
func (r *Response) JSON(v any) error {
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
