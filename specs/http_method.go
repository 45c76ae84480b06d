package specs

type HttpMethod string

// Only GET may carry an upgrade; the rest exist for error reporting.
const (
	HttpMethodGet     HttpMethod = "GET"
	HttpMethodHead    HttpMethod = "HEAD"
	HttpMethodPost    HttpMethod = "POST"
	HttpMethodPut     HttpMethod = "PUT"
	HttpMethodDelete  HttpMethod = "DELETE"
	HttpMethodOptions HttpMethod = "OPTIONS"
)

// HttpVersion11 is the only protocol version accepted for the upgrade request.
const HttpVersion11 = "HTTP/1.1"
