package httpclient

import (
	"sort"
	"strings"

	"github.com/quietpixel/sockclient/pkg/uri"
)

// Method is an HTTP request method.
type Method string

// The methods this client knows how to send. Any other Method is rejected
// by Do with an *Error.
const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

var knownMethods = map[Method]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodDelete: true,
	MethodHead: true, MethodOptions: true, MethodConnect: true,
	MethodTrace: true, MethodPatch: true,
}

// QueryParam is one key/value pair of a query string, kept in caller-given
// order. See Request.OrderedQuery for why this exists alongside
// uri.URI.Query.
type QueryParam struct {
	Key   string
	Value string
}

// BodyCallback receives one piece of a response body as it becomes
// available. For a chunked body it is called once, with the whole decoded
// body, after the terminating chunk has been read; for a Content-Length
// body it is called once per network read.
type BodyCallback func([]byte)

// Request describes one HTTP request.
//
// URL is resolved with uri.Parse; a missing scheme defaults to "http" and
// a missing port defaults to 80 or 443 depending on the resolved scheme.
//
// If OrderedQuery is non-empty it is used verbatim for the request line's
// query string in the given order, taking priority over any query
// embedded in URL. Otherwise the query embedded in URL (if any) is used,
// sorted by key for determinism since uri.URI.Query is an unordered map.
type Request struct {
	Method       Method
	URL          string
	Header       Header
	Body         []byte
	OrderedQuery []QueryParam

	// KeepAlive, when false, sends "Connection: close" and the
	// connection is not reused for a later request.
	KeepAlive bool

	// Stream, together with Callback, requests incremental body
	// delivery instead of buffering the whole response body into
	// Response.Body.
	Stream   bool
	Callback BodyCallback
}

func encodeQuery(req *Request, u uri.URI) string {
	if len(req.OrderedQuery) > 0 {
		var b strings.Builder
		for i, p := range req.OrderedQuery {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
		return b.String()
	}

	if len(u.Query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(u.Query))
	for k := range u.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(u.Query[k])
	}
	return b.String()
}
