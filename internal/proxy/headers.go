package proxy

import (
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Hop-by-hop headers. These are removed when sent to the backend and when
// relayed back to the client.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection", // non-standard but still sent by some clients
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop strips hop-by-hop headers from h, including every header
// named in its Connection header.
func removeHopByHop(h http.Header) {
	for _, value := range h["Connection"] {
		for _, name := range strings.Split(value, ",") {
			name = textproto.TrimString(name)
			if name != "" && httpguts.ValidHeaderFieldName(name) {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// prepareOutboundHeaders strips hop-by-hop headers from an outbound request,
// keeping "Te: trailers" so gRPC-style backends still negotiate trailers.
func prepareOutboundHeaders(h http.Header) {
	wantsTrailers := httpguts.HeaderValuesContainsToken(h["Te"], "trailers")
	removeHopByHop(h)
	if wantsTrailers {
		h.Set("Te", "trailers")
	}
	// An empty value stops the transport from adding its own User-Agent.
	if _, ok := h["User-Agent"]; !ok {
		h.Set("User-Agent", "")
	}
}

// copyHeader adds the backend's headers to dst. Names the gateway already
// set on dst, such as X-Request-ID and X-RateLimit-*, keep the gateway's
// value.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if _, owned := dst[k]; owned {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func appendForwardedFor(h http.Header, clientIP string) {
	if clientIP == "" {
		return
	}
	if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
		clientIP = strings.Join(prior, ", ") + ", " + clientIP
	}
	h.Set("X-Forwarded-For", clientIP)
}
