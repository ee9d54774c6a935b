// Package transport provides shared HTTP transports that use uTLS to present
// a Chrome-like TLS fingerprint. Go's default crypto/tls produces a JA3
// fingerprint that search engines and Cloudflare-fronted APIs identify as a
// bot and answer with challenge pages instead of content. Both the web
// search scraper and the hosted LLM provider share these transports.
//
// Two variants are provided:
//   - NewTransport (HTTP/1.1) for API providers and the DuckDuckGo HTML
//     endpoint, which accept HTTP/1.1. Chrome 120 fingerprint with ALPN
//     restricted to http/1.1.
//   - NewH2Client (HTTP/2) for endpoints that inspect the HTTP/2 SETTINGS
//     fingerprint as well. Uses tls-client with the full Chrome 120 profile.
package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	utls "github.com/refraction-networking/utls"
)

// dialChromeTLSh1 dials with a Chrome ClientHello but restricts ALPN to
// HTTP/1.1, so the server cannot negotiate h2, which Go's http.Transport
// cannot handle over custom DialTLSContext connections.
func dialChromeTLSh1(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		rawConn.Close()
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, err
	}

	// Wrap to prevent Go's net/http from detecting h2 on the connection.
	return &h1Conn{Conn: tlsConn}, nil
}

// h1Conn hides ConnectionState from Go's net/http Transport.
type h1Conn struct {
	net.Conn
}

// NewTransport returns an *http.Transport using the Chrome TLS fingerprint
// with HTTP/1.1 only.
func NewTransport() *http.Transport {
	return &http.Transport{
		ForceAttemptHTTP2:  false,
		MaxIdleConns:       4,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: true,
		DialTLSContext:     dialChromeTLSh1,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewProxyTransport returns the HTTP/1.1 Chrome-fingerprinted transport with
// an HTTP proxy configured.
func NewProxyTransport(proxyURL *url.URL) *http.Transport {
	t := NewTransport()
	t.Proxy = http.ProxyURL(proxyURL)
	return t
}

// NewClient returns an *http.Client on the HTTP/1.1 Chrome-fingerprinted
// transport. Timeout 0: streaming LLM responses must not be cut off by the
// client; the sandbox deadline bounds the turn instead.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   0,
		Transport: NewTransport(),
	}
}

// NewProviderClient returns an *http.Client for Cloudflare-fronted LLM
// providers. It strips SDK telemetry headers (X-Stainless-*) that trigger
// WAF rules and Zstd-compresses request bodies over 2KB, which long dialog
// histories routinely exceed.
func NewProviderClient() *http.Client {
	return &http.Client{
		Timeout:   0,
		Transport: &providerRT{inner: NewTransport()},
	}
}

type providerRT struct {
	inner http.RoundTripper
}

func (rt *providerRT) RoundTrip(req *http.Request) (*http.Response, error) {
	for k := range req.Header {
		if strings.HasPrefix(k, "X-Stainless") {
			req.Header.Del(k)
		}
	}

	if req.Body != nil && req.ContentLength > 2048 {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		compressed := enc.EncodeAll(raw, nil)
		enc.Close()
		req.Body = io.NopCloser(bytes.NewReader(compressed))
		req.ContentLength = int64(len(compressed))
		req.Header.Set("Content-Encoding", "zstd")
	}

	return rt.inner.RoundTrip(req)
}

// chromeRoundTripper adapts tls-client (which uses bogdanfinn/fhttp types)
// to Go's standard http.RoundTripper interface.
type chromeRoundTripper struct {
	client tlsclient.HttpClient
}

func (rt *chromeRoundTripper) RoundTrip(hReq *http.Request) (*http.Response, error) {
	var body io.Reader
	if hReq.Body != nil {
		body = hReq.Body
	}
	fReq, err := fhttp.NewRequest(hReq.Method, hReq.URL.String(), body)
	if err != nil {
		return nil, err
	}
	// Copy headers individually so fhttp's internal defaults survive;
	// replacing the whole map breaks the anti-bot bypass.
	for k, vv := range hReq.Header {
		for _, v := range vv {
			fReq.Header.Add(k, v)
		}
	}
	if hReq.ContentLength > 0 {
		fReq.ContentLength = hReq.ContentLength
	}

	fResp, err := rt.client.Do(fReq)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:           fResp.Status,
		StatusCode:       fResp.StatusCode,
		Proto:            fResp.Proto,
		ProtoMajor:       fResp.ProtoMajor,
		ProtoMinor:       fResp.ProtoMinor,
		Header:           http.Header(fResp.Header),
		Body:             fResp.Body,
		ContentLength:    fResp.ContentLength,
		TransferEncoding: fResp.TransferEncoding,
		Close:            fResp.Close,
		Uncompressed:     fResp.Uncompressed,
		Trailer:          http.Header(fResp.Trailer),
		Request:          hReq,
	}, nil
}

// NewH2Client returns an *http.Client that speaks HTTP/2 with a full Chrome
// browser fingerprint, for endpoints that inspect both the TLS ClientHello
// (JA3) and the HTTP/2 SETTINGS frame (Akamai h2 fingerprint).
func NewH2Client() *http.Client {
	client, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(),
		tlsclient.WithClientProfile(profiles.Chrome_120),
		tlsclient.WithRandomTLSExtensionOrder(),
		tlsclient.WithNotFollowRedirects(),
	)
	if err != nil {
		panic("transport: creating Chrome h2 client: " + err.Error())
	}
	return &http.Client{
		Timeout:   0,
		Transport: &chromeRoundTripper{client: client},
	}
}
