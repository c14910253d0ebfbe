package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StreamResolve/model"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playerOK = `{
  "playabilityStatus": {"status": "OK"},
  "streamingData": {"adaptiveFormats": [
    {"itag": 137, "mimeType": "video/mp4", "bitrate": 4000000, "url": "https://cdn.example/video"},
    {"itag": 140, "mimeType": "audio/mp4; codecs=\"mp4a.40.2\"", "bitrate": 130000, "contentLength": "3456789", "url": "https://cdn.example/140?id=abc123", "audioQuality": "AUDIO_QUALITY_MEDIUM"},
    {"itag": 251, "mimeType": "audio/webm; codecs=\"opus\"", "bitrate": 160000, "contentLength": "4000000", "lastModified": "1700000000000000", "loudnessDb": -3.5, "url": "https://cdn.example/251?id=abc123"},
    {"itag": 139, "mimeType": "audio/mp4", "bitrate": 48000, "url": "https://cdn.example/139?id=abc123"}
  ]}
}`

func primaryServer(t *testing.T, body string, inspect func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player" {
			http.NotFound(w, r)
			return
		}
		if inspect != nil {
			var payload map[string]any
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &payload)
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, model.StatusOk, ClassifyStatus("OK"))
	assert.Equal(t, model.StatusLoginRequired, ClassifyStatus("LOGIN_REQUIRED"))
	assert.Equal(t, model.StatusUnplayable, ClassifyStatus("UNPLAYABLE"))
	assert.Equal(t, model.StatusUnknown, ClassifyStatus("ERROR"))
	assert.Equal(t, model.StatusUnknown, ClassifyStatus(""))
}

func TestStatusFromMessage(t *testing.T) {
	assert.Equal(t, StatusOK, statusFromMessage(""))
	assert.Equal(t, StatusLoginRequired, statusFromMessage("Sign in to confirm your age"))
	assert.Equal(t, StatusUnplayable, statusFromMessage("This video is unavailable"))
	assert.Equal(t, "boom", statusFromMessage(" boom "))
	// 只有缺少格式才算 NotFound，文案里的 not found 不会触发回退
	assert.Equal(t, model.StatusUnknown, ClassifyStatus(statusFromMessage("Video not found")))
}

func TestClassifyTransport(t *testing.T) {
	status, err := ClassifyTransport(context.Background(), context.DeadlineExceeded)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, status)

	status, err = ClassifyTransport(context.Background(), &net.DNSError{Err: "no such host", Name: "x.invalid"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoInternet, status)

	status, err = ClassifyTransport(context.Background(), &net.OpError{Op: "dial", Err: errors.New("refused")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoInternet, status)

	fatal := errors.New("tls: handshake failure")
	_, err = ClassifyTransport(context.Background(), fatal)
	assert.Same(t, fatal, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ClassifyTransport(ctx, context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrimaryPlainDecoratesURL(t *testing.T) {
	srv := primaryServer(t, playerOK, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "abc123", payload["videoId"])
		assert.Empty(t, r.Header.Get("Cookie"))
	})
	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
	c.newCPN = func() string { return "CPN0123456789abc" }

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityAuto})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	require.NotNil(t, out.Chosen)
	assert.Equal(t, 251, out.Chosen.FormatTag)
	assert.Equal(t, "https://cdn.example/251?id=abc123&cpn=CPN0123456789abc&range=0-4000000", out.Chosen.URL)
	require.NotNil(t, out.Chosen.LastModified)
	assert.Equal(t, int64(1700000000000000), *out.Chosen.LastModified)
}

func TestPrimaryPlainDefaultRange(t *testing.T) {
	srv := primaryServer(t, playerOK, nil)
	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityLow})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	assert.Equal(t, 139, out.Chosen.FormatTag)
	assert.True(t, strings.HasSuffix(out.Chosen.URL, "&range=0-10000000"))
	assert.Contains(t, out.Chosen.URL, "&cpn=")
}

func TestPrimaryAdvancedAppendsPoToken(t *testing.T) {
	srv := primaryServer(t, playerOK, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "SID=1", r.Header.Get("Cookie"))
		dims, ok := payload["serviceIntegrityDimensions"].(map[string]any)
		if assert.True(t, ok) {
			assert.Equal(t, "tok", dims["poToken"])
		}
	})
	c := NewPrimaryClient(PrimaryConfig{
		Options:  Options{BaseURL: srv.URL},
		Variant:  VariantAdvanced,
		Session:  StaticSession{IsLoggedIn: true, CookieValue: "SID=1"},
		PoTokens: StaticPoToken("tok"),
	})
	c.newCPN = func() string { return "cpn" }

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityAuto, IsMetered: true, MeteringPolicy: true})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	// 计费网络 + 节流策略 -> 中等音质
	assert.Equal(t, 140, out.Chosen.FormatTag)
	assert.Equal(t, "https://cdn.example/140?id=abc123&cpn=cpn&range=0-3456789&pot=tok", out.Chosen.URL)
}

type stubSigner struct {
	calls int
	err   error
}

func (s *stubSigner) StreamURL(_ context.Context, _ string, c model.EncodingCandidate) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return c.URL + "&sig=ok", nil
}

func (s *stubSigner) SignatureTimestamp(context.Context, string) (int, bool) { return 20000, true }

func TestPrimaryLegacyOnlyDeciphers(t *testing.T) {
	srv := primaryServer(t, playerOK, func(_ *http.Request, payload map[string]any) {
		pc, ok := payload["playbackContext"].(map[string]any)
		if assert.True(t, ok) {
			cpc, _ := pc["contentPlaybackContext"].(map[string]any)
			assert.EqualValues(t, 20000, cpc["signatureTimestamp"])
		}
		_, hasCPN := payload["cpn"]
		assert.False(t, hasCPN)
	})
	signer := &stubSigner{}
	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantLegacy, Signer: signer})

	// 旧路径：计费网络时取最低音质
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityAuto, IsMetered: true})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	assert.Equal(t, 139, out.Chosen.FormatTag)
	assert.Equal(t, "https://cdn.example/139?id=abc123&sig=ok", out.Chosen.URL)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, "primary-legacy", c.Name())
}

func TestPrimarySignatureFailureIsUnknown(t *testing.T) {
	srv := primaryServer(t, playerOK, nil)
	c := NewPrimaryClient(PrimaryConfig{
		Options: Options{BaseURL: srv.URL},
		Variant: VariantAdvanced,
		Signer:  &stubSigner{err: ErrSignatureRequired},
	})

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, out.Status)
	assert.Nil(t, out.Chosen)
}

func TestPrimaryStatuses(t *testing.T) {
	cases := map[string]model.Status{
		`{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"Sign in"}}`:         model.StatusLoginRequired,
		`{"playabilityStatus":{"status":"UNPLAYABLE","reason":"blocked"}}`:             model.StatusUnplayable,
		`{"playabilityStatus":{"status":"ERROR","reason":"oops"}}`:                     model.StatusUnknown,
		`{"playabilityStatus":{"status":"OK"},"streamingData":{"adaptiveFormats":[]}}`: model.StatusUnknown,
	}
	for body, want := range cases {
		srv := primaryServer(t, body, nil)
		c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
		out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
		require.NoError(t, err)
		assert.Equal(t, want, out.Status, body)
		assert.Nil(t, out.Chosen)
	}
}

func TestPrimaryRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, out.Status)
	assert.Equal(t, "rate limited", out.Reason)
}

func TestPrimaryMalformedBodyIsFatal(t *testing.T) {
	srv := primaryServer(t, `{not json`, nil)
	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
	_, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	assert.Error(t, err)
}

func TestPrimaryConnectionRefusedIsNoInternet(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: base}, Variant: VariantPlain})
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoInternet, out.Status)
}

func TestPrimarySlowServerIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, Variant: VariantPlain})
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, out.Status)
}

func TestPrimaryCallerCancellationPropagates(t *testing.T) {
	srv := primaryServer(t, playerOK, nil)
	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Resolve(ctx, Params{TrackID: "abc123"})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestPrimaryUnclassifiedTransportErrorPassesThrough(t *testing.T) {
	fatal := errors.New("x509: certificate signed by unknown authority")
	c := NewPrimaryClient(PrimaryConfig{
		Options: Options{BaseURL: "https://primary.example", HTTPClient: &http.Client{Transport: failingTransport{err: fatal}}},
		Variant: VariantPlain,
	})
	_, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	assert.ErrorIs(t, err, fatal)
}

func TestBrotliResponseIsDecoded(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write([]byte(playerOK))
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityHigh})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	assert.Equal(t, 251, out.Chosen.FormatTag)
}

func TestReadBodyLimit(t *testing.T) {
	resp := &http.Response{Header: http.Header{}, Body: io.NopCloser(strings.NewReader(strings.Repeat("a", maxBodyBytes)))}
	body, err := readBody(resp)
	require.NoError(t, err)
	assert.Len(t, body, maxBodyBytes)

	resp = &http.Response{Header: http.Header{}, Body: io.NopCloser(strings.NewReader(strings.Repeat("a", maxBodyBytes+1)))}
	_, err = readBody(resp)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestPrimaryOversizedResponseIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"padding":"`+strings.Repeat("x", maxBodyBytes)+`"}`)
	}))
	defer srv.Close()

	c := NewPrimaryClient(PrimaryConfig{Options: Options{BaseURL: srv.URL}, Variant: VariantPlain})
	_, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestSecondaryResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/streams/abc123":
			_, _ = io.WriteString(w, `{"audioStreams":[
				{"url":"https://piped.example/a","itag":140,"mimeType":"audio/mp4","bitrate":128000,"contentLength":3000000,"quality":"128 kbps"},
				{"url":"https://piped.example/b","itag":251,"mimeType":"audio/webm","bitrate":160000,"contentLength":4000000,"quality":"160 kbps"}
			]}`)
		case "/streams/blocked":
			_, _ = io.WriteString(w, `{"error":"This video is unavailable","message":"Video unavailable"}`)
		case "/streams/empty":
			_, _ = io.WriteString(w, `{"audioStreams":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSecondaryClient(Options{BaseURL: srv.URL})

	// 备用解析源忽略计费网络
	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", IsMetered: true, MeteringPolicy: true})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	assert.Equal(t, 251, out.Chosen.FormatTag)
	assert.Equal(t, "https://piped.example/b", out.Chosen.URL)

	out, err = c.Resolve(context.Background(), Params{TrackID: "blocked"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnplayable, out.Status)

	out, err = c.Resolve(context.Background(), Params{TrackID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, out.Status)

	out, err = c.Resolve(context.Background(), Params{TrackID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, out.Status)
}

func TestTertiaryResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("local"))
		switch r.URL.Path {
		case "/api/v1/videos/abc123":
			_, _ = io.WriteString(w, `{"adaptiveFormats":[
				{"url":"/videoplayback?itag=251","itag":"251","type":"audio/webm; codecs=\"opus\"","bitrate":"160000","clen":"4000000","lmt":"1700000000000000","audioQuality":"AUDIO_QUALITY_MEDIUM"},
				{"url":"/videoplayback?itag=137","itag":"137","type":"video/mp4","bitrate":"4000000"},
				{"url":"https://inv.example/videoplayback?itag=139","itag":"139","type":"audio/mp4","bitrate":"48000"}
			]}`)
		case "/api/v1/videos/gone":
			_, _ = io.WriteString(w, `{"error":"This video is not available"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewTertiaryClient(Options{BaseURL: srv.URL})

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityHigh})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)
	assert.Equal(t, 251, out.Chosen.FormatTag)
	assert.Equal(t, srv.URL+"/videoplayback?itag=251", out.Chosen.URL)
	require.NotNil(t, out.Chosen.ContentLength)
	assert.Equal(t, int64(4000000), *out.Chosen.ContentLength)

	out, err = c.Resolve(context.Background(), Params{TrackID: "abc123", Quality: model.QualityLow})
	require.NoError(t, err)
	assert.Equal(t, 139, out.Chosen.FormatTag)

	out, err = c.Resolve(context.Background(), Params{TrackID: "gone"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnplayable, out.Status)

	out, err = c.Resolve(context.Background(), Params{TrackID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, out.Status)
}

func TestLocalRateLimitExhaustedIsUnknown(t *testing.T) {
	srv := primaryServer(t, playerOK, nil)
	c := NewPrimaryClient(PrimaryConfig{
		Options: Options{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1, Timeout: 100 * time.Millisecond},
		Variant: VariantPlain,
	})

	out, err := c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	require.Equal(t, model.StatusOk, out.Status)

	// 令牌用完且等待时间超过调用超时
	out, err = c.Resolve(context.Background(), Params{TrackID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, out.Status)
	assert.Equal(t, "rate limited", out.Reason)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewSecondaryClient(Options{}), NewTertiaryClient(Options{}))
	r.Register(NewPrimaryClient(PrimaryConfig{Variant: VariantLegacy}))

	assert.Equal(t, []string{"primary-legacy", "secondary", "tertiary"}, r.Names())
	c, ok := r.Get("secondary")
	require.True(t, ok)
	assert.Equal(t, SecondaryName, c.Name())
	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "https://a/b?x=1", appendQuery("https://a/b", "x", "1"))
	assert.Equal(t, "https://a/b?y=2&x=0-5", appendQuery("https://a/b?y=2", "x", "0-5"))
}

func TestNewCPN(t *testing.T) {
	a, b := newCPN(), newCPN()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
