// Package transport implements the HTTP side of a zsync run: fetching the
// control file (local or remote), driving the single ranged GET request for
// whatever bytes the seed scan couldn't recover, and handling Basic-auth
// challenges. It is the engine's only dependency on net/http; everything
// upstream of it deals in io.Reader and byte ranges.
package transport

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zsync-go/zsync/pkg/zsync/output"
)

// CredentialSource supplies Basic-auth credentials for a host, if any are
// configured for it.
type CredentialSource interface {
	CredentialsFor(host string) (username, password string, ok bool)
}

// StaticCredentials is a CredentialSource backed by a fixed host->credential
// map, suitable for credentials supplied on the command line or in a config
// file.
type StaticCredentials map[string][2]string

// CredentialsFor implements CredentialSource.
func (s StaticCredentials) CredentialsFor(host string) (string, string, bool) {
	c, ok := s[host]
	if !ok {
		return "", "", false
	}
	return c[0], c[1], true
}

// NotFoundError indicates that the control file could not be found, whether
// locally (missing file) or remotely (404 response).
type NotFoundError struct {
	URI string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("control file not found: %s", e.URI)
}

// Client drives the HTTP side of a zsync run against a single HTTP client,
// caching which hosts have proven to accept Basic credentials so subsequent
// HTTPS requests to them can send credentials preemptively.
type Client struct {
	http       *http.Client
	creds      CredentialSource
	basicKnown map[string]bool
}

// NewClient constructs a Client. httpClient may be nil, in which case
// http.DefaultClient is used. creds may be nil, in which case 401 challenges
// are never retried.
func NewClient(httpClient *http.Client, creds CredentialSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:       httpClient,
		creds:      creds,
		basicKnown: make(map[string]bool),
	}
}

// OpenControlFile opens uri, which may be a local filesystem path or an
// http(s) URL. If savePath is non-empty and uri is remote, the response body
// is written to savePath first and the control file is then read back from
// there (so that callers may keep a saved copy of the control file). The
// returned base is the URI to resolve a relative target URL against; it is
// empty for local control files.
func (c *Client) OpenControlFile(uri, savePath string) (r io.ReadCloser, base string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" || parsed.Scheme == "file" {
		path := uri
		if err == nil && parsed.Scheme == "file" {
			path = parsed.Path
		}
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, "", &NotFoundError{URI: uri}
			}
			return nil, "", errors.Wrapf(err, "unable to open control file %q", uri)
		}
		return f, "", nil
	}

	resp, err := c.http.Get(uri)
	if err != nil {
		return nil, "", errors.Wrapf(err, "unable to fetch control file %q", uri)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", &NotFoundError{URI: uri}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", errors.Errorf("unexpected status fetching control file: %s", resp.Status)
	}

	if savePath == "" {
		return resp.Body, uri, nil
	}

	defer resp.Body.Close()
	saved, err := os.Create(savePath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "unable to create control file save path %q", savePath)
	}
	if _, err := io.Copy(saved, resp.Body); err != nil {
		saved.Close()
		return nil, "", errors.Wrap(err, "unable to save control file")
	}
	if err := saved.Close(); err != nil {
		return nil, "", errors.Wrap(err, "unable to close saved control file")
	}

	f, err := os.Open(savePath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "unable to reopen saved control file %q", savePath)
	}
	return f, uri, nil
}

// ResolveTargetURL resolves the control file's (possibly relative) target
// URL reference against base, which is either the URI the control file was
// fetched from, or an explicit override. An empty base with a relative
// reference is an error (category 3).
func ResolveTargetURL(targetURL, base string) (string, error) {
	ref, err := url.Parse(targetURL)
	if err != nil {
		return "", errors.Wrapf(err, "malformed target URL %q", targetURL)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", errors.Errorf("target URL %q is relative but no base URI is known", targetURL)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "malformed base URI %q", base)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// FetchRanges issues a single ranged GET for ranges against targetURL,
// routing received bytes into w. A nil progress callback is fine; it's
// invoked once per byte range actually received (which may differ in
// granularity from ranges, when the server coalesces or splits them).
func (c *Client) FetchRanges(targetURL string, ranges []output.Range, w *output.Writer, progress func(offset, length int64)) error {
	if len(ranges) == 0 {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return errors.Wrap(err, "unable to construct range request")
	}
	req.Header.Set("Range", "bytes="+formatRangeHeader(ranges))

	host := req.URL.Host
	preemptive := req.URL.Scheme == "https" && c.basicKnown[host]
	if preemptive {
		c.attachCredentials(req, host)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "range request failed")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		resp, err = c.retryWithCredentials(req, host)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return streamWhole(resp.Body, w, progress)
	case http.StatusPartialContent:
		return streamPartial(resp, w, progress)
	default:
		return errors.Errorf("unexpected status from range request: %s", resp.Status)
	}
}

// retryWithCredentials retries req once with Basic credentials for host, if
// any are configured. On success, host is remembered so future HTTPS
// requests to it send credentials preemptively (HTTP requests never do, so
// that a redirect to HTTPS isn't undermined by sending credentials in the
// clear first).
func (c *Client) retryWithCredentials(req *http.Request, host string) (*http.Response, error) {
	username, password, ok := c.credentialsFor(host)
	if !ok {
		return nil, errors.New("server requires authentication and no credentials are configured")
	}

	retry := req.Clone(req.Context())
	retry.Header = req.Header.Clone()
	retry.SetBasicAuth(username, password)

	resp, err := c.http.Do(retry)
	if err != nil {
		return nil, errors.Wrap(err, "range request retry failed")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, errors.New("authentication failed")
	}
	if req.URL.Scheme == "https" {
		c.basicKnown[host] = true
	}
	return resp, nil
}

func (c *Client) credentialsFor(host string) (string, string, bool) {
	if c.creds == nil {
		return "", "", false
	}
	return c.creds.CredentialsFor(host)
}

func (c *Client) attachCredentials(req *http.Request, host string) {
	username, password, ok := c.credentialsFor(host)
	if ok {
		req.SetBasicAuth(username, password)
	}
}

// formatRangeHeader renders ranges as an HTTP byte-range set: "lo1-hi1,lo2-hi2,…"
// with inclusive upper bounds, per RFC 7233.
func formatRangeHeader(ranges []output.Range) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = strconv.FormatInt(r.Lo, 10) + "-" + strconv.FormatInt(r.Hi-1, 10)
	}
	return strings.Join(parts, ",")
}

// streamWhole handles a 200 OK response where the server ignored the Range
// header and sent the entire body; every byte is routed to w starting at
// offset 0. The body is passed on in full 64 KiB chunks (only the last may
// be shorter), so every chunk offset is block-aligned for any block size
// that divides 64 KiB.
func streamWhole(body io.Reader, w *output.Writer, progress func(offset, length int64)) error {
	const chunkSize = 64 * 1024
	buf := make([]byte, chunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			if werr := w.WriteRange(offset, buf[:n]); werr != nil {
				return werr
			}
			if progress != nil {
				progress(offset, int64(n))
			}
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "error reading range response body")
		}
	}
}

// streamPartial handles a 206 Partial Content response, which may carry
// either a single range (Content-Range on the response itself) or a
// multipart/byteranges body with one Content-Range per part.
func streamPartial(resp *http.Response, w *output.Writer, progress func(offset, length int64)) error {
	contentType := resp.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/byteranges") {
		return streamMultipart(resp.Body, params["boundary"], w, progress)
	}

	offset, _, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return errors.Wrap(err, "malformed Content-Range on single-range response")
	}
	return streamSingleRange(resp.Body, offset, w, progress)
}

func streamSingleRange(body io.Reader, offset int64, w *output.Writer, progress func(offset, length int64)) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrap(err, "error reading range response body")
	}
	if err := w.WriteRange(offset, data); err != nil {
		return err
	}
	if progress != nil {
		progress(offset, int64(len(data)))
	}
	return nil
}

func streamMultipart(body io.Reader, boundary string, w *output.Writer, progress func(offset, length int64)) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "malformed multipart/byteranges response")
		}

		offset, _, err := parseContentRange(part.Header.Get("Content-Range"))
		if err != nil {
			return errors.Wrap(err, "malformed Content-Range in multipart part")
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return errors.Wrap(err, "error reading multipart part body")
		}
		if err := w.WriteRange(offset, data); err != nil {
			return err
		}
		if progress != nil {
			progress(offset, int64(len(data)))
		}
	}
}

// parseContentRange parses a "bytes lo-hi/total" Content-Range header value,
// returning lo and hi+1 (the exclusive end).
func parseContentRange(value string) (lo, hiExclusive int64, err error) {
	value = strings.TrimSpace(strings.TrimPrefix(value, "bytes"))
	value = strings.TrimPrefix(value, " ")
	slash := strings.IndexByte(value, '/')
	if slash != -1 {
		value = value[:slash]
	}
	dash := strings.IndexByte(value, '-')
	if dash == -1 {
		return 0, 0, errors.Errorf("malformed Content-Range range %q", value)
	}
	lo, err = strconv.ParseInt(value[:dash], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed Content-Range lower bound %q", value[:dash])
	}
	hi, err := strconv.ParseInt(value[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed Content-Range upper bound %q", value[dash+1:])
	}
	return lo, hi + 1, nil
}
