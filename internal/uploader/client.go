package uploader

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/function61/gokit/ezhttp"
	"github.com/function61/gokit/retry"

	"github.com/putplace/assist/internal/store"
)

// MetadataRecord is the wire shape POSTed to /put_file, field-for-field
// the metadata record spec.md section 6 defines.
type MetadataRecord struct {
	Filepath   string  `json:"filepath"`
	Hostname   string  `json:"hostname"`
	IPAddress  string  `json:"ip_address"`
	SHA256     string  `json:"sha256"`
	FileSize   int64   `json:"file_size"`
	FileMode   uint32  `json:"file_mode"`
	FileUID    uint32  `json:"file_uid"`
	FileGID    uint32  `json:"file_gid"`
	FileMtime  float64 `json:"file_mtime"`
	FileAtime  float64 `json:"file_atime"`
	FileCtime  float64 `json:"file_ctime"`
	IsSymlink  bool    `json:"is_symlink"`
	LinkTarget string  `json:"link_target"`
}

type putFileResponse struct {
	UploadRequired bool   `json:"upload_required"`
	UploadURL      string `json:"upload_url"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// client talks to one remote putplace server, grounded on
// function61-varasto's ezhttp.Post/Get + AuthBearer call shape.
type client struct {
	baseURL string
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL}
}

// Login exchanges username/secret for a bearer token via /api/login.
// Wrapped in retry.Retry/DefaultBackoff (same call shape as varasto's
// backgroundUploader.upload) so a login attempted during a brief network
// blip doesn't immediately fall back to the queue-level backoff.
func (c *client) Login(ctx context.Context, username, secret string) (token string, expiry time.Time, err error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var resp loginResponse
	retryErr := retry.Retry(ctx, func(ctx context.Context) error {
		_, postErr := ezhttp.Post(ctx, c.baseURL+"/api/login",
			ezhttp.SendJson(map[string]string{"username": username, "password": secret}),
			ezhttp.RespondsJson(&resp, false),
		)
		return postErr
	}, retry.DefaultBackoff(), func(err error) {
		log.Printf("uploader: login attempt failed: %v", err)
	})
	if retryErr != nil {
		return "", time.Time{}, fmt.Errorf("login: %w", retryErr)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return resp.AccessToken, time.Now().Add(ttl), nil
}

// PutFile posts the metadata record and reports whether content upload is
// required, plus the upload URL to use if so.
func (c *client) PutFile(ctx context.Context, token string, record MetadataRecord) (uploadRequired bool, uploadURL string, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp putFileResponse
	res, err := ezhttp.Post(ctx, c.baseURL+"/put_file",
		ezhttp.AuthBearer(token),
		ezhttp.SendJson(&record),
		ezhttp.RespondsJson(&resp, false),
	)
	if err != nil {
		return false, "", classifyHTTPError(res, err)
	}
	return resp.UploadRequired, resp.UploadURL, nil
}

// UploadContent streams path's content as a single multipart body to
// uploadURL, never buffering the whole file — the writer goroutine feeds
// an io.Pipe that the HTTP request reads from directly. progress, if
// non-nil, is invoked after every chunk write with bytes sent so far.
func (c *client) UploadContent(ctx context.Context, token, uploadURL, hostname, filepath string, size int64, content io.Reader, progress func(sent int64)) error {
	q := url.Values{"hostname": {hostname}, "filepath": {filepath}}
	full := c.baseURL + uploadURL + "?" + q.Encode()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		part, err := mw.CreateFormFile("file", filepath)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, &progressReader{r: content, report: progress}); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	timeout := uploadTimeout(size)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := ezhttp.Post(ctx, full,
		ezhttp.AuthBearer(token),
		ezhttp.SendBody(pr, mw.FormDataContentType()),
	)
	if err != nil {
		return classifyHTTPError(res, err)
	}
	return nil
}

// uploadTimeout defaults to the 1h ceiling spec.md section 4.4 names,
// scaled up for very large files.
func uploadTimeout(size int64) time.Duration {
	const base = time.Hour
	perGiB := time.Duration(size/(1<<30)) * 10 * time.Minute
	if perGiB > base {
		return perGiB
	}
	return base
}

type progressReader struct {
	r      io.Reader
	report func(sent int64)
	sent   int64
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil {
			p.report(p.sent)
		}
	}
	return n, err
}

// buildRecord translates a Store File row into the wire metadata record.
func buildRecord(hostname, ipAddress string, file store.File) MetadataRecord {
	sec := float64(file.MtimeNs) / 1e9
	return MetadataRecord{
		Filepath:   file.Path,
		Hostname:   hostname,
		IPAddress:  ipAddress,
		SHA256:     file.SHA256,
		FileSize:   file.Size,
		FileMode:   file.Mode,
		FileUID:    file.UID,
		FileGID:    file.GID,
		FileMtime:  sec,
		FileAtime:  sec,
		FileCtime:  sec,
		IsSymlink:  file.IsSymlink,
		LinkTarget: file.LinkTarget,
	}
}

func classifyHTTPError(res *http.Response, err error) error {
	if res == nil {
		return &transientError{err: err}
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return &authError{err}
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusRequestTimeout:
		return &transientError{err: err, RetryAfter: parseRetryAfter(res)}
	case res.StatusCode >= 500:
		return &transientError{err: err}
	case res.StatusCode >= 400:
		return &terminalError{err}
	default:
		return err
	}
}

// parseRetryAfter reads the Retry-After header spec.md section 4.4 says
// 429/408 responses should be honored against, in either of its two HTTP
// forms: a delay in seconds, or an absolute HTTP-date. Returns 0 if the
// header is absent or unparseable, leaving the caller to fall back to its
// own backoff schedule.
func parseRetryAfter(res *http.Response) time.Duration {
	v := res.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
