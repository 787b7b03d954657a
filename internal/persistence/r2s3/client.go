package r2s3

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client PUTs tile objects into one R2 bucket using path-style URLs.
type Client struct {
	base   *url.URL
	bucket string
	creds  credentials
	http   *http.Client

	now func() time.Time
}

type credentials struct {
	keyID, secret string
}

var errBadKey = errors.New("invalid object key")

func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	creds := credentials{keyID: strings.TrimSpace(accessKeyID), secret: strings.TrimSpace(secretAccessKey)}
	if endpoint == "" || bucket == "" || creds.keyID == "" || creds.secret == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	return &Client{
		base:   u,
		bucket: bucket,
		creds:  creds,
		http:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}, nil
}

// PutObject uploads body under key. Content-Type is signed; Cache-Control is sent as is
// and may be empty.
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType, cacheControl string) error {
	objPath, err := objectPath(c.bucket, key)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.String()+objPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	if cacheControl != "" {
		req.Header.Set("Cache-Control", cacheControl)
	}
	c.creds.sign(req, objPath, body, c.now().UTC())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return fmt.Errorf("object put failed status=%d key=%s body=%s", resp.StatusCode, key, strings.TrimSpace(string(msg)))
}

// objectPath returns /bucket/escaped/key. Tile keys are plain slash-separated names, so
// empty, "." and ".." segments are refused rather than cleaned.
func objectPath(bucket, key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty", errBadKey)
	}
	segs := strings.Split(key, "/")
	for i, s := range segs {
		if s == "" || s == "." || s == ".." {
			return "", fmt.Errorf("%w: %q", errBadKey, key)
		}
		segs[i] = url.PathEscape(s)
	}
	return "/" + bucket + "/" + strings.Join(segs, "/"), nil
}

// sign adds x-amz-* and Authorization headers for an S3 SigV4 request in the "auto"
// region. The signed header set is fixed: content-type, host, payload hash and date.
func (cr credentials) sign(req *http.Request, canonicalPath string, body []byte, at time.Time) {
	const (
		algo   = "AWS4-HMAC-SHA256"
		region = "auto"
		signed = "content-type;host;x-amz-content-sha256;x-amz-date"
	)
	stamp := at.Format("20060102T150405Z")
	day := stamp[:8]
	payload := sha256Hex(body)
	req.Header.Set("x-amz-date", stamp)
	req.Header.Set("x-amz-content-sha256", payload)

	var canon strings.Builder
	fmt.Fprintf(&canon, "%s\n%s\n\n", req.Method, canonicalPath)
	fmt.Fprintf(&canon, "content-type:%s\nhost:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n",
		req.Header.Get("Content-Type"), req.URL.Host, payload, stamp)
	fmt.Fprintf(&canon, "%s\n%s", signed, payload)

	scope := day + "/" + region + "/s3/aws4_request"
	toSign := algo + "\n" + stamp + "\n" + scope + "\n" + sha256Hex([]byte(canon.String()))

	key := []byte("AWS4" + cr.secret)
	for _, part := range []string{day, region, "s3", "aws4_request"} {
		key = hmacSum(key, part)
	}
	sig := hex.EncodeToString(hmacSum(key, toSign))
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algo, cr.keyID, scope, signed, sig))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSum(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}
