package csv

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// HTTPClient downloads remote inputs
var HTTPClient = &http.Client{Timeout: 5 * time.Minute}

// IsURL reports whether uri is an http(s) URL
func IsURL(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch opens a local file or downloads an http(s) URL. The caller closes
// the returned reader.
func Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !IsURL(uri) {
		f, err := os.Open(uri)
		if err != nil {
			return nil, errors.Wrapf(errors.TypeInput, err, "failed to open %s", uri)
		}
		return f, nil
	}

	logging.Debug("Downloading input", zap.String("url", uri))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.TypeInput, err, "invalid URL %s", uri)
	}
	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.TypeInput, err, "failed to download %s", uri)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf(errors.TypeInput, "failed to download %s: %s", uri, resp.Status)
	}
	return resp.Body, nil
}
