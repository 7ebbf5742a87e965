// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/specklesystems/speckle-go/lib/netutil"
	"github.com/specklesystems/speckle-go/lib/version"
)

// api issues requests against one stream. It holds no client; each
// call takes the client to use so workers can own theirs.
type api struct {
	serverURL string
	streamID  string
	token     string
}

func newAPI(serverURL, streamID, token string) (*api, error) {
	if streamID == "" {
		return nil, fmt.Errorf("server transport: stream id is required")
	}
	parsed, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("server transport: parsing server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server transport: server URL %q must be http or https", serverURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server transport: server URL %q has no host", serverURL)
	}
	return &api{
		serverURL: parsed.String(),
		streamID:  streamID,
		token:     token,
	}, nil
}

func (a *api) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, a.serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		request.Header.Set("Authorization", "Bearer "+a.token)
	}
	request.Header.Set("Accept", "text/plain")
	request.Header.Set("User-Agent", version.UserAgent())
	return request, nil
}

// diff asks which ids the server already has. Ids missing from the
// answer are reported as absent.
func (a *api) diff(ctx context.Context, client *http.Client, ids []string) (map[string]bool, error) {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("server transport: encoding diff ids: %w", err)
	}
	form := url.Values{"objects": {string(encoded)}}
	request, err := a.newRequest(ctx, http.MethodPost, "/api/diff/"+url.PathEscape(a.streamID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("server transport: building diff request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("server transport: diff: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, &HTTPError{Op: "diff", StatusCode: response.StatusCode, Body: netutil.ErrorBody(response.Body)}
	}

	var answer map[string]bool
	if err := netutil.DecodeResponse(response.Body, &answer); err != nil {
		return nil, fmt.Errorf("server transport: decoding diff response: %w", err)
	}
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = answer[id]
	}
	return present, nil
}

// upload posts records as one gzip-compressed JSON array in the
// multipart field batch-1.
func (a *api) upload(ctx context.Context, client *http.Client, records [][]byte) error {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write([]byte{'['})
	for i, record := range records {
		if i > 0 {
			gz.Write([]byte{','})
		}
		gz.Write(record)
	}
	gz.Write([]byte{']'})
	if err := gz.Close(); err != nil {
		return fmt.Errorf("server transport: compressing batch: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="batch-1"; filename="batch-1"`)
	header.Set("Content-Type", "application/gzip")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("server transport: building upload: %w", err)
	}
	part.Write(compressed.Bytes())
	if err := writer.Close(); err != nil {
		return fmt.Errorf("server transport: building upload: %w", err)
	}

	request, err := a.newRequest(ctx, http.MethodPost, "/objects/"+url.PathEscape(a.streamID),
		bytes.NewReader(body.Bytes()))
	if err != nil {
		return fmt.Errorf("server transport: building upload request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("server transport: upload: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		return &HTTPError{Op: "upload", StatusCode: response.StatusCode, Body: netutil.ErrorBody(response.Body)}
	}
	io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
	return nil
}

// download opens the closure stream rooted at id. The caller closes
// the body.
func (a *api) download(ctx context.Context, client *http.Client, id string) (io.ReadCloser, error) {
	request, err := a.newRequest(ctx, http.MethodGet,
		"/objects/"+url.PathEscape(a.streamID)+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("server transport: building download request: %w", err)
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("server transport: download %s: %w", id, err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, &HTTPError{Op: "download", StatusCode: response.StatusCode, Body: netutil.ErrorBody(response.Body)}
	}
	return response.Body, nil
}
