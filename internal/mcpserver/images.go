package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const maxImageSize = 10 << 20

var (
	imageExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true,
		".gif": true, ".webp": true, ".svg": true,
	}

	mimeToExt = map[string]string{
		"image/png":     ".png",
		"image/jpeg":    ".jpg",
		"image/gif":     ".gif",
		"image/webp":    ".webp",
		"image/svg+xml": ".svg",
	}

	unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

	errExists = errors.New("resource already exists")
)

// addImage stores the image behind url as a resource and attaches an image
// block pointing at it.
func (s *Server) addImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return toolError(err), nil
	}

	var (
		data []byte
		ext  string
	)
	if strings.HasPrefix(rawURL, "data:") {
		data, ext, err = decodeDataURI(rawURL)
	} else {
		data, ext, err = fetchImage(ctx, rawURL)
	}
	if err != nil {
		return toolError(err), nil
	}

	name := optional(req, "filename")
	if name == "" {
		name = nameFromURL(rawURL, ext)
	}
	name = sanitizeName(name)
	if err := checkImage(data, path.Ext(name)); err != nil {
		return toolError(err), nil
	}

	if ok, _ := s.resources.Exists(name); ok {
		return toolError(fmt.Errorf("%w: %s", errExists, name)), nil
	}
	if err := s.resources.Write(name, data); err != nil {
		return toolError(fmt.Errorf("save resource: %w", err)), nil
	}

	b, err := s.repo.AddImageBlock(id, "/resources/"+name, optional(req, "title"), s.author(req), "")
	if err != nil {
		_ = s.resources.Delete(name)
		return toolError(err), nil
	}
	return mcp.NewToolResultText("added image block: " + b.ID), nil
}

// decodeDataURI parses a data:<mediatype>;base64,<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", errors.New("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, "", errors.New("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	mime, _, _ := strings.Cut(strings.TrimSuffix(meta, ";base64"), ";")
	ext := mimeToExt[mime]
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, ext, nil
}

// fetchImage downloads an image over http or https.
func fetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", u.Scheme)
	}
	if err := checkHost(u.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return checkHost(req.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", maxImageSize)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, mimeToExt[mime], nil
}

// checkHost rejects loopback and cloud metadata addresses.
func checkHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client report DNS failures
		}
		ip = ips[0]
	}
	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// nameFromURL takes the file name from the URL path, falling back to a
// random one.
func nameFromURL(rawURL, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(rawURL, "data:") {
		if u, err := url.Parse(rawURL); err == nil {
			if base := path.Base(u.Path); strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.NewString() + ext
}

func sanitizeName(name string) string {
	name = unsafeNameRe.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
	if name == "" || name == "." || strings.Trim(name, "_.") == "" {
		return uuid.NewString()
	}
	return name
}

// checkImage verifies that data is an image of the kind ext names.
func checkImage(data []byte, ext string) error {
	ext = strings.ToLower(ext)
	if !imageExts[ext] {
		return fmt.Errorf("unsupported image extension %q (allowed: png, jpg, jpeg, gif, webp, svg)", ext)
	}
	if ext == ".svg" {
		if !bytes.Contains(data[:min(len(data), 1024)], []byte("<svg")) {
			return errors.New("content does not appear to be an SVG (missing <svg tag)")
		}
		return nil
	}
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	got := mimeToExt[mime]
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if got != ext {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, mime)
	}
	return nil
}
