package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"syscall"
	"time"

	"github.com/elkarte/forum/shared/logger"
)

const urlImageSizeTTL = 240 * time.Second

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var unknownImageSize = ImageSize{Width: -1, Height: -1}

var errInternalAddress = errors.New("refusing to fetch from an internal address")

// carrier-grade NAT space, not covered by netip's IsPrivate
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// newRemoteClient returns the client used for member supplied urls. The
// check runs on the resolved address of every connection, redirects
// included, so a public name pointing inward is refused as well.
func newRemoteClient() *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: refuseInternal}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// a proxy would be the only address the dialer ever sees
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: 10 * time.Second, Transport: transport}
}

func refuseInternal(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || ip.IsLoopback() || sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("%w: %s", errInternalAddress, ip)
	}
	return nil
}

// fetchRange is how much of a remote image is needed to find its
// dimensions, by extension.
func fetchRange(ext string) int64 {
	switch ext {
	case "jpg", "jpeg":
		// the size block can sit anywhere after the exif data
		return 32768
	case "png", "gif", "bmp":
		return 1024
	default:
		return 16384
	}
}

// URLImageSize reads the dimensions of a remote image from the first bytes
// of it. Returns -1, -1 when they cannot be found.
func (s *Attachments) URLImageSize(ctx context.Context, rawURL string) ImageSize {
	sum := md5.Sum([]byte(rawURL))
	key := "url_image_size-" + hex.EncodeToString(sum[:])

	var cached ImageSize
	if found, err := s.cache.Get(ctx, key, &cached); err == nil && found {
		return cached
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return unknownImageSize
	}
	ext := path.Ext(u.Path)
	if ext != "" {
		ext = ext[1:]
	}

	data, status, err := s.fetchImage(ctx, rawURL, fetchRange(ext))
	// servers that do not understand Range get a second, full request
	if err != nil || (status != http.StatusOK && status != http.StatusPartialContent && status != http.StatusForbidden) {
		data, _, err = s.fetchImage(ctx, rawURL, 0)
	}
	if err != nil || len(data) == 0 {
		logger.Log.Debug("remote image fetch failed", "url", rawURL, "error", err)
		return unknownImageSize
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return unknownImageSize
	}
	size := ImageSize{Width: cfg.Width, Height: cfg.Height}
	if err := s.cache.Put(ctx, key, size, urlImageSizeTTL); err != nil {
		logger.Log.Warn("image size cache write failed", "key", key, "error", err)
	}
	return size
}

// fetchImage GETs at most limit bytes of rawURL, the whole body when limit is 0.
func (s *Attachments) fetchImage(ctx context.Context, rawURL string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", limit-1))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit)
	} else {
		// full fetches still stop somewhere
		body = io.LimitReader(resp.Body, 8<<20)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
