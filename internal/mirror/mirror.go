package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	collyfetcher "github.com/JakeFAU/board-archiver/internal/fetcher/colly"
)

const (
	cssDir   = "css"
	jsDir    = "js"
	imageDir = "images"
	thumbDir = "thumbs"

	defaultAssetWorkers = 4
)

var mediaExtensions = []string{"gif", "png", "jpg", "jpeg", "webm"}

// Getter fetches the thread page.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Config wires a Mirror.
type Config struct {
	Getter     Getter
	Downloader archiver.Downloader
	Store      archiver.FileStore
	// Scheme is used for protocol-less script references.
	Scheme string
	// AssetWorkers bounds concurrent css/js downloads.
	AssetWorkers int
	Logger       *zap.Logger
}

// Mirror implements archiver.PageMirror with goquery.
type Mirror struct {
	getter       Getter
	downloader   archiver.Downloader
	store        archiver.FileStore
	scheme       string
	assetWorkers int
	logger       *zap.Logger
}

var _ archiver.PageMirror = (*Mirror)(nil)

// New returns a Mirror.
func New(cfg Config) *Mirror {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.AssetWorkers <= 0 {
		cfg.AssetWorkers = defaultAssetWorkers
	}
	return &Mirror{
		getter:       cfg.Getter,
		downloader:   cfg.Downloader,
		store:        cfg.Store,
		scheme:       cfg.Scheme,
		assetWorkers: cfg.AssetWorkers,
		logger:       cfg.Logger,
	}
}

type asset struct {
	url  string
	path string
}

// MirrorPage fetches req.PageURL, downloads its assets and writes the
// rewritten page to <ThreadDir>/<ThreadID>.html. A page that cannot be
// fetched is reported without touching the store; write failures wrap
// archiver.ErrPersistence.
func (m *Mirror) MirrorPage(ctx context.Context, req archiver.MirrorRequest) error {
	resp, err := m.getter.Get(ctx, req.PageURL)
	if err != nil {
		return fmt.Errorf("fetch thread page %s: %w", req.PageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		m.logger.Warn("thread page not parseable, saving as fetched",
			zap.String("url", req.PageURL), zap.Error(err))
		return m.write(ctx, req, resp.Body)
	}

	var assets []asset
	if !req.SkipCSS {
		assets = append(assets, m.rewriteStylesheets(doc, req)...)
	}
	if !req.SkipJS {
		assets = append(assets, m.rewriteScripts(doc, req)...)
	}
	if req.HasFiles {
		rewriteMedia(doc)
	}
	rewriteFragments(doc)

	m.fetchAssets(ctx, assets)

	html, err := doc.Html()
	if err != nil {
		return fmt.Errorf("%w: render %s: %w", archiver.ErrPersistence, req.PageURL, err)
	}
	return m.write(ctx, req, []byte(html))
}

func (m *Mirror) write(ctx context.Context, req archiver.MirrorRequest, body []byte) error {
	name := path.Join(req.ThreadDir, fmt.Sprintf("%d.html", req.ThreadID))
	if _, err := m.store.PutObject(ctx, name, "text/html; charset=utf-8", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("%w: write %s: %w", archiver.ErrPersistence, name, err)
	}
	return nil
}

func (m *Mirror) rewriteStylesheets(doc *goquery.Document, req archiver.MirrorRequest) []asset {
	var out []asset
	doc.Find(`link[rel="stylesheet"][href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" {
			return
		}
		name := archiver.FileName(href)
		out = append(out, asset{
			url:  resolve(req.PageURL, href),
			path: path.Join(req.ThreadDir, cssDir, name),
		})
		s.SetAttr("href", path.Join(cssDir, name))
	})
	return out
}

// rewriteScripts localizes scripts served by the archive itself or by an
// ajax CDN; everything else is left pointing at the network.
func (m *Mirror) rewriteScripts(doc *goquery.Document, req archiver.MirrorRequest) []asset {
	var out []asset
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		isAjax := strings.Contains(src, "ajax")
		if src == "" || !(strings.Contains(src, req.Domain) || isAjax) {
			return
		}
		src = strings.TrimLeft(src, "/")
		if !strings.Contains(src, "http") {
			if isAjax || strings.HasPrefix(src, req.Domain) {
				src = m.scheme + "://" + src
			} else {
				src = m.scheme + "://" + req.Domain + "/" + src
			}
		}
		name := archiver.FileName(src)
		out = append(out, asset{url: src, path: path.Join(req.ThreadDir, jsDir, name)})
		s.SetAttr("src", path.Join(jsDir, name))
	})
	return out
}

func rewriteMedia(doc *goquery.Document) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !isMediaURL(href) {
			return
		}
		dir := imageDir
		if strings.Contains(href, "thumb") {
			dir = thumbDir
		}
		s.SetAttr("href", path.Join(dir, archiver.FileName(href)))
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.Contains(src, "http") {
			s.SetAttr("src", path.Join(thumbDir, archiver.FileName(src)))
		}
	})
}

// rewriteFragments turns post links like /g/thread/100/#p101 into
// the page-local "#p101".
func rewriteFragments(doc *goquery.Document) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || href == "#" || !strings.Contains(href, "#") {
			return
		}
		s.SetAttr("href", path.Base(href))
	})
}

func (m *Mirror) fetchAssets(ctx context.Context, assets []asset) {
	var g errgroup.Group
	g.SetLimit(m.assetWorkers)
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if _, dup := seen[a.path]; dup {
			continue
		}
		seen[a.path] = struct{}{}
		if m.store.Exists(a.path) {
			continue
		}
		g.Go(func() error {
			if err := m.downloader.Download(ctx, a.url, a.path); err != nil {
				m.logger.Debug("asset download failed",
					zap.String("url", a.url), zap.String("path", a.path), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func isMediaURL(raw string) bool {
	lower := strings.ToLower(raw)
	for _, ext := range mediaExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func resolve(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
