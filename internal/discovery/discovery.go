// Package discovery finds zonal value workbook attachments linked from a
// portal page, downloads them and unpacks the workbooks they contain.
package discovery

import (
	"archive/zip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/observability"
	"golang.org/x/sync/errgroup"
)

// userAgent is sent with every request; some portals reject Go's default.
const userAgent = "Mozilla/5.0 (compatible; zonal-fetch/1.0)"

// ManifestFile is written to the output directory after every run.
const ManifestFile = "manifest.json"

// ErrBadArchive is returned when a downloaded .zip cannot be opened.
var ErrBadArchive = errors.New("invalid zip archive")

var (
	workbookExtensions = []string{".xlsx", ".xlsm", ".xls"}
	unsafeNameChars    = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)
)

// Link is one attachment found on the index page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Item records what happened to one attachment.
type Item struct {
	Link
	DownloadedFile string   `json:"downloaded_file,omitempty"`
	ExtractedFiles []string `json:"extracted_files"`
	Error          string   `json:"error,omitempty"`
}

// Manifest summarizes a fetch run.
type Manifest struct {
	IndexURL     string    `json:"index_url"`
	FetchedAt    time.Time `json:"fetched_at"`
	DownloadsDir string    `json:"downloads_dir"`
	ExtractedDir string    `json:"extracted_dir"`
	Items        []Item    `json:"items"`
	Failed       int       `json:"failed"`
}

// Workbooks lists every extracted workbook path, sorted and de-duplicated.
func (m *Manifest) Workbooks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range m.Items {
		for _, p := range it.ExtractedFiles {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Fetcher downloads attachments over HTTP.
type Fetcher struct {
	client  *http.Client
	log     *logger.Logger
	workers int
}

// NewFetcher creates a Fetcher. A nil client uses one with a 3 minute timeout.
func NewFetcher(client *http.Client, log *logger.Logger, workers int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{client: client, log: log, workers: workers}
}

// Discover returns the workbook and zip links on the page at indexURL,
// resolved to absolute URLs, in page order without duplicates.
func (f *Fetcher) Discover(ctx context.Context, indexURL string) ([]Link, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index url: %w", err)
	}

	body, err := f.get(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	seen := make(map[string]bool)
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		if !isAttachment(abs.Path) || seen[abs.String()] {
			return
		}
		seen[abs.String()] = true
		links = append(links, Link{URL: abs.String(), Text: strings.Join(strings.Fields(s.Text()), " ")})
	})
	return links, nil
}

// Run discovers attachments on indexURL, downloads each into
// outDir/downloads and extracts workbooks into outDir/extracted. A failing
// attachment is recorded in its Item and never stops the others. Files
// already downloaded are reused.
func (f *Fetcher) Run(ctx context.Context, indexURL, outDir string) (*Manifest, error) {
	m := &Manifest{
		IndexURL:     indexURL,
		FetchedAt:    time.Now().UTC(),
		DownloadsDir: filepath.Join(outDir, "downloads"),
		ExtractedDir: filepath.Join(outDir, "extracted"),
	}
	for _, dir := range []string{m.DownloadsDir, m.ExtractedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	links, err := f.Discover(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	f.log.Info("Attachments discovered", map[string]interface{}{
		"index_url": indexURL,
		"links":     len(links),
	})

	m.Items = make([]Item, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.Items[i] = f.fetchOne(gctx, link, m.DownloadsDir, m.ExtractedDir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, it := range m.Items {
		if it.Error != "" {
			m.Failed++
		}
	}
	if err := writeManifest(filepath.Join(outDir, ManifestFile), m); err != nil {
		return m, err
	}

	f.log.Info("Fetch finished", map[string]interface{}{
		"attachments": len(m.Items),
		"workbooks":   len(m.Workbooks()),
		"failed":      m.Failed,
	})
	return m, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, link Link, downloadsDir, extractedDir string) Item {
	it := Item{Link: link, ExtractedFiles: []string{}}
	log := f.log.With(map[string]interface{}{"url": link.URL})

	dest := filepath.Join(downloadsDir, SafeFileName(link.URL))
	if _, err := os.Stat(dest); err == nil {
		observability.FetchDownloads.WithLabelValues("cached").Inc()
	} else if err := f.download(ctx, link.URL, dest); err != nil {
		observability.FetchDownloads.WithLabelValues("failed").Inc()
		log.Warn("Download failed", map[string]interface{}{"error": err.Error()})
		it.Error = err.Error()
		return it
	} else {
		observability.FetchDownloads.WithLabelValues("downloaded").Inc()
	}
	it.DownloadedFile = dest

	files, err := Extract(dest, extractedDir)
	if err != nil {
		log.Warn("Extraction failed", map[string]interface{}{"error": err.Error()})
		it.Error = err.Error()
		return it
	}
	it.ExtractedFiles = files
	log.Debug("Attachment fetched", map[string]interface{}{"workbooks": len(files)})
	return it
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// download writes to a temporary file first so an interrupted transfer is
// never mistaken for a cached download.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

// Extract copies a downloaded workbook, or every workbook inside a
// downloaded zip, into dir. Other files yield nothing. Existing targets are
// reused.
func Extract(downloaded, dir string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(downloaded))
	switch {
	case isWorkbook(downloaded):
		target := filepath.Join(dir, filepath.Base(downloaded))
		if err := copyFile(downloaded, target); err != nil {
			return nil, err
		}
		return []string{target}, nil
	case ext == ".zip":
		return extractZip(downloaded, dir)
	default:
		return []string{}, nil
	}
}

func extractZip(archive, dir string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArchive, filepath.Base(archive), err)
	}
	defer zr.Close()

	stem := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	out := []string{}
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		// Only the base name is used, so member paths cannot escape dir.
		name := path.Base(strings.ReplaceAll(member.Name, `\`, "/"))
		if !isWorkbook(name) {
			continue
		}
		target := filepath.Join(dir, stem+"__"+sanitize(name, "workbook.xls"))
		if _, err := os.Stat(target); err == nil {
			out = append(out, target)
			continue
		}
		if err := writeMember(member, target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

func writeMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", member.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}
	return dst.Close()
}

func copyFile(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// SafeFileName derives a stable local name for an attachment URL: a short
// URL digest followed by the sanitized base name.
func SafeFileName(rawURL string) string {
	base := "file"
	if u, err := url.Parse(rawURL); err == nil {
		if p, err := url.PathUnescape(path.Base(u.Path)); err == nil && p != "/" && p != "." {
			base = p
		}
	}
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12] + "_" + sanitize(base, "file")
}

func sanitize(name, fallback string) string {
	name = strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), " ._")
	if name == "" {
		return fallback
	}
	return name
}

func isWorkbook(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range workbookExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isAttachment(p string) bool {
	return isWorkbook(p) || strings.EqualFold(path.Ext(p), ".zip")
}
