package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const (
	maxPageBytes = 1 << 20
	maxPageChars = 8000
)

// isPrivateTarget reports URLs that must never be fetched on the oracle's behalf.
func isPrivateTarget(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return true
	}

	host := parsed.Hostname()
	switch strings.ToLower(host) {
	case "", "localhost", "metadata.google.internal", "metadata.google":
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

var errPrivateAddress = errors.New("connection to private address denied")

// refusePrivateDial runs after name resolution, so it also catches public
// hostnames that resolve to internal addresses.
func refusePrivateDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || isPrivateIP(ip) {
		return fmt.Errorf("%w: %s", errPrivateAddress, host)
	}
	return nil
}

// newPageClient dials only public addresses. Proxies are not used so the
// check applies to the page host itself.
func newPageClient(blocked func(string) bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refusePrivateDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if blocked != nil && blocked(req.URL.String()) {
				return fmt.Errorf("redirect to private address denied")
			}
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// pageReader fetches a paper landing page (arXiv abstract, proceedings page) as text.
type pageReader struct {
	client  *http.Client
	blocked func(string) bool
}

// NewReadPageTool creates read_paper_page. Private and loopback targets are refused.
func NewReadPageTool() *domain.Tool {
	return newReadPageTool(nil, isPrivateTarget)
}

func newReadPageTool(client *http.Client, blocked func(string) bool) *domain.Tool {
	r := &pageReader{client: client, blocked: blocked}
	if r.client == nil {
		r.client = newPageClient(blocked)
	}
	return &domain.Tool{
		Name:        "read_paper_page",
		Description: "Reads the text of a paper's page, typically the url_abs returned by get_author_papers (e.g. an arXiv abstract). Use it to summarize what a paper is about.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]domain.ToolProperty{
				"url": {Type: "string", Description: "The http(s) URL of the paper page."},
			},
			Required: []string{"url"},
		},
		Execute: r.execute,
	}
}

func (r *pageReader) execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	rawURL, _ := args["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return domain.ToolResult{}, fmt.Errorf("url must be a non-empty string")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if r.blocked != nil && r.blocked(rawURL) {
		return domain.ToolResult{}, fmt.Errorf("url denied: private or non-http address")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", "techscout/1.0")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ToolResult{}, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, rawURL)
	}
	if resp.StatusCode >= 400 {
		return domain.ToolResult{}, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("read %s: %w", rawURL, err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") || strings.Contains(text, "<html") {
		text = pageText(text)
	}
	text = strings.TrimSpace(strings.ToValidUTF8(text, "\uFFFD"))
	if text == "" {
		return domain.ToolResult{Content: "(page returned empty content)"}, nil
	}
	if utf8.RuneCountInString(text) > maxPageChars {
		text = string([]rune(text)[:maxPageChars]) + "\n... (truncated)"
	}
	return domain.ToolResult{Content: text}, nil
}

// skippedElements never carry paper text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "footer": true, "header": true, "svg": true,
}

// blockElements end a line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// pageText walks the token stream and keeps visible text, one block per line.
func pageText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		b     strings.Builder
		skip  int
		lines []string
	)
	flush := func() {
		if line := strings.Join(strings.Fields(b.String()), " "); line != "" {
			lines = append(lines, line)
		}
		b.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				skip++
			} else if blockElements[tag] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			} else if blockElements[tag] {
				flush()
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				flush()
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
