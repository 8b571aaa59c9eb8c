package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"llmstxt/internal/extract"
)

func collect(t *testing.T, c *Crawler) (map[string]PageCrawled, Progress, EventKind) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pages := make(map[string]PageCrawled)
	var last Progress
	terminal := EventKind(-1)
	for ev := range c.Run(ctx) {
		switch ev.Kind {
		case EventPage:
			pages[ev.Page.URL] = ev.Page
		case EventProgress:
			last = ev.Progress
		case EventCompleted, EventFailed:
			terminal = ev.Kind
		}
	}
	return pages, last, terminal
}

func newCrawler(t *testing.T, seed string, opts Options) *Crawler {
	t.Helper()
	opts.SeedURL = seed
	if opts.HostRate == 0 {
		opts.HostRate = 1000 // keep tests fast
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 1000
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCrawlSmallSite(t *testing.T) {
	mux := http.NewServeMux()
	page := func(pattern, body string) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(body))
		})
	}
	page("/", `<html><head><title>Home</title></head><body>
		<a href="/docs">Docs</a>
		<a href="/blog/launch">Blog</a>
		<a href="/login">Login</a>
		<a href="/brochure.pdf">PDF</a>
		<a href="https://elsewhere.example/out">External</a>
	</body></html>`)
	page("/docs", `<html><head><title>Docs</title></head><body>
		<h1>Documentation</h1><a href="/docs/api">API</a><a href="/">Home</a>
	</body></html>`)
	page("/docs/api", `<html><head><title>API</title></head><body><h1>API Reference</h1></body></html>`)
	page("/blog/launch", `<html><head><title>Launch</title></head><body><h1>We launched</h1></body></html>`)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 3, MaxPages: 50})
	pages, progress, terminal := collect(t, c)

	if terminal != EventCompleted {
		t.Fatalf("terminal = %v, want completed", terminal)
	}
	want := []string{srv.URL + "/", srv.URL + "/docs", srv.URL + "/docs/api", srv.URL + "/blog/launch"}
	if len(pages) != len(want) {
		t.Fatalf("crawled %d pages: %v", len(pages), pages)
	}
	for _, u := range want {
		if _, ok := pages[u]; !ok {
			t.Fatalf("missing page %s", u)
		}
	}

	if got := pages[srv.URL+"/"].Category; got != extract.CategoryCorePages {
		t.Fatalf("seed category = %q", got)
	}
	if got := pages[srv.URL+"/docs/api"].Category; got != extract.CategoryAPIReference {
		t.Fatalf("api category = %q", got)
	}
	if got := pages[srv.URL+"/docs"].Depth; got != 1 {
		t.Fatalf("docs depth = %d", got)
	}
	if !pages[srv.URL+"/"].IsSeed {
		t.Fatal("seed page not flagged")
	}
	if progress.Crawled != 4 {
		t.Fatalf("progress crawled = %d, want 4", progress.Crawled)
	}
}

func TestCrawlMaxPagesBound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a><a href="/d">d</a>
		</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 3, MaxPages: 2, Concurrency: 1})
	pages, _, terminal := collect(t, c)

	if terminal != EventCompleted {
		t.Fatalf("terminal = %v, want completed", terminal)
	}
	if len(pages) > 2 {
		t.Fatalf("crawled %d pages, limit was 2", len(pages))
	}
}

func TestCrawlMaxPagesUnderConcurrency(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>`))
		for i := 0; i < 80; i++ {
			fmt.Fprintf(w, `<a href="/p/%d">p%d</a>`, i, i)
		}
		w.Write([]byte(`</body></html>`))
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Page</title></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 3, MaxPages: 10, Concurrency: 20})
	pages, progress, terminal := collect(t, c)

	if terminal != EventCompleted {
		t.Fatalf("terminal = %v, want completed", terminal)
	}
	if len(pages) != 10 {
		t.Fatalf("crawled %d pages, max_pages was 10", len(pages))
	}
	if progress.Crawled != 10 {
		t.Fatalf("progress crawled = %d, want 10", progress.Crawled)
	}
}

func TestCrawlRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/private/page">secret</a><a href="/open">open</a></body></html>`))
	})
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Open</title></head><body></body></html>`))
	})
	mux.HandleFunc("/private/page", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed page was fetched")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 2, MaxPages: 50, RespectRobots: true, UserAgent: "llmstxt-bot"})
	pages, progress, _ := collect(t, c)

	if _, ok := pages[srv.URL+"/private/page"]; ok {
		t.Fatal("disallowed page in results")
	}
	if _, ok := pages[srv.URL+"/open"]; !ok {
		t.Fatal("allowed page missing")
	}
	if progress.Skipped == 0 {
		t.Fatal("robots skip not counted")
	}
}

func TestCrawlCountsDisallowedAdminAsSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/admin">admin</a><a href="/open">open</a></body></html>`))
	})
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Open</title></head><body></body></html>`))
	})
	mux.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed page was fetched")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 2, MaxPages: 50, RespectRobots: true, UserAgent: "llmstxt-bot"})
	pages, progress, _ := collect(t, c)

	if _, ok := pages[srv.URL+"/admin"]; ok {
		t.Fatal("disallowed page in results")
	}
	if progress.Crawled != 2 {
		t.Fatalf("crawled = %d, want 2", progress.Crawled)
	}
	if progress.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", progress.Skipped)
	}
}

func TestCrawlSitemapSeedsFrontier(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?>
			<urlset><url><loc>` + srvURL + `/hidden</loc></url></urlset>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Home</title></head><body></body></html>`))
	})
	mux.HandleFunc("/hidden", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Hidden</title></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := newCrawler(t, srv.URL, Options{MaxDepth: 2, MaxPages: 50})
	pages, _, _ := collect(t, c)

	hidden, ok := pages[srv.URL+"/hidden"]
	if !ok {
		t.Fatal("sitemap-only page not crawled")
	}
	if !hidden.InSitemap {
		t.Fatal("sitemap flag not set")
	}
	if hidden.Depth != 1 {
		t.Fatalf("sitemap page depth = %d, want 1", hidden.Depth)
	}
}

func TestCrawlRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Recovered</title></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 1, MaxPages: 10})
	pages, _, terminal := collect(t, c)

	if terminal != EventCompleted {
		t.Fatalf("terminal = %v", terminal)
	}
	if p, ok := pages[srv.URL+"/"]; !ok || p.Title != "Recovered" {
		t.Fatalf("retry did not recover the page: %v", pages)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", hits.Load())
	}
}

func TestCrawlSkipsNonHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/feed">feed</a></body></html>`))
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<rss/>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCrawler(t, srv.URL, Options{MaxDepth: 2, MaxPages: 10})
	pages, progress, _ := collect(t, c)

	if _, ok := pages[srv.URL+"/feed"]; ok {
		t.Fatal("non-html page in results")
	}
	if progress.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", progress.Skipped)
	}
}
