package assemble

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmstxt/internal/metrics"
	"llmstxt/internal/model"
)

func strp(s string) *string { return &s }

func mkPage(url, title, category string, relevance float64) model.Page {
	return model.Page{
		URL:            url,
		Title:          strp(title),
		Category:       category,
		RelevanceScore: relevance,
		Status:         model.PageUnchanged,
	}
}

func testSite() model.Site {
	return model.Site{
		URL:         "https://example.com/",
		Domain:      "example.com",
		Title:       strp("Example"),
		Description: strp("An example site."),
	}
}

func TestTemplateAssemblerLayout(t *testing.T) {
	pages := []model.Page{
		mkPage("https://example.com/blog/x", "Post", "Blog", 0.45),
		mkPage("https://example.com/docs", "Docs", "Documentation", 0.9),
		mkPage("https://example.com/api", "API", "API Reference", 0.95),
		mkPage("https://example.com/old", "Old", "Other", 0.1),
	}

	got, err := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !strings.HasPrefix(got, "# Example\n\n> An example site.\n") {
		t.Fatalf("header wrong:\n%s", got)
	}

	// Sections appear in the fixed order, low relevance lands in Optional.
	docsIdx := strings.Index(got, "## Documentation")
	apiIdx := strings.Index(got, "## API Reference")
	blogIdx := strings.Index(got, "## Blog")
	optIdx := strings.Index(got, "## Optional")
	if docsIdx == -1 || apiIdx == -1 || blogIdx == -1 || optIdx == -1 {
		t.Fatalf("missing sections:\n%s", got)
	}
	if !(docsIdx < apiIdx && apiIdx < blogIdx && blogIdx < optIdx) {
		t.Fatalf("section order wrong:\n%s", got)
	}
	if !strings.Contains(got, "- [Old](https://example.com/old)") {
		t.Fatalf("optional entry missing:\n%s", got)
	}
}

func TestTemplateAssemblerDeterministic(t *testing.T) {
	pages := []model.Page{
		mkPage("https://example.com/a", "A", "Documentation", 0.8),
		mkPage("https://example.com/b", "B", "Documentation", 0.9),
	}
	first, _ := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	second, _ := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	if first != second {
		t.Fatal("output not deterministic")
	}
	// Higher relevance sorts first within a section.
	if strings.Index(first, "[B]") > strings.Index(first, "[A]") {
		t.Fatalf("relevance order wrong:\n%s", first)
	}
}

func TestTemplateAssemblerEscapesParens(t *testing.T) {
	pages := []model.Page{mkPage("https://example.com/doc(v2)", "Doc", "Documentation", 0.9)}
	got, _ := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	if !strings.Contains(got, "(https://example.com/doc%28v2%29)") {
		t.Fatalf("parens not escaped:\n%s", got)
	}
}

func TestTemplateAssemblerSkipsRemovedAndDupes(t *testing.T) {
	removed := mkPage("https://example.com/gone", "Gone", "Documentation", 0.9)
	removed.Status = model.PageRemoved
	pages := []model.Page{
		removed,
		mkPage("https://example.com/a", "A", "Documentation", 0.9),
		mkPage("https://example.com/a", "A again", "Documentation", 0.7),
	}
	got, _ := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	if strings.Contains(got, "Gone") {
		t.Fatalf("removed page emitted:\n%s", got)
	}
	if strings.Count(got, "https://example.com/a") != 1 {
		t.Fatalf("duplicate url emitted:\n%s", got)
	}
}

func TestTemplateAssemblerFallsBackToDomainAndURL(t *testing.T) {
	site := model.Site{Domain: "example.com", URL: "https://example.com/"}
	untitled := model.Page{URL: "https://example.com/p", Category: "Documentation", RelevanceScore: 0.9}
	got, _ := TemplateAssembler{}.Assemble(context.Background(), site, []model.Page{untitled})
	if !strings.HasPrefix(got, "# example.com\n") {
		t.Fatalf("domain fallback missing:\n%s", got)
	}
	if !strings.Contains(got, "- [https://example.com/p](https://example.com/p)") {
		t.Fatalf("url label fallback missing:\n%s", got)
	}
}

func TestLLMAssemblerUsesPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		plan := "```json\n" +
			`{"site_description":"Planned description","sections":[{"name":"Core Docs","pages":[{"id":1,"title":"Cleaned","description":"Tidy"}]}],"optional":[{"id":99}]}` +
			"\n```"
		resp := `{"choices":[{"message":{"content":` + jsonString(plan) + `}}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer srv.Close()

	a := &LLMAssembler{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"}
	pages := []model.Page{mkPage("https://example.com/docs", "Docs", "Documentation", 0.9)}

	got, err := a.Assemble(context.Background(), testSite(), pages)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(got, "> Planned description") {
		t.Fatalf("plan description not used:\n%s", got)
	}
	if !strings.Contains(got, "## Core Docs") {
		t.Fatalf("plan section missing:\n%s", got)
	}
	// The URL must come from crawled data, not the model.
	if !strings.Contains(got, "- [Cleaned](https://example.com/docs): Tidy") {
		t.Fatalf("plan entry wrong:\n%s", got)
	}
	// Unknown IDs are dropped, so Optional stays empty.
	if strings.Contains(got, "## Optional") {
		t.Fatalf("phantom optional section:\n%s", got)
	}
}

func TestLLMAssemblerFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := &LLMAssembler{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"}
	pages := []model.Page{mkPage("https://example.com/docs", "Docs", "Documentation", 0.9)}

	got, err := a.Assemble(context.Background(), testSite(), pages)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	want, _ := TemplateAssembler{}.Assemble(context.Background(), testSite(), pages)
	if got != want {
		t.Fatalf("fallback output differs from template:\n%s", got)
	}
}

func TestLLMAssemblerRecordsOutcome(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		plan := `{"site_description":"d","sections":[{"name":"Core","pages":[{"id":1}]}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":` + jsonString(plan) + `}}]}`))
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	pages := []model.Page{mkPage("https://example.com/docs", "Docs", "Documentation", 0.9)}

	a := &LLMAssembler{APIKey: "test-key", BaseURL: ok.URL, Model: "assemble-metric-ok"}
	if _, err := a.Assemble(context.Background(), testSite(), pages); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	b := &LLMAssembler{APIKey: "test-key", BaseURL: broken.URL, Model: "assemble-metric-down"}
	if _, err := b.Assemble(context.Background(), testSite(), pages); err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}

	exported := metrics.Export()
	if !strings.Contains(exported, `llmstxt_llm_assemblies_total{model="assemble-metric-ok",success="true"} 1`) {
		t.Fatalf("successful assembly not counted:\n%s", exported)
	}
	if !strings.Contains(exported, `llmstxt_llm_assemblies_total{model="assemble-metric-down",success="false"} 1`) {
		t.Fatalf("fallback assembly not counted:\n%s", exported)
	}
}

// jsonString encodes s as a JSON string literal.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
