package assemble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"llmstxt/internal/metrics"
	"llmstxt/internal/model"
)

const llmSystemPrompt = `You are an expert at organizing website pages into a structured llms.txt file.

You will receive a numbered list of pages crawled from a website. Each page has an ID, title, description, and depth.

Your job is to output a JSON object that organizes these pages into logical sections. You decide:
- What sections to create and what to name them
- Which pages go in which section (by their ID number)
- A clean, concise description for each page (rewrite if the original is messy)
- Which pages are low-value and should go in the "Optional" section
- Which pages to EXCLUDE entirely (duplicates, versioned copies, junk pages)

Output format (strict JSON, no markdown, no explanation):
{
  "site_description": "A one-line description of this website",
  "sections": [
    {"name": "Section Name", "pages": [{"id": 1, "title": "Clean Page Title", "description": "Concise description"}]}
  ],
  "optional": [{"id": 12, "title": "Less Important Page", "description": "Why this exists"}]
}

Rules:
1. Sections should reflect the ACTUAL content structure of this specific site
2. Order sections from most important to least important
3. Deduplicate: if multiple pages cover the same content, include only the canonical one
4. Exclude truly useless pages (navigation-only, error pages, meta pages)
5. Keep descriptions under 100 characters
6. Use clean, readable titles
7. Output ONLY valid JSON, nothing else`

// LLMAssembler asks a chat-completion model to plan the document
// layout, then builds the Markdown itself so every URL is guaranteed
// to come from crawled data. Any failure falls back to the template.
type LLMAssembler struct {
	APIKey   string
	BaseURL  string
	Model    string
	Logger   *slog.Logger
	Fallback TemplateAssembler

	HTTP *http.Client
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float64       `json:"temperature"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type planEntry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type planSection struct {
	Name  string      `json:"name"`
	Pages []planEntry `json:"pages"`
}

type llmPlan struct {
	SiteDescription string        `json:"site_description"`
	Sections        []planSection `json:"sections"`
	Optional        []planEntry   `json:"optional"`
}

func (a *LLMAssembler) Assemble(ctx context.Context, site model.Site, pages []model.Page) (string, error) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	content, err := a.assembleWithPlan(ctx, site, pages)
	metrics.RecordLLMAssembly(a.Model, err == nil)
	if err != nil {
		log.Warn("llm assembly failed, using template", "site", site.Domain, "error", err)
		return a.Fallback.Assemble(ctx, site, pages)
	}
	return content, nil
}

func (a *LLMAssembler) assembleWithPlan(ctx context.Context, site model.Site, pages []model.Page) (string, error) {
	if a.APIKey == "" {
		return "", errors.New("no api key configured")
	}

	index, prompt := buildPrompt(site, pages)

	body, err := json.Marshal(chatRequest{
		Model: a.Model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:         0.3,
		MaxCompletionTokens: 4096,
	})
	if err != nil {
		return "", err
	}

	endpoint := a.BaseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint += "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	client := a.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completion failed with status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	plan, err := parsePlan(parsed.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	return renderPlan(site, index, plan), nil
}

// buildPrompt numbers the pages by (depth, url) and formats the user
// prompt. The returned index maps those numbers back to pages.
func buildPrompt(site model.Site, pages []model.Page) (map[int]model.Page, string) {
	sorted := make([]model.Page, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Depth != sorted[j].Depth {
			return sorted[i].Depth < sorted[j].Depth
		}
		return sorted[i].URL < sorted[j].URL
	})

	index := make(map[int]model.Page, len(sorted))
	var b strings.Builder
	for i, p := range sorted {
		id := i + 1
		index[id] = p

		title := "(no title)"
		if p.Title != nil && *p.Title != "" {
			title = *p.Title
		}
		desc := "(no description)"
		if p.Description != nil && *p.Description != "" {
			desc = *p.Description
			if len(desc) > 200 {
				desc = desc[:200] + "..."
			}
		}
		fmt.Fprintf(&b, "[%d] Title: %s | Description: %s | Depth: %d\n", id, title, desc, p.Depth)
	}

	name := site.Domain
	if site.Title != nil && *site.Title != "" {
		name = *site.Title
	}
	prompt := fmt.Sprintf("Organize these pages from %s (%s) into a structured llms.txt.\n\n%d crawled pages:\n\n%s\nOutput the JSON structure now.",
		name, site.URL, len(sorted), b.String())
	return index, prompt
}

// parsePlan decodes the model's JSON plan, tolerating code fences and
// surrounding prose.
func parsePlan(raw string) (llmPlan, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		lines := strings.Split(raw, "\n")
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[1 : len(lines)-1]
		} else {
			lines = lines[1:]
		}
		raw = strings.Join(lines, "\n")
	}

	var plan llmPlan
	if err := json.Unmarshal([]byte(raw), &plan); err == nil {
		return plan, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return llmPlan{}, errors.New("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return llmPlan{}, err
	}
	return plan, nil
}

// renderPlan builds the final Markdown from the plan, always sourcing
// URLs from the crawled index. Entries referencing unknown IDs are
// dropped.
func renderPlan(site model.Site, index map[int]model.Page, plan llmPlan) string {
	var lines []string

	title := site.Domain
	if site.Title != nil && *site.Title != "" {
		title = *site.Title
	}
	lines = append(lines, "# "+title)
	desc := plan.SiteDescription
	if desc == "" && site.Description != nil {
		desc = *site.Description
	}
	if desc != "" {
		lines = append(lines, "\n> "+desc)
	}
	lines = append(lines, "")

	emit := func(name string, entries []planEntry) {
		var body []string
		for _, e := range entries {
			p, ok := index[e.ID]
			if !ok {
				continue
			}
			entryTitle := e.Title
			if entryTitle == "" {
				entryTitle = pageTitle(p)
			}
			entryDesc := e.Description
			if entryDesc == "" && p.Description != nil {
				entryDesc = *p.Description
			}
			var descPtr *string
			if entryDesc != "" {
				descPtr = &entryDesc
			}
			body = append(body, formatLink(entryTitle, p.URL, descPtr))
		}
		if len(body) == 0 {
			return
		}
		lines = append(lines, "## "+name, "")
		lines = append(lines, body...)
		lines = append(lines, "")
	}

	for _, section := range plan.Sections {
		name := section.Name
		if name == "" {
			name = "Other"
		}
		emit(name, section.Pages)
	}
	emit("Optional", plan.Optional)

	return strings.Join(lines, "\n")
}
