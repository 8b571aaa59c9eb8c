package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the API and worker.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	tasksTotal     = make(map[taskKey]int64)
	tasksRecovered int64

	crawlsTotal  = make(map[string]int64)
	pagesCrawled int64
	pagesSkipped int64

	llmAssemblies = make(map[llmKey]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type taskKey struct {
	Outcome string // succeeded, failed, dead_letter
}

type llmKey struct {
	Model   string
	Success string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordTask counts a terminal task transition.
func RecordTask(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	tasksTotal[taskKey{Outcome: outcome}]++
}

// RecordRecovered counts tasks re-queued after lease expiry.
func RecordRecovered(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	tasksRecovered += int64(n)
}

// RecordCrawl counts a finished crawl and its page totals.
func RecordCrawl(status string, crawled, skipped int) {
	mu.Lock()
	defer mu.Unlock()
	crawlsTotal[status]++
	pagesCrawled += int64(crawled)
	pagesSkipped += int64(skipped)
}

// RecordLLMAssembly counts LLM document assemblies.
func RecordLLMAssembly(model string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	llmAssemblies[llmKey{Model: model, Success: s}]++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP llmstxt_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE llmstxt_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "llmstxt_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP llmstxt_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE llmstxt_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP llmstxt_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE llmstxt_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})
	for _, k := range latKeys {
		fmt.Fprintf(&b, "llmstxt_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "llmstxt_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP llmstxt_tasks_total Terminal task transitions by outcome\n")
	b.WriteString("# TYPE llmstxt_tasks_total counter\n")

	var taskKeys []taskKey
	for k := range tasksTotal {
		taskKeys = append(taskKeys, k)
	}
	sort.Slice(taskKeys, func(i, j int) bool { return taskKeys[i].Outcome < taskKeys[j].Outcome })
	for _, k := range taskKeys {
		fmt.Fprintf(&b, "llmstxt_tasks_total{outcome=\"%s\"} %d\n", k.Outcome, tasksTotal[k])
	}

	b.WriteString("# HELP llmstxt_tasks_recovered_total Tasks re-queued after lease expiry\n")
	b.WriteString("# TYPE llmstxt_tasks_recovered_total counter\n")
	fmt.Fprintf(&b, "llmstxt_tasks_recovered_total %d\n", tasksRecovered)

	b.WriteString("# HELP llmstxt_crawls_total Finished crawls by status\n")
	b.WriteString("# TYPE llmstxt_crawls_total counter\n")

	var statuses []string
	for s := range crawlsTotal {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "llmstxt_crawls_total{status=\"%s\"} %d\n", s, crawlsTotal[s])
	}

	b.WriteString("# HELP llmstxt_pages_crawled_total Pages crawled across all jobs\n")
	b.WriteString("# TYPE llmstxt_pages_crawled_total counter\n")
	fmt.Fprintf(&b, "llmstxt_pages_crawled_total %d\n", pagesCrawled)

	b.WriteString("# HELP llmstxt_pages_skipped_total Pages skipped across all jobs\n")
	b.WriteString("# TYPE llmstxt_pages_skipped_total counter\n")
	fmt.Fprintf(&b, "llmstxt_pages_skipped_total %d\n", pagesSkipped)

	b.WriteString("# HELP llmstxt_llm_assemblies_total LLM document assemblies\n")
	b.WriteString("# TYPE llmstxt_llm_assemblies_total counter\n")

	var llmKeys []llmKey
	for k := range llmAssemblies {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})
	for _, k := range llmKeys {
		fmt.Fprintf(&b, "llmstxt_llm_assemblies_total{model=\"%s\",success=\"%s\"} %d\n",
			k.Model, k.Success, llmAssemblies[k])
	}

	return b.String()
}
