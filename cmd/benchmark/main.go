package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/webhook"
)

var (
	targetURL   string
	secret      string
	concurrency int
	duration    time.Duration
	invoices    int
	dupRatio    float64
)

var (
	totalRequests uint64
	applied       uint64 // first delivery settled an invoice
	replayed      uint64 // already_processed
	ignored       uint64
	rejected      uint64 // 401
	failOther     uint64
)

var (
	sentMu sync.Mutex
	sent   []int
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&secret, "secret", os.Getenv("WEBHOOK_SECRET"), "Webhook signing secret")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&invoices, "invoices", 1000, "Number of seeded invoices (bench-inv-1..N)")
	flag.Float64Var(&dupRatio, "dup", 0.3, "Share of requests that redeliver an earlier event")
}

func main() {
	flag.Parse()
	if secret == "" {
		log.Fatal("a webhook secret is required (-secret or WEBHOOK_SECRET)")
	}
	log.Printf("Starting webhook benchmark | Workers: %d | Duration: %s | Duplicates: %.0f%%", concurrency, duration, dupRatio*100)

	signer := webhook.NewVerifier(secret)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, signer)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, signer *webhook.Verifier) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		n := nextInvoice()
		body, _ := json.Marshal(models.WebhookEvent{
			Event: models.EventChargeSuccess,
			Data: models.EventData{
				Reference: fmt.Sprintf("bench-ref-%d", n),
				Amount:    500000,
				Currency:  "NGN",
				Channel:   "card",
				Customer:  models.Customer{Email: "payer@example.com"},
				Metadata:  models.Metadata{"invoice_id": fmt.Sprintf("bench-inv-%d", n), "user_id": "demo-user"},
			},
		})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/webhooks/paystack", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", signer.Sign(body))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		var out models.WebhookResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			atomic.AddUint64(&rejected, 1)
		case resp.StatusCode != http.StatusOK:
			atomic.AddUint64(&failOther, 1)
		case out.Reason == "already_processed":
			atomic.AddUint64(&replayed, 1)
		case out.Status == models.WebhookSuccess:
			atomic.AddUint64(&applied, 1)
		default:
			atomic.AddUint64(&ignored, 1)
		}
	}
}

// nextInvoice picks a fresh invoice, or with probability dupRatio one that was
// already sent.
func nextInvoice() int {
	sentMu.Lock()
	defer sentMu.Unlock()
	if len(sent) > 0 && rand.Float64() < dupRatio {
		return sent[rand.Intn(len(sent))]
	}
	n := rand.Intn(invoices) + 1
	sent = append(sent, n)
	return n
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	results := map[string]interface{}{
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"applied":           atomic.LoadUint64(&applied),
		"already_processed": atomic.LoadUint64(&replayed),
		"ignored":           atomic.LoadUint64(&ignored),
		"rejected":          atomic.LoadUint64(&rejected),
		"errors":            atomic.LoadUint64(&failOther),
		"duplicate_ratio":   dupRatio,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_webhooks.json")
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
