package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	nOrders := flag.Int("orders", 200, "distinct orders to pay")
	refunds := flag.Int("refunds", 50, "concurrent refund attempts on one order")
	concurrency := flag.Int("c", 50, "max concurrency")
	amount := flag.Uint64("amount", 1000, "order amount")
	deposit := flag.Uint64("deposit", 1500, "attached deposit")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	run := uuid.NewString()[:8]

	// 1) 并发支付：不同订单、不同账户
	fmt.Printf("start pay test: orders=%d concurrency=%d\n", *nOrders, *concurrency)
	results := parallel(*nOrders, *concurrency, func(i int) Result {
		return payOnce(client, *baseURL, fmt.Sprintf("payer-%s-%d", run, i), fmt.Sprintf("lt-%s-%d", run, i), *amount, *deposit)
	})
	printSummary("pay", results)

	// 2) 重复退款：同一订单并发退款，应当只有一次 200，其余 409
	orderID := fmt.Sprintf("lt-%s-refund", run)
	if r := payOnce(client, *baseURL, "payer-"+run, orderID, *amount, *amount); r.Err != nil || r.Status != http.StatusOK {
		panic(fmt.Sprintf("seed order failed: status=%d err=%v body=%s", r.Status, r.Err, r.Body))
	}
	fmt.Printf("\nstart double refund test: order=%s attempts=%d\n", orderID, *refunds)
	results = parallel(*refunds, *concurrency, func(i int) Result {
		return refundOnce(client, *baseURL, fmt.Sprintf("refunder-%s-%d", run, i), orderID)
	})
	printSummary("refund", results)

	ok := 0
	for _, r := range results {
		if r.Status == http.StatusOK {
			ok++
		}
	}
	if ok != 1 {
		fmt.Printf("UNEXPECTED: %d successful refunds for %s\n", ok, orderID)
	}
}

func parallel(total, concurrency int, fn func(i int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func payOnce(client *http.Client, baseURL, account, orderID string, amount, deposit uint64) Result {
	body := map[string]any{
		"order_id":         orderID,
		"order_amount":     amount,
		"attached_deposit": deposit,
	}
	return post(client, fmt.Sprintf("%s/api/orders/pay", baseURL), account, body)
}

func refundOnce(client *http.Client, baseURL, account, orderID string) Result {
	return post(client, fmt.Sprintf("%s/api/orders/%s/refund", baseURL, orderID), account, nil)
}

func post(client *http.Client, url, account string, body any) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Account-ID", account)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
