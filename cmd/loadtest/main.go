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
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type cartLine struct {
	ProductID int `json:"productId"`
	VariantID int `json:"variantId"`
	Quantity  int `json:"quantity"`
}

type address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Phone  string `json:"phone"`
}

type checkoutReq struct {
	Items           []cartLine `json:"items"`
	DeliveryMethod  string     `json:"deliveryMethod"`
	ShippingAddress address    `json:"shippingAddress"`
	Email           string     `json:"email"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Int("product", 1, "product id")
	variantID := flag.Int("variant", 1, "variant id")

	// 超卖测试参数：200 个访客并发结账同一规格
	nBuyers := flag.Int("buyers", 200, "distinct guest buyers")
	concurrency := flag.Int("c", 50, "max concurrency")
	burst := flag.Int("burst", 50, "requests for the rate limit test")
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}

	before, err := getAvailable(client, *baseURL, *productID, *variantID)
	if err != nil {
		panic(fmt.Sprintf("load product: %v", err))
	}
	fmt.Printf("available before: %d\n", before)

	// 1) 不超卖测试：成功数不应超过可售数量
	fmt.Printf("start oversell test: product=%d variant=%d buyers=%d concurrency=%d\n",
		*productID, *variantID, *nBuyers, *concurrency)
	results := runCheckout(client, *baseURL, *productID, *variantID, *nBuyers, *concurrency, func(i int) string {
		return fmt.Sprintf("buyer%d@loadtest.local", i)
	})
	printSummary("oversell", results)

	after, err := getAvailable(client, *baseURL, *productID, *variantID)
	if err != nil {
		fmt.Println("stock check err:", err)
	} else {
		fmt.Printf("available after: %d (reserved by this run: %d)\n", after, before-after)
	}

	// 2) 限流测试：同一 IP 连续结账，超过 CHECKOUT_RATE_LIMIT 后应返回 429
	fmt.Printf("\nstart rate limit test: same client, %d requests\n", *burst)
	results2 := runCheckout(client, *baseURL, *productID, *variantID, *burst, *burst, func(int) string {
		return "same@loadtest.local"
	})
	printSummary("rate_limit", results2)
}

func runCheckout(client *http.Client, baseURL string, productID, variantID, n, concurrency int, email func(int) string) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := checkoutReq{
				Items:          []cartLine{{ProductID: productID, VariantID: variantID, Quantity: 1}},
				DeliveryMethod: "shipping",
				ShippingAddress: address{
					Street: "Av. Carga 1", City: "Santiago", State: "RM", Phone: "+56900000000",
				},
				Email: email(idx),
			}
			results[idx] = checkoutOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func checkoutOnce(client *http.Client, baseURL string, req checkoutReq) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/payments/checkout", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
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
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// getAvailable 读取规格的可售数量（stock - reserved），用于压测前后对比。
func getAvailable(client *http.Client, baseURL string, productID, variantID int) (int64, error) {
	url := fmt.Sprintf("%s/api/products/%d", baseURL, productID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Product struct {
			Variants []struct {
				ID       int   `json:"id"`
				Stock    int64 `json:"stock"`
				Reserved int64 `json:"reserved"`
			} `json:"variants"`
		} `json:"product"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	for _, v := range out.Product.Variants {
		if v.ID == variantID {
			return v.Stock - v.Reserved, nil
		}
	}
	return 0, fmt.Errorf("variant %d not found", variantID)
}
