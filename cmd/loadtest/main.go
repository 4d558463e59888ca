// Command loadtest fires concurrent purchases of one sweet at a running API
// and checks that exactly the stock on hand was sold.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"sweetshop-rest-api/pkg/uid"
)

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sweet struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type session struct {
	Token string `json:"token"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	stock := flag.Int("stock", 20, "initial stock of the test sweet")
	requests := flag.Int("requests", 50, "number of concurrent purchases")
	flag.Parse()

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	var login envelope[session]
	resp, err := client.R().
		SetBody(map[string]string{"email": *email, "password": *password}).
		SetResult(&login).
		SetError(&login).
		Post("/api/auth/login")
	if err != nil || resp.StatusCode() != http.StatusOK {
		log.Fatalf("login failed: %v %s", err, login.Error.Message)
	}
	client.SetAuthToken(login.Data.Token)

	var created envelope[sweet]
	resp, err = client.R().
		SetBody(map[string]interface{}{
			"name":     "Loadtest " + uid.Short(),
			"category": "CANDY",
			"price":    "1.50",
			"quantity": *stock,
		}).
		SetResult(&created).
		SetError(&created).
		Post("/api/sweets")
	if err != nil || resp.StatusCode() != http.StatusCreated {
		log.Fatalf("create sweet failed: %v %s", err, created.Error.Message)
	}
	id := created.Data.ID

	var success, soldOut, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := client.R().
				SetHeader("Idempotency-Key", uid.New()).
				SetBody(map[string]int{"quantity": 1}).
				Post(fmt.Sprintf("/api/sweets/%d/purchase", id))
			switch {
			case err != nil:
				other.Add(1)
			case resp.StatusCode() == http.StatusOK:
				success.Add(1)
			case resp.StatusCode() == http.StatusConflict:
				soldOut.Add(1)
			default:
				other.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	var final envelope[sweet]
	if _, err := client.R().SetResult(&final).Get(fmt.Sprintf("/api/sweets/%d", id)); err != nil {
		log.Fatalf("read back failed: %v", err)
	}

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Sweet ID:         %d\n", id)
	fmt.Printf("Initial Stock:    %d\n", *stock)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Successful:       %d\n", success.Load())
	fmt.Printf("Sold Out (409):   %d\n", soldOut.Load())
	fmt.Printf("Other Failures:   %d\n", other.Load())
	fmt.Printf("Final Stock:      %d\n", final.Data.Quantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=======================================")

	expected := min(*stock, *requests)
	if int(success.Load()) != expected || final.Data.Quantity != *stock-expected {
		fmt.Printf("FAIL: expected %d sold and %d left\n", expected, *stock-expected)
		os.Exit(1)
	}
	fmt.Println("PASS")
}
