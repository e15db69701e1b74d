package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Smoke drives one full customer journey against a running payvault-api:
// register, login, create a payment idempotently and read it back. With
// employee credentials in the environment it also walks the verification
// queue.
func main() {
	base := os.Getenv("PAYVAULT_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	username := fmt.Sprintf("smoke_%d", rand.Int31())
	accountNumber := fmt.Sprintf("%010d", rand.Int63n(1e10))
	nationalID := fmt.Sprintf("%013d", rand.Int63n(1e12)+1e12)
	password := "Sm0ke!Pass" + fmt.Sprint(rand.Intn(90)+10)

	code, _, err := call(client, http.MethodPost, base+"/v1/auth/register", map[string]any{
		"full_name":      "Smoke Tester",
		"national_id":    nationalID,
		"account_number": accountNumber,
		"username":       username,
		"password":       password,
	}, nil)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("register: status=%d err=%v", code, err)
	}

	// A wrong password must fail closed before the real login.
	code, _, err = call(client, http.MethodPost, base+"/v1/auth/login", map[string]any{
		"username":       username,
		"account_number": accountNumber,
		"password":       "Wrong!Pass99",
	}, nil)
	if err != nil || code != http.StatusUnauthorized {
		log.Fatalf("wrong password: status=%d err=%v", code, err)
	}

	var session struct {
		Token string `json:"token"`
	}
	code, raw, err := call(client, http.MethodPost, base+"/v1/auth/login", map[string]any{
		"username":       username,
		"account_number": accountNumber,
		"password":       password,
	}, nil)
	if err != nil || code != http.StatusOK {
		log.Fatalf("login: status=%d err=%v", code, err)
	}
	if err := json.Unmarshal(raw, &session); err != nil || session.Token == "" {
		log.Fatalf("login: no token in response: %v", err)
	}
	authz := map[string]string{"Authorization": "Bearer " + session.Token}

	idem := uuid.NewString()
	draft := map[string]any{
		"amount":               321.75,
		"currency":             "USD",
		"provider":             "SWIFT Transfers",
		"payee_account_number": "4455667788",
		"payee_name":           "Global Exports Ltd",
		"swift_code":           "ABSAZAJJ",
	}
	headers := map[string]string{
		"Authorization":   "Bearer " + session.Token,
		"Idempotency-Key": idem,
	}

	var pay struct {
		ID          string `json:"id"`
		AmountMinor int64  `json:"amount_minor"`
		Status      string `json:"status"`
	}
	code, raw, err = call(client, http.MethodPost, base+"/v1/payments", draft, headers)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("create payment: status=%d err=%v", code, err)
	}
	if err := json.Unmarshal(raw, &pay); err != nil || pay.ID == "" {
		log.Fatalf("create payment: bad body: %v", err)
	}
	if pay.AmountMinor != 32175 || pay.Status != "pending" {
		log.Fatalf("create payment: unexpected state: %+v", pay)
	}

	var replay struct {
		ID string `json:"id"`
	}
	code, raw, err = call(client, http.MethodPost, base+"/v1/payments", draft, headers)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("replay payment: status=%d err=%v", code, err)
	}
	if err := json.Unmarshal(raw, &replay); err != nil || replay.ID != pay.ID {
		log.Fatalf("idempotency broken: first=%s replay=%s", pay.ID, replay.ID)
	}

	code, raw, err = call(client, http.MethodGet, base+"/v1/payments/"+pay.ID, nil, authz)
	if err != nil || code != http.StatusOK {
		log.Fatalf("get payment: status=%d err=%v", code, err)
	}

	empUser := os.Getenv("PAYVAULT_SMOKE_EMPLOYEE_USERNAME")
	empPass := os.Getenv("PAYVAULT_SMOKE_EMPLOYEE_PASSWORD")
	if empUser == "" || empPass == "" {
		fmt.Printf("✅ payvault smoke test passed (customer flow): payment=%s\n", pay.ID)
		return
	}

	code, raw, err = call(client, http.MethodPost, base+"/v1/auth/login", map[string]any{
		"identity_type": "employee",
		"username":      empUser,
		"password":      empPass,
	}, nil)
	if err != nil || code != http.StatusOK {
		log.Fatalf("employee login: status=%d err=%v", code, err)
	}
	if err := json.Unmarshal(raw, &session); err != nil || session.Token == "" {
		log.Fatalf("employee login: no token: %v", err)
	}
	empAuthz := map[string]string{"Authorization": "Bearer " + session.Token}

	code, _, err = call(client, http.MethodPost, base+"/v1/payments/"+pay.ID+"/verify", nil, empAuthz)
	if err != nil || code != http.StatusOK {
		log.Fatalf("verify payment: status=%d err=%v", code, err)
	}
	code, raw, err = call(client, http.MethodPost, base+"/v1/payments/"+pay.ID+"/submit", nil, empAuthz)
	if err != nil || code != http.StatusOK {
		log.Fatalf("submit payment: status=%d err=%v", code, err)
	}
	if err := json.Unmarshal(raw, &pay); err != nil || pay.Status != "submitted" {
		log.Fatalf("submit payment: unexpected state: %+v", pay)
	}

	fmt.Printf("✅ payvault smoke test passed: payment=%s submitted\n", pay.ID)
}

// call sends one JSON request and returns status and body bytes.
func call(client *http.Client, method, url string, body any, headers map[string]string) (int, []byte, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}
