package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"payvault.org/internal/sim"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers     = flag.Int("workers", 4, "Concurrent worker count")
		duration    = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		hostile     = flag.Float64("hostile", 0.02, "Fraction of attack-shaped actions (0 disables)")
		openAIModel = flag.String("openai-model", "gpt-4o-mini", "OpenAI model for summaries (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching abuse simulation: base=%s workers=%d duration=%s hostile=%.2f", *baseURL, *workers, *duration, *hostile)

	generator := sim.NewGenerator(time.Now().UnixNano(), *hostile)
	client := &http.Client{Timeout: 10 * time.Second}

	tokens, err := seedActors(ctx, client, *baseURL, generator.Actors())
	if err != nil {
		log.Fatalf("seed actors: %v", err)
	}

	var (
		counter   sim.Counter
		counterMu sync.Mutex

		logins       int64
		denied       int64
		throttled    int64
		flagged      int64
		rejected     int64
		serverErrors int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				action := generator.Next()
				status, body, err := play(ctx, client, *baseURL, tokens, action)
				if err != nil {
					log.Printf("worker %d: %v", id, err)
					atomic.AddInt64(&serverErrors, 1)
					continue
				}
				switch {
				case status == http.StatusOK && action.Kind == sim.KindLogin:
					atomic.AddInt64(&logins, 1)
				case status == http.StatusCreated && action.Kind == sim.KindPayment:
					var pay struct {
						AmountMinor int64  `json:"amount_minor"`
						Currency    string `json:"currency"`
					}
					if err := json.Unmarshal(body, &pay); err == nil {
						counterMu.Lock()
						counter.Add(pay.AmountMinor, pay.Currency)
						counterMu.Unlock()
					}
				case status == http.StatusUnauthorized && action.Kind == sim.KindBadPassword:
					atomic.AddInt64(&denied, 1)
				case status == http.StatusUnauthorized && action.Kind == sim.KindHostileLogin:
					atomic.AddInt64(&flagged, 1)
				case status == http.StatusBadRequest && action.Kind == sim.KindHostileKey:
					atomic.AddInt64(&flagged, 1)
				case status == http.StatusTooManyRequests:
					atomic.AddInt64(&throttled, 1)
					time.Sleep(250 * time.Millisecond)
				case status >= 500:
					atomic.AddInt64(&serverErrors, 1)
					log.Printf("worker %d: unexpected server status %d", id, status)
					time.Sleep(200 * time.Millisecond)
				default:
					atomic.AddInt64(&rejected, 1)
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	log.Printf("Run complete: logins=%d denied=%d throttled=%d flagged=%d rejected=%d server_errors=%d, payments=%d volume %.2f %s",
		logins, denied, throttled, flagged, rejected, serverErrors, counter.Payments, counter.MajorAmount(), counter.Currency)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		summary, err := sim.Summarize(ctx, sim.SummaryStats{
			Logins:      logins,
			Denied:      denied,
			Throttled:   throttled,
			Flagged:     flagged,
			Payments:    counter.Payments,
			TotalAmount: counter.MajorAmount(),
			Currency:    counter.Currency,
			Duration:    *duration,
		}, sim.SummaryRequest{APIKey: key, Model: *openAIModel})
		if err != nil {
			log.Printf("AI summary error: %v", err)
		} else {
			log.Println("AI Executive Summary:")
			log.Println(summary)
		}
	} else {
		log.Println("Set OPENAI_API_KEY to enable AI narrative summaries.")
	}
}

// seedActors registers the scenario cast (an already-registered actor is
// fine) and logs each one in for a session token.
func seedActors(ctx context.Context, client *http.Client, baseURL string, actors []sim.Actor) (map[string]string, error) {
	tokens := make(map[string]string, len(actors))
	for _, actor := range actors {
		status, _, err := postJSON(ctx, client, baseURL+"/v1/auth/register", "", "", map[string]any{
			"full_name":      actor.FullName,
			"national_id":    actor.NationalID,
			"account_number": actor.AccountNumber,
			"username":       actor.Username,
			"password":       actor.Password,
		})
		if err != nil {
			return nil, err
		}
		// Conflict means the cast survives from an earlier run; a throttled
		// register can still log in below.
		if status != http.StatusCreated && status != http.StatusConflict && status != http.StatusTooManyRequests {
			return nil, fmt.Errorf("register %s: status %d", actor.Username, status)
		}

		status, body, err := postJSON(ctx, client, baseURL+"/v1/auth/login", "", "", map[string]any{
			"username":       actor.Username,
			"account_number": actor.AccountNumber,
			"password":       actor.Password,
		})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("login %s: status %d", actor.Username, status)
		}
		var session struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &session); err != nil || session.Token == "" {
			return nil, fmt.Errorf("login %s: no token", actor.Username)
		}
		tokens[actor.Username] = session.Token
	}
	return tokens, nil
}

// play performs one generated action and returns the response status.
func play(ctx context.Context, client *http.Client, baseURL string, tokens map[string]string, action sim.Action) (int, []byte, error) {
	switch action.Kind {
	case sim.KindLogin:
		return postJSON(ctx, client, baseURL+"/v1/auth/login", "", "", map[string]any{
			"username":       action.Actor.Username,
			"account_number": action.Actor.AccountNumber,
			"password":       action.Actor.Password,
		})
	case sim.KindBadPassword:
		return postJSON(ctx, client, baseURL+"/v1/auth/login", "", "", map[string]any{
			"username":       action.Actor.Username,
			"account_number": action.Actor.AccountNumber,
			"password":       "Wr0ng!Pass99",
		})
	case sim.KindHostileLogin:
		return postJSON(ctx, client, baseURL+"/v1/auth/login", "", "", map[string]any{
			"username":       action.Hostile,
			"account_number": action.Actor.AccountNumber,
			"password":       "Pr0be!Pass99",
		})
	case sim.KindPayment:
		return postJSON(ctx, client, baseURL+"/v1/payments", tokens[action.Actor.Username], uuid.NewString(), draftBody(action))
	case sim.KindHostileKey:
		return postJSON(ctx, client, baseURL+"/v1/payments", tokens[action.Actor.Username], action.Hostile, draftBody(action))
	default:
		return 0, nil, fmt.Errorf("unknown action kind %d", action.Kind)
	}
}

func draftBody(action sim.Action) map[string]any {
	return map[string]any{
		"amount":               action.Amount,
		"currency":             action.Template.Currency,
		"provider":             action.Template.Provider,
		"payee_account_number": action.Template.PayeeAccount,
		"payee_name":           action.Template.PayeeName,
		"swift_code":           action.Template.SwiftCode,
	}
}

func postJSON(ctx context.Context, client *http.Client, url, token, idempotencyKey string, payload map[string]any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
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
