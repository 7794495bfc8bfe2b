// Rebrick Event Receiver Example
//
// A minimal subscriber for the signed domain event webhook.
//
// Usage:
//   export REBRICK_WEBHOOK_SECRET="whsec_your_secret_here"
//   go run main.go
//
// Then start the worker with
//   EVENT_WEBHOOK_URL=http://localhost:9100/events
//   EVENT_WEBHOOK_SECRET=$REBRICK_WEBHOOK_SECRET
//   EVENT_WEBHOOK_ALLOW_PRIVATE=true

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const replayWindow = 5 * time.Minute

// Delivery is one batch of domain events.
type Delivery struct {
	DeliveryID string        `json:"delivery_id"`
	SentAt     time.Time     `json:"sent_at"`
	Events     []DomainEvent `json:"events"`
}

// DomainEvent is the envelope shared by every event type.
type DomainEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func main() {
	secret := os.Getenv("REBRICK_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("REBRICK_WEBHOOK_SECRET environment variable is required")
	}

	seen := &deliveries{ids: map[string]time.Time{}}
	http.HandleFunc("/events", eventsHandler(secret, seen))
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Println("Starting event receiver on :9100")
	log.Fatal(http.ListenAndServe(":9100", nil))
}

// deliveries remembers delivery ids so retried batches are handled once.
type deliveries struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (d *deliveries) firstTime(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.ids {
		if time.Since(at) > replayWindow {
			delete(d.ids, k)
		}
	}
	if _, ok := d.ids[id]; ok {
		return false
	}
	d.ids[id] = time.Now()
	return true
}

func eventsHandler(secret string, seen *deliveries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		if err := verify(secret, r.Header.Get("X-Rebrick-Signature"), r.Header.Get("X-Rebrick-Timestamp"), body); err != nil {
			log.Printf("rejected delivery: %v", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var d Delivery
		if err := json.Unmarshal(body, &d); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if !seen.firstTime(d.DeliveryID) {
			log.Printf("duplicate delivery %s ignored", d.DeliveryID)
			w.WriteHeader(http.StatusOK)
			return
		}

		for _, e := range d.Events {
			log.Printf("%s %s/%s v%d", e.Type, e.AggregateType, e.AggregateID, e.Version)
			if e.Type == "deployment.completed" {
				log.Printf("  result: %s", e.Payload)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// verify checks the HMAC-SHA256 signature over "{timestamp}.{body}".
func verify(secret, signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return fmt.Errorf("missing signature headers")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q", timestamp)
	}
	age := time.Since(time.Unix(ts, 0))
	if age > replayWindow || age < -replayWindow {
		return fmt.Errorf("timestamp outside replay window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
