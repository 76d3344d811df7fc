// fake_smsgw is a stand-in SMS gateway for local development. It
// accepts the engine's POST /messages calls, logs them, and can be
// told to fail or reject a fraction of sends.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

type gatewayServer struct {
	failRate   float64
	rejectRate float64
	latency    time.Duration
	seq        int64
	logger     *log.Logger
}

func main() {
	addr := getenvDefault("FAKE_SMSGW_ADDR", ":18090")
	failRate := getenvFloatDefault("FAKE_SMSGW_FAIL_RATE", 0)
	rejectRate := getenvFloatDefault("FAKE_SMSGW_REJECT_RATE", 0)
	latencyMs := getenvIntDefault("FAKE_SMSGW_LATENCY_MS", 0)

	srv := &gatewayServer{
		failRate:   failRate,
		rejectRate: rejectRate,
		latency:    time.Duration(latencyMs) * time.Millisecond,
		logger:     log.New(os.Stdout, "smsgw ", log.LstdFlags),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", srv.handleMessages)
	srv.logger.Printf("listening on %s fail_rate=%.2f reject_rate=%.2f", addr, failRate, rejectRate)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *gatewayServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if rand.Float64() < s.failRate {
		s.logger.Printf("simulated failure to=%s", payload.To)
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if rand.Float64() < s.rejectRate {
		s.logger.Printf("simulated rejection to=%s", payload.To)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accepted": false,
			"error":    "invalid destination",
		})
		return
	}

	id := fmt.Sprintf("msg-%06d", atomic.AddInt64(&s.seq, 1))
	s.logger.Printf("sent to=%s id=%s len=%d", payload.To, id, len(payload.Message))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted":   true,
		"message_id": id,
	})
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
