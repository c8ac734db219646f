package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/logger"
)

func main() {
	log := logger.New("mock-gateway")
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8101"
	}

	failureRate := 0.20
	if v, err := strconv.ParseFloat(os.Getenv("MOCK_FAILURE_RATE"), 64); err == nil {
		failureRate = v / 100
	}
	responseTime := 250 * time.Millisecond
	if d, err := time.ParseDuration(os.Getenv("MOCK_RESPONSE_TIME")); err == nil {
		responseTime = d
	}

	processor := NewMockProcessor(failureRate, responseTime, log)

	log.Info("mock gateway starting",
		"port", port,
		"failure_rate", failureRate*100,
		"response_time", responseTime)

	if err := http.ListenAndServe(":"+port, processor.Router()); err != nil {
		log.Fatal("mock gateway stopped", "error", err)
	}
}
