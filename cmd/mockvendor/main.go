// Package main runs an imitation of the Korail site for local runs of ktxgo
// with the http driver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/protocol/protocoltest"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	trains := flag.String("trains", "101@06:00,103@06:30,105@07:00", "Comma separated trainNo@HH:MM of the served schedule")
	openAfter := flag.Int("open-after", 3, "Keep every seat sold out for this many searches")
	expireEvery := flag.Int("expire-every", 0, "Expire sessions after this many searches (0 never)")
	member := flag.String("member", "1234567890", "Accepted membership number")
	password := flag.String("password", "secret", "Accepted password")
	flag.Parse()

	logger := logging.NewLoggerWithWriter(logging.DefaultConfig(), os.Stderr).WithComponent("mockvendor")

	rows, err := parseTrains(*trains)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	vendor := protocoltest.NewVendor(protocoltest.VendorConfig{
		Member:             *member,
		Password:           *password,
		Trains:             rows,
		OpenAfter:          *openAfter,
		ExpireSessionEvery: *expireEvery,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(vendor.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Mock vendor starting on %s...\n", *addr)
	fmt.Println("Available endpoints:")
	for _, path := range []string{
		protocol.LoginPath, protocol.SearchPath, protocol.EndpointLoginCheck,
		protocol.EndpointSchedule, protocol.EndpointReserve, protocol.EndpointReservationList,
		protocol.EndpointReservationView, protocol.EndpointMyTicket, protocol.EndpointPayment,
	} {
		fmt.Printf("  %s\n", path)
	}
	fmt.Println()
	fmt.Printf("Run ktxgo against it with KTXGO_DRIVER=http KTXGO_BASE_URL=http://localhost%s\n", *addr)
	fmt.Printf("KTXGO_MEMBER=%s KTXGO_PASSWORD=<password>\n", *member)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err.Error())
		os.Exit(1)
	}
}

// parseTrains turns "101@06:00,103@06:30" into schedule rows with seats
// available in both classes.
func parseTrains(list string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		no, dep, ok := strings.Cut(item, "@")
		if !ok || no == "" || len(dep) != 5 || dep[2] != ':' {
			return nil, fmt.Errorf("invalid train %q, want trainNo@HH:MM", item)
		}
		rows = append(rows, protocoltest.TrainRow(no, dep, "11", "11"))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no trains given")
	}
	return rows, nil
}

func logRequests(next http.Handler, logger *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}
