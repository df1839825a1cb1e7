package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"fibonacci-trader/models"
)

type statusResponse struct {
	Time       time.Time                 `json:"time"`
	Broker     string                    `json:"broker"`
	Strategies []models.StrategySnapshot `json:"strategies"`
}

func main() {
	defaultAddr := os.Getenv("STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6061"
	}

	addr := flag.String("addr", defaultAddr, "status server address or URL")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	start := flag.String("start", "", "start the strategy for this symbol")
	stop := flag.String("stop", "", "stop the strategy for this symbol")
	flag.Parse()

	base, err := baseURL(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: *timeout}

	switch {
	case *start != "":
		os.Exit(control(client, base, *start, "start"))
	case *stop != "":
		os.Exit(control(client, base, *stop, "stop"))
	}

	resp, err := client.Get(base + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request error: %s\n%s\n", resp.Status, string(body))
		os.Exit(1)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}
	render(os.Stdout, payload)
}

func baseURL(addr string) (string, error) {
	url := strings.TrimSpace(addr)
	if url == "" {
		return "", fmt.Errorf("status address is empty")
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/"), nil
}

func control(client *http.Client, base, symbol, action string) int {
	url := fmt.Sprintf("%s/strategies/%s/%s", base, strings.ToUpper(symbol), action)
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s request failed: %v\n", action, err)
		return 1
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s %s failed: %s\n%s", action, symbol, resp.Status, string(body))
		return 1
	}
	fmt.Printf("%s %s: ok\n", action, strings.ToUpper(symbol))
	return 0
}

func render(w io.Writer, payload statusResponse) {
	fmt.Fprintf(w, "Time: %s\n", formatTime(payload.Time))
	fmt.Fprintf(w, "Broker: %s\n", payload.Broker)
	if len(payload.Strategies) == 0 {
		fmt.Fprintln(w, "Strategies: none")
		return
	}

	for _, s := range payload.Strategies {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		fmt.Fprintf(w, "\n%s %s lot=%.2f %s since=%s ticks=%d startEquity=%.2f\n",
			s.Symbol, s.Timeframe, s.LotBase, state, formatTime(s.StartedAt), s.Ticks, s.StartEquity)
		if s.LastError != "" {
			fmt.Fprintf(w, "  Last error: %s\n", s.LastError)
		}

		if s.Indicators == nil || s.Indicators.Time.IsZero() {
			fmt.Fprintln(w, "  Indicators: none")
		} else {
			ind := s.Indicators
			fmt.Fprintf(w, "  Trend: %s change=%.2f%% strength=%.2f swing=%.5f/%.5f\n",
				ind.Trend.Trend, ind.Trend.ChangePercent, ind.Trend.Strength, ind.Trend.SwingLow, ind.Trend.SwingHigh)
			fmt.Fprintf(w, "  Indicators: close=%.5f RSI=%.2f MA=%.5f maPassed=%t updated=%s\n",
				ind.Close, ind.RSI, ind.MA, ind.MAPassed, formatTime(ind.Time))
			if len(ind.Levels) > 0 {
				parts := make([]string, 0, len(ind.Levels))
				for _, l := range ind.Levels {
					parts = append(parts, fmt.Sprintf("%.3f=%.5f", l.Ratio, l.Price))
				}
				fmt.Fprintf(w, "  Levels: %s\n", strings.Join(parts, " "))
			}
		}

		if s.Signal == nil || s.Signal.Time.IsZero() {
			fmt.Fprintln(w, "  Signal: none")
		} else {
			fmt.Fprintf(w, "  Signal: %s ratio=%.3f trigger=%.5f price=%.5f RSI=%.2f time=%s\n",
				s.Signal.Side, s.Signal.Ratio, s.Signal.TriggerPrice, s.Signal.Price, s.Signal.RSI, formatTime(s.Signal.Time))
		}

		if s.Order == nil || s.Order.Ticket == "" {
			fmt.Fprintln(w, "  Order: none")
		} else {
			fmt.Fprintf(w, "  Order: #%s %s %.2f @ %.5f SL=%.5f TP=%.5f RR=%.2f updated=%s\n",
				s.Order.Ticket, s.Order.Side, s.Order.Volume, s.Order.Entry,
				s.Order.StopLoss, s.Order.TakeProfit, s.Order.RewardRisk, formatTime(s.Order.UpdatedAt))
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}
