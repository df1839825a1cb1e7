package main

import (
	"bufio"
	"compress/gzip"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"fibonacci-trader/broker"
	"fibonacci-trader/models"
)

// order is a market order recovered from the trader's log
type order struct {
	Time       time.Time
	Symbol     string
	Side       string
	Volume     float64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Source     string
}

type orderResult struct {
	Order      order
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason string
	HoldBars   int
	R          float64 // outcome in multiples of the initial risk
	MFEPct     float64
	MAEPct     float64
}

var orderLine = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d+) .*\[INFO\]\s+\[([^\]]+)\] Sending (BUY|SELL) market order: ([0-9.]+) lots @ ([0-9.]+) SL ([0-9.]+) TP ([0-9.]+)`)

const logLayout = "2006/01/02 15:04:05.000000"

func main() {
	logsFlag := flag.String("logs", "logs/*/fibonacci_trader-*.log*", "glob pattern(s) for log files (comma-separated)")
	csvPath := flag.String("csv", "", "CSV with columns time,open,high,low,close for the symbol")
	symbol := flag.String("symbol", "", "only analyse orders for this symbol")
	holdBars := flag.Int("hold-bars", 0, "close unresolved orders after this many bars (0 = end of data)")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "-csv is required")
		os.Exit(2)
	}

	orders, err := loadOrders(*logsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load orders: %v\n", err)
		os.Exit(1)
	}
	if *symbol != "" {
		orders = filterSymbol(orders, *symbol)
	}
	bars, err := broker.LoadCSV(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bars: %v\n", err)
		os.Exit(1)
	}

	printResults(os.Stdout, analyzeOrders(orders, bars, *holdBars))
}

func filterSymbol(orders []order, symbol string) []order {
	out := orders[:0]
	for _, o := range orders {
		if strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out
}

func loadOrders(patterns string) ([]order, error) {
	var files []string
	for _, pat := range strings.Split(patterns, ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no log files matched %q", patterns)
	}
	sort.Strings(files)

	var out []order
	for _, path := range files {
		r, err := openMaybeGzip(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		got, err := scanOrders(r, path)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		out = append(out, got...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func scanOrders(r io.Reader, source string) ([]order, error) {
	var out []order
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if o, ok := parseOrderLine(scanner.Text()); ok {
			o.Source = source
			out = append(out, o)
		}
	}
	return out, scanner.Err()
}

func parseOrderLine(line string) (order, bool) {
	m := orderLine.FindStringSubmatch(line)
	if len(m) != 8 {
		return order{}, false
	}
	ts, err := time.ParseInLocation(logLayout, m[1], time.Local)
	if err != nil {
		return order{}, false
	}
	return order{
		Time:       ts,
		Symbol:     m[2],
		Side:       m[3],
		Volume:     parseFloat(m[4]),
		Entry:      parseFloat(m[5]),
		StopLoss:   parseFloat(m[6]),
		TakeProfit: parseFloat(m[7]),
	}, true
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{Reader: gz, Closer: multiCloser{gz, f}}, nil
	}
	return f, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v
}

// analyzeOrders walks the bars after each order until its stop or target
// is crossed. A bar touching both counts as a stop.
func analyzeOrders(orders []order, bars []models.Bar, holdBars int) []orderResult {
	var results []orderResult
	for _, o := range orders {
		risk := math.Abs(o.Entry - o.StopLoss)
		startIdx := findBarAfter(bars, o.Time)
		if startIdx == -1 || o.Entry <= 0 || risk == 0 {
			continue
		}
		endIdx := len(bars) - 1
		if holdBars > 0 && startIdx+holdBars < endIdx {
			endIdx = startIdx + holdBars
		}

		res := orderResult{Order: o, ExitReason: "horizon"}
		best, worst := o.Entry, o.Entry
		idx := endIdx
		for j := startIdx; j <= endIdx; j++ {
			b := bars[j]
			best, worst = extremes(o.Side, best, worst, b)
			if price, why, hit := crossed(o, b); hit {
				res.ExitPrice, res.ExitReason, idx = price, why, j
				break
			}
		}
		if res.ExitReason == "horizon" {
			res.ExitPrice = bars[endIdx].Close
		}
		res.ExitTime = bars[idx].Time
		res.HoldBars = idx - startIdx
		res.R = directional(o.Side, o.Entry, res.ExitPrice) / risk
		res.MFEPct = directional(o.Side, o.Entry, best) / o.Entry * 100
		res.MAEPct = directional(o.Side, o.Entry, worst) / o.Entry * 100
		results = append(results, res)
	}
	return results
}

func crossed(o order, b models.Bar) (float64, string, bool) {
	if o.Side == "BUY" {
		if b.Low <= o.StopLoss {
			return o.StopLoss, "stop_loss", true
		}
		if b.High >= o.TakeProfit {
			return o.TakeProfit, "take_profit", true
		}
		return 0, "", false
	}
	if b.High >= o.StopLoss {
		return o.StopLoss, "stop_loss", true
	}
	if b.Low <= o.TakeProfit {
		return o.TakeProfit, "take_profit", true
	}
	return 0, "", false
}

// extremes tracks the most favourable and most adverse prices seen
func extremes(side string, best, worst float64, b models.Bar) (float64, float64) {
	if side == "BUY" {
		return math.Max(best, b.High), math.Min(worst, b.Low)
	}
	return math.Min(best, b.Low), math.Max(worst, b.High)
}

func directional(side string, entry, exit float64) float64 {
	if side == "SELL" {
		return entry - exit
	}
	return exit - entry
}

func findBarAfter(bars []models.Bar, t time.Time) int {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(t) })
	if i == len(bars) {
		return -1
	}
	return i
}

func printResults(w io.Writer, results []orderResult) {
	fmt.Fprintf(w, "%-16s %-8s %-5s %-10s %-10s %-10s %-11s %-7s %-7s %-7s %-5s\n",
		"Time", "Symbol", "Side", "Entry", "SL", "Exit", "ExitWhy", "R", "MFE%", "MAE%", "Hold")

	var totalR float64
	wins, losses := 0, 0
	for _, r := range results {
		fmt.Fprintf(w, "%-16s %-8s %-5s %-10.5f %-10.5f %-10.5f %-11s %-7.2f %-7.2f %-7.2f %-5d\n",
			r.Order.Time.In(time.Local).Format("2006-01-02 15:04"),
			r.Order.Symbol,
			r.Order.Side,
			r.Order.Entry,
			r.Order.StopLoss,
			r.ExitPrice,
			r.ExitReason,
			r.R,
			r.MFEPct,
			r.MAEPct,
			r.HoldBars,
		)
		totalR += r.R
		switch r.ExitReason {
		case "take_profit":
			wins++
		case "stop_loss":
			losses++
		}
	}

	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	fmt.Fprintf(w, "\nOrders: %d | Targets: %d | Stops: %d | Win rate: %.1f%%\n", len(results), wins, losses, winRate)
	fmt.Fprintf(w, "Total R: %.2f\n", totalR)
}
