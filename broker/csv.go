package broker

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"fibonacci-trader/models"
)

// LoadCSV reads bars from a CSV with headers
// time|timestamp, open, high, low, close, volume|tick_volume
func LoadCSV(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses bars from r; rows with an unreadable time or close are skipped
func ReadCSV(r io.Reader) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []models.Bar
	var headers []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if headers == nil {
			headers = rec
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			if j < len(rec) {
				row[strings.ToLower(strings.TrimSpace(h))] = strings.TrimSpace(rec[j])
			}
		}
		ts := first(row, "time", "timestamp", "date")
		cp := first(row, "close")
		if ts == "" || cp == "" {
			continue
		}
		t, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		c, err := strconv.ParseFloat(cp, 64)
		if err != nil {
			continue
		}
		bar := models.Bar{Time: t, Open: c, High: c, Low: c, Close: c}
		if v, err := strconv.ParseFloat(first(row, "open"), 64); err == nil {
			bar.Open = v
		}
		if v, err := strconv.ParseFloat(first(row, "high"), 64); err == nil {
			bar.High = v
		}
		if v, err := strconv.ParseFloat(first(row, "low"), 64); err == nil {
			bar.Low = v
		}
		if v, err := strconv.ParseFloat(first(row, "volume", "tick_volume", "vol"), 64); err == nil {
			bar.Volume = v
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bars in csv")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// parseTimeFlexible supports RFC3339, "2006-01-02 15:04[:05]" or UNIX seconds
func parseTimeFlexible(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006.01.02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
