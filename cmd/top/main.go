package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	terminal "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

var (
	endpoint     = ""
	tickInterval = time.Second * 1
)

func init() {
	flag.StringVar(&endpoint, "endpoint", "http://localhost:8080/plugin/qs/graph", "The qs plugin graph endpoint of a chunksync server.")
	flag.DurationVar(&tickInterval, "interval", time.Second*1, "The interval to redraw the dashboard.")
}

type HotKey struct {
	Key   string `json:"key"`
	Count uint32 `json:"count"`
}

type Graph struct {
	Data      map[string]float64 `json:"data"`
	HotKeys   []HotKey           `json:"hot_keys"`
	State     string             `json:"state"`
	StartedAt int64              `json:"started_at"`
}

func main() {
	flag.Parse()

	if err := terminal.Init(); err != nil {
		log.Fatalf("failed to initialize termui: %v", err)
	}
	defer terminal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDashboard()
	go d.consume(ctx, &http.Client{Transport: &http.Transport{}})
	d.loop()
}

// dashboard renders the latest graph pushed by the qs plugin.
type dashboard struct {
	mu        sync.RWMutex
	graph     Graph
	connected bool

	banner  *widgets.Paragraph
	cache   *widgets.Paragraph
	cpu     *widgets.Gauge
	mem     *widgets.Gauge
	disk    *widgets.Gauge
	hotKeys *widgets.List
	grid    *terminal.Grid
}

func newDashboard() *dashboard {
	d := &dashboard{
		banner:  widgets.NewParagraph(),
		cache:   widgets.NewParagraph(),
		cpu:     gauge("CPU Usage", terminal.ColorMagenta),
		mem:     gauge("Memory Usage", terminal.ColorGreen),
		disk:    gauge("Disk Usage", terminal.ColorYellow),
		hotKeys: widgets.NewList(),
		grid:    terminal.NewGrid(),
	}

	d.banner.Title = " chunksync    (PRESS q TO QUIT) "
	d.banner.Border = true

	d.cache.Title = "Cache"
	d.cache.BorderStyle.Fg = terminal.ColorWhite
	d.cache.TitleStyle.Fg = terminal.ColorCyan

	d.hotKeys.Title = "Hot Keys"
	d.hotKeys.BorderStyle.Fg = terminal.ColorWhite
	d.hotKeys.TitleStyle.Fg = terminal.ColorCyan
	d.hotKeys.TextStyle.Fg = terminal.ColorYellow

	d.grid.Set(
		terminal.NewRow(1.0,
			terminal.NewCol(1.0/2, d.cache),
			terminal.NewCol(1.0/2,
				terminal.NewRow(1.0/3, d.cpu),
				terminal.NewRow(1.0/3, d.mem),
				terminal.NewRow(1.0/3, d.disk),
			),
		),
	)

	width, _ := terminal.TerminalDimensions()
	d.resize(width)
	return d
}

func gauge(title string, color terminal.Color) *widgets.Gauge {
	g := widgets.NewGauge()
	g.Title = title
	g.BarColor = color
	g.BorderStyle.Fg = terminal.ColorWhite
	g.TitleStyle.Fg = terminal.ColorCyan
	return g
}

func (d *dashboard) resize(width int) {
	d.banner.SetRect(0, 0, width, 3)
	d.grid.SetRect(0, 3, width, 14)
	d.hotKeys.SetRect(0, 14, width, 32)
}

func (d *dashboard) loop() {
	d.draw()

	events := terminal.PollEvents()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return
			}

			if e.Type == terminal.ResizeEvent {
				d.resize(e.Payload.(terminal.Resize).Width)
				terminal.Clear()
				d.draw()
			}
		case <-ticker.C:
			d.draw()
		}
	}
}

// consume reads the SSE stream and reconnects a second after it ends.
func (d *dashboard) consume(ctx context.Context, client *http.Client) {
	for ctx.Err() == nil {
		d.stream(ctx, client)
		d.setConnected(false)

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (d *dashboard) stream(ctx context.Context, client *http.Client) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}
	d.setConnected(true)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
		payload = strings.TrimSpace(payload)
		if !ok || payload == "" {
			continue
		}

		var g Graph
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			continue
		}

		d.mu.Lock()
		d.graph = g
		d.mu.Unlock()
	}
}

func (d *dashboard) setConnected(v bool) {
	d.mu.Lock()
	d.connected = v
	d.mu.Unlock()
}

func (d *dashboard) draw() {
	d.mu.RLock()
	g, connected := d.graph, d.connected
	d.mu.RUnlock()

	data := g.Data
	if data == nil {
		data = map[string]float64{}
	}

	status, color := "Disconnected", "fg:red"
	if connected {
		status, color = "Connected", "fg:green"
	}
	startAt := time.UnixMilli(g.StartedAt)
	d.banner.Text = fmt.Sprintf("%s | Sampling @ [%s](fg:blue) | [%s](%s) %s | Up since %s (%s)",
		endpoint, tickInterval, status, color, lo.CoalesceOrEmpty(g.State, "UNKNOWN"),
		startAt.Format(time.RFC1123), humanize.Time(startAt))

	d.cache.Text = fmt.Sprintf("\nChunks: %s\nLookups/sec: %.1f (hit %.1f%%)\nNotifications/sec: %.1f\nRequests/sec: %.1f\n2xx : %d\n4xx : %d\n5xx : %d",
		humanize.Comma(int64(data["store_chunks"])), data["lookups"], data["hit_ratio"], data["notifications"],
		data["requests"], int(data["2xx"]), int(data["4xx"]), int(data["5xx"]))

	d.cpu.Percent = clamp(data["cpu_percent"])
	d.mem.Percent, d.mem.Label = usage("Mem", data["mem_usage"], data["mem_total"])
	d.disk.Percent, d.disk.Label = usage("Disk", data["disk_usage"], data["disk_total"])

	d.hotKeys.Rows = lo.Map(g.HotKeys, func(k HotKey, i int) string {
		return fmt.Sprintf("[%02d] %s Lookups=%d", i, k.Key, k.Count)
	})

	terminal.Render(d.banner, d.grid, d.hotKeys)
}

func usage(name string, used, total float64) (int, string) {
	percent := 0
	if total > 0 {
		percent = clamp(used / total * 100)
	}
	return percent, fmt.Sprintf("%d%% | %s: %s / %s", percent, name, humanize.Bytes(uint64(used)), humanize.Bytes(uint64(total)))
}

func clamp(v float64) int {
	return int(min(max(v, 0), 100))
}
