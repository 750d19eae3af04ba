package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/crankqueue/internal/metrics"
	"github.com/torosent/crankqueue/internal/server"
)

const historyLen = 100

// DashboardConfig holds the client settings shown in the header.
type DashboardConfig struct {
	URI         string
	Count       int
	Every       time.Duration
	Max         int
	Produce     bool
	StatusEvery time.Duration
}

// Dashboard renders the remote status as a live terminal UI.
type Dashboard struct {
	cfg          DashboardConfig
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	throughput     *widgets.Gauge
	inflightSparks *widgets.SparklineGroup
	bucketTable    *widgets.Table
	sinkList       *widgets.List
	errorList      *widgets.List

	inflightHistory []float64
	lastOut         int64
	lastPoll        time.Time
	now             func() time.Time
}

// NewDashboard initializes the terminal and lays out the widgets.
// shutdownFunc is called when the user presses q or Ctrl-C.
func NewDashboard(cfg DashboardConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}
	d := newDashboard(cfg, shutdownFunc)
	d.setupGrid()
	return d, nil
}

func newDashboard(cfg DashboardConfig, shutdownFunc func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		cfg:             cfg,
		ctx:             ctx,
		cancel:          cancel,
		shutdownFunc:    shutdownFunc,
		inflightHistory: make([]float64, 0, historyLen),
		now:             time.Now,
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "crankqueue"
	d.summaryPara.Text = "Waiting for status..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.throughput = widgets.NewGauge()
	d.throughput.Title = "Sends Per Second"
	d.throughput.BarColor = ui.ColorBlue
	d.throughput.BorderStyle.Fg = ui.ColorCyan
	d.throughput.LabelStyle = ui.NewStyle(ui.ColorWhite)

	spark := widgets.NewSparkline()
	spark.Title = "Inflight"
	spark.LineColor = ui.ColorGreen
	spark.Data = []float64{0}
	d.inflightSparks = widgets.NewSparklineGroup(spark)
	d.inflightSparks.Title = "Inflight Sends"
	d.inflightSparks.BorderStyle.Fg = ui.ColorCyan

	d.bucketTable = widgets.NewTable()
	d.bucketTable.Title = "Latency Buckets"
	d.bucketTable.Rows = [][]string{bucketHeader}
	d.bucketTable.TextStyle = ui.NewStyle(ui.ColorWhite)
	d.bucketTable.RowSeparator = false
	d.bucketTable.BorderStyle.Fg = ui.ColorCyan

	d.sinkList = widgets.NewList()
	d.sinkList.Title = "Sinks"
	d.sinkList.Rows = []string{"Awaiting data"}
	d.sinkList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.sinkList.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Last Errors"
	d.errorList.Rows = []string{"[No errors](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan
}

var bucketHeader = []string{"Range", "Count", "Avg ms", "Min ms", "Max ms"}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()
	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(0.6, d.summaryPara),
			ui.NewCol(0.4, d.throughput),
		),
		ui.NewRow(0.24,
			ui.NewCol(1.0, d.inflightSparks),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.5, d.bucketTable),
			ui.NewCol(0.5, d.sinkList),
		),
		ui.NewRow(0.32,
			ui.NewCol(1.0, d.errorList),
		),
	)
}

// Start begins handling terminal events and periodic redraws.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the event loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	uiEvents := ui.PollEvents()

	d.render()
	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

// ShowStatus updates every widget from a status poll.
func (d *Dashboard) ShowStatus(st server.StatusResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	rate := 0.0
	if !d.lastPoll.IsZero() {
		if elapsed := now.Sub(d.lastPoll).Seconds(); elapsed > 0 && st.Out >= d.lastOut {
			rate = float64(st.Out-d.lastOut) / elapsed
		}
	}
	d.lastPoll = now
	d.lastOut = st.Out

	d.summaryPara.Text = d.formatSummary(st)
	d.updateThroughput(rate)
	d.updateInflight(st)
	d.bucketTable.Rows = formatBucketRows(st)
	d.sinkList.Rows = formatSinkRows(st.Sinks)
	d.errorList.Rows = formatErrorRows(st)
}

func (d *Dashboard) formatSummary(st server.StatusResponse) string {
	return fmt.Sprintf(
		"Server: %s | %s\nUptime: %s | Concurrency: %d | Queued: %d | Pending: %d\nIn: %d | Out: %d | Failed: %d | Errors: %d",
		d.cfg.URI,
		d.formatParams(),
		st.Uptime,
		st.Concurrency,
		st.Queued,
		st.Pending,
		st.In,
		st.Out,
		st.Failed,
		st.Errors,
	)
}

func (d *Dashboard) updateThroughput(rate float64) {
	maxRate := 100.0
	if rate > maxRate {
		maxRate = rate
	}
	percent := int((rate / maxRate) * 100)
	if percent > 100 {
		percent = 100
	}
	d.throughput.Percent = percent
	d.throughput.Label = fmt.Sprintf("%.1f sends/s", rate)
}

func (d *Dashboard) updateInflight(st server.StatusResponse) {
	d.inflightHistory = append(d.inflightHistory, float64(st.Inflight))
	if len(d.inflightHistory) > historyLen {
		d.inflightHistory = d.inflightHistory[1:]
	}
	d.inflightSparks.Sparklines[0].Data = d.inflightHistory
	d.inflightSparks.Title = fmt.Sprintf("Inflight Sends | Current: %d | Limit: %d", st.Inflight, st.Concurrency)
}

// formatParams describes what this client is doing.
func (d *Dashboard) formatParams() string {
	var parts []string
	if d.cfg.Produce {
		parts = append(parts, fmt.Sprintf("Producing %d every %s", d.cfg.Count, d.cfg.Every))
		if d.cfg.Max > 0 {
			parts = append(parts, fmt.Sprintf("Max: %d", d.cfg.Max))
		}
	} else {
		parts = append(parts, "Status only")
	}
	if d.cfg.StatusEvery > 0 {
		parts = append(parts, fmt.Sprintf("Refresh: %s", d.cfg.StatusEvery))
	}
	return strings.Join(parts, " | ")
}

func formatBucketRows(st server.StatusResponse) [][]string {
	rows := [][]string{bucketHeader}
	for _, b := range st.Latency {
		row := []string{fmt.Sprintf("%.3f%%", b.Range*100), fmt.Sprintf("%d", b.Count), "-", "-", "-"}
		if !b.Empty {
			row[2] = fmt.Sprintf("%d", b.Avg)
			row[3] = fmt.Sprintf("%d", b.Min)
			row[4] = fmt.Sprintf("%d", b.Max)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatSinkRows(stats []metrics.SinkStats) []string {
	if len(stats) == 0 {
		return []string{"Awaiting data"}
	}
	var total int64
	for _, s := range stats {
		total += s.Total
	}
	rows := make([]string, 0, len(stats))
	for _, s := range stats {
		share := 0.0
		if total > 0 {
			share = float64(s.Total) / float64(total) * 100
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | %5.1f%% | %6.1f/s | P99 %6.1fms | Err %d",
			s.Sink, share, s.SendsPerSec, s.P99LatencyMs, s.Failures))
	}
	for _, row := range metrics.FlattenErrorBuckets(stats) {
		rows = append(rows, fmt.Sprintf("  [%s %s](fg:red) x%d", row.Sink, row.Error, row.Count))
	}
	return rows
}

func formatErrorRows(st server.StatusResponse) []string {
	if len(st.Last) == 0 {
		return []string{"[No errors](fg:green)"}
	}
	rows := make([]string, 0, len(st.Last))
	// Newest first.
	for i := len(st.Last) - 1; i >= 0; i-- {
		e := st.Last[i]
		rows = append(rows, fmt.Sprintf("[%s](fg:white) [%s](fg:cyan) %s", e.Time.Format("15:04:05"), e.Sink, e.Error))
	}
	return rows
}
