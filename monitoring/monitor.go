// Package monitoring serves a running simulation's state over HTTP: JSON
// snapshots, engine dumps, Prometheus gauges and process resource usage.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/driver"
	"github.com/smtsim/pfsim/report"
)

// A Source is the simulation being watched. Its methods must be safe to call
// while it runs.
type Source interface {
	Snapshot() driver.Result
	DumpEngine(core int, w io.Writer) error
	NumCores() int
}

// Monitor serves the state of a simulation.
type Monitor struct {
	src       Source
	evaluator *report.Evaluator
	router    *mux.Router
	registry  *prometheus.Registry
	counters  *prometheus.GaugeVec
	metrics   *prometheus.GaugeVec
	cycles    prometheus.Gauge
	server    *http.Server
	log       *logrus.Entry
}

// NewMonitor creates a monitor. The evaluator may be nil, which leaves out
// derived metrics.
func NewMonitor(
	src Source,
	evaluator *report.Evaluator,
	logger *logrus.Logger,
) *Monitor {
	m := &Monitor{
		src:       src,
		evaluator: evaluator,
		registry:  prometheus.NewRegistry(),
		counters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pfsim_counter",
				Help: "Raw per-core counters",
			},
			[]string{"core", "counter"},
		),
		metrics: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pfsim_metric",
				Help: "Derived per-core metrics",
			},
			[]string{"core", "metric"},
		),
		cycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfsim_cycles",
			Help: "Simulated cycles so far",
		}),
		log: logger.WithField("component", "monitor"),
	}

	m.registry.MustRegister(m.counters, m.metrics, m.cycles)
	m.routes()

	return m
}

func (m *Monitor) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now).Methods(http.MethodGet)
	r.HandleFunc("/api/result", m.result).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", m.derived).Methods(http.MethodGet)
	r.HandleFunc("/api/engine/{core:[0-9]+}", m.engine).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.resource).Methods(http.MethodGet)
	r.Handle("/metrics", m.scrape(promhttp.HandlerFor(m.registry,
		promhttp.HandlerOpts{}))).Methods(http.MethodGet)

	m.router = r
}

// Handler returns the monitor's routes.
func (m *Monitor) Handler() http.Handler { return m.router }

// Start listens on addr and serves in the background. It returns the URL
// the monitor is reachable at.
func (m *Monitor) Start(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listening on %s", addr)
	}

	m.server = &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 3 * time.Second,
	}

	url := fmt.Sprintf("http://%s", l.Addr())
	m.log.Infof("monitoring at %s", url)

	go func() {
		err := m.server.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("monitor server stopped")
		}
	}()

	return url, nil
}

// Stop shuts the server down.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

// OpenBrowser shows the monitor in the desktop's browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}

// Observe refreshes the Prometheus gauges. It implements driver.Observer.
func (m *Monitor) Observe(r driver.Result) error {
	m.cycles.Set(float64(r.Cycles))

	for _, c := range r.Cores {
		core := strconv.Itoa(c.ID)
		for name, v := range report.Variables(c) {
			m.counters.WithLabelValues(core, name).Set(v.(float64))
		}
	}

	if m.evaluator == nil {
		return nil
	}

	t, err := report.BuildTable(m.evaluator, r)
	if err != nil {
		return err
	}

	for ci, core := range t.Cores {
		for mi, name := range t.Metrics {
			v := t.Values[ci][mi]
			if math.IsNaN(v) {
				continue
			}

			m.metrics.WithLabelValues(strconv.Itoa(core), name).Set(v)
		}
	}

	return nil
}

func (m *Monitor) scrape(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.Observe(m.src.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]int64{"cycles": m.src.Snapshot().Cycles})
}

func (m *Monitor) result(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.src.Snapshot())
}

type metricsReply struct {
	Cycles  int64               `json:"cycles"`
	Metrics []string            `json:"metrics"`
	Cores   []int               `json:"cores"`
	Values  [][]*float64        `json:"values"`
	Mean    map[string]*float64 `json:"mean"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}

func (m *Monitor) derived(w http.ResponseWriter, _ *http.Request) {
	if m.evaluator == nil {
		http.Error(w, "no metrics configured", http.StatusNotFound)
		return
	}

	res := m.src.Snapshot()

	t, err := report.BuildTable(m.evaluator, res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rsp := metricsReply{
		Cycles:  res.Cycles,
		Metrics: t.Metrics,
		Cores:   t.Cores,
		Mean:    make(map[string]*float64),
	}

	for _, row := range t.Values {
		vals := make([]*float64, len(row))
		for i, v := range row {
			vals[i] = finite(v)
		}

		rsp.Values = append(rsp.Values, vals)
	}

	for i, name := range t.Metrics {
		rsp.Mean[name] = finite(t.Summary[i].Mean)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) engine(w http.ResponseWriter, r *http.Request) {
	core, _ := strconv.Atoi(mux.Vars(r)["core"])

	var b bytes.Buffer
	if err := m.src.DumpEngine(core, &b); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(b.Bytes())
}

type resourceReply struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) resource(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceReply{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}
