package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/driver"
	"github.com/smtsim/pfsim/report"
)

type fakeSource struct {
	result driver.Result
}

func (s *fakeSource) Snapshot() driver.Result { return s.result }

func (s *fakeSource) NumCores() int { return len(s.result.Cores) }

func (s *fakeSource) DumpEngine(core int, w io.Writer) error {
	if core >= len(s.result.Cores) {
		return fmt.Errorf("no core %d", core)
	}

	fmt.Fprintf(w, "id: c%d.pfsg core: %d\n", core, core)

	return nil
}

var _ = Describe("Monitor", func() {
	var (
		src *fakeSource
		m   *Monitor
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		src = &fakeSource{result: driver.Result{
			Cycles: 4000,
			Cores: []driver.CoreResult{
				{ID: 0, Stats: driver.CoreStats{Accesses: 100, L1Hits: 60}},
				{ID: 1, Stats: driver.CoreStats{Accesses: 10}},
			},
		}}

		ev, err := report.NewEvaluator(report.DefaultMetrics)
		Expect(err).ToNot(HaveOccurred())

		logger := logrus.New()
		logger.SetOutput(io.Discard)
		m = NewMonitor(src, ev, logger)
	})

	It("should report the cycle", func() {
		rec := get("/api/now")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"cycles":4000}`))
	})

	It("should serve the result", func() {
		rec := get("/api/result")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var r driver.Result
		Expect(json.Unmarshal(rec.Body.Bytes(), &r)).To(Succeed())
		Expect(r.Cores).To(HaveLen(2))
		Expect(r.Cores[0].Stats.L1Hits).To(Equal(int64(60)))
	})

	It("should serve derived metrics", func() {
		rec := get("/api/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var reply struct {
			Metrics []string     `json:"metrics"`
			Values  [][]*float64 `json:"values"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
		Expect(reply.Metrics[0]).To(Equal("l1_hit_rate"))
		Expect(*reply.Values[0][0]).To(BeNumerically("~", 60, 1e-9))
	})

	It("should dump an engine", func() {
		rec := get("/api/engine/1")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("c1.pfsg"))

		Expect(get("/api/engine/7").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/engine/x").Code).To(Equal(http.StatusNotFound))
	})

	It("should export Prometheus gauges", func() {
		rec := get("/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))

		body := rec.Body.String()
		Expect(body).To(ContainSubstring("pfsim_cycles 4000"))
		Expect(body).To(ContainSubstring(
			`pfsim_counter{core="0",counter="l1_hits"} 60`))
		Expect(body).To(ContainSubstring(
			`pfsim_metric{core="0",metric="l1_hit_rate"} 60`))
	})

	It("should report resource usage", func() {
		rec := get("/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("memory_size"))
	})

	It("should start and stop", func() {
		url, err := m.Start("127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())

		rsp, err := http.Get(url + "/api/now")
		Expect(err).ToNot(HaveOccurred())
		rsp.Body.Close()
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))

		Expect(m.Stop(context.Background())).To(Succeed())
	})
})
