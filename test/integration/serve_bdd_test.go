//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/quota_mon/internal/infra"
	transport "github.com/eliteGoblin/focusd/quota_mon/internal/transport/chi"
)

var _ = Describe("Serving reports over HTTP", func() {
	var (
		p       *pipeline
		journal *infra.EncryptedJournal
		watcher *daemon.Watcher
		api     *httptest.Server
		cancel  context.CancelFunc
		done    chan error
	)

	BeforeEach(func() {
		p = newPipeline(zap.NewNop())
		p.server.SetModels(defaultModels(0.8, time.Hour)...)

		key, err := infra.GenerateJournalKey()
		Expect(err).NotTo(HaveOccurred())
		journal, err = infra.OpenJournal(GinkgoT().TempDir(), key)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.client.Initialize(context.Background())).To(Succeed())

		watcher = daemon.NewWatcher(daemon.DefaultWatcherConfig(), p.client, p.evaluator, journal, zap.NewNop())
		api = httptest.NewServer(transport.NewServer(watcher, journal, zap.NewNop()).Router())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- watcher.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive())
		api.Close()
		p.close()
		Expect(journal.Close()).To(Succeed())
	})

	getJSON := func(path string, into any) int {
		resp, err := http.Get(api.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(into)).To(Succeed())
		return resp.StatusCode
	}

	It("serves the report from the initial fetch", func() {
		Eventually(func() bool {
			_, ok := watcher.Latest()
			return ok
		}).WithTimeout(5 * time.Second).Should(BeTrue())

		var body map[string]any
		Expect(getJSON("/status", &body)).To(Equal(http.StatusOK))
		Expect(body).To(HaveKey("report"))
		Expect(body["connection"]).To(HaveKeyWithValue("state", "connected"))
	})

	It("refreshes on demand and records history", func() {
		Eventually(func() bool {
			_, ok := watcher.Latest()
			return ok
		}).WithTimeout(5 * time.Second).Should(BeTrue())

		p.server.SetModels(defaultModels(0.1, time.Hour)...)

		resp, err := http.Post(api.URL+"/refresh", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var report map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&report)).To(Succeed())
		groups := report["groups"].([]any)
		Expect(groups[0]).To(HaveKeyWithValue("light", "red"))

		var history []map[string]any
		Expect(getJSON("/history?limit=10", &history)).To(Equal(http.StatusOK))
		Expect(history).To(HaveLen(2))
	})

	It("answers 503 when the server is gone", func() {
		Eventually(func() bool {
			_, ok := watcher.Latest()
			return ok
		}).WithTimeout(5 * time.Second).Should(BeTrue())

		p.server.Stop()

		resp, err := http.Post(api.URL+"/refresh", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

		var body map[string]any
		Expect(getJSON("/status", &body)).To(Equal(http.StatusOK))
		Expect(body["connection"]).To(HaveKeyWithValue("state", "disconnected"))
		Expect(body).To(HaveKey("report"))
	})
})
