//go:build integration

package integration

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/infra"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/policy"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/quota_mon/test/fixtures"
)

// pipeline wires the real resolver, client and evaluator against a fake server.
type pipeline struct {
	server    *fixtures.FakeLanguageServer
	ls        *infra.LanguageServerClient
	client    *monitor.QuotaClient
	evaluator *usecase.Evaluator
}

func newPipeline(logger *zap.Logger) *pipeline {
	server := fixtures.NewFakeLanguageServer("3f2a9c1e-77b0-4d1e-9a6c-0d5e8b1f4c2a")
	ls := infra.NewLanguageServerClient(infra.DefaultClientIdentity(), 2*time.Second, logger)
	resolver := usecase.NewConnectionResolver(
		fixtures.NewFakePlatform(server),
		infra.NewInvocationParser("", ""),
		ls,
		logger,
	)
	cfg := monitor.DefaultConfig()
	cfg.PollInterval = time.Hour
	return &pipeline{
		server:    server,
		ls:        ls,
		client:    monitor.NewQuotaClient(cfg, resolver, ls, usecase.NewStatusParser(), logger),
		evaluator: usecase.NewEvaluator(usecase.NewClassifier(policy.DefaultGroups(), nil, usecase.DefaultUnknownRemainingPct), logger),
	}
}

func (p *pipeline) close() {
	p.client.Shutdown()
	p.server.Stop()
}

func defaultModels(proFraction float64, proReset time.Duration) []fixtures.Model {
	now := time.Now()
	return []fixtures.Model{
		{Label: "Gemini 3 Pro (High)", ModelID: "MODEL_PRO_HIGH", Fraction: fixtures.Fraction(proFraction), ResetTime: now.Add(proReset)},
		{Label: "Gemini 3 Pro (Low)", ModelID: "MODEL_PRO_LOW", Fraction: fixtures.Fraction(1), ResetTime: now.Add(time.Hour)},
		{Label: "Gemini 3 Flash", ModelID: "MODEL_FLASH", Fraction: fixtures.Fraction(0.15), ResetTime: now.Add(30 * time.Minute)},
		{Label: "Claude Sonnet 4.5", ModelID: "MODEL_CLAUDE", ResetTime: now.Add(2 * time.Hour)},
		{Label: "Experimental Model", ModelID: "MODEL_X", Fraction: fixtures.Fraction(0.5)},
	}
}

var _ = Describe("QuotaClient against a language server", func() {
	var (
		p   *pipeline
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		p = newPipeline(zap.NewNop())
		p.server.SetModels(defaultModels(0.35, 6*time.Hour)...)
	})

	AfterEach(func() {
		p.close()
	})

	Context("when the server is running", func() {
		It("resolves the endpoint past the decoy port", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())

			status := p.client.Status()
			Expect(status.State).To(Equal(monitor.StateConnected))
			Expect(status.Port).To(Equal(p.server.Port()))
			Expect(status.PID).To(Equal(p.server.PID))
		})

		It("produces a classified report", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())

			u, err := p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).NotTo(HaveOccurred())
			Expect(u.Snapshot.Plan).To(Equal("Pro"))
			Expect(u.Snapshot.PromptCredits.RemainingPercentage).To(BeNumerically("~", 40, 1e-9))
			Expect(u.Snapshot.FlowCredits.RemainingPercentage).To(BeNumerically("~", 75, 1e-9))

			report := p.evaluator.Evaluate(*u.Snapshot)
			Expect(report.Groups).To(HaveLen(3))

			pro := report.Groups[0]
			Expect(pro.ID).To(Equal("pro"))
			Expect(pro.Members).To(HaveLen(2))
			Expect(pro.WorstRemainingPct).To(BeNumerically("~", 35, 1e-9))
			Expect(pro.Light).To(Equal(domain.LightYellow))
			Expect(pro.IsLongReset).To(BeTrue())

			flash := report.Groups[1]
			Expect(flash.Light).To(Equal(domain.LightRed))
			Expect(flash.IsLongReset).To(BeFalse())

			claude := report.Groups[2]
			Expect(claude.WorstRemainingPct).To(BeNumerically("==", usecase.DefaultUnknownRemainingPct))

			Expect(report.Other).To(HaveLen(1))
			Expect(report.Other[0].Label).To(Equal("Experimental Model"))
		})

		It("reports a malformed body without re-resolving", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())
			probes := p.server.Calls("GetUnleashData")

			p.server.SetRawStatus(http.StatusOK, []byte(`{"userStatus": [`))
			u, err := p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).To(MatchError(domain.ErrResponseMalformed))

			Expect(p.server.Calls("GetUnleashData")).To(Equal(probes))
			Expect(p.client.Status().State).To(Equal(monitor.StateConnected))
		})

		It("reports a server error without re-resolving", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())

			p.server.SetRawStatus(http.StatusInternalServerError, []byte(`{}`))
			u, err := p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).To(MatchError(domain.ErrUnexpectedStatus))
			Expect(p.client.Status().State).To(Equal(monitor.StateConnected))
		})
	})

	Context("when the server restarts on a new port", func() {
		It("re-resolves and retries within the same cycle", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())
			oldPort := p.client.Status().Port

			p.server.Restart()
			Expect(p.server.Port()).NotTo(Equal(oldPort))

			u, err := p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).NotTo(HaveOccurred())
			Expect(u.Snapshot).NotTo(BeNil())

			status := p.client.Status()
			Expect(status.State).To(Equal(monitor.StateConnected))
			Expect(status.Port).To(Equal(p.server.Port()))
			Expect(status.ConsecutiveFailures).To(BeZero())
		})
	})

	Context("when the server goes away", func() {
		It("disconnects and recovers once it is back", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())

			p.server.Stop()
			u, err := p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).To(MatchError(domain.ErrConnectionLost))
			Expect(u.Err).To(MatchError(domain.ErrServiceNotFound))
			Expect(p.client.Status().State).To(Equal(monitor.StateDisconnected))

			p.server.Restart()
			u, err = p.client.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Err).NotTo(HaveOccurred())
			Expect(p.client.Status().State).To(Equal(monitor.StateConnected))
		})

		It("surfaces service not found on initialize", func() {
			p.server.Stop()
			Expect(p.client.Initialize(ctx)).To(MatchError(domain.ErrServiceNotFound))
			Expect(p.client.Status().State).To(Equal(monitor.StateDisconnected))
		})
	})

	Context("sticky long-reset alert", func() {
		It("holds through a shorter countdown and clears after recovery at full quota", func() {
			Expect(p.client.Initialize(ctx)).To(Succeed())

			evaluate := func() domain.GroupStatus {
				u, err := p.client.Refresh(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Err).NotTo(HaveOccurred())
				return p.evaluator.Evaluate(*u.Snapshot).Groups[0]
			}

			Expect(evaluate().IsLongReset).To(BeTrue())

			p.server.SetModels(defaultModels(0.35, 4*time.Hour+30*time.Minute)...)
			Expect(evaluate().IsLongReset).To(BeTrue())

			p.server.SetModels(defaultModels(0.35, 2*time.Hour)...)
			Expect(evaluate().IsLongReset).To(BeTrue())

			p.server.SetModels(defaultModels(1, 4*time.Hour+30*time.Minute)...)
			Expect(evaluate().IsLongReset).To(BeFalse())
		})
	})
})
