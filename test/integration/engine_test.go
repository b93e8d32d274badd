//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/daemon"
	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/infra"
	"github.com/eliteGoblin/kioskd/internal/policy"
	"github.com/eliteGoblin/kioskd/internal/usecase"
	"github.com/eliteGoblin/kioskd/test/fixtures"
)

const launcher = "org.kiosk.launcher"

// engineHarness runs a real engine against an encrypted store in a temp dir.
// cli* services stand in for the separate CLI process writing the same store.
type engineHarness struct {
	dir     string
	store   *infra.EncryptedStore
	device  *fixtures.FakeDevice
	monitor *daemon.Monitor
	reg     *infra.FileInstanceRegistry

	cliSessions *usecase.SessionManager
	cliSettings *usecase.SettingsService

	cancel context.CancelFunc
	done   chan error
}

func newEngineHarness(caps domain.Capabilities) *engineHarness {
	dir, err := os.MkdirTemp("", "kioskd-integration-*")
	Expect(err).NotTo(HaveOccurred())

	key, err := infra.GenerateKey()
	Expect(err).NotTo(HaveOccurred())
	store, err := infra.NewEncryptedStore(filepath.Join(dir, infra.DBFileName), key)
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	device := fixtures.NewFakeDevice(launcher, caps)

	sessions := usecase.NewSessionManager(store, logger)
	settings := usecase.NewSettingsService(store, logger)
	cache := policy.NewCache(store, policy.CacheConfig{
		DialerAutoWhitelist: settings.AutoWhitelistDialer,
	}, logger)
	dispatcher := usecase.NewDispatcher(device, store, usecase.DispatcherConfig{
		OverlayHold:    20 * time.Millisecond,
		HapticDuration: time.Millisecond,
	}, logger)
	monitor := daemon.NewMonitor(daemon.DefaultMonitorConfig(), sessions, cache, device, device, dispatcher, settings, logger)
	reg := infra.NewFileInstanceRegistry(filepath.Join(dir, infra.InstanceFileName), infra.NewProcessManager())

	engine := daemon.NewEngine(daemon.EngineDeps{
		Sessions:   sessions,
		Settings:   settings,
		Cache:      cache,
		Monitor:    monitor,
		Sync:       daemon.SyncerConfig{Interval: 50 * time.Millisecond},
		Watcher:    infra.NewStoreWatcher(store.Path(), logger).WithDebounce(10 * time.Millisecond),
		Dispatcher: dispatcher,
		Instance:   reg,
		AppVersion: "integration",
		Mode:       "user",
	}, logger)

	h := &engineHarness{
		dir:         dir,
		store:       store,
		device:      device,
		monitor:     monitor,
		reg:         reg,
		cliSessions: usecase.NewSessionManager(store, logger),
		cliSettings: usecase.NewSettingsService(store, logger),
		done:        make(chan error, 1),
	}

	ctx := context.Background()
	Expect(store.UpsertWhitelistEntry(ctx, domain.WhitelistEntry{
		PackageName: launcher,
		DisplayName: "Kiosk Launcher",
		Enabled:     true,
		AddedAt:     time.Now(),
	})).To(Succeed())
	_, err = h.cliSettings.Load(ctx)
	Expect(err).NotTo(HaveOccurred())

	var runCtx context.Context
	runCtx, h.cancel = context.WithCancel(ctx)
	go func() { h.done <- engine.Run(runCtx) }()

	Eventually(func() bool {
		alive, _ := reg.IsAlive()
		return alive
	}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
	return h
}

func (h *engineHarness) setMode(mode domain.BlockingMode, delay time.Duration) {
	_, err := h.cliSettings.Update(context.Background(), func(s *domain.KioskSettings) {
		s.BlockingMode = mode
		s.ScreenOffRedirectDelay = delay
		s.MonitoringInterval = 10 * time.Millisecond
	})
	Expect(err).NotTo(HaveOccurred())
}

func (h *engineHarness) events() []domain.BlockEvent {
	events, err := h.store.RecentBlockEvents(context.Background(), 100)
	Expect(err).NotTo(HaveOccurred())
	return events
}

func (h *engineHarness) stopSession() {
	ctx := context.Background()
	Expect(h.cliSessions.LoadActiveSession(ctx)).To(Succeed())
	Expect(h.cliSessions.StopSession(ctx)).To(Succeed())
}

func (h *engineHarness) close() {
	h.cancel()
	Eventually(h.done, 5*time.Second).Should(Receive(MatchError(context.Canceled)))
	h.store.Close()
	os.RemoveAll(h.dir)
}

var _ = Describe("Engine", func() {
	var h *engineHarness

	AfterEach(func() {
		if h != nil {
			h.close()
			h = nil
		}
	})

	Describe("single instance", func() {
		It("refuses a second daemon on the same data dir", func() {
			h = newEngineHarness(domain.Capabilities{})
			other := infra.NewFileInstanceRegistry(h.reg.Path(), infra.NewProcessManager())
			err := other.Acquire(domain.Instance{PID: os.Getpid(), StartedAt: time.Now()})
			Expect(errors.Is(err, domain.ErrAlreadyRunning)).To(BeTrue())
		})
	})

	Describe("REDIRECT mode without capabilities", func() {
		BeforeEach(func() {
			h = newEngineHarness(domain.Capabilities{})
			h.setMode(domain.ModeRedirect, 0)
		})

		It("blocks a non-whitelisted app exactly once and returns to the launcher", func() {
			sess, err := h.cliSessions.StartSession(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			h.device.Open("com.example.game")

			Eventually(h.device.Foreground, 2*time.Second, 10*time.Millisecond).Should(Equal(launcher))
			Eventually(h.events, 2*time.Second, 20*time.Millisecond).Should(HaveLen(1))
			Consistently(h.events, 300*time.Millisecond, 50*time.Millisecond).Should(HaveLen(1))

			event := h.events()[0]
			Expect(event.PackageName).To(Equal("com.example.game"))
			Expect(event.SessionID).To(Equal(sess.ID))
			Expect(event.ActionTaken).To(Equal(domain.ModeRedirect))
			Expect(h.device.Calls()).To(ContainElements("kill:com.example.game", "redirect"))
			Expect(h.device.Calls()).NotTo(ContainElement("screen-lock"))
		})

		It("never blocks emergency dialers or whitelisted apps", func() {
			_, err := h.cliSessions.StartIndefiniteSession(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			h.device.Open("com.android.dialer")
			Consistently(h.events, 300*time.Millisecond, 50*time.Millisecond).Should(BeEmpty())
			h.device.Open(launcher)
			Consistently(h.events, 200*time.Millisecond, 50*time.Millisecond).Should(BeEmpty())
		})

		It("stops probing and blocking once the session is stopped", func() {
			_, err := h.cliSessions.StartSession(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			h.stopSession()
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeFalse())

			probes := h.device.Probes()
			h.device.Open("com.example.game")
			Consistently(h.device.Probes, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(probes))
			Expect(h.events()).To(BeEmpty())
			Expect(h.device.Foreground()).To(Equal("com.example.game"))
		})

		It("picks up whitelist changes made while running", func() {
			_, err := h.cliSessions.StartIndefiniteSession(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			Expect(h.store.UpsertWhitelistEntry(context.Background(), domain.WhitelistEntry{
				PackageName: "org.example.reader",
				DisplayName: "Reader",
				Enabled:     true,
				AddedAt:     time.Now(),
			})).To(Succeed())
			// Wait for at least one sync cycle.
			time.Sleep(200 * time.Millisecond)

			h.device.Open("org.example.reader")
			Consistently(h.events, 300*time.Millisecond, 50*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("BOTH mode with device admin and overlay", func() {
		BeforeEach(func() {
			h = newEngineHarness(domain.Capabilities{HasDeviceAdmin: true, HasOverlay: true})
			h.setMode(domain.ModeBoth, 50*time.Millisecond)
		})

		It("masks, locks, then redirects after the delay", func() {
			_, err := h.cliSessions.StartSession(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Eventually(h.monitor.Running, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			h.device.Open("com.example.video")

			Eventually(h.device.Foreground, 2*time.Second, 10*time.Millisecond).Should(Equal(launcher))
			Eventually(h.events, 2*time.Second, 20*time.Millisecond).Should(HaveLen(1))

			calls := h.device.Calls()
			Expect(calls[0]).To(Equal("overlay:com.example.video"))
			Expect(calls[1]).To(Equal("screen-lock"))
			Expect(calls).To(ContainElements("redirect", "hide-overlay"))
			Expect(h.events()[0].ActionTaken).To(Equal(domain.ModeBoth))
		})
	})
})
