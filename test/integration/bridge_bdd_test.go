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

	"github.com/eliteGoblin/camelpad/internal/client"
	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/config"
	"github.com/eliteGoblin/camelpad/internal/daemon"
	"github.com/eliteGoblin/camelpad/internal/infra"
	"github.com/eliteGoblin/camelpad/internal/server"
	"github.com/eliteGoblin/camelpad/test/fixtures"
)

const baseConfig = `
device:
  vendorId: 0x1234
  productId: 0x5678
server:
  host: 127.0.0.1
  port: 0
keys:
  key0:
    press: {action: ack, label: OK}
    doublePress: {action: retry, label: Retry}
`

type result struct {
	resp server.Response
	err  error
}

func notify(c *client.Client, text string, timeout time.Duration) <-chan result {
	out := make(chan result, 1)
	go func() {
		resp, err := c.Notify(context.Background(), text, "", timeout)
		out <- result{resp, err}
	}()
	return out
}

func replyMessage(err error) string {
	var replyErr *client.ReplyError
	if errors.As(err, &replyErr) {
		return replyErr.Message
	}
	return ""
}

var _ = Describe("Bridge", func() {
	var (
		tmpDir     string
		configPath string
		hid        *fixtures.FakeHID
		d          *daemon.Daemon
		cancel     context.CancelFunc
		exited     chan error
		c          *client.Client
	)

	pad := func() *fixtures.FakeHandle {
		h := hid.Last()
		Expect(h).NotTo(BeNil())
		return h
	}

	press := func() {
		pad().Edge(0, true)
		pad().Edge(0, false)
	}

	shown := func() string {
		texts := pad().Texts()
		if len(texts) == 0 {
			return ""
		}
		return texts[len(texts)-1]
	}

	pending := func() int {
		return d.Bridge().Status().Pending
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "camelpad-integration-*")
		Expect(err).NotTo(HaveOccurred())

		configPath = filepath.Join(tmpDir, "config.yaml")
		Expect(os.WriteFile(configPath, []byte(baseConfig), 0o644)).To(Succeed())

		cfg, found, err := config.Load(configPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())

		hid = fixtures.NewFakeHID(fixtures.PadInfo())
		pm := infra.NewProcessManager()
		registry := infra.NewFileRegistry(filepath.Join(tmpDir, "camelpad.pid"), pm)

		d = daemon.New(daemon.DefaultConfig(configPath), cfg, hid, clock.Real(), registry, pm, nil, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		exited = make(chan error, 1)
		go func() { exited <- d.Run(ctx) }()
		Eventually(d.Ready(), 2*time.Second).Should(BeClosed())

		c, err = client.Dial(context.Background(), "ws://"+d.Addr()+"/")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = c.Close()
		cancel()
		Eventually(exited, 5*time.Second).Should(Receive(BeNil()))
		os.RemoveAll(tmpDir)
	})

	Describe("answering prompts", func() {
		Context("when the operator presses a mapped button", func() {
			It("should reply with the bound action", func() {
				reply := notify(c, "Deploy to prod?", 0)
				Eventually(shown, 2*time.Second).Should(Equal("Deploy to prod?"))

				press()

				var r result
				Eventually(reply, 2*time.Second).Should(Receive(&r))
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.resp.Action).To(Equal("ack"))
				Expect(r.resp.Label).To(Equal("OK"))
				Eventually(shown, time.Second).Should(BeEmpty())
			})
		})

		Context("when several prompts are queued", func() {
			It("should answer them in arrival order", func() {
				first := notify(c, "first", 0)
				Eventually(pending, time.Second).Should(Equal(1))
				second := notify(c, "second", 0)
				Eventually(pending, time.Second).Should(Equal(2))
				Expect(shown()).To(Equal("first"))

				press()
				Eventually(first, 2*time.Second).Should(Receive())
				Eventually(shown, time.Second).Should(Equal("second"))
				Consistently(second, 200*time.Millisecond).ShouldNot(Receive())

				press()
				Eventually(second, 2*time.Second).Should(Receive())
			})
		})

		Context("when the gesture has no binding", func() {
			It("should reply with an error naming the button and gesture", func() {
				reply := notify(c, "Hold me", 0)
				Eventually(shown, 2*time.Second).Should(Equal("Hold me"))

				pad().Edge(0, true)
				time.Sleep(700 * time.Millisecond)
				pad().Edge(0, false)

				var r result
				Eventually(reply, 2*time.Second).Should(Receive(&r))
				Expect(replyMessage(r.err)).To(Equal("no action mapped for key0 longPress"))
			})
		})

		Context("when nobody answers in time", func() {
			It("should reply with a timeout error", func() {
				reply := notify(c, "Anyone?", 150*time.Millisecond)

				var r result
				Eventually(reply, 2*time.Second).Should(Receive(&r))
				Expect(replyMessage(r.err)).To(Equal("timeout"))
				Expect(pending()).To(Equal(0))
			})
		})
	})

	Describe("device faults", func() {
		It("should keep prompts across a reconnect and show them again", func() {
			reply := notify(c, "Still there?", 0)
			Eventually(shown, 2*time.Second).Should(Equal("Still there?"))
			before := hid.Opens()

			hid.SetDevices()
			pad().FailRead(errors.New("device unplugged"))
			Eventually(func() bool { return d.Bridge().Status().Connected }, 2*time.Second).Should(BeFalse())
			Expect(pending()).To(Equal(1))

			hid.SetDevices(fixtures.PadInfo())
			Eventually(hid.Opens, 6*time.Second).Should(BeNumerically(">", before))
			Eventually(shown, 2*time.Second).Should(Equal("Still there?"))

			press()
			var r result
			Eventually(reply, 2*time.Second).Should(Receive(&r))
			Expect(r.err).NotTo(HaveOccurred())
			Expect(r.resp.Action).To(Equal("ack"))
		})
	})

	Describe("config hot reload", func() {
		It("should apply new bindings without a restart", func() {
			updated := `
device:
  vendorId: 0x1234
  productId: 0x5678
keys:
  key0:
    press: {action: approve, label: Yes}
`
			Expect(os.WriteFile(configPath, []byte(updated), 0o644)).To(Succeed())
			Eventually(func() string {
				return d.Bridge().Config().Keys["key0"]["press"].Action
			}, 3*time.Second).Should(Equal("approve"))

			reply := notify(c, "Ship it?", 0)
			Eventually(shown, 2*time.Second).Should(Equal("Ship it?"))
			press()

			var r result
			Eventually(reply, 2*time.Second).Should(Receive(&r))
			Expect(r.err).NotTo(HaveOccurred())
			Expect(r.resp.Action).To(Equal("approve"))
		})

		It("should keep the previous config when the new file is invalid", func() {
			Expect(os.WriteFile(configPath, []byte("gestures:\n  longPressMs: -5\n"), 0o644)).To(Succeed())

			Consistently(func() string {
				return d.Bridge().Config().Keys["key0"]["press"].Action
			}, 500*time.Millisecond).Should(Equal("ack"))
		})
	})

	Describe("shutdown", func() {
		It("should reject pending prompts before closing connections", func() {
			reply := notify(c, "Last one", 0)
			Eventually(pending, time.Second).Should(Equal(1))

			cancel()

			var r result
			Eventually(reply, 5*time.Second).Should(Receive(&r))
			Expect(replyMessage(r.err)).To(Equal("bridge shutting down"))
			Eventually(pad().IsClosed, time.Second).Should(BeTrue())
		})
	})
})
