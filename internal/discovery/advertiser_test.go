package discovery

import (
	"errors"
	"net"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

type fakeResponder struct {
	mu       sync.Mutex
	txt      []string
	shutdown bool
}

func (r *fakeResponder) SetText(txt []string) {
	r.mu.Lock()
	r.txt = txt
	r.mu.Unlock()
}

func (r *fakeResponder) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

type registration struct {
	instance, service, domain string
	port                      int
	txt                       []string
	ifaces                    []net.Interface
	responder                 *fakeResponder
}

// recordingRegister captures every registration instead of opening sockets.
type recordingRegister struct {
	err   error
	calls []*registration
}

func (r *recordingRegister) register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (responder, error) {
	if r.err != nil {
		return nil, r.err
	}
	reg := &registration{
		instance: instance, service: service, domain: domain,
		port: port, txt: txt, ifaces: ifaces,
		responder: &fakeResponder{txt: txt},
	}
	r.calls = append(r.calls, reg)
	return reg.responder, nil
}

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		Enabled: true,
		Service: "_sensorgw._tcp",
		Domain:  "local.",
		Port:    1883,
	}
}

func newTestAdvertiser(name string, cfg config.DiscoveryConfig) (*Advertiser, *recordingRegister) {
	rec := &recordingRegister{}
	a := NewAdvertiser(name, cfg, nil)
	a.register = rec.register
	return a, rec
}

func TestAdvertiser_StartStop(t *testing.T) {
	a, rec := newTestAdvertiser("lab-gateway", testDiscoveryConfig())

	err := a.Start(map[string]string{"version": "1.0.0", "client_id": "AA-BB-CC-DD-EE-FF"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !a.Running() {
		t.Error("Running() = false after Start()")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("registrations = %d, want 1", len(rec.calls))
	}

	reg := rec.calls[0]
	if reg.instance != "lab-gateway" || reg.service != "_sensorgw._tcp" || reg.domain != "local." || reg.port != 1883 {
		t.Errorf("registration = %+v", reg)
	}
	wantTXT := []string{"client_id=AA-BB-CC-DD-EE-FF", "version=1.0.0"}
	if !slices.Equal(reg.txt, wantTXT) {
		t.Errorf("txt = %v, want %v", reg.txt, wantTXT)
	}
	if reg.ifaces != nil {
		t.Errorf("ifaces = %v, want nil (all interfaces)", reg.ifaces)
	}

	a.Update(map[string]string{"version": "1.0.1"})
	if got := reg.responder.txt; !slices.Equal(got, []string{"version=1.0.1"}) {
		t.Errorf("txt after Update() = %v", got)
	}

	a.Stop()
	if !reg.responder.shutdown {
		t.Error("Stop() did not shut down the responder")
	}
	if a.Running() {
		t.Error("Running() = true after Stop()")
	}

	// Stopping again is a no-op.
	a.Stop()
	a.Update(map[string]string{"version": "2"})
}

func TestAdvertiser_RestartReplacesRegistration(t *testing.T) {
	a, rec := newTestAdvertiser("lab-gateway", testDiscoveryConfig())

	if err := a.Start(nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Start(nil); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("registrations = %d, want 2", len(rec.calls))
	}
	if !rec.calls[0].responder.shutdown {
		t.Error("first registration still running after restart")
	}
	if rec.calls[1].responder.shutdown {
		t.Error("second registration shut down")
	}
}

func TestAdvertiser_Errors(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		a, _ := newTestAdvertiser("", testDiscoveryConfig())
		if err := a.Start(nil); !errors.Is(err, ErrNoName) {
			t.Errorf("Start() error = %v, want ErrNoName", err)
		}
	})

	t.Run("register failure", func(t *testing.T) {
		a, rec := newTestAdvertiser("lab-gateway", testDiscoveryConfig())
		rec.err = errors.New("bind: address in use")

		if err := a.Start(nil); err == nil {
			t.Error("Start() error = nil, want registration failure")
		}
		if a.Running() {
			t.Error("Running() = true after failed Start()")
		}
	})

	t.Run("unknown interfaces", func(t *testing.T) {
		cfg := testDiscoveryConfig()
		cfg.Interfaces = []string{"sensorgw-missing0"}
		a, rec := newTestAdvertiser("lab-gateway", cfg)

		if err := a.Start(nil); err == nil {
			t.Error("Start() error = nil, want interface error")
		}
		if len(rec.calls) != 0 {
			t.Errorf("registrations = %d, want 0", len(rec.calls))
		}
	})
}

func TestNewAdvertiser_TruncatesLongName(t *testing.T) {
	long := string(make([]byte, 100))
	a := NewAdvertiser(long, testDiscoveryConfig(), nil)
	if len(a.Name()) != maxInstanceNameLen {
		t.Errorf("len(Name()) = %d, want %d", len(a.Name()), maxInstanceNameLen)
	}
}
