package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/sonichess/internal/app"
	"github.com/MrWong99/sonichess/internal/config"
	"github.com/MrWong99/sonichess/internal/feed"
	"github.com/MrWong99/sonichess/internal/observe"
	"github.com/MrWong99/sonichess/internal/output"
	"github.com/MrWong99/sonichess/internal/sonify"
)

// testConfig returns a config with the headless backend, an ephemeral port
// and the feed enabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Audio.BlockSize = 256
	cfg.Feed.Enabled = true
	return cfg
}

// testRegistry registers both sonifiers and a fast null backend.
func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSonifier(sonify.BoardName, func(m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error) {
		return sonify.NewBoard(m, p, opts...)
	})
	reg.RegisterSonifier(sonify.MelodyName, func(m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error) {
		return sonify.NewMelody(m, p, opts...)
	})
	reg.RegisterBackend(output.NullName, func(src output.Source, f output.Format) (output.Backend, error) {
		return output.NewNull(src, f, output.WithInterval(time.Millisecond))
	})
	return reg
}

// startApp runs a in the background and returns a stop function that
// cancels Run and checks its result.
func startApp(t *testing.T, a *app.App) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	var once bool
	return func() {
		t.Helper()
		if once {
			return
		}
		once = true
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() returned unexpected error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("Run() did not return within 10s after context cancellation")
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNew_UnknownComponents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"sonifier", func(c *config.Config) { c.Sonifier.Name = "harp" }},
		{"backend", func(c *config.Config) { c.Audio.Backend = "portaudio" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := app.New(context.Background(), cfg, testRegistry())
			if !errors.Is(err, config.ErrNotRegistered) {
				t.Fatalf("New() error = %v, want ErrNotRegistered", err)
			}
		})
	}
}

func TestApp_ShutdownWithoutRun(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testRegistry())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	addr := a.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}

	// The listener was released.
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
}

func TestApp_RunServesHealthAndFeed(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testRegistry())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := startApp(t, a)
	defer stop()

	base := "http://" + a.Addr().String()
	if code, _ := get(t, base+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", code)
	}
	eventually(t, "readiness", func() bool {
		code, _ := get(t, base+"/readyz")
		return code == http.StatusOK
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+a.Addr().String()+config.DefaultFeedPath, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := `{"kind":"move","piece":{"color":"white","type":"knight"},"from":"g1","to":"f3","check":true}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack feed.Ack
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Status != observe.StatusAccepted {
		t.Fatalf("ack = %+v, want accepted", ack)
	}

	// The move note plus two alarm notes reach the audio side and fire.
	eventually(t, "triggers to fire", func() bool {
		return a.Processor().Stats().TriggersFired >= 3
	})

	conn.Close(websocket.StatusNormalClosure, "")
	stop()
	if a.Processor().Prepared() {
		t.Error("processor still prepared after Run returned")
	}
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	old := testConfig()
	a, err := app.New(context.Background(), old, testRegistry(), app.WithLevelVar(&level))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	next := testConfig()
	gain := 0.1
	next.Audio.MasterGain = &gain
	next.Server.LogLevel = config.LogDebug
	next.Sonifier.Name = sonify.BoardName
	next.Server.ListenAddr = "127.0.0.1:1"
	a.Reload(old, next)

	if g := a.Processor().Gain(); g != float32(0.1) {
		t.Errorf("gain = %v, want 0.1", g)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if name := a.Sonifier().Name(); name != sonify.BoardName {
		t.Errorf("sonifier = %q, want %q", name, sonify.BoardName)
	}
	cur := a.Config()
	if cur.Audio.Gain() != 0.1 || cur.Sonifier.Name != sonify.BoardName {
		t.Errorf("Config() does not carry the reloaded fields: %+v", cur)
	}
	if cur.Server.ListenAddr != old.Server.ListenAddr {
		t.Errorf("Config() listen_addr = %q, want running %q", cur.Server.ListenAddr, old.Server.ListenAddr)
	}

	// A sonifier that cannot be built leaves the current one in place.
	broken := testConfig()
	broken.Audio.MasterGain = &gain
	broken.Server.LogLevel = config.LogDebug
	broken.Sonifier.Name = "harp"
	a.Reload(a.Config(), broken)
	if name := a.Sonifier().Name(); name != sonify.BoardName {
		t.Errorf("sonifier after failed reload = %q, want %q", name, sonify.BoardName)
	}
	if name := a.Config().Sonifier.Name; name != sonify.BoardName {
		t.Errorf("Config() sonifier after failed reload = %q, want %q", name, sonify.BoardName)
	}
}

func TestApp_ConfigFileHotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sonichess.yaml")
	write := func(gain float64) {
		t.Helper()
		doc := fmt.Sprintf("server:\n  listen_addr: \"127.0.0.1:0\"\naudio:\n  master_gain: %v\n", gain)
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(0.5)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	a, err := app.New(context.Background(), cfg, testRegistry(),
		app.WithConfigFile(path, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := startApp(t, a)
	defer stop()

	// Let the watcher take its first look before the edit lands.
	time.Sleep(100 * time.Millisecond)
	write(0.125)
	eventually(t, "gain reload", func() bool {
		return a.Processor().Gain() == float32(0.125)
	})
}

// TestApp_MetricsEndpoint installs global telemetry providers, so it does
// not run in parallel.
func TestApp_MetricsEndpoint(t *testing.T) {
	provider, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider() error: %v", err)
	}

	a, err := app.New(context.Background(), testConfig(), testRegistry(), app.WithProvider(provider))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := startApp(t, a)
	defer stop()

	base := "http://" + a.Addr().String()
	eventually(t, "frames rendered", func() bool {
		return a.Processor().Stats().Frames > 0
	})
	code, body := get(t, base+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics status = %d", code)
	}
	for _, want := range []string{"sonichess_mixer_frames", "sonichess_mixer_gain"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

// deadDevice is a backend whose device is gone.
type deadDevice struct{}

func (deadDevice) Name() string              { return "portaudio" }
func (deadDevice) Running() bool             { return false }
func (deadDevice) Run(context.Context) error { return errors.New("no default output device") }

func TestApp_FallbackBackend(t *testing.T) {
	t.Parallel()

	reg := testRegistry()
	reg.RegisterBackend("portaudio", func(output.Source, output.Format) (output.Backend, error) {
		return deadDevice{}, nil
	})
	cfg := testConfig()
	cfg.Audio.Backend = "portaudio"
	cfg.Audio.FallbackBackend = output.NullName

	a, err := app.New(context.Background(), cfg, reg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := startApp(t, a)
	defer stop()

	eventually(t, "fallback to render", func() bool {
		return a.Processor().Stats().Frames > 0
	})
	eventually(t, "readiness on fallback", func() bool {
		code, _ := get(t, "http://"+a.Addr().String()+"/readyz")
		return code == http.StatusOK
	})
}
