package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nsauth/datasrc/internal/builder"
	"github.com/nsauth/datasrc/internal/datasrc"
)

func newTestBuilder(t *testing.T) (*builder.Builder, *datasrc.Publisher) {
	t.Helper()
	pub := datasrc.NewPublisher()
	bld, err := builder.New(pub, nil)
	if err != nil {
		t.Fatalf("builder.New: %v", err)
	}
	go bld.Run()
	go bld.RunWakeLoop()
	t.Cleanup(func() {
		bld.Submit(builder.Command{ID: builder.Shutdown})
	})
	return bld, pub
}

// waitFor polls cond until it returns true or the timeout elapses,
// returning whether it ever became true.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestConfigWatcherSubmitsReconfigureOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datasources.yaml")
	if err := os.WriteFile(path, []byte("classes:\n  IN: []\n_generation_id: 0\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	bld, pub := newTestBuilder(t)
	cw, err := NewConfigWatcher(path, bld, nil)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer cw.Close()
	go cw.Run()

	if err := os.WriteFile(path, []byte("classes:\n  IN: []\n  CH: []\n_generation_id: 1\n"), 0o644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	ok := waitFor(2*time.Second, func() bool {
		snap := pub.Snapshot()
		_, hasCH := snap[datasrc.RRClass(3)] // CH
		return hasCH
	})
	if !ok {
		t.Error("CH class never appeared in the published map after the watched file changed")
	}
}

func TestOriginFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/zones/example.com.zone", "example.com."},
		{"/zones/example.org.db", "example.org."},
		{"noext", "noext."},
	}
	for _, tt := range tests {
		if got := originFromPath(tt.path); got != tt.want {
			t.Errorf("originFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestZoneDirWatcherSubmitsLoadZone(t *testing.T) {
	dir := t.TempDir()
	zoneFile := filepath.Join(dir, "example.com.zone")
	if err := os.WriteFile(zoneFile, []byte("$ORIGIN example.com.\n"), 0o644); err != nil {
		t.Fatalf("write zone file: %v", err)
	}

	bld, _ := newTestBuilder(t)
	zw, err := NewZoneDirWatcher(dir, "IN", bld, nil)
	if err != nil {
		t.Fatalf("NewZoneDirWatcher: %v", err)
	}
	defer zw.Close()
	go zw.Run()

	// The target class is unconfigured, so the resulting LOADZONE will
	// fail and only be visible via the watcher's log line; this test
	// exercises that the watcher's event loop and the builder interact
	// without deadlocking when a file inside the watched directory
	// changes.
	if err := os.WriteFile(zoneFile, []byte("$ORIGIN example.com.\nwww IN A 192.0.2.1\n"), 0o644); err != nil {
		t.Fatalf("rewrite zone file: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
}
