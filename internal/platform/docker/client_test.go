package docker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/texcompile/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testImage = "tex:test"

var apiVersion = regexp.MustCompile(`^/v[0-9.]+`)

// fakeDaemon serves the subset of the Engine API the runner uses.
type fakeDaemon struct {
	mu sync.Mutex

	imagePresent bool
	// waitBody is returned by /wait; nil blocks until the client goes away.
	waitBody *container.WaitResponse
	stdout   string
	stderr   string

	inspects int
	pulls    int
	created  []container.Config
	removed  []string
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := apiVersion.ReplaceAllString(r.URL.Path, "")

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case path == "/_ping":
		w.Header().Set("API-Version", "1.47")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case r.Method == http.MethodGet && path == "/images/"+testImage+"/json":
		d.inspects++
		if !d.imagePresent {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such image: " + testImage})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"Id": "sha256:abc"})
	case r.Method == http.MethodPost && path == "/images/create":
		d.pulls++
		d.imagePresent = true
		writeJSON(w, http.StatusOK, map[string]string{"status": "Downloaded newer image for " + testImage})
	case r.Method == http.MethodPost && path == "/containers/create":
		var cfg container.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		d.created = append(d.created, cfg)
		writeJSON(w, http.StatusCreated, map[string]any{"Id": "c1", "Warnings": []string{}})
	case r.Method == http.MethodPost && path == "/containers/c1/start":
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && path == "/containers/c1/wait":
		if d.waitBody == nil {
			d.mu.Unlock()
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Second):
			}
			d.mu.Lock()
			return
		}
		writeJSON(w, http.StatusOK, d.waitBody)
	case r.Method == http.MethodGet && path == "/containers/c1/logs":
		w.WriteHeader(http.StatusOK)
		if d.stdout != "" {
			_, _ = stdcopy.NewStdWriter(w, stdcopy.Stdout).Write([]byte(d.stdout))
		}
		if d.stderr != "" {
			_, _ = stdcopy.NewStdWriter(w, stdcopy.Stderr).Write([]byte(d.stderr))
		}
	case r.Method == http.MethodDelete && path == "/containers/c1":
		d.removed = append(d.removed, "c1")
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unexpected " + r.Method + " " + path})
	}
}

func (d *fakeDaemon) counts() (inspects, pulls int, removed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inspects, d.pulls, append([]string(nil), d.removed...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestRunner(t *testing.T, d *fakeDaemon, pull string) (*Runner, error) {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+srv.Listener.Addr().String()),
		client.WithVersion("1.47"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })

	return newRunner(context.Background(), cli, Options{Image: testImage, Pull: pull, WorkDir: "/data"})
}

var invocation = domain.Invocation{
	Args: []string{"xelatex", "-interaction=nonstopmode", "-output-directory=/data", "/data/report.tex"},
	Dir:  "/data",
}

func TestContainerConfig_MountsWorkDirAtSamePath(t *testing.T) {
	r := &Runner{opts: Options{Image: "texlive/texlive:latest", WorkDir: "/data", MemoryBytes: defaultMemory}}

	cfg, hostCfg := r.containerConfig(invocation)

	assert.Equal(t, "texlive/texlive:latest", cfg.Image)
	assert.Equal(t, invocation.Args, []string(cfg.Cmd))
	assert.Equal(t, "/data", cfg.WorkingDir)
	assert.True(t, cfg.NetworkDisabled)
	assert.Equal(t, []string{"/data:/data"}, hostCfg.Binds)
	assert.Equal(t, int64(defaultMemory), hostCfg.Resources.Memory)
}

func TestNewRunner_PullPolicies(t *testing.T) {
	tests := []struct {
		name         string
		pull         string
		imagePresent bool
		wantInspects int
		wantPulls    int
	}{
		{name: "never", pull: PullNever, wantInspects: 0, wantPulls: 0},
		{name: "missing and present", pull: PullMissing, imagePresent: true, wantInspects: 1, wantPulls: 0},
		{name: "missing and absent", pull: PullMissing, wantInspects: 1, wantPulls: 1},
		{name: "default is missing", pull: "", wantInspects: 1, wantPulls: 1},
		{name: "always", pull: PullAlways, imagePresent: true, wantInspects: 0, wantPulls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDaemon{imagePresent: tt.imagePresent}

			_, err := newTestRunner(t, d, tt.pull)
			require.NoError(t, err)

			inspects, pulls, _ := d.counts()
			assert.Equal(t, tt.wantInspects, inspects)
			assert.Equal(t, tt.wantPulls, pulls)
		})
	}
}

func TestNewRunner_RejectsUnknownPullPolicy(t *testing.T) {
	_, err := newTestRunner(t, &fakeDaemon{}, "sometimes")
	require.Error(t, err)
}

func TestRun_DoesNotPull(t *testing.T) {
	d := &fakeDaemon{waitBody: &container.WaitResponse{StatusCode: 0}}
	r, err := newTestRunner(t, d, PullAlways)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), invocation)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), invocation)
	require.NoError(t, err)

	_, pulls, _ := d.counts()
	assert.Equal(t, 1, pulls)
}

func TestRun_DemuxesOutputAndRemovesContainer(t *testing.T) {
	d := &fakeDaemon{
		imagePresent: true,
		waitBody:     &container.WaitResponse{StatusCode: 1},
		stdout:       "Output written on report.pdf\n",
		stderr:       "warning\n",
	}
	r, err := newTestRunner(t, d, PullMissing)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), invocation)

	require.NoError(t, err)
	assert.Equal(t, "Output written on report.pdf\n", res.Stdout)
	assert.Equal(t, "warning\n", res.Stderr)
	assert.Equal(t, 1, res.ExitCode)

	d.mu.Lock()
	created := append([]container.Config(nil), d.created...)
	d.mu.Unlock()
	require.Len(t, created, 1)
	assert.Equal(t, invocation.Args, []string(created[0].Cmd))
	assert.Equal(t, testImage, created[0].Image)

	_, _, removed := d.counts()
	assert.Equal(t, []string{"c1"}, removed)
}

func TestRun_WaitErrorIsLaunchError(t *testing.T) {
	d := &fakeDaemon{
		imagePresent: true,
		waitBody:     &container.WaitResponse{Error: &container.WaitExitError{Message: "oci runtime failed"}},
	}
	r, err := newTestRunner(t, d, PullMissing)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), invocation)

	require.ErrorIs(t, err, domain.ErrLaunch)
	assert.Contains(t, err.Error(), "oci runtime failed")
	_, _, removed := d.counts()
	assert.Equal(t, []string{"c1"}, removed)
}

func TestRun_DeadlineIsTimeout(t *testing.T) {
	d := &fakeDaemon{imagePresent: true}
	r, err := newTestRunner(t, d, PullMissing)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = r.Run(ctx, invocation)

	require.ErrorIs(t, err, domain.ErrTimeout)
	_, _, removed := d.counts()
	assert.Equal(t, []string{"c1"}, removed)
}

func TestRun_CancelIsCanceledError(t *testing.T) {
	d := &fakeDaemon{imagePresent: true}
	r, err := newTestRunner(t, d, PullMissing)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err = r.Run(ctx, invocation)

	require.ErrorIs(t, err, domain.ErrCanceled)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}
