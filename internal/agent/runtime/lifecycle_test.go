package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/funai-studio/runtime-agent/internal/agent/registry"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
)

// fakeContainer is one container in fakeRuntime.
type fakeContainer struct {
	id      string
	name    string
	image   string
	labels  map[string]string
	running bool
	// startErr is what the engine recorded for a refused start.
	startErr string
}

// fakeRuntime is an in-memory engine enforcing unique names. It records the
// highest number of simultaneously running containers per app so tests can
// assert that replace never overlaps two instances.
type fakeRuntime struct {
	mu         sync.Mutex
	networks   map[string]bool
	containers map[string]*fakeContainer // by id
	nextID     int
	maxRunning map[string]int
	netCreates int

	failStartImage string
	startDelay     time.Duration
	// failRenameTo fails renames to the given name.
	failRenameTo map[string]error
	// onCreate runs after a container is created.
	onCreate func()
	// onRename runs before each rename.
	onRename func()
	// ctxAware makes mutating calls fail once their context is done, as
	// the Docker client does.
	ctxAware bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		networks:   make(map[string]bool),
		containers: make(map[string]*fakeContainer),
		maxRunning: make(map[string]int),
	}
}

func (f *fakeRuntime) find(nameOrID string) *fakeContainer {
	if c, ok := f.containers[nameOrID]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.name == nameOrID {
			return c
		}
	}
	return nil
}

func (f *fakeRuntime) NetworkExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[name], nil
}

func (f *fakeRuntime) CreateNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.networks[name] {
		return runtime.ErrAlreadyExists
	}
	f.networks[name] = true
	f.netCreates++
	return nil
}

func (f *fakeRuntime) Inspect(_ context.Context, nameOrID string) (runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(nameOrID)
	if c == nil {
		return runtime.ContainerInfo{}, runtime.ErrNotFound
	}
	return f.info(c), nil
}

func (f *fakeRuntime) info(c *fakeContainer) runtime.ContainerInfo {
	state := "exited"
	switch {
	case c.running:
		state = "running"
	case c.startErr != "":
		state = "created"
	}
	info := runtime.ContainerInfo{
		ID: c.id, Name: c.name, Image: c.image, Labels: c.labels,
		AppID: c.labels[runtime.LabelAppID], State: state, Error: c.startErr,
	}
	if c.startErr != "" {
		info.ExitCode = 128
	}
	return info
}

func (f *fakeRuntime) ctxErr(ctx context.Context) error {
	if f.ctxAware {
		return ctx.Err()
	}
	return nil
}

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if f.onCreate != nil {
		defer f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return "", err
	}
	if !f.networks[spec.Network] {
		return "", fmt.Errorf("network %s missing", spec.Network)
	}
	if f.find(spec.Name) != nil {
		return "", runtime.ErrAlreadyExists
	}
	f.nextID++
	id := fmt.Sprintf("c%03d", f.nextID)
	f.containers[id] = &fakeContainer{id: id, name: spec.Name, image: spec.Image, labels: spec.Labels}
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, nameOrID string) error {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c := f.find(nameOrID)
	if c == nil {
		return runtime.ErrNotFound
	}
	if f.failStartImage != "" && c.image == f.failStartImage {
		c.startErr = "exec format error"
		return errors.New("OCI runtime create failed: exec format error")
	}
	c.running = true
	c.startErr = ""
	app := c.labels[runtime.LabelAppID]
	n := 0
	for _, other := range f.containers {
		if other.running && other.labels[runtime.LabelAppID] == app {
			n++
		}
	}
	if n > f.maxRunning[app] {
		f.maxRunning[app] = n
	}
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c := f.find(nameOrID)
	if c == nil {
		return runtime.ErrNotFound
	}
	c.running = false
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c := f.find(nameOrID)
	if c == nil {
		return runtime.ErrNotFound
	}
	delete(f.containers, c.id)
	return nil
}

func (f *fakeRuntime) Rename(ctx context.Context, nameOrID, newName string) error {
	if f.onRename != nil {
		f.onRename()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c := f.find(nameOrID)
	if c == nil {
		return runtime.ErrNotFound
	}
	if err := f.failRenameTo[newName]; err != nil {
		return err
	}
	if other := f.find(newName); other != nil && other != c {
		return runtime.ErrAlreadyExists
	}
	c.name = newName
	return nil
}

func (f *fakeRuntime) List(_ context.Context) ([]runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.ContainerInfo
	for _, c := range f.containers {
		out = append(out, f.info(c))
	}
	return out, nil
}

func (f *fakeRuntime) countByPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.containers {
		if strings.HasPrefix(c.name, prefix) {
			n++
		}
	}
	return n
}

// fakeImages records login/pull calls.
type fakeImages struct {
	mu        sync.Mutex
	logins    int
	pulls     []string
	loginWarn string
	failPull  map[string]bool
}

func (f *fakeImages) EnsureLogin(_ context.Context, creds registry.Credentials) registry.LoginResult {
	if creds.Empty() {
		return registry.LoginResult{Skipped: true}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return registry.LoginResult{Warning: f.loginWarn}
}

func (f *fakeImages) Pull(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, image)
	if f.failPull[image] {
		return errors.New("manifest unknown")
	}
	return nil
}

func newController(rt *fakeRuntime, img *fakeImages, creds registry.Credentials) *runtime.Controller {
	return runtime.NewController(rt, img, runtime.ControllerConfig{
		Network:        "funai-test",
		RoutingEnabled: true,
		Credentials:    creds,
		OpTimeout:      5 * time.Second,
	})
}

func deploy(t *testing.T, c *runtime.Controller, appID, image string) (runtime.DeployResult, error) {
	t.Helper()
	return c.Deploy(context.Background(), runtime.DeployRequest{AppID: appID, UserID: "7", Image: image})
}

func TestDeploy_FreshApp(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	res, err := deploy(t, c, "42", "registry.local/u7/app:v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.ContainerName != "rt-app-42" || res.State != runtime.StateRunning || res.Replaced {
		t.Fatalf("unexpected result %+v", res)
	}
	info, err := rt.Inspect(context.Background(), "rt-app-42")
	if err != nil {
		t.Fatalf("container missing: %v", err)
	}
	if got := info.Labels["traefik.http.routers.rt-app-42.rule"]; got != "PathPrefix(`/apps/42`)" {
		t.Errorf("routing rule = %q", got)
	}
	if got := info.Labels["traefik.http.services.rt-svc-42.loadbalancer.server.port"]; got != "3000" {
		t.Errorf("default port label = %q", got)
	}
	if !rt.networks["funai-test"] {
		t.Error("shared network not created")
	}
}

func TestDeploy_NoCredentialsSkipsLoginButPulls(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	if _, err := deploy(t, c, "1", "nginx:1.27"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if img.logins != 0 {
		t.Errorf("expected no login, got %d", img.logins)
	}
	if len(img.pulls) != 1 || img.pulls[0] != "nginx:1.27" {
		t.Errorf("expected pull of nginx:1.27, got %v", img.pulls)
	}
}

func TestDeploy_LoginWarningDoesNotStopPull(t *testing.T) {
	rt := newFakeRuntime()
	img := &fakeImages{loginWarn: "registry login to reg failed: unauthorized"}
	c := newController(rt, img, registry.Credentials{URL: "reg", Username: "u", Secret: "bad-password"})

	res, err := deploy(t, c, "1", "reg/u/app:v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if img.logins != 1 {
		t.Errorf("expected one login attempt, got %d", img.logins)
	}
	if len(img.pulls) != 1 {
		t.Fatalf("pull must still run after login warning, got %v", img.pulls)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "unauthorized") {
		t.Errorf("expected login warning in result, got %v", res.Warnings)
	}
}

func TestDeploy_TwiceConvergesToOneContainer(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	if _, err := deploy(t, c, "9", "app:v1"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	res, err := deploy(t, c, "9", "app:v1")
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !res.Replaced {
		t.Error("second deploy should report a replacement")
	}
	if n := rt.countByPrefix("rt-app-9"); n != 1 {
		t.Fatalf("expected exactly one container for app 9, got %d", n)
	}
	st, err := c.Status(context.Background(), "9")
	if err != nil || st.State != runtime.StateRunning {
		t.Fatalf("expected running, got %+v (%v)", st, err)
	}
}

func TestDeploy_PullFailureLeavesExistingContainer(t *testing.T) {
	rt := newFakeRuntime()
	img := &fakeImages{failPull: map[string]bool{"app:v2": true}}
	c := newController(rt, img, registry.Credentials{})

	first, err := deploy(t, c, "5", "app:v1")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	_, err = deploy(t, c, "5", "app:v2")
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepPull {
		t.Fatalf("expected pull DeployError, got %v", err)
	}
	if derr.Code() != "pull-failed" {
		t.Errorf("code = %q", derr.Code())
	}

	st, err := c.Status(context.Background(), "5")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != runtime.StateRunning || st.ContainerID != first.ContainerID || st.Image != "app:v1" {
		t.Fatalf("existing container disturbed: %+v", st)
	}
}

func TestDeploy_PullFailureForNewAppLeavesNothing(t *testing.T) {
	rt := newFakeRuntime()
	img := &fakeImages{failPull: map[string]bool{"app:v1": true}}
	c := newController(rt, img, registry.Credentials{})

	if _, err := deploy(t, c, "6", "app:v1"); err == nil {
		t.Fatal("expected error")
	}
	if n := rt.countByPrefix("rt-app-6"); n != 0 {
		t.Fatalf("expected no containers, got %d", n)
	}
}

func TestDeploy_StartFailureRestoresPrevious(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	first, err := deploy(t, c, "3", "app:v1")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	rt.failStartImage = "app:broken"
	_, err = deploy(t, c, "3", "app:broken")
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepStart {
		t.Fatalf("expected start DeployError, got %v", err)
	}
	if !derr.RolledBack {
		t.Error("expected rollback to previous container")
	}

	st, _ := c.Status(context.Background(), "3")
	if st.State != runtime.StateRunning || st.ContainerID != first.ContainerID {
		t.Fatalf("previous container not restored: %+v", st)
	}
	if n := rt.countByPrefix("rt-app-3"); n != 1 {
		t.Fatalf("expected only the restored container, got %d", n)
	}
}

func TestDeploy_StartFailureForNewAppReportsFailed(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	rt.failStartImage = "app:broken"
	c := newController(rt, img, registry.Credentials{})

	_, err := deploy(t, c, "4", "app:broken")
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Code() != "start-failed" || derr.RolledBack {
		t.Fatalf("expected start-failed without rollback, got %v", err)
	}
	st, _ := c.Status(context.Background(), "4")
	if st.State != runtime.StateFailed || st.ContainerID == "" {
		t.Fatalf("expected the failed container to be reported, got %+v", st)
	}

	rt.failStartImage = ""
	res, err := deploy(t, c, "4", "app:v1")
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if res.Replaced {
		t.Error("a failed container is not a rollback target")
	}
	if n := rt.countByPrefix("rt-app-4"); n != 1 {
		t.Fatalf("expected the failed container to be cleaned up, got %d containers", n)
	}
	st, _ = c.Status(context.Background(), "4")
	if st.State != runtime.StateRunning {
		t.Fatalf("expected running, got %+v", st)
	}
}

func TestStop_RemovesFailedContainer(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	rt.failStartImage = "app:broken"
	c := newController(rt, img, registry.Credentials{})

	if _, err := deploy(t, c, "12", "app:broken"); err == nil {
		t.Fatal("expected start failure")
	}
	if _, err := c.Stop(context.Background(), "12"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := rt.countByPrefix("rt-app-12"); n != 0 {
		t.Fatalf("expected no containers after stop, got %d", n)
	}
}

// ── cancellation and failed compensation ──

func TestDeploy_CancelledRequestStillRestoresPrevious(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	first, err := deploy(t, c, "8", "app:v1")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	// The caller goes away right after the new container is created, so
	// its start fails on the cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.ctxAware = true
	rt.onCreate = cancel

	_, err = c.Deploy(ctx, runtime.DeployRequest{AppID: "8", UserID: "7", Image: "app:v2"})
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepStart {
		t.Fatalf("expected start DeployError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation as the cause, got %v", err)
	}
	if !derr.RolledBack {
		t.Error("expected rollback despite the cancelled request")
	}

	st, _ := c.Status(context.Background(), "8")
	if st.State != runtime.StateRunning || st.ContainerID != first.ContainerID {
		t.Fatalf("previous container not restored: %+v", st)
	}
	if n := rt.countByPrefix("rt-app-8"); n != 1 {
		t.Fatalf("expected only the restored container, got %d", n)
	}
}

func TestDeploy_CancelledDuringParkRestartsExisting(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	first, err := deploy(t, c, "9", "app:v1")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.ctxAware = true
	rt.onRename = cancel

	_, err = c.Deploy(ctx, runtime.DeployRequest{AppID: "9", UserID: "7", Image: "app:v2"})
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepReplace {
		t.Fatalf("expected replace DeployError, got %v", err)
	}

	st, _ := c.Status(context.Background(), "9")
	if st.State != runtime.StateRunning || st.ContainerID != first.ContainerID {
		t.Fatalf("existing container not restarted: %+v", st)
	}
}

func TestDeploy_ParkRenameFailureKeepsExisting(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	first, err := deploy(t, c, "5", "app:v1")
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	rt.failRenameTo = map[string]error{"rt-app-5-previous": errors.New("device or resource busy")}
	_, err = deploy(t, c, "5", "app:v2")
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepReplace {
		t.Fatalf("expected replace DeployError, got %v", err)
	}

	st, _ := c.Status(context.Background(), "5")
	if st.State != runtime.StateRunning || st.ContainerID != first.ContainerID {
		t.Fatalf("existing container not back in service: %+v", st)
	}
	if n := rt.countByPrefix("rt-app-5"); n != 1 {
		t.Fatalf("expected only the existing container, got %d", n)
	}
}

func TestDeploy_RollbackFailureRecoversOnNextDeploy(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	if _, err := deploy(t, c, "6", "app:v1"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}

	rt.failStartImage = "app:broken"
	rt.failRenameTo = map[string]error{"rt-app-6": errors.New("device or resource busy")}
	_, err := deploy(t, c, "6", "app:broken")
	var derr *runtime.DeployError
	if !errors.As(err, &derr) || derr.Step != runtime.StepStart {
		t.Fatalf("expected start DeployError, got %v", err)
	}
	if derr.RolledBack {
		t.Error("rollback cannot have succeeded")
	}
	if n := rt.countByPrefix("rt-app-6-previous"); n != 1 {
		t.Fatalf("expected the parked container to be kept, got %d", n)
	}
	st, _ := c.Status(context.Background(), "6")
	if st.State != runtime.StateAbsent {
		t.Fatalf("expected no container under the app name, got %+v", st)
	}

	rt.failStartImage = ""
	rt.failRenameTo = nil
	if _, err := deploy(t, c, "6", "app:v3"); err != nil {
		t.Fatalf("recovery deploy: %v", err)
	}
	if n := rt.countByPrefix("rt-app-6"); n != 1 {
		t.Fatalf("expected a single container after recovery, got %d", n)
	}
	st, _ = c.Status(context.Background(), "6")
	if st.State != runtime.StateRunning || st.Image != "app:v3" {
		t.Fatalf("expected app:v3 running, got %+v", st)
	}
}

func TestDeploy_Validation(t *testing.T) {
	c := newController(newFakeRuntime(), &fakeImages{}, registry.Credentials{})
	cases := []runtime.DeployRequest{
		{AppID: "", UserID: "1", Image: "x"},
		{AppID: "../etc", UserID: "1", Image: "x"},
		{AppID: "1", UserID: "", Image: "x"},
		{AppID: "1", UserID: "1", Image: ""},
		{AppID: "1", UserID: "1", Image: "x", Port: 70000},
	}
	for _, req := range cases {
		_, err := c.Deploy(context.Background(), req)
		var derr *runtime.DeployError
		if !errors.As(err, &derr) || derr.Step != runtime.StepValidate {
			t.Errorf("Deploy(%+v): expected validate error, got %v", req, err)
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	res, err := c.Stop(context.Background(), "77")
	if err != nil {
		t.Fatalf("Stop on absent app: %v", err)
	}
	if !res.AlreadyStopped {
		t.Error("expected AlreadyStopped")
	}

	if _, err := deploy(t, c, "77", "app:v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	res, err = c.Stop(context.Background(), "77")
	if err != nil || res.AlreadyStopped {
		t.Fatalf("expected real stop, got %+v (%v)", res, err)
	}
	st, _ := c.Status(context.Background(), "77")
	if st.State != runtime.StateAbsent {
		t.Fatalf("expected absent after stop, got %s", st.State)
	}
	if !rt.networks["funai-test"] {
		t.Fatal("stop must not remove the shared network")
	}
}

func TestStatus_Absent(t *testing.T) {
	c := newController(newFakeRuntime(), &fakeImages{}, registry.Credentials{})
	st, err := c.Status(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != runtime.StateAbsent || st.Exists() {
		t.Fatalf("expected absent, got %+v", st)
	}
}

func TestDeploy_ConcurrentSameAppNeverOverlaps(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	rt.startDelay = 5 * time.Millisecond
	c := newController(rt, img, registry.Credentials{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Deploy(context.Background(), runtime.DeployRequest{
				AppID: "race", UserID: "1", Image: fmt.Sprintf("app:v%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent deploy: %v", err)
		}
	}

	if got := rt.maxRunning["race"]; got != 1 {
		t.Fatalf("expected at most one running container at any time, saw %d", got)
	}
	if n := rt.countByPrefix("rt-app-race"); n != 1 {
		t.Fatalf("expected one container at the end, got %d", n)
	}
	st, _ := c.Status(context.Background(), "race")
	if st.State != runtime.StateRunning {
		t.Fatalf("expected running, got %s", st.State)
	}
}

func TestDeploy_ConcurrentAppsShareNetworkCreation(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Deploy(context.Background(), runtime.DeployRequest{
				AppID: fmt.Sprintf("app%d", i), UserID: "1", Image: "app:v1",
			}); err != nil {
				t.Errorf("deploy app%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if rt.netCreates != 1 {
		t.Fatalf("expected one network creation, got %d", rt.netCreates)
	}
}

func TestRunningCount(t *testing.T) {
	rt, img := newFakeRuntime(), &fakeImages{}
	c := newController(rt, img, registry.Credentials{})
	for _, id := range []string{"a", "b"} {
		if _, err := deploy(t, c, id, "app:v1"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.RunningCount(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("RunningCount = %d, %v", n, err)
	}
}
