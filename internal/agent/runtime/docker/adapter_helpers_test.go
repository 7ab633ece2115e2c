package docker

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
)

// --- classify --------------------------------------------------------------

func TestClassify(t *testing.T) {
	notFound := fmt.Errorf("No such container: rt-app-1: %w", errdefs.ErrNotFound)
	got := classify(errors.New("inspect container rt-app-1: boom"), notFound)
	if !errors.Is(got, runtime.ErrNotFound) {
		t.Errorf("not-found cause: got %v", got)
	}

	conflict := fmt.Errorf("name already in use: %w", errdefs.ErrConflict)
	got = classify(errors.New("create container rt-app-1: boom"), conflict)
	if !errors.Is(got, runtime.ErrAlreadyExists) {
		t.Errorf("conflict cause: got %v", got)
	}

	plain := errors.New("daemon unreachable")
	got = classify(plain, plain)
	if errors.Is(got, runtime.ErrNotFound) || errors.Is(got, runtime.ErrAlreadyExists) {
		t.Errorf("plain error misclassified: %v", got)
	}
}

// --- infoFromInspect -------------------------------------------------------

func TestInfoFromInspect(t *testing.T) {
	inspect := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:   "abc123",
			Name: "/rt-app-7",
			State: &container.State{
				Status:    "exited",
				ExitCode:  2,
				StartedAt: "2024-05-01T10:00:00.5Z",
			},
		},
		Config: &container.Config{
			Image:  "reg/app:v1",
			Labels: map[string]string{runtime.LabelAppID: "7"},
		},
	}
	info := infoFromInspect(inspect)
	if info.Name != "rt-app-7" || info.ID != "abc123" || info.AppID != "7" || info.Image != "reg/app:v1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.AppState() != runtime.StateFailed {
		t.Errorf("state = %s, want failed", info.AppState())
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt not parsed")
	}
}

func TestInfoFromInspect_NilSections(t *testing.T) {
	info := infoFromInspect(container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{ID: "x", Name: "/y"},
	})
	if info.ID != "x" || info.Name != "y" || info.Image != "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

// --- envList ---------------------------------------------------------------

func TestEnvList_Sorted(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if envList(nil) != nil {
		t.Error("nil env should produce nil slice")
	}
}
