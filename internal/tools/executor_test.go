package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorExecute(t *testing.T) {
	var gotArgs map[string]any
	tool := listProjectsTool()
	tool.Func = func(_ context.Context, args map[string]any) (any, error) {
		gotArgs = args
		return map[string]any{"results": []any{map[string]any{"id": float64(1), "name": "A"}}}, nil
	}
	src := NewStaticSource(tool)
	exec := NewExecutor(NewRegistry(src, WithLogger(quietLogger())), src, 0, quietLogger())

	result, err := exec.Execute(context.Background(), Invocation{Tool: "list_projects", Arguments: map[string]any{"search": "pay"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotArgs["search"] != "pay" {
		t.Errorf("arguments not forwarded: %v", gotArgs)
	}
	if _, ok := result.(map[string]any)["results"]; !ok {
		t.Errorf("unexpected result %v", result)
	}
}

func TestExecutorNilArgumentsBecomeEmptyObject(t *testing.T) {
	var gotArgs map[string]any
	tool := listProjectsTool()
	tool.Func = func(_ context.Context, args map[string]any) (any, error) {
		gotArgs = args
		return nil, nil
	}
	src := NewStaticSource(tool)
	exec := NewExecutor(NewRegistry(src), src, 0, quietLogger())

	if _, err := exec.Execute(context.Background(), Invocation{Tool: "list_projects"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotArgs == nil {
		t.Fatal("expected non-nil argument map")
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	src := NewStaticSource(listProjectsTool())
	exec := NewExecutor(NewRegistry(src), src, 0, quietLogger())

	_, err := exec.Execute(context.Background(), Invocation{Tool: "scan_repository"})
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownToolError, got %T %v", err, err)
	}
	if unknown.Name != "scan_repository" {
		t.Errorf("unexpected name %q", unknown.Name)
	}
}

func TestExecutorWrapsFailures(t *testing.T) {
	cause := errors.New("upstream returned 502")
	tool := listProjectsTool()
	tool.Func = func(context.Context, map[string]any) (any, error) { return nil, cause }
	src := NewStaticSource(tool)
	exec := NewExecutor(NewRegistry(src), src, 0, quietLogger())

	_, err := exec.Execute(context.Background(), Invocation{Tool: "list_projects"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.Tool != "list_projects" || !errors.Is(err, cause) {
		t.Errorf("unexpected error %+v", execErr)
	}
}

func TestExecutorTimeout(t *testing.T) {
	tool := listProjectsTool()
	tool.Func = func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	src := NewStaticSource(tool)
	exec := NewExecutor(NewRegistry(src), src, 20*time.Millisecond, quietLogger())

	_, err := exec.Execute(context.Background(), Invocation{Tool: "list_projects"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected timeout surfaced as *ExecutionError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}

func TestExecutorCatalogueUnavailable(t *testing.T) {
	src := NewStaticSource(listProjectsTool())
	src.FailListing(errors.New("connection refused"))
	exec := NewExecutor(NewRegistry(src, WithLogger(quietLogger())), src, 0, quietLogger())

	_, err := exec.Execute(context.Background(), Invocation{Tool: "list_projects"})
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError wrapper, got %T", err)
	}
}
