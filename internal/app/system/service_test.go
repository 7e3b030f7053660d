package system

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recorder struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) Start(context.Context) error {
	*r.log = append(*r.log, "start "+r.name)
	return r.startErr
}

func (r recorder) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return r.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recorder{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewManager()
	_ = m.Register(recorder{name: "a", log: &log})
	_ = m.Register(recorder{name: "b", log: &log, startErr: boom})
	_ = m.Register(recorder{name: "c", log: &log})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("start error = %v, want boom", err)
	}
	want := []string{"start a", "start b", "stop a"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestManager_Register(t *testing.T) {
	var log []string
	m := NewManager()
	if err := m.Register(recorder{name: "a", log: &log}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recorder{name: "a", log: &log}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil service error")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(recorder{name: "late", log: &log}); err == nil {
		t.Fatal("expected error registering after start")
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestManager_StopCollectsErrors(t *testing.T) {
	var log []string
	e1, e2 := errors.New("one"), errors.New("two")
	m := NewManager()
	_ = m.Register(recorder{name: "a", log: &log, stopErr: e1})
	_ = m.Register(recorder{name: "b", log: &log, stopErr: e2})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := m.Stop(context.Background())
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("stop error = %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
