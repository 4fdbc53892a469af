package recording

import (
	"context"
	"errors"
	"testing"
)

func newTestManager(opts ...ManagerOption) (*Manager, *fakeConnector) {
	connector := &fakeConnector{closeOnFinalize: true}
	opts = append([]ManagerOption{WithManagerMetrics(testMetrics())}, opts...)
	return NewManager(connector, testConfig(), opts...), connector
}

func TestManager_CreateStopSave(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	hub := &fakeHub{}
	m, connector := newTestManager(WithStore(store), WithManagerPublisher(pub), WithBroadcaster(hub))
	ctx := context.Background()

	s, err := m.Create(ctx, Params{CaseID: "case-7", ClinicID: "clinic-1"}, newFakeDevice())
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("expected a recording id")
	}

	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("expected to find the session, got %v, %v", got, err)
	}

	if _, err := m.Save(ctx, s.ID()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle while streaming, got %v", err)
	}
	if err := m.Delete(s.ID()); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle deleting a live recording, got %v", err)
	}

	connector.session().transcript("Bella ate a sock.", true)

	res, err := m.Stop(ctx, s.ID())
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if res.Transcript != "Bella ate a sock." {
		t.Errorf("unexpected transcript %q", res.Transcript)
	}

	rec, err := m.Save(ctx, s.ID())
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if rec.ID != 1 || rec.CaseID != "case-7" || rec.Content != "Bella ate a sock." || !rec.Complete {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(store.records) != 1 {
		t.Errorf("expected 1 stored record, got %d", len(store.records))
	}
	if len(pub.saved) != 1 || pub.saved[0].TranscriptID != 1 {
		t.Errorf("expected saved event for transcript 1, got %+v", pub.saved)
	}
	if len(pub.finals) != 1 {
		t.Errorf("expected the session to publish through the manager publisher, got %d finals", len(pub.finals))
	}
	if hub.broadcasts(s.ID()) == 0 {
		t.Error("expected updates broadcast to watchers")
	}

	if err := m.Delete(s.ID()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound, got %v", err)
	}
}

func TestManager_SaveFailedRecording(t *testing.T) {
	store := &fakeStore{}
	m, connector := newTestManager(WithStore(store))
	ctx := context.Background()

	device := newFakeDevice()
	s, err := m.Create(ctx, Params{CaseID: "case-1"}, device)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	connector.session().transcript("Max is limping", true)
	device.Emit(deviceError(errMicBusy))
	waitDone(t, s)

	rec, err := m.Save(ctx, s.ID())
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if rec.Complete {
		t.Error("expected incomplete record")
	}
	if rec.Content != "Max is limping" || rec.Error == "" {
		t.Errorf("expected partial transcript with error, got %+v", rec)
	}
}

func TestManager_SaveStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	m, _ := newTestManager(WithStore(store))
	ctx := context.Background()

	s, err := m.Create(ctx, Params{CaseID: "case-1"}, newFakeDevice())
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if _, err := m.Save(ctx, s.ID()); err == nil {
		t.Error("expected store error")
	}
}

func TestManager_CreateFailureNotKept(t *testing.T) {
	m, _ := newTestManager()
	device := newFakeDevice()
	device.setOpenErr(errMicBusy)

	_, err := m.Create(context.Background(), Params{CaseID: "case-1"}, device)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if got := len(m.List()); got != 0 {
		t.Errorf("expected no recordings, got %d", got)
	}
}

func TestManager_UnknownRecording(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, err := m.Stop(ctx, "missing"); !errors.Is(err, ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound from Stop, got %v", err)
	}
	if _, err := m.Save(ctx, "missing"); !errors.Is(err, ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound from Save, got %v", err)
	}
	if err := m.Delete("missing"); !errors.Is(err, ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound from Delete, got %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := m.Create(ctx, Params{CaseID: "case-1"}, newFakeDevice())
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		sessions = append(sessions, s)
	}
	if _, err := sessions[0].Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	for _, s := range sessions {
		if s.State() != StateIdle {
			t.Errorf("expected %s idle, got %s", s.ID(), s.State())
		}
	}

	infos := m.List()
	if len(infos) != 3 {
		t.Fatalf("expected 3 recordings listed, got %d", len(infos))
	}
	for _, info := range infos {
		if !info.Complete {
			t.Errorf("expected %s complete", info.RecordingID)
		}
	}
}
