package push

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	infos map[string]*Info
	err   error
}

func (f *fakeStore) GetPushInfoBatch(ctx context.Context, enrollmentIDs []string) ([]*Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*Info
	for _, id := range enrollmentIDs {
		if info, ok := f.infos[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

type fakePusher struct {
	fail map[string]error
	sent []string
}

func (f *fakePusher) SendPush(deviceTokenHex, topic, pushMagic string) (string, error) {
	f.sent = append(f.sent, deviceTokenHex)
	if err, ok := f.fail[deviceTokenHex]; ok {
		return "", err
	}
	return "apns-" + deviceTokenHex, nil
}

func TestPushServiceSendsToResolvedInfoOnly(t *testing.T) {
	store := &fakeStore{infos: map[string]*Info{
		"dev-1": {EnrollmentID: "dev-1", Topic: "com.apple.mgmt.Test", PushMagic: "M1", PushToken: []byte{0xAB}},
	}}
	pusher := &fakePusher{}
	svc := NewPushService(store, pusher, nil)

	results, err := svc.Push(context.Background(), []string{"dev-1", "dev-missing"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result for the resolved id, got %d", len(results))
	}
	if results[0].EnrollmentID != "dev-1" || results[0].Err != "" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if results[0].ApnsID != "apns-ab" {
		t.Fatalf("expected hex-encoded token in push, got %s", results[0].ApnsID)
	}
}

func TestPushServiceRecordsPerIDFailureWithoutAbortingBatch(t *testing.T) {
	store := &fakeStore{infos: map[string]*Info{
		"dev-1": {EnrollmentID: "dev-1", Topic: "t", PushMagic: "M1", PushToken: []byte{0x01}},
		"dev-2": {EnrollmentID: "dev-2", Topic: "t", PushMagic: "M2", PushToken: []byte{0x02}},
	}}
	pusher := &fakePusher{fail: map[string]error{"01": errors.New("apns rejected")}}
	svc := NewPushService(store, pusher, nil)

	results, err := svc.Push(context.Background(), []string{"dev-1", "dev-2"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byID := make(map[string]PushResult)
	for _, r := range results {
		byID[r.EnrollmentID] = r
	}
	if byID["dev-1"].Err == "" {
		t.Fatal("expected dev-1 to carry the send error")
	}
	if byID["dev-2"].Err != "" {
		t.Fatalf("expected dev-2 to succeed, got err=%s", byID["dev-2"].Err)
	}
}

func TestPushServicePropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	svc := NewPushService(store, &fakePusher{}, nil)

	if _, err := svc.Push(context.Background(), []string{"dev-1"}); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
