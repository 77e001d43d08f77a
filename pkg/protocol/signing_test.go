package protocol

import (
	"testing"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

func moveBody(t *testing.T) []byte {
	t.Helper()
	data, err := primitive.Marshal(primitive.NewMove(3, primitive.MoveParams{
		Destination:      primitive.Point{X: 1, Y: 2},
		FinalOrientation: 0.5,
		Dribbler:         true,
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestSignAndVerify(t *testing.T) {
	body := moveBody(t)
	secret := "test-secret-key"

	sig := Sign(body, secret)
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	if !Verify(body, sig, secret) {
		t.Fatal("Verify returned false for valid signature")
	}
}

func TestVerifyTamperedBody(t *testing.T) {
	body := moveBody(t)
	sig := Sign(body, "my-secret")

	tampered := []byte(`{"name":"Move","robot_id":4,"parameters":[1,2,0.5],"flags":[true,false]}`)
	if Verify(tampered, sig, "my-secret") {
		t.Fatal("Verify returned true for tampered robot id")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	body := moveBody(t)
	sig := Sign(body, "secret-a")

	if Verify(body, sig, "secret-b") {
		t.Fatal("Verify returned true for wrong secret")
	}
}

func TestEmptySecretSkipsSigning(t *testing.T) {
	if sig := Sign(moveBody(t), ""); sig != "" {
		t.Fatalf("expected empty signature, got %q", sig)
	}
}

func TestEmptySecretSkipsVerification(t *testing.T) {
	if !Verify(moveBody(t), "", "") {
		t.Fatal("Verify with empty secret should return true")
	}
}

func TestSecretConfiguredNoSignature(t *testing.T) {
	if Verify(moveBody(t), "", "my-secret") {
		t.Fatal("Verify should return false when secret configured but no signature present")
	}
}

func TestDeterministicSignature(t *testing.T) {
	if Sign(moveBody(t), "k") != Sign(moveBody(t), "k") {
		t.Fatal("signatures differ for identical bodies")
	}
}

func TestSubjects(t *testing.T) {
	if got := SubjectPrimitives(7); got != "primbus.primitives.7" {
		t.Errorf("SubjectPrimitives(7) = %q", got)
	}
	if got := SubjectHeartbeat("robot-7"); got != "primbus.heartbeat.robot-7" {
		t.Errorf("SubjectHeartbeat = %q", got)
	}
}
