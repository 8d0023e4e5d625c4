package logging

import "testing"

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"authorization", "Authorization", " wallet_token ", "API_KEY"} {
		if !IsSensitive(key) {
			t.Fatalf("%q should be sensitive", key)
		}
	}
	for _, key := range []string{"wallet", "symbol", ""} {
		if IsSensitive(key) {
			t.Fatalf("%q should not be sensitive", key)
		}
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("eyJhbGciOi..."); got != RedactedValue {
		t.Fatalf("MaskValue = %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatal("blank values pass through unchanged")
	}
}

func TestMaskField(t *testing.T) {
	attr := MaskField("session_token", "secret-value")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("sensitive field = %q", attr.Value.String())
	}
	attr = MaskField("wallet", "0xabc")
	if attr.Value.String() != "0xabc" {
		t.Fatalf("benign field = %q", attr.Value.String())
	}
}
