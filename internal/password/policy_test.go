package password

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestEvaluate_StrongPassword_Passes(t *testing.T) {
	p := NewPolicy()

	result := p.Evaluate("SecurePass@123")
	if !result.OK {
		t.Errorf("expected OK, got violations %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("violations = %v, want empty", result.Violations)
	}
}

func TestEvaluate_ShortButAllClasses_ReportsLengthOnly(t *testing.T) {
	p := NewPolicy()

	// 7文字・全文字クラスあり → length違反のみが列挙される
	result := p.Evaluate("Pass@1x")
	if result.OK {
		t.Fatal("expected failure for short password")
	}
	if !slices.Contains(result.Violations, ViolationLength) {
		t.Errorf("violations = %v, want to contain %q", result.Violations, ViolationLength)
	}
	if len(result.Violations) != 1 {
		t.Errorf("violations = %v, want exactly [length]", result.Violations)
	}
}

func TestEvaluate_AllViolationsEnumerated(t *testing.T) {
	p := NewPolicy()

	// 短く・小文字のみ → length以外にuppercase/digit/symbolも同時に列挙される
	result := p.Evaluate("abc")
	if result.OK {
		t.Fatal("expected failure")
	}

	want := []string{ViolationLength, ViolationUppercase, ViolationDigit, ViolationSymbol}
	for _, v := range want {
		if !slices.Contains(result.Violations, v) {
			t.Errorf("violations = %v, want to contain %q", result.Violations, v)
		}
	}
	// 小文字は含まれているので違反にならない
	if slices.Contains(result.Violations, ViolationLowercase) {
		t.Errorf("violations = %v, should not contain lowercase", result.Violations)
	}
}

func TestEvaluate_WeakListMatch_FailsEvenWithClassRules(t *testing.T) {
	p := NewPolicy()

	// 大文字小文字の違いがあってもリスト照合は大文字小文字を無視する
	tests := []string{"password", "Password", "12345678", "P@ssw0rd"}
	for _, candidate := range tests {
		result := p.Evaluate(candidate)
		if result.OK {
			t.Errorf("Evaluate(%q): expected failure via weak list", candidate)
		}
		if !slices.Contains(result.Violations, ViolationWeakWord) {
			t.Errorf("Evaluate(%q): violations = %v, want to contain weak_word", candidate, result.Violations)
		}
	}
}

func TestNewPolicyWithBreachList_MatchesCorpus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breached.txt")
	content := "# leaked corpus\nHackedPass@2023\ncompromised@99X\n\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	p, err := NewPolicyWithBreachList(path)
	if err != nil {
		t.Fatalf("NewPolicyWithBreachList: %v", err)
	}

	// 長さ・文字クラスを満たしていてもコーパス一致で不合格
	result := p.Evaluate("HackedPass@2023")
	if result.OK {
		t.Fatal("expected failure for breached password")
	}
	if !slices.Contains(result.Violations, ViolationBreached) {
		t.Errorf("violations = %v, want to contain breached", result.Violations)
	}

	// コーパスにない強力なパスワードは合格
	if result := p.Evaluate("Unbreached@456"); !result.OK {
		t.Errorf("expected OK for non-breached password, got %v", result.Violations)
	}
}

func TestNewPolicyWithBreachList_FileNotFound_ReturnsError(t *testing.T) {
	if _, err := NewPolicyWithBreachList("/nonexistent/breached.txt"); err == nil {
		t.Error("expected error for missing corpus file, got nil")
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	hash, err := Hash("SecurePass@123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := Verify("SecurePass@123", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("correct password should verify")
	}

	ok, err = Verify("WrongPass@123", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("wrong password should not verify")
	}
}

func TestHash_SaltedOutputDiffers(t *testing.T) {
	// 同一パスワードでもソルトが異なるためハッシュは一致しない
	h1, err := Hash("SecurePass@123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash("SecurePass@123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Error("hashes of the same password should differ by salt")
	}
}

func TestVerify_MalformedHash_ReturnsError(t *testing.T) {
	tests := []string{
		"",
		"plain-text",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$not-base64!$aGFzaA",
	}
	for _, encoded := range tests {
		if _, err := Verify("any", encoded); err == nil {
			t.Errorf("Verify with malformed hash %q: expected error", encoded)
		}
	}
}
