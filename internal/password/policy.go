// Package password はパスワードの強度検証とハッシュ化を提供する。
package password

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// 違反ルールの識別子。APIレスポンスのDetailsにそのまま列挙される。
const (
	ViolationLength    = "length"
	ViolationUppercase = "uppercase"
	ViolationLowercase = "lowercase"
	ViolationDigit     = "digit"
	ViolationSymbol    = "symbol"
	ViolationWeakWord  = "weak_word"
	ViolationBreached  = "breached"
)

// MinLength はパスワードの最小長。
const MinLength = 8

// PolicyResult はポリシー評価の結果を表す。
// Violationsには違反したルールをすべて列挙する。呼び出し元が全違反を
// 一度に提示できるようにするためで、最初の違反で打ち切らない。
type PolicyResult struct {
	OK         bool
	Violations []string
}

// Policy はパスワード強度の検証器。
// 弱いパスワードのリストと漏えいコーパスは交換可能なデータとして扱い、
// コードに焼き込まない。生成後はイミュータブル。
type Policy struct {
	weakWords map[string]struct{}
	breached  map[string]struct{}
}

// NewPolicy は組み込みの弱パスワードリストのみを持つPolicyを生成する。
func NewPolicy() *Policy {
	weak := make(map[string]struct{}, len(defaultWeakWords))
	for _, w := range defaultWeakWords {
		weak[w] = struct{}{}
	}
	return &Policy{
		weakWords: weak,
		breached:  map[string]struct{}{},
	}
}

// NewPolicyWithBreachList は漏えいコーパスファイルを読み込んだPolicyを生成する。
// ファイルは1行1パスワードのテキスト形式。
func NewPolicyWithBreachList(path string) (*Policy, error) {
	p := NewPolicy()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open breach list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.breached[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read breach list: %w", err)
	}

	return p, nil
}

// Evaluate は候補パスワードをポリシーに照らして評価する。
// 長さ・文字クラス4種・弱パスワードリスト・漏えいコーパスをすべて検査し、
// 違反したルールを漏れなく列挙して返す。
// 長さと文字クラスを満たしていても、リスト一致があれば全体として不合格となる。
func (p *Policy) Evaluate(candidate string) PolicyResult {
	var violations []string

	if len(candidate) < MinLength {
		violations = append(violations, ViolationLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, ViolationUppercase)
	}
	if !hasLower {
		violations = append(violations, ViolationLowercase)
	}
	if !hasDigit {
		violations = append(violations, ViolationDigit)
	}
	if !hasSymbol {
		violations = append(violations, ViolationSymbol)
	}

	lower := strings.ToLower(candidate)
	if _, ok := p.weakWords[lower]; ok {
		violations = append(violations, ViolationWeakWord)
	}
	if _, ok := p.breached[lower]; ok {
		violations = append(violations, ViolationBreached)
	}

	return PolicyResult{
		OK:         len(violations) == 0,
		Violations: violations,
	}
}
