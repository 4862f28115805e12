package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnbalancedParenthesis = errors.New("unbalanced parenthesis")

func parseExpression(policy string) (Expression, error) {
	for _, e := range []Expression{
		&Verify{}, &PK{}, &PKH{}, &Older{}, &AndV{}, &OrD{}, &AndOr{},
	} {
		err := e.Parse(policy)
		if errors.Is(err, ErrNotExpectedPolicy) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	if idx := strings.Index(policy, ":"); idx > 0 && idx < strings.Index(policy, "(") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWrapper, policy[:idx])
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPolicy, policy)
}

func parseExpressions(policies []string) ([]Expression, error) {
	res := make([]Expression, 0, len(policies))
	for _, policy := range policies {
		e, err := parseExpression(policy)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// fragmentArgs returns the top-level arguments of "name(arg1,arg2,...)", or
// ErrNotExpectedPolicy if the policy is not a name fragment.
func fragmentArgs(policy, name string) ([]string, error) {
	if !strings.HasPrefix(policy, name+"(") {
		return nil, ErrNotExpectedPolicy
	}
	if !strings.HasSuffix(policy, ")") {
		return nil, fmt.Errorf("%w: %s", ErrUnbalancedParenthesis, policy)
	}
	return splitArgs(policy[len(name)+1 : len(policy)-1])
}

func splitArgs(s string) ([]string, error) {
	var (
		args  []string
		depth int
		start int
	)
	for i, ch := range s {
		switch ch {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnbalancedParenthesis, s)
			}
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnbalancedParenthesis, s)
	}
	args = append(args, s[start:])

	for _, arg := range args {
		if len(arg) == 0 {
			return nil, fmt.Errorf("empty argument in %q", s)
		}
	}
	return args, nil
}
