package auth

import (
	"strings"

	"github.com/nbutton23/zxcvbn-go"
)

// Strength summarizes how a candidate master password fares against the policy and the
// zxcvbn estimator.
type Strength struct {
	Valid            bool     `json:"valid"`
	Score            int      `json:"score"`
	CrackTimeDisplay string   `json:"crack_time_display"`
	Feedback         []string `json:"feedback,omitempty"`
}

// MinRecommendedScore is the zxcvbn score below which a weak-password hint is added.
const MinRecommendedScore = 3

// EvaluateMasterPassword reports whether pw satisfies ValidateMasterPassword along with a
// zxcvbn score (0-4) and hints. userInputs are extra words (usernames, vault names) the
// estimator should treat as guessable.
func EvaluateMasterPassword(pw string, userInputs ...string) Strength {
	var s Strength
	if err := ValidateMasterPassword(pw); err != nil {
		s.Feedback = append(s.Feedback, policyMessage(err))
	} else {
		s.Valid = true
	}
	if pw == "" {
		return s
	}

	match := zxcvbn.PasswordStrength(pw, userInputs)
	s.Score = match.Score
	s.CrackTimeDisplay = match.CrackTimeDisplay

	if s.Score < MinRecommendedScore {
		s.Feedback = append(s.Feedback, "password is easy to guess; use a longer passphrase")
	}
	if !hasUpper(pw) || !hasLower(pw) {
		s.Feedback = append(s.Feedback, "mix upper and lower case letters")
	}
	if !hasDigit(pw) {
		s.Feedback = append(s.Feedback, "add a digit")
	}
	if !hasSpecial(pw) {
		s.Feedback = append(s.Feedback, "add a special character")
	}
	return s
}

func policyMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrPolicy.Error()+": ")
}
