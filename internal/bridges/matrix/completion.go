package matrix

import (
	"regexp"
	"strings"
)

// Completion decides whether the bytes received so far form the whole reply
// to a Telnet command. The wire protocol has no terminator, so every
// implementation is a guess bounded by the session's command timeout.
type Completion interface {
	Complete(cmd, resp string) bool
}

// HeuristicCompletion recognises the reply shapes of the known command
// families:
//
//   - a trailing E00, E01 or E02 line always ends the reply
//   - "status" ends once the "mac address:" line is finished
//   - "r link ..." ends once connect or disconnect (any suffix) is reported
//   - other "r ..." reads end with one "name: value" line
//   - "s ..." writes (CEC included) end after any short echo
//   - anything else ends at the first full line
type HeuristicCompletion struct {
	// MinEcho is the trimmed reply length a set command must exceed.
	MinEcho int

	// MaxValueLine is the longest "name: value" line accepted for reads.
	MaxValueLine int
}

// DefaultCompletion is the heuristic used when SessionConfig.Completion is nil.
var DefaultCompletion Completion = HeuristicCompletion{MinEcho: 1, MaxValueLine: 80}

var (
	reDeviceError = regexp.MustCompile(`(?:^|\n)\s*(E0[012])\s*$`)
	reLinkState   = regexp.MustCompile(`(?i)connect`)
	reMACLine     = regexp.MustCompile(`(?i)mac address:[^\n]*\n`)
	reValueLine   = regexp.MustCompile(`(?m)^[^:\r\n]+:[ \t]*\S[^\r\n]*\r?\n`)
)

// Complete implements Completion.
func (h HeuristicCompletion) Complete(cmd, resp string) bool {
	if strings.TrimSpace(resp) == "" {
		return false
	}
	if deviceErrorCode(resp) != "" {
		return true
	}

	c := strings.ToLower(strings.TrimSpace(cmd))
	switch {
	case c == "status":
		return reMACLine.MatchString(resp)
	case strings.HasPrefix(c, "r link"):
		return reLinkState.MatchString(resp)
	case strings.HasPrefix(c, "r "):
		for _, line := range reValueLine.FindAllString(resp, -1) {
			if len(strings.TrimSpace(line)) <= h.MaxValueLine {
				return true
			}
		}
		return false
	case strings.HasPrefix(c, "s "):
		return len(strings.TrimSpace(resp)) > h.MinEcho
	default:
		return strings.Contains(resp, "\n")
	}
}

// deviceErrorCode returns E00/E01/E02 when the reply ends with one, or "".
func deviceErrorCode(resp string) string {
	m := reDeviceError.FindStringSubmatch(strings.TrimRight(resp, "\r\n \t"))
	if m == nil {
		return ""
	}
	return m[1]
}
