package browser

import (
	"net/http"
	"strings"
)

// BlockKind describes the anti-bot wall a response hit.
type BlockKind string

const (
	BlockNone       BlockKind = ""
	BlockCloudflare BlockKind = "cloudflare"
	BlockCaptcha    BlockKind = "captcha"
	BlockRobotCheck BlockKind = "robot_check"
)

var robotMarkers = []string{
	"to discuss automated access to amazon data",
	"sorry, we just need to make sure you're not a robot",
	"robot or human?",
	"press & hold",
}

// DetectBlock reports whether a listing response is an anti-bot page rather
// than real results.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockKind) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") || strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	for _, m := range robotMarkers {
		if strings.Contains(lower, m) {
			return true, BlockRobotCheck
		}
	}

	if strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "/errors/validatecaptcha") {
		return true, BlockCaptcha
	}

	return false, BlockNone
}
