package tracking

import (
	"fmt"
	"regexp"
	"strings"
)

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Inject rewrites rendered HTML for delivery: an invisible open pixel goes
// in before </body>, and every outbound link is rerouted through the click
// endpoint so clicks are recorded before the redirect. Links that already
// point at the tracking host and mailto: links are left alone.
func (s *Signer) Inject(html, campaignID, recipientID string) string {
	pixel := fmt.Sprintf(
		`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`,
		s.OpenURL(campaignID, recipientID))
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		html = html[:idx] + pixel + html[idx:]
	} else {
		html += pixel
	}

	html = linkRe.ReplaceAllStringFunc(html, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		target := parts[1]
		if strings.HasPrefix(target, s.baseURL) || strings.Contains(target, "/track/") {
			return match
		}
		return fmt.Sprintf(`href="%s"`, s.ClickURL(campaignID, recipientID, target))
	})

	return html
}
