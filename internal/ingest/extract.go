package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/alertops-platform/caseflow/internal/model"
)

// Label keys that may carry the originating rule UID, in lookup order.
// Different monitoring stacks label the same thing differently.
var ruleUIDLabels = [...]string{"rule_id", "__alert_rule_uid__", "alertuid", "rule_uid"}

// ExtractRuleUID pulls the external rule UID out of an alert. Extractors run
// in priority order: explicit labels, then the generator URL path, then its
// query parameters. Returns "" when nothing matches; the alert then proceeds
// down the unowned path.
func ExtractRuleUID(a *model.AlertEvent) string {
	for _, key := range ruleUIDLabels {
		if v := strings.TrimSpace(a.Labels[key]); v != "" {
			return v
		}
	}

	if a.GeneratorURL == "" {
		return ""
	}
	u, err := url.Parse(a.GeneratorURL)
	if err != nil {
		return ""
	}
	if uid := ruleUIDFromPath(u.Path); uid != "" {
		return uid
	}
	return ruleUIDFromQuery(u)
}

// ruleUIDFromPath matches Grafana rule links of the shape
// .../alerting/grafana/{uid} or .../alerting/grafana/{uid}/view.
func ruleUIDFromPath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(segs)-2; i++ {
		if segs[i] == "alerting" && segs[i+1] == "grafana" {
			uid := segs[i+2]
			if uid == "view" {
				return ""
			}
			return uid
		}
	}
	return ""
}

func ruleUIDFromQuery(u *url.URL) string {
	q := u.Query()
	for _, key := range []string{"ruleUID", "uid"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Fingerprint returns the alert's fingerprint, synthesizing a stable one from
// the rule UID and start timestamp when the sender omitted it. A missing
// fingerprint never blocks ingestion.
func Fingerprint(a *model.AlertEvent, ruleUID string) string {
	if fp := strings.TrimSpace(a.Fingerprint); fp != "" {
		return fp
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", ruleUID, a.StartsAt.UnixNano())))
	return hex.EncodeToString(sum[:8])
}
