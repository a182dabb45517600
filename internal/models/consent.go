package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UpdateTargetKind classifies an update candidate.
type UpdateTargetKind string

const (
	// KindApplication marks a docker-compose application update.
	KindApplication UpdateTargetKind = "application"
	// KindOS marks an OS/OSTree image update.
	KindOS UpdateTargetKind = "os"
)

// UpdateTarget is one update candidate extracted from a consent payload.
// TargetID is the authoritative key from the agent and is never truncated
// here; display layers may shorten it.
type UpdateTarget struct {
	TargetID    string           `json:"target_id"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description,omitempty"`
	Length      int64            `json:"length,omitempty"`
	URI         string           `json:"uri,omitempty"`
	Kind        UpdateTargetKind `json:"kind"`
}

// targetBody mirrors one entry of the agent's "targets" mapping.
type targetBody struct {
	Length *int64 `json:"length"`
	Custom struct {
		Name                 string          `json:"name"`
		Version              json.RawMessage `json:"version"`
		URI                  string          `json:"uri"`
		Description          string          `json:"description"`
		TdxDescription       string          `json:"tdx-description"`
		CanonicalComposeFile json.RawMessage `json:"canonical_compose_file"`
	} `json:"custom"`
}

// ParseConsentPayload parses the agent's ConsentRequired JSON into an ordered
// list of update targets. The order of the source object is preserved. An
// empty or blank payload means no pending consent and yields (nil, nil).
func ParseConsentPayload(raw string) ([]UpdateTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var top struct {
		Targets json.RawMessage `json:"targets"`
	}
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, fmt.Errorf("failed to parse consent payload: %w", err)
	}
	if len(top.Targets) == 0 || string(top.Targets) == "null" {
		return nil, nil
	}

	// A plain map would lose the payload's target ordering, so the object is
	// walked token by token instead.
	dec := json.NewDecoder(bytes.NewReader(top.Targets))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse consent targets: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("consent targets is not a JSON object")
	}

	var items []UpdateTarget
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse consent targets: %w", err)
		}
		targetID, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("consent target key is not a string")
		}

		var body targetBody
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("failed to parse consent target %q: %w", targetID, err)
		}
		items = append(items, newUpdateTarget(targetID, body))
	}

	return items, nil
}

func newUpdateTarget(targetID string, body targetBody) UpdateTarget {
	// OS target ids are huge; fall back to a shortened id when the payload
	// carries no human-readable name.
	name := body.Custom.Name
	if name == "" {
		name = ShortenTargetID(targetID)
	}

	description := body.Custom.TdxDescription
	if description == "" {
		description = body.Custom.Description
	}

	var length int64
	if body.Length != nil {
		length = *body.Length
	}

	kind := KindOS
	if isTruthy(body.Custom.CanonicalComposeFile) {
		kind = KindApplication
	}

	return UpdateTarget{
		TargetID:    targetID,
		Name:        name,
		Version:     decodeVersion(body.Custom.Version),
		Description: description,
		Length:      length,
		URI:         body.Custom.URI,
		Kind:        kind,
	}
}

// decodeVersion renders the custom.version field as a string whether the
// agent sent it as a JSON string or a bare number.
func decodeVersion(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// isTruthy mirrors the loose presence check used for the compose-file marker:
// any value other than null, false or an empty string counts as present.
func isTruthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", `""`:
		return false
	default:
		return true
	}
}

// shortenedIDLength is the display cutoff for OS target ids.
const shortenedIDLength = 48

// ShortenTargetID truncates very long target ids for display purposes. The
// authoritative id is kept intact on the UpdateTarget.
func ShortenTargetID(targetID string) string {
	if len(targetID) <= shortenedIDLength {
		return targetID
	}
	return targetID[:shortenedIDLength-3] + "..."
}

// FormatTargetSummary renders a one-paragraph description of an update
// candidate suitable for a consent prompt.
func FormatTargetSummary(t UpdateTarget) string {
	description := t.Description
	if description == "" {
		description = "No description provided."
	}
	return fmt.Sprintf("An update is available.\n\nApplication: %s\nNew version: %s\n\n%s",
		t.Name, t.Version, description)
}
