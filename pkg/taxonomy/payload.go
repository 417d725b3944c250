package taxonomy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// payload is the validated shape of a classifier reply
type payload struct {
	mappings  map[string]string
	additions []string
}

// parsePayload decodes a raw classifier reply. It accepts a bare JSON object, optionally
// wrapped in a markdown code fence, and rejects anything that does not match
// {"cluster_mappings": {string: string}, "new_taxonomy_additions": [string]}.
func parsePayload(raw string) (*payload, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, errors.New("empty response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}

	rawMappings, ok := fields["cluster_mappings"]
	if !ok || isNull(rawMappings) {
		return nil, errors.New("response is missing cluster_mappings")
	}

	p := &payload{}
	if err := json.Unmarshal(rawMappings, &p.mappings); err != nil {
		return nil, fmt.Errorf("cluster_mappings must map cluster keys to topic names: %w", err)
	}

	if rawAdditions, ok := fields["new_taxonomy_additions"]; ok && !isNull(rawAdditions) {
		if err := json.Unmarshal(rawAdditions, &p.additions); err != nil {
			return nil, fmt.Errorf("new_taxonomy_additions must be a list of topic names: %w", err)
		}
	}

	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stripCodeFence(raw string) string {
	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// clusterKey is how a cluster is named in the prompt
func clusterKey(id int) string {
	return "Cluster " + strconv.Itoa(id)
}

// parseClusterKey accepts "Cluster 3" (any case, one space) and "3". Surrounding
// whitespace is ignored.
func parseClusterKey(key string) (int, bool) {
	key = strings.TrimSpace(key)
	const prefix = "cluster "
	if len(key) > len(prefix) && strings.EqualFold(key[:len(prefix)], prefix) {
		key = key[len(prefix):]
	}
	if key == "" {
		return 0, false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	return id, true
}
