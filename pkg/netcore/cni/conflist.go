// Package cni promotes a single CNI network configuration file into a conflist
// wrapper, preserving every field verbatim — the policy spec.md §9's Open
// Question on this resolves to "never rewrite cniVersion, never drop fields",
// since a CNI conflist's top-level cniVersion must match what every plugin in
// the chain actually speaks and unilaterally bumping it can break plugins that
// predate the bump.
package cni

import "encoding/json"

// Conflist is the promoted wrapper: the single parsed config becomes the first
// (and only) entry in Plugins.
type Conflist struct {
	CNIVersion string            `json:"cniVersion"`
	Name       string            `json:"name"`
	Plugins    []json.RawMessage `json:"plugins"`
}

// PromoteToConflist wraps a single .conf document's raw JSON into a .conflist
// document without altering any field inside it.
func PromoteToConflist(confJSON []byte) (*Conflist, error) {
	var conf struct {
		CNIVersion string `json:"cniVersion"`
		Name       string `json:"name"`
	}
	if err := json.Unmarshal(confJSON, &conf); err != nil {
		return nil, err
	}
	return &Conflist{
		CNIVersion: conf.CNIVersion,
		Name:       conf.Name,
		Plugins:    []json.RawMessage{json.RawMessage(confJSON)},
	}, nil
}

// Marshal serializes the conflist back to JSON.
func (c *Conflist) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
